// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthorizationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrisa_authorization_decisions_total",
		Help: "Policy decisions by resource, action and outcome.",
	}, []string{"resource", "action", "decision"})

	StationGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrisa_station_grants_total",
		Help: "Station consult grant operations by outcome (created, existing, revoked).",
	}, []string{"outcome"})

	AlertReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrisa_alert_receipts_created_total",
		Help: "Alert receipts newly recorded.",
	})

	NearbyQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vrisa_nearby_query_duration_seconds",
		Help:    "Latency of spatial proximity queries.",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vrisa_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern, method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vrisa_gateway_connections",
		Help: "Devices currently connected to the ingestion gateway.",
	})

	GatewayReadings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrisa_gateway_readings_total",
		Help: "Readings received by the gateway by outcome (published, rejected).",
	}, []string{"outcome"})

	AlertsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrisa_alerts_opened_total",
		Help: "Alerts opened by the alarming service, by pollutant.",
	}, []string{"pollutant"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrisa_notifications_sent_total",
		Help: "Alert e-mails by outcome (sent, skipped, failed).",
	}, []string{"outcome"})
)
