// Package proximity answers "which stations are near this point" for a
// principal, restricted to the stations that principal can see.
package proximity

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/metrics"
)

// DefaultRadius is used when a query does not name one, in meters.
const DefaultRadius = 5000.0

// Query is a validated proximity request.
type Query struct {
	Center database.Point
	Radius float64
}

// ParseQuery validates raw lat, lon and radius parameters. lat and lon are
// required; an empty radius selects DefaultRadius.
func ParseQuery(lat, lon, radius string) (Query, error) {
	var q Query

	if strings.TrimSpace(lat) == "" || strings.TrimSpace(lon) == "" {
		return q, apperr.Invalidf("lat and lon parameters are required")
	}

	latValue, err := parseFinite("lat", lat)
	if err != nil {
		return q, err
	}
	lonValue, err := parseFinite("lon", lon)
	if err != nil {
		return q, err
	}
	q.Center = database.Point{Lon: lonValue, Lat: latValue}
	if err := q.Center.Validate(); err != nil {
		return Query{}, err
	}

	q.Radius = DefaultRadius
	if strings.TrimSpace(radius) != "" {
		r, err := parseFinite("radius", radius)
		if err != nil {
			return Query{}, err
		}
		if r <= 0 {
			return Query{}, apperr.Invalidf("radius must be greater than zero")
		}
		q.Radius = r
	}
	return q, nil
}

func parseFinite(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperr.Invalidf("%s must be a finite number", name)
	}
	return v, nil
}

// NearbyStore is the spatial query the Finder delegates to. Distance,
// radius filtering and visibility are all evaluated by the store.
type NearbyStore interface {
	NearbyStations(ctx context.Context, scope access.Scope, center database.Point, radius float64) ([]*database.NearbyStation, error)
}

type Finder struct {
	store   NearbyStore
	timeout time.Duration
	logger  *slog.Logger
}

// NewFinder returns a Finder whose queries are bounded by timeout in
// addition to any deadline on the caller's context.
func NewFinder(store NearbyStore, timeout time.Duration, logger *slog.Logger) *Finder {
	return &Finder{store: store, timeout: timeout, logger: logger}
}

// Nearby returns the stations visible to p within q.Radius meters of
// q.Center, nearest first with ties broken by id. A principal with no
// visible stations gets an empty result without touching the store.
func (f *Finder) Nearby(ctx context.Context, p access.Principal, q Query) ([]*database.NearbyStation, error) {
	scope := access.VisibleStations(p)
	if scope.Empty() {
		return []*database.NearbyStation{}, nil
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	stations, err := f.store.NearbyStations(ctx, scope, q.Center, q.Radius)
	metrics.NearbyQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if apperr.Is(err, apperr.Timeout) {
			f.logger.Warn("nearby query timed out",
				"lon", q.Center.Lon, "lat", q.Center.Lat, "radius", q.Radius, "timeout", f.timeout)
		}
		return nil, err
	}
	if stations == nil {
		stations = []*database.NearbyStation{}
	}

	f.logger.Debug("nearby query",
		"principal", p.Kind.String(), "radius", q.Radius, "results", len(stations),
		"duration", time.Since(start))
	return stations, nil
}
