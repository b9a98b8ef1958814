// Package alarming turns the reading stream into alerts. A pollutant
// whose level stays above its threshold for the threshold's duration
// opens an Alert, records receipts for every authorized user consulting
// the station and publishes an ALERT_OPENED event.
package alarming

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/metrics"
	"github.com/smukkama/vrisa/internal/protocol"
	"github.com/smukkama/vrisa/internal/registry"
)

// Store is the persistence the evaluator needs. *database.DB satisfies it.
type Store interface {
	registry.ReceiptStore

	ActiveThresholds(ctx context.Context, stationID int64) ([]*database.PollutantThreshold, error)
	CreateAlert(ctx context.Context, a *database.Alert, pollutants []*database.AlertPollutant) error
	ConsultingRecipients(ctx context.Context, stationID int64) ([]database.Recipient, error)
}

// EventPublisher hands alert events to the notification service.
type EventPublisher interface {
	PublishAlertEvent(ctx context.Context, event *protocol.AlertEvent) error
}

const defaultCacheValidity = 5 * time.Minute

type cachedThresholds struct {
	thresholds []*database.PollutantThreshold
	loadedAt   time.Time
}

type Evaluator struct {
	store    Store
	states   *StateManager
	recorder *registry.Recorder
	events   EventPublisher
	logger   *slog.Logger

	cacheValidity time.Duration
	cacheMu       sync.Mutex
	cache         map[int64]cachedThresholds
}

func NewEvaluator(store Store, states *StateManager, events EventPublisher, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:         store,
		states:        states,
		recorder:      registry.NewRecorder(store, logger),
		events:        events,
		logger:        logger,
		cacheValidity: defaultCacheValidity,
		cache:         make(map[int64]cachedThresholds),
	}
}

// breach is a pollutant whose threshold duration has elapsed on this
// reading.
type breach struct {
	threshold *database.PollutantThreshold
	level     float64
	state     *State
}

// Evaluate runs one reading through the threshold state machine. It
// returns the alert opened by the reading, or nil.
func (e *Evaluator) Evaluate(ctx context.Context, reading *protocol.ReadingMessage) (*database.Alert, error) {
	thresholds, err := e.thresholds(ctx, reading.StationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thresholds: %w", err)
	}

	at := reading.Timestamp
	if at.IsZero() {
		at = reading.ReceivedAt
	}

	var due []breach
	for _, threshold := range thresholds {
		level, ok := reading.Levels[threshold.Pollutant]
		if !ok {
			continue
		}
		b, err := e.step(ctx, reading.StationID, threshold, level, at)
		if err != nil {
			return nil, err
		}
		if b != nil {
			due = append(due, *b)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	return e.openAlert(ctx, reading.StationID, due, at)
}

// step advances the state of one pollutant and reports a breach whose
// duration has been met.
func (e *Evaluator) step(ctx context.Context, stationID int64, threshold *database.PollutantThreshold, level float64, at time.Time) (*breach, error) {
	state, err := e.states.Get(ctx, stationID, threshold.Pollutant)
	if err != nil {
		return nil, err
	}

	if level <= threshold.Level {
		switch state.Status {
		case StatusPending:
			return nil, e.states.Clear(ctx, stationID, threshold.Pollutant)
		case StatusAlerting:
			e.logger.Info("pollutant back under threshold",
				"station_id", stationID, "pollutant", threshold.Pollutant, "alert_id", state.AlertID, "level", level)
			return nil, e.states.Clear(ctx, stationID, threshold.Pollutant)
		}
		return nil, nil
	}

	switch state.Status {
	case StatusClear:
		state = &State{Status: StatusPending, BreachStart: at}
	case StatusAlerting:
		state.LastChecked = at
		state.BreachLevel = level
		return nil, e.states.Set(ctx, stationID, threshold.Pollutant, state)
	}

	state.LastChecked = at
	state.BreachLevel = level
	if at.Sub(state.BreachStart) >= time.Duration(threshold.DurationMinutes)*time.Minute {
		return &breach{threshold: threshold, level: level, state: state}, nil
	}
	return nil, e.states.Set(ctx, stationID, threshold.Pollutant, state)
}

func (e *Evaluator) openAlert(ctx context.Context, stationID int64, due []breach, at time.Time) (*database.Alert, error) {
	sort.Slice(due, func(i, j int) bool { return due[i].threshold.Pollutant < due[j].threshold.Pollutant })

	pollutants := make([]*database.AlertPollutant, 0, len(due))
	for _, b := range due {
		pollutants = append(pollutants, &database.AlertPollutant{Pollutant: b.threshold.Pollutant, Level: b.level})
	}
	alert := &database.Alert{StationID: stationID}
	if err := e.store.CreateAlert(ctx, alert, pollutants); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	for _, b := range due {
		b.state.Status = StatusAlerting
		b.state.AlertID = alert.ID
		if err := e.states.Set(ctx, stationID, b.threshold.Pollutant, b.state); err != nil {
			return alert, err
		}
		metrics.AlertsOpened.WithLabelValues(b.threshold.Pollutant).Inc()
	}
	e.logger.Warn("alert opened",
		"alert_id", alert.ID, "station_id", stationID, "pollutants", len(due), "at", at)

	recipients, err := e.store.ConsultingRecipients(ctx, stationID)
	if err != nil {
		return alert, fmt.Errorf("failed to load recipients: %w", err)
	}
	ids := make([]int64, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.AuthorizedProfileID)
	}
	if _, err := e.recorder.Notify(ctx, alert.ID, ids); err != nil {
		return alert, fmt.Errorf("failed to record receipts: %w", err)
	}

	event := protocol.NewAlertEvent(protocol.AlertEventOpened, alert, recipients)
	limits := make(map[string]float64, len(due))
	for _, b := range due {
		limits[b.threshold.Pollutant] = b.threshold.Level
	}
	for i := range event.Pollutants {
		event.Pollutants[i].Threshold = limits[event.Pollutants[i].Pollutant]
	}
	if err := e.events.PublishAlertEvent(ctx, event); err != nil {
		return alert, fmt.Errorf("failed to publish alert event: %w", err)
	}
	return alert, nil
}

func (e *Evaluator) thresholds(ctx context.Context, stationID int64) ([]*database.PollutantThreshold, error) {
	e.cacheMu.Lock()
	cached, ok := e.cache[stationID]
	e.cacheMu.Unlock()
	if ok && time.Since(cached.loadedAt) < e.cacheValidity {
		return cached.thresholds, nil
	}

	thresholds, err := e.store.ActiveThresholds(ctx, stationID)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.cache[stationID] = cachedThresholds{thresholds: thresholds, loadedAt: time.Now()}
	e.cacheMu.Unlock()
	return thresholds, nil
}

// HandleMessage decodes a reading from the readings topic and evaluates
// it.
func (e *Evaluator) HandleMessage(ctx context.Context, msg kafka.Message) error {
	reading, err := protocol.DecodeReadingMessage(msg.Value)
	if err != nil {
		return fmt.Errorf("failed to decode reading: %w", err)
	}
	_, err = e.Evaluate(ctx, reading)
	return err
}
