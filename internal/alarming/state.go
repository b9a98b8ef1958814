package alarming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the evaluation state of one pollutant at one station.
type State struct {
	Status      string    `json:"status"`
	BreachStart time.Time `json:"breach_start"`
	LastChecked time.Time `json:"last_checked"`
	BreachLevel float64   `json:"breach_level"`
	AlertID     int64     `json:"alert_id,omitempty"`
}

const (
	StatusClear    = "CLEAR"
	StatusPending  = "PENDING"
	StatusAlerting = "ALERTING"
)

// stateTTL expires states of stations that stopped reporting.
const stateTTL = 7 * 24 * time.Hour

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// StateManager keeps alarm states in Redis so evaluation survives
// restarts and can be shared by several alarming replicas.
type StateManager struct {
	redis redisKV
}

func NewStateManager(client redisKV) *StateManager {
	return &StateManager{redis: client}
}

func stateKey(stationID int64, pollutant string) string {
	return fmt.Sprintf("alarm_state:%d:%s", stationID, pollutant)
}

// Get returns the stored state, or a CLEAR state if none exists.
func (sm *StateManager) Get(ctx context.Context, stationID int64, pollutant string) (*State, error) {
	data, err := sm.redis.Get(ctx, stateKey(stationID, pollutant)).Result()
	if errors.Is(err, redis.Nil) {
		return &State{Status: StatusClear}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alarm state: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alarm state: %w", err)
	}
	return &state, nil
}

func (sm *StateManager) Set(ctx context.Context, stationID int64, pollutant string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm state: %w", err)
	}
	if err := sm.redis.Set(ctx, stateKey(stationID, pollutant), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set alarm state: %w", err)
	}
	return nil
}

// Clear removes the state, returning the pollutant to CLEAR.
func (sm *StateManager) Clear(ctx context.Context, stationID int64, pollutant string) error {
	if err := sm.redis.Del(ctx, stateKey(stationID, pollutant)).Err(); err != nil {
		return fmt.Errorf("failed to clear alarm state: %w", err)
	}
	return nil
}
