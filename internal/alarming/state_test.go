package alarming

import (
	"context"
	"testing"
	"time"
)

func TestStateManager(t *testing.T) {
	rdb := newFakeRedis()
	sm := NewStateManager(rdb)
	ctx := context.Background()

	state, err := sm.Get(ctx, 7, "PM25")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Status != StatusClear {
		t.Errorf("Expected CLEAR for missing state, got %s", state.Status)
	}

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := sm.Set(ctx, 7, "PM25", &State{Status: StatusPending, BreachStart: start, BreachLevel: 61}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := rdb.ttls["alarm_state:7:PM25"]; ttl != 7*24*time.Hour {
		t.Errorf("Expected 7 day TTL, got %v", ttl)
	}

	state, err = sm.Get(ctx, 7, "PM25")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Status != StatusPending || !state.BreachStart.Equal(start) || state.BreachLevel != 61 {
		t.Errorf("Unexpected state: %+v", state)
	}

	if err := sm.Clear(ctx, 7, "PM25"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	state, _ = sm.Get(ctx, 7, "PM25")
	if state.Status != StatusClear {
		t.Errorf("Expected CLEAR after Clear, got %s", state.Status)
	}
}

func TestStateManager_CorruptState(t *testing.T) {
	rdb := newFakeRedis()
	rdb.data["alarm_state:7:NO2"] = "{not json"

	if _, err := NewStateManager(rdb).Get(context.Background(), 7, "NO2"); err == nil {
		t.Error("Expected error for corrupt state")
	}
}
