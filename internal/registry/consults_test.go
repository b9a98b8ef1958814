package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/smukkama/vrisa/internal/apperr"
)

func TestConsults_GrantIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.profiles[7] = true
	store.stations[3] = true
	c := NewConsults(store, discardLogger())
	ctx := context.Background()

	first, created, err := c.Grant(ctx, 7, 3)
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if !created {
		t.Error("Expected first grant to create")
	}

	second, created, err := c.Grant(ctx, 7, 3)
	if err != nil {
		t.Fatalf("Second grant failed: %v", err)
	}
	if created {
		t.Error("Expected second grant to report existing")
	}
	if !second.GrantedAt.Equal(first.GrantedAt) {
		t.Errorf("Expected granted_at %v, got %v", first.GrantedAt, second.GrantedAt)
	}
	if len(store.consults) != 1 {
		t.Errorf("Expected 1 consult row, got %d", len(store.consults))
	}
}

func TestConsults_RevokeThenGrant(t *testing.T) {
	store := newMemoryStore()
	store.profiles[7] = true
	store.stations[3] = true
	c := NewConsults(store, discardLogger())
	ctx := context.Background()

	first, _, _ := c.Grant(ctx, 7, 3)
	if err := c.Revoke(ctx, 7, 3); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	has, err := c.HasAccess(ctx, 7, 3)
	if err != nil || has {
		t.Fatalf("Expected no access after revoke, got %v (%v)", has, err)
	}

	again, created, err := c.Grant(ctx, 7, 3)
	if err != nil || !created {
		t.Fatalf("Expected re-grant to create, got created=%v err=%v", created, err)
	}
	if !again.GrantedAt.After(first.GrantedAt) {
		t.Errorf("Expected new granted_at after %v, got %v", first.GrantedAt, again.GrantedAt)
	}
}

func TestConsults_RevokeMissing(t *testing.T) {
	c := NewConsults(newMemoryStore(), discardLogger())

	err := c.Revoke(context.Background(), 7, 3)
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestConsults_GrantUnknownIDs(t *testing.T) {
	store := newMemoryStore()
	store.profiles[7] = true
	store.stations[3] = true
	c := NewConsults(store, discardLogger())
	ctx := context.Background()

	tests := []struct {
		name      string
		profileID int64
		stationID int64
	}{
		{"unknown profile", 999, 3},
		{"unknown station", 7, 999},
		{"non-positive profile", 0, 3},
		{"non-positive station", 7, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.Grant(ctx, tt.profileID, tt.stationID)
			if !apperr.Is(err, apperr.NotFound) {
				t.Errorf("Expected NotFound, got %v", err)
			}
		})
	}
	if len(store.consults) != 0 {
		t.Errorf("Expected no rows, got %d", len(store.consults))
	}
}

func TestConsults_ConcurrentGrantCreatesOnce(t *testing.T) {
	store := newMemoryStore()
	store.profiles[7] = true
	store.stations[3] = true
	c := NewConsults(store, discardLogger())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.Grant(context.Background(), 7, 3)
			if err != nil {
				t.Errorf("Grant failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("Expected exactly one creator, got %d", created)
	}
}
