package registry

import (
	"context"
	"testing"

	"github.com/smukkama/vrisa/internal/apperr"
)

func TestRecorder_NotifySkipsUnknownProfiles(t *testing.T) {
	store := newMemoryStore()
	store.alerts[12] = true
	store.profiles[4] = true
	store.profiles[5] = true
	r := NewRecorder(store, discardLogger())

	receipts, err := r.Notify(context.Background(), 12, []int64{4, 999, 5})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if len(receipts) != 2 {
		t.Fatalf("Expected 2 receipts, got %d", len(receipts))
	}
	if receipts[0].AuthorizedProfileID != 4 || receipts[1].AuthorizedProfileID != 5 {
		t.Errorf("Expected input order [4 5], got [%d %d]",
			receipts[0].AuthorizedProfileID, receipts[1].AuthorizedProfileID)
	}
}

func TestRecorder_NotifyReturnsOnlyNewReceipts(t *testing.T) {
	store := newMemoryStore()
	store.alerts[12] = true
	store.profiles[4] = true
	store.profiles[5] = true
	r := NewRecorder(store, discardLogger())
	ctx := context.Background()

	if _, err := r.Notify(ctx, 12, []int64{4}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	receipts, err := r.Notify(ctx, 12, []int64{4, 5, 5})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(receipts) != 1 || receipts[0].AuthorizedProfileID != 5 {
		t.Errorf("Expected only profile 5, got %+v", receipts)
	}
	if len(store.receipts) != 2 {
		t.Errorf("Expected 2 stored receipts, got %d", len(store.receipts))
	}
}

func TestRecorder_NotifyUnknownAlert(t *testing.T) {
	store := newMemoryStore()
	store.profiles[4] = true
	r := NewRecorder(store, discardLogger())

	_, err := r.Notify(context.Background(), 99, []int64{4})
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestRecorder_NotifyEmptyList(t *testing.T) {
	store := newMemoryStore()
	store.alerts[12] = true
	r := NewRecorder(store, discardLogger())

	receipts, err := r.Notify(context.Background(), 12, nil)
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if receipts == nil || len(receipts) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", receipts)
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]int64{3, 1, 3, 2, 1})
	want := []int64{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}
}
