package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pair struct{ a, b int64 }

// memoryStore is an in-memory ConsultStore and ReceiptStore.
type memoryStore struct {
	mu       sync.Mutex
	now      time.Time
	profiles map[int64]bool
	stations map[int64]bool
	alerts   map[int64]bool
	consults map[pair]time.Time
	receipts map[pair]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		profiles: map[int64]bool{},
		stations: map[int64]bool{},
		alerts:   map[int64]bool{},
		consults: map[pair]time.Time{},
		receipts: map[pair]time.Time{},
	}
}

func (m *memoryStore) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

func (m *memoryStore) InsertConsult(_ context.Context, profileID, stationID int64) (*database.StationConsult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.profiles[profileID] {
		return nil, false, apperr.NotFoundf("authorized profile not found")
	}
	if !m.stations[stationID] {
		return nil, false, apperr.NotFoundf("station not found")
	}
	key := pair{profileID, stationID}
	if at, ok := m.consults[key]; ok {
		return &database.StationConsult{AuthorizedProfileID: profileID, StationID: stationID, GrantedAt: at}, false, nil
	}
	at := m.tick()
	m.consults[key] = at
	return &database.StationConsult{AuthorizedProfileID: profileID, StationID: stationID, GrantedAt: at}, true, nil
}

func (m *memoryStore) DeleteConsult(_ context.Context, profileID, stationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{profileID, stationID}
	if _, ok := m.consults[key]; !ok {
		return apperr.NotFoundf("access not found")
	}
	delete(m.consults, key)
	return nil
}

func (m *memoryStore) ConsultExists(_ context.Context, profileID, stationID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.consults[pair{profileID, stationID}]
	return ok, nil
}

func (m *memoryStore) AlertExists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts[id], nil
}

func (m *memoryStore) ExistingAuthorizedProfiles(_ context.Context, ids []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]bool{}
	for _, id := range ids {
		if m.profiles[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memoryStore) InsertReceipt(_ context.Context, profileID, alertID int64) (*database.AlertReceipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.profiles[profileID] {
		return nil, false, apperr.NotFoundf("authorized profile not found")
	}
	key := pair{profileID, alertID}
	if at, ok := m.receipts[key]; ok {
		return &database.AlertReceipt{AuthorizedProfileID: profileID, AlertID: alertID, ReceivedAt: at}, false, nil
	}
	at := m.tick()
	m.receipts[key] = at
	return &database.AlertReceipt{AuthorizedProfileID: profileID, AlertID: alertID, ReceivedAt: at}, true, nil
}
