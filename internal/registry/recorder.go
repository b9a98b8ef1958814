package registry

import (
	"context"
	"log/slog"

	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/metrics"
)

// ReceiptStore persists alert receipts.
type ReceiptStore interface {
	AlertExists(ctx context.Context, id int64) (bool, error)
	ExistingAuthorizedProfiles(ctx context.Context, ids []int64) (map[int64]bool, error)
	InsertReceipt(ctx context.Context, profileID, alertID int64) (*database.AlertReceipt, bool, error)
}

// Recorder records which authorized users were notified of an alert.
type Recorder struct {
	store  ReceiptStore
	logger *slog.Logger
}

func NewRecorder(store ReceiptStore, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Notify records a receipt of the alert for each resolvable profile id.
// Duplicate ids collapse to their first occurrence and unknown ids are
// skipped. Only receipts created by this call are returned, in input
// order.
func (r *Recorder) Notify(ctx context.Context, alertID int64, profileIDs []int64) ([]*database.AlertReceipt, error) {
	exists, err := r.store.AlertExists(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFoundf("alert %d not found", alertID)
	}

	ids := dedupe(profileIDs)
	known, err := r.store.ExistingAuthorizedProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	created := []*database.AlertReceipt{}
	for _, id := range ids {
		if !known[id] {
			continue
		}
		receipt, isNew, err := r.store.InsertReceipt(ctx, id, alertID)
		if apperr.Is(err, apperr.NotFound) {
			// Profile deleted since the existence check.
			continue
		}
		if err != nil {
			return nil, err
		}
		if isNew {
			created = append(created, receipt)
		}
	}

	metrics.AlertReceipts.Add(float64(len(created)))
	r.logger.Info("alert receipts recorded",
		"alert_id", alertID, "requested", len(profileIDs), "created", len(created))
	return created, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
