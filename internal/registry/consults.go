// Package registry manages the grant relations between authorized users
// and stations (consults) and alerts (receipts).
package registry

import (
	"context"
	"log/slog"

	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/metrics"
)

// ConsultStore persists station consult grants.
type ConsultStore interface {
	InsertConsult(ctx context.Context, profileID, stationID int64) (*database.StationConsult, bool, error)
	DeleteConsult(ctx context.Context, profileID, stationID int64) error
	ConsultExists(ctx context.Context, profileID, stationID int64) (bool, error)
}

// Consults grants and revokes station visibility for authorized users.
type Consults struct {
	store  ConsultStore
	logger *slog.Logger
}

func NewConsults(store ConsultStore, logger *slog.Logger) *Consults {
	return &Consults{store: store, logger: logger}
}

// Grant gives the profile visibility of the station. Repeating a grant
// returns the existing row with created=false and its original
// granted_at. Either id failing to resolve yields NotFound.
func (c *Consults) Grant(ctx context.Context, profileID, stationID int64) (*database.StationConsult, bool, error) {
	if profileID <= 0 {
		return nil, false, apperr.NotFoundf("authorized profile %d not found", profileID)
	}
	if stationID <= 0 {
		return nil, false, apperr.NotFoundf("station %d not found", stationID)
	}

	consult, created, err := c.store.InsertConsult(ctx, profileID, stationID)
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.StationGrants.WithLabelValues("created").Inc()
		c.logger.Info("station access granted", "auth_user_id", profileID, "station_id", stationID)
	} else {
		metrics.StationGrants.WithLabelValues("existing").Inc()
	}
	return consult, created, nil
}

// Revoke removes a grant. A missing grant yields NotFound.
func (c *Consults) Revoke(ctx context.Context, profileID, stationID int64) error {
	if err := c.store.DeleteConsult(ctx, profileID, stationID); err != nil {
		return err
	}
	metrics.StationGrants.WithLabelValues("revoked").Inc()
	c.logger.Info("station access revoked", "auth_user_id", profileID, "station_id", stationID)
	return nil
}

// HasAccess reports whether a grant exists. It does not check that either
// id resolves.
func (c *Consults) HasAccess(ctx context.Context, profileID, stationID int64) (bool, error) {
	return c.store.ConsultExists(ctx, profileID, stationID)
}
