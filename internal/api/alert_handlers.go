package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/protocol"
)

type pollutantReading struct {
	Pollutant string   `json:"pollutant"`
	Level     *float64 `json:"level"`
}

func toAlertPollutants(readings []pollutantReading) ([]*database.AlertPollutant, error) {
	out := make([]*database.AlertPollutant, 0, len(readings))
	for i, reading := range readings {
		code := strings.ToUpper(strings.TrimSpace(reading.Pollutant))
		if !database.ValidPollutant(code) {
			return nil, apperr.Invalidf("pollutants[%d]: unknown pollutant %q", i, reading.Pollutant)
		}
		if reading.Level == nil {
			return nil, apperr.Invalidf("pollutants[%d]: level is required", i)
		}
		out = append(out, &database.AlertPollutant{Pollutant: code, Level: *reading.Level})
	}
	return out, nil
}

type alertRequest struct {
	Station    *int64             `json:"station"`
	Attended   *bool              `json:"attended"`
	Pollutants []pollutantReading `json:"pollutants"`
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceAlert, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	f := database.AlertFilter{HasPollutant: strings.ToUpper(r.URL.Query().Get("has_pollutant"))}
	if f.StationID, err = queryInt64(r, "station"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.Attended, err = queryBool(r, "attended"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.DateAfter, err = queryDateTime(r, "date_after"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.DateBefore, err = queryDateTime(r, "date_before"); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	alerts, total, err := s.store.ListAlerts(ctx, access.VisibleStations(principalFrom(r.Context())), f, page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, alerts, total)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceAlert, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()
	alert, err := s.store.GetAlert(ctx, access.VisibleStations(principalFrom(r.Context())), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceAlert, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req alertRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Station == nil || *req.Station <= 0 {
		s.fail(w, r, apperr.Invalidf("station is required"))
		return
	}
	pollutants, err := toAlertPollutants(req.Pollutants)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	alert := &database.Alert{StationID: *req.Station}
	if req.Attended != nil {
		alert.Attended = *req.Attended
	}
	if err := s.store.CreateAlert(r.Context(), alert, pollutants); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("alert created", "alert_id", alert.ID, "station_id", alert.StationID, "pollutants", len(pollutants))
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionUpdate, access.ResourceAlert, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req alertRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Pollutants != nil {
		s.fail(w, r, apperr.Invalidf("pollutants are added through /alerts/%d/pollutants", id))
		return
	}
	if r.Method == http.MethodPut && req.Station == nil {
		s.fail(w, r, apperr.Invalidf("station is required"))
		return
	}

	alert, err := s.store.GetAlert(r.Context(), access.Scope{Kind: access.ScopeAll}, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Station != nil {
		alert.StationID = *req.Station
	}
	if req.Attended != nil {
		alert.Attended = *req.Attended
	}
	if err := s.store.UpdateAlert(r.Context(), alert); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionDelete, access.ResourceAlert, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteAlert(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addPollutantsRequest struct {
	Pollutants []pollutantReading `json:"pollutants"`
}

func (s *Server) handleAddPollutants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionAddPollutants, access.ResourceAlert, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req addPollutantsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Pollutants) == 0 {
		s.fail(w, r, apperr.Invalidf("pollutants must be a non-empty list"))
		return
	}
	pollutants, err := toAlertPollutants(req.Pollutants)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.AddAlertPollutants(r.Context(), id, pollutants); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pollutants)
}

func (s *Server) handleMarkAttended(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionMarkAttended, access.ResourceAlert, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	alert, err := s.store.MarkAlertAttended(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("alert attended", "alert_id", id)
	writeJSON(w, http.StatusOK, alert)
}

type notifyRequest struct {
	AuthUserIDs []int64 `json:"auth_user_ids"`
}

type notifyResponse struct {
	Message  string                   `json:"message"`
	Count    int                      `json:"count"`
	Receives []*database.AlertReceipt `json:"receives"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionNotify, access.ResourceAlert, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req notifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.AuthUserIDs == nil {
		s.fail(w, r, apperr.Invalidf("auth_user_ids is required"))
		return
	}

	receipts, err := s.recorder.Notify(r.Context(), id, req.AuthUserIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(receipts) > 0 && s.opts.Events != nil {
		if err := s.publishNotified(r.Context(), id, receipts); err != nil {
			// Receipts are committed; delivery is best effort.
			s.logger.Warn("failed to publish alert notification", "alert_id", id, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, notifyResponse{
		Message:  fmt.Sprintf("%d users notified", len(receipts)),
		Count:    len(receipts),
		Receives: receipts,
	})
}

// publishNotified hands the newly notified recipients to the notification
// service.
func (s *Server) publishNotified(ctx context.Context, alertID int64, receipts []*database.AlertReceipt) error {
	ids := make([]int64, 0, len(receipts))
	for _, receipt := range receipts {
		ids = append(ids, receipt.AuthorizedProfileID)
	}
	recipients, err := s.store.Recipients(ctx, ids)
	if err != nil {
		return err
	}
	alert, err := s.store.GetAlert(ctx, access.Scope{Kind: access.ScopeAll}, alertID)
	if err != nil {
		return err
	}
	return s.opts.Events.PublishAlertEvent(ctx, protocol.NewAlertEvent(protocol.AlertEventNotified, alert, recipients))
}

type alertPollutantRequest struct {
	Alert     *int64   `json:"alert"`
	Pollutant *string  `json:"pollutant"`
	Level     *float64 `json:"level"`
}

func (s *Server) handleListAlertPollutants(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceAlertPollutant, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	f := database.AlertPollutantFilter{Pollutant: strings.ToUpper(r.URL.Query().Get("pollutant"))}
	if f.AlertID, err = queryInt64(r, "alert"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.LevelMin, err = queryFloat(r, "level_min"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.LevelMax, err = queryFloat(r, "level_max"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.RecordedAfter, err = queryDateTime(r, "recorded_after"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.RecordedBefore, err = queryDateTime(r, "recorded_before"); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	pollutants, total, err := s.store.ListAlertPollutants(ctx, access.VisibleStations(principalFrom(r.Context())), f, page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, pollutants, total)
}

func (s *Server) handleGetAlertPollutant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceAlertPollutant, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()
	p, err := s.store.GetAlertPollutant(ctx, access.VisibleStations(principalFrom(r.Context())), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateAlertPollutant(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceAlertPollutant, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req alertPollutantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Alert == nil || *req.Alert <= 0 {
		s.fail(w, r, apperr.Invalidf("alert is required"))
		return
	}
	if req.Pollutant == nil {
		s.fail(w, r, apperr.Invalidf("pollutant is required"))
		return
	}
	readings, err := toAlertPollutants([]pollutantReading{{Pollutant: *req.Pollutant, Level: req.Level}})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p := readings[0]
	p.AlertID = *req.Alert
	if err := s.store.CreateAlertPollutant(r.Context(), p); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateAlertPollutant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionUpdate, access.ResourceAlertPollutant, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req alertPollutantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if r.Method == http.MethodPut && (req.Pollutant == nil || req.Level == nil) {
		s.fail(w, r, apperr.Invalidf("pollutant and level are required"))
		return
	}

	p, err := s.store.GetAlertPollutant(r.Context(), access.Scope{Kind: access.ScopeAll}, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Alert != nil && *req.Alert != p.AlertID {
		s.fail(w, r, apperr.Invalidf("a reading cannot move to another alert"))
		return
	}
	if req.Pollutant != nil {
		p.Pollutant = strings.ToUpper(strings.TrimSpace(*req.Pollutant))
	}
	if req.Level != nil {
		p.Level = *req.Level
	}
	if err := s.store.UpdateAlertPollutant(r.Context(), p); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteAlertPollutant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionDelete, access.ResourceAlertPollutant, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteAlertPollutant(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
