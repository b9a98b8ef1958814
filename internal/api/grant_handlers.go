package api

import (
	"net/http"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
)

// grantPairRequest names one side of a consult or receipt row. Exactly one
// of Station and Alert applies, depending on the endpoint.
type grantPairRequest struct {
	AuthUser *int64 `json:"auth_user"`
	Station  *int64 `json:"station"`
	Alert    *int64 `json:"alert"`
}

func grantFilter(r *http.Request) (database.ConsultFilter, error) {
	var (
		f   database.ConsultFilter
		err error
	)
	if f.AuthorizedProfileID, err = queryInt64(r, "auth_user"); err != nil {
		return f, err
	}
	if f.StationID, err = queryInt64(r, "station"); err != nil {
		return f, err
	}
	if f.AlertID, err = queryInt64(r, "alert"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleListConsults(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceStationConsult, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := grantFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	consults, total, err := s.store.ListConsults(r.Context(), f, page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, consults, total)
}

func (s *Server) handleCreateConsult(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceStationConsult, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req grantPairRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.AuthUser == nil || req.Station == nil {
		s.fail(w, r, apperr.Invalidf("auth_user and station are required"))
		return
	}

	consult, created, err := s.consults.Grant(r.Context(), *req.AuthUser, *req.Station)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, consult)
}

func (s *Server) handleDeleteConsult(w http.ResponseWriter, r *http.Request) {
	profileID, err := pathID(r, "authUserID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stationID, err := pathID(r, "stationID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionDelete, access.ResourceStationConsult, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.consults.Revoke(r.Context(), profileID, stationID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceAlertReceipt, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := grantFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	receipts, total, err := s.store.ListReceipts(r.Context(), f, page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, receipts, total)
}

func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceAlertReceipt, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req grantPairRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.AuthUser == nil || req.Alert == nil {
		s.fail(w, r, apperr.Invalidf("auth_user and alert are required"))
		return
	}

	receipt, created, err := s.store.InsertReceipt(r.Context(), *req.AuthUser, *req.Alert)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, receipt)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	profileID, err := pathID(r, "authUserID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	alertID, err := pathID(r, "alertID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionDelete, access.ResourceAlertReceipt, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteReceipt(r.Context(), profileID, alertID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
