package api

import (
	"net/http"
	"strings"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/proximity"
)

type stationRequest struct {
	Name        *string          `json:"name"`
	Description optional[string] `json:"description"`
	Address     optional[string] `json:"address"`
	Institution *int64           `json:"institution"`
	Admin       optional[int64]  `json:"admin"`
	Location    *database.Point  `json:"location"`
	InstalledAt optional[string] `json:"installed_at"`
	Status      *string          `json:"status"`
}

// applyTo copies the present fields onto st and validates the result.
func (req *stationRequest) applyTo(st *database.Station) error {
	if req.Name != nil {
		st.Name = strings.TrimSpace(*req.Name)
	}
	req.Description.apply(&st.Description)
	req.Address.apply(&st.Address)
	if req.Institution != nil {
		st.InstitutionID = *req.Institution
	}
	req.Admin.apply(&st.AdminID)
	if req.Location != nil {
		st.Location = *req.Location
	}
	if req.InstalledAt.Set {
		st.InstalledAt = nil
		if req.InstalledAt.Value != nil {
			t, err := parseDate("installed_at", *req.InstalledAt.Value)
			if err != nil {
				return err
			}
			st.InstalledAt = t
		}
	}
	if req.Status != nil {
		st.Status = *req.Status
	}

	if st.Name == "" {
		return apperr.Invalidf("name is required")
	}
	if st.InstitutionID <= 0 {
		return apperr.Invalidf("institution is required")
	}
	if st.Status != "" && !database.ValidStationStatus(st.Status) {
		return apperr.Invalidf("status must be one of inactive, active, maintenance")
	}
	return st.Location.Validate()
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceStation, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	f := database.StationFilter{Status: q.Get("status"), Name: q.Get("name")}
	if f.Status != "" && !database.ValidStationStatus(f.Status) {
		s.fail(w, r, apperr.Invalidf("status must be one of inactive, active, maintenance"))
		return
	}
	if f.InstitutionID, err = queryInt64(r, "institution"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.AdminID, err = queryInt64(r, "admin"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.InstalledAfter, err = queryDate(r, "installed_after"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.InstalledBefore, err = queryDate(r, "installed_before"); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	scope := access.VisibleStations(principalFrom(r.Context()))
	stations, total, err := s.store.ListStations(ctx, scope, f, page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, stations, total)
}

func (s *Server) handleNearbyStations(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceStation, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	query, err := proximity.ParseQuery(q.Get("lat"), q.Get("lon"), q.Get("radius"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stations, err := s.finder.Nearby(r.Context(), principalFrom(r.Context()), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stations)
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceStation, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()
	station, err := s.store.GetStation(ctx, access.VisibleStations(principalFrom(r.Context())), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, station)
}

// authorizeInstitutionOwner checks that the acting admin may place a
// station under the institution.
func (s *Server) authorizeInstitutionOwner(r *http.Request, action access.Action, institutionID int64) error {
	inst, err := s.store.GetInstitution(r.Context(), institutionID)
	if err != nil {
		return err
	}
	adminRef := inst.AdminID
	return s.authorize(r, action, access.ResourceStation, &access.Target{InstitutionAdminRef: &adminRef})
}

func (s *Server) handleCreateStation(w http.ResponseWriter, r *http.Request) {
	if err := s.preauthorize(r, access.ActionCreate, access.ResourceStation); err != nil {
		s.fail(w, r, err)
		return
	}
	var req stationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Location == nil {
		s.fail(w, r, apperr.Invalidf("location is required"))
		return
	}
	station := &database.Station{}
	if err := req.applyTo(station); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorizeInstitutionOwner(r, access.ActionCreate, station.InstitutionID); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.store.CreateStation(r.Context(), station); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("station created", "station_id", station.ID, "institution_id", station.InstitutionID)
	writeJSON(w, http.StatusCreated, station)
}

// loadOwnedStation fetches the station and checks that the acting admin
// administers it or its institution.
func (s *Server) loadOwnedStation(r *http.Request, action access.Action) (*database.Station, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	if err := s.preauthorize(r, action, access.ResourceStation); err != nil {
		return nil, err
	}
	own, err := s.store.GetStationOwnership(r.Context(), id)
	if err != nil {
		return nil, err
	}
	institutionAdmin := own.InstitutionAdminID
	target := &access.Target{AdminRef: own.StationAdminID, InstitutionAdminRef: &institutionAdmin}
	if err := s.authorize(r, action, access.ResourceStation, target); err != nil {
		return nil, err
	}
	return s.store.GetStation(r.Context(), access.Scope{Kind: access.ScopeAll}, id)
}

func (s *Server) handleUpdateStation(w http.ResponseWriter, r *http.Request) {
	station, err := s.loadOwnedStation(r, access.ActionUpdate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req stationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if r.Method == http.MethodPut && (req.Name == nil || req.Institution == nil || req.Location == nil) {
		s.fail(w, r, apperr.Invalidf("name, institution and location are required"))
		return
	}

	previousInstitution := station.InstitutionID
	if err := req.applyTo(station); err != nil {
		s.fail(w, r, err)
		return
	}
	if station.InstitutionID != previousInstitution {
		if err := s.authorizeInstitutionOwner(r, access.ActionCreate, station.InstitutionID); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	if err := s.store.UpdateStation(r.Context(), station); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, station)
}

func (s *Server) handleDeleteStation(w http.ResponseWriter, r *http.Request) {
	station, err := s.loadOwnedStation(r, access.ActionDelete)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteStation(r.Context(), station.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("station deleted", "station_id", station.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStationAlerts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceStation, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	attended, err := queryBool(r, "attended")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	scope := access.VisibleStations(principalFrom(r.Context()))
	if _, err := s.store.GetStation(ctx, scope, id); err != nil {
		s.fail(w, r, err)
		return
	}
	alerts, total, err := s.store.ListAlerts(ctx, scope, database.AlertFilter{StationID: id, Attended: attended}, page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, alerts, total)
}

type grantAccessRequest struct {
	AuthUserID *int64 `json:"auth_user_id"`
}

func (s *Server) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionGrantAccess, access.ResourceStation, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req grantAccessRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.AuthUserID == nil || *req.AuthUserID == 0 {
		s.fail(w, r, apperr.Invalidf("auth_user_id is required"))
		return
	}

	consult, created, err := s.consults.Grant(r.Context(), *req.AuthUserID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeGrant(w, consult, created)
}
