package api

import (
	"net/http"
	"strings"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
)

type deviceRequest struct {
	SerialNumber *string          `json:"serial_number"`
	Description  optional[string] `json:"description"`
	Type         *string          `json:"type"`
	Station      *int64           `json:"station"`
}

func (req *deviceRequest) applyTo(d *database.Device) error {
	if req.SerialNumber != nil {
		d.SerialNumber = strings.TrimSpace(*req.SerialNumber)
	}
	req.Description.apply(&d.Description)
	if req.Type != nil {
		d.Type = strings.ToUpper(*req.Type)
	}
	if req.Station != nil {
		d.StationID = *req.Station
	}

	if d.SerialNumber == "" {
		return apperr.Invalidf("serial_number is required")
	}
	if !database.ValidDeviceType(d.Type) {
		return apperr.Invalidf("type must be one of SENSOR, METEO, OTHER")
	}
	if d.StationID <= 0 {
		return apperr.Invalidf("station is required")
	}
	return nil
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceDevice, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	f := database.DeviceFilter{Type: strings.ToUpper(r.URL.Query().Get("type"))}
	if f.Type != "" && !database.ValidDeviceType(f.Type) {
		s.fail(w, r, apperr.Invalidf("type must be one of SENSOR, METEO, OTHER"))
		return
	}
	if f.StationID, err = queryInt64(r, "station"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.InstalledAfter, err = queryDateTime(r, "installed_after"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.InstalledBefore, err = queryDateTime(r, "installed_before"); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	devices, total, err := s.store.ListDevices(ctx, access.VisibleStations(principalFrom(r.Context())), f, page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, devices, total)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceDevice, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()
	device, err := s.store.GetDevice(ctx, access.VisibleStations(principalFrom(r.Context())), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceDevice, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	device := &database.Device{}
	if err := req.applyTo(device); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.CreateDevice(r.Context(), device); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("device registered", "device_id", device.ID, "serial", device.SerialNumber, "station_id", device.StationID)
	writeJSON(w, http.StatusCreated, device)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionUpdate, access.ResourceDevice, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if r.Method == http.MethodPut && (req.SerialNumber == nil || req.Type == nil || req.Station == nil) {
		s.fail(w, r, apperr.Invalidf("serial_number, type and station are required"))
		return
	}

	device, err := s.store.GetDevice(r.Context(), access.Scope{Kind: access.ScopeAll}, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.applyTo(device); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.UpdateDevice(r.Context(), device); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionDelete, access.ResourceDevice, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteDevice(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("device deleted", "device_id", id)
	w.WriteHeader(http.StatusNoContent)
}
