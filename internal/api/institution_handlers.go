package api

import (
	"net/http"
	"strings"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
)

type institutionRequest struct {
	Name     *string          `json:"name"`
	Address  optional[string] `json:"address"`
	Verified *bool            `json:"verified"`
	Admin    *int64           `json:"admin"`
}

func (s *Server) handleListInstitutions(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceInstitution, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var f database.InstitutionFilter
	if f.AdminID, err = queryInt64(r, "admin"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.Verified, err = queryBool(r, "verified"); err != nil {
		s.fail(w, r, err)
		return
	}
	f.Name = r.URL.Query().Get("name")

	institutions, total, err := s.store.ListInstitutions(r.Context(), f, page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, institutions, total)
}

// handleCreateInstitution lets any admin register an institution. It is
// owned by the acting admin unless another admin profile is named.
func (s *Server) handleCreateInstitution(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceInstitution, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req institutionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		s.fail(w, r, apperr.Invalidf("name is required"))
		return
	}

	inst := &database.Institution{
		Name:    strings.TrimSpace(*req.Name),
		AdminID: principalFrom(r.Context()).AdminProfileID,
	}
	req.Address.apply(&inst.Address)
	if req.Verified != nil {
		inst.Verified = *req.Verified
	}
	if req.Admin != nil {
		inst.AdminID = *req.Admin
	}

	if err := s.store.CreateInstitution(r.Context(), inst); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("institution created", "institution_id", inst.ID, "admin_id", inst.AdminID)
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleGetInstitution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceInstitution, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	inst, err := s.store.GetInstitution(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// loadOwnedInstitution fetches the institution and checks that the acting
// admin owns it.
func (s *Server) loadOwnedInstitution(r *http.Request, action access.Action) (*database.Institution, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	if err := s.preauthorize(r, action, access.ResourceInstitution); err != nil {
		return nil, err
	}
	inst, err := s.store.GetInstitution(r.Context(), id)
	if err != nil {
		return nil, err
	}
	adminRef := inst.AdminID
	if err := s.authorize(r, action, access.ResourceInstitution, &access.Target{AdminRef: &adminRef}); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Server) handleUpdateInstitution(w http.ResponseWriter, r *http.Request) {
	inst, err := s.loadOwnedInstitution(r, access.ActionUpdate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req institutionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if r.Method == http.MethodPut && req.Name == nil {
		s.fail(w, r, apperr.Invalidf("name is required"))
		return
	}

	if req.Name != nil {
		inst.Name = strings.TrimSpace(*req.Name)
		if inst.Name == "" {
			s.fail(w, r, apperr.Invalidf("name must not be empty"))
			return
		}
	}
	req.Address.apply(&inst.Address)
	if req.Verified != nil {
		inst.Verified = *req.Verified
	}
	if req.Admin != nil {
		inst.AdminID = *req.Admin
	}

	if err := s.store.UpdateInstitution(r.Context(), inst); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDeleteInstitution(w http.ResponseWriter, r *http.Request) {
	inst, err := s.loadOwnedInstitution(r, access.ActionDelete)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteInstitution(r.Context(), inst.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("institution deleted", "institution_id", inst.ID)
	w.WriteHeader(http.StatusNoContent)
}
