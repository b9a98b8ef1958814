package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceAccount, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	accounts, total, err := s.store.ListAccounts(r.Context(), page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, accounts, total)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceAccount, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := newAccount(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	s.writeUser(w, r, principalFrom(r.Context()).AccountID)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceAccount, &access.Target{AccountID: id}); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeUser(w, r, id)
}

func (s *Server) writeUser(w http.ResponseWriter, r *http.Request, id int64) {
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	detail, err := s.userDetail(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type accountUpdateRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionUpdate, access.ResourceAccount, &access.Target{AccountID: id}); err != nil {
		s.fail(w, r, err)
		return
	}

	var req accountUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if r.Method == http.MethodPut && (req.Name == nil || req.Email == nil) {
		s.fail(w, r, apperr.Invalidf("name and email are required"))
		return
	}
	if req.Role != nil && !principalFrom(r.Context()).IsAdmin() {
		s.fail(w, r, apperr.Forbiddenf("only admins can change the role label"))
		return
	}

	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name != nil {
		account.DisplayName = strings.TrimSpace(*req.Name)
		if account.DisplayName == "" {
			s.fail(w, r, apperr.Invalidf("name must not be empty"))
			return
		}
	}
	if req.Email != nil {
		account.Email = strings.TrimSpace(strings.ToLower(*req.Email))
		if err := validateEmail(account.Email); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.Role != nil {
		account.RoleLabel = strings.TrimSpace(*req.Role)
		if account.RoleLabel == "" {
			account.RoleLabel = database.DefaultRoleLabel
		}
	}

	if err := s.store.UpdateAccount(r.Context(), account); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionDelete, access.ResourceAccount, &access.Target{AccountID: id}); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteAccount(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("account deleted", "account_id", id, "by", principalFrom(r.Context()).AccountID)
	w.WriteHeader(http.StatusNoContent)
}

type adminProfileRequest struct {
	User        int64 `json:"user"`
	AccessLevel *int  `json:"access_level"`
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceAdminProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	profiles, total, err := s.store.ListAdminProfiles(r.Context(), page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, profiles, total)
}

func (s *Server) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceAdminProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req adminProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.User <= 0 {
		s.fail(w, r, apperr.Invalidf("user is required"))
		return
	}
	profile := &database.AdminProfile{AccountID: req.User}
	if req.AccessLevel != nil {
		profile.AccessLevel = *req.AccessLevel
	}
	if profile.AccessLevel < 0 {
		s.fail(w, r, apperr.Invalidf("access_level must not be negative"))
		return
	}
	if err := s.store.CreateAdminProfile(r.Context(), profile); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("admin profile created", "admin_id", profile.ID, "account_id", profile.AccountID)
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleGetAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceAdminProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.store.GetAdminProfile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionUpdate, access.ResourceAdminProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req adminProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.store.GetAdminProfile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.User != 0 && req.User != profile.AccountID {
		s.fail(w, r, apperr.Invalidf("user cannot be changed"))
		return
	}
	if req.AccessLevel != nil {
		if *req.AccessLevel < 0 {
			s.fail(w, r, apperr.Invalidf("access_level must not be negative"))
			return
		}
		profile.AccessLevel = *req.AccessLevel
	}
	if err := s.store.UpdateAdminProfile(r.Context(), profile); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeleteAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionDelete, access.ResourceAdminProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteAdminProfile(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("admin profile deleted", "admin_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type authorizedProfileRequest struct {
	User       int64 `json:"user"`
	ReadAccess *bool `json:"read_access"`
}

func (s *Server) handleListAuthUsers(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionList, access.ResourceAuthorizedProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	profiles, total, err := s.store.ListAuthorizedProfiles(r.Context(), page.window())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(s, w, r, page, profiles, total)
}

func (s *Server) handleCreateAuthUser(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, access.ActionCreate, access.ResourceAuthorizedProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req authorizedProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.User <= 0 {
		s.fail(w, r, apperr.Invalidf("user is required"))
		return
	}
	profile := &database.AuthorizedProfile{AccountID: req.User, ReadAccess: true}
	if req.ReadAccess != nil {
		profile.ReadAccess = *req.ReadAccess
	}
	if err := s.store.CreateAuthorizedProfile(r.Context(), profile); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("authorized profile created", "auth_user_id", profile.ID, "account_id", profile.AccountID)
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleGetAuthUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRetrieve, access.ResourceAuthorizedProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.store.GetAuthorizedProfile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateAuthUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionUpdate, access.ResourceAuthorizedProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req authorizedProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.store.GetAuthorizedProfile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.User != 0 && req.User != profile.AccountID {
		s.fail(w, r, apperr.Invalidf("user cannot be changed"))
		return
	}
	if req.ReadAccess != nil {
		profile.ReadAccess = *req.ReadAccess
	}
	if err := s.store.UpdateAuthorizedProfile(r.Context(), profile); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeleteAuthUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionDelete, access.ResourceAuthorizedProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteAuthorizedProfile(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("authorized profile deleted", "auth_user_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type grantStationRequest struct {
	StationID *int64 `json:"station_id"`
}

type grantStationResponse struct {
	Message   string    `json:"message"`
	AuthUser  int64     `json:"auth_user"`
	Station   int64     `json:"station"`
	GrantedAt time.Time `json:"granted_at"`
}

func (s *Server) handleGrantStation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionGrantStation, access.ResourceAuthorizedProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	var req grantStationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.StationID == nil || *req.StationID == 0 {
		s.fail(w, r, apperr.Invalidf("station_id is required"))
		return
	}

	consult, created, err := s.consults.Grant(r.Context(), id, *req.StationID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeGrant(w, consult, created)
}

// writeGrant reports an idempotent grant: 201 when the row was created,
// 200 when it already existed.
func writeGrant(w http.ResponseWriter, consult *database.StationConsult, created bool) {
	resp := grantStationResponse{
		Message:   "Access already exists",
		AuthUser:  consult.AuthorizedProfileID,
		Station:   consult.StationID,
		GrantedAt: consult.GrantedAt,
	}
	status := http.StatusOK
	if created {
		resp.Message = "Access granted"
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleRevokeStation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stationID, err := pathID(r, "stationID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, access.ActionRevokeStation, access.ResourceAuthorizedProfile, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.consults.Revoke(r.Context(), id, stationID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
