package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/auth"
	"github.com/smukkama/vrisa/internal/database"
)

// userDetail is an account together with its profile flags.
type userDetail struct {
	*database.Account
	IsAdmin        bool   `json:"is_admin"`
	IsAuthUser     bool   `json:"is_auth_user"`
	AdminProfileID *int64 `json:"admin_profile"`
	AuthProfileID  *int64 `json:"auth_profile"`
}

func (s *Server) userDetail(ctx context.Context, a *database.Account) (*userDetail, error) {
	profiles, err := s.store.Profiles(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &userDetail{
		Account:        a,
		IsAdmin:        profiles.AdminProfileID != nil,
		IsAuthUser:     profiles.AuthorizedProfileID != nil,
		AdminProfileID: profiles.AdminProfileID,
		AuthProfileID:  profiles.AuthorizedProfileID,
	}, nil
}

type accountRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// newAccount validates a registration payload and hashes its password.
func newAccount(req accountRequest) (*database.Account, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" {
		return nil, apperr.Invalidf("name is required")
	}
	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return nil, apperr.Invalidf("%v", err)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "hash password")
	}
	return &database.Account{
		DisplayName:  req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		RoleLabel:    strings.TrimSpace(req.Role),
	}, nil
}

func validateEmail(email string) error {
	at := strings.LastIndex(email, "@")
	if email == "" {
		return apperr.Invalidf("email is required")
	}
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return apperr.Invalidf("email %q is not a valid address", email)
	}
	return nil
}

type tokenPair struct {
	Access    string `json:"access"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) issueToken(detail *userDetail) (*tokenPair, error) {
	token, err := auth.NewAccessToken(s.auth.JWTSecret, s.auth.JWTIssuer, s.auth.AccessTTL, auth.Claims{
		AccountID:  detail.ID,
		Email:      detail.Email,
		Name:       detail.DisplayName,
		Role:       detail.RoleLabel,
		IsAdmin:    detail.IsAdmin,
		IsAuthUser: detail.IsAuthUser,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "sign token")
	}
	return &tokenPair{Access: token, TokenType: "Bearer", ExpiresIn: int(s.auth.AccessTTL.Seconds())}, nil
}

// handleRegister shares the account-create decision with POST /users:
// open to anonymous callers and admins only.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
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

	detail, err := s.userDetail(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokens, err := s.issueToken(detail)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.Info("account registered", "account_id", account.ID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":   detail,
		"tokens": tokens,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		s.fail(w, r, apperr.Invalidf("email and password are required"))
		return
	}

	account, err := s.store.GetAccountByEmail(r.Context(), req.Email)
	if apperr.Is(err, apperr.NotFound) {
		s.fail(w, r, apperr.New(apperr.Unauthorized, "invalid credentials"))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !auth.CheckPassword(req.Password, account.PasswordHash) {
		s.fail(w, r, apperr.New(apperr.Unauthorized, "invalid credentials"))
		return
	}

	detail, err := s.userDetail(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokens, err := s.issueToken(detail)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access":     tokens.Access,
		"token_type": tokens.TokenType,
		"expires_in": tokens.ExpiresIn,
		"user":       detail,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		s.fail(w, r, errNotAuthenticated)
		return
	}
	if s.opts.Revocations != nil && claims.ExpiresAt != nil {
		if err := s.opts.Revocations.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			s.fail(w, r, apperr.Wrap(err, apperr.Internal, "revoke token"))
			return
		}
	}
	s.logger.Info("account logged out", "account_id", claims.AccountID)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		s.fail(w, r, apperr.Invalidf("old_password and new_password are required"))
		return
	}

	p := principalFrom(r.Context())
	account, err := s.store.GetAccount(r.Context(), p.AccountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !auth.CheckPassword(req.OldPassword, account.PasswordHash) {
		s.fail(w, r, apperr.Invalidf("old password is incorrect"))
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		s.fail(w, r, apperr.Invalidf("%v", err))
		return
	}
	if err != nil {
		s.fail(w, r, apperr.Wrap(err, apperr.Internal, "hash password"))
		return
	}
	if err := s.store.SetPasswordHash(r.Context(), account.ID, hash); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	account, err := s.store.GetAccount(r.Context(), p.AccountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	detail, err := s.userDetail(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"user":  detail,
	})
}
