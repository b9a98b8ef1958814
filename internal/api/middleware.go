package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/smukkama/vrisa/internal/access"
	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/auth"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/metrics"
)

type (
	requestIDKey struct{}
	principalKey struct{}
	claimsKey    struct{}
)

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// accessLog records one log line and one latency observation per request,
// labelled by route pattern rather than raw path.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(elapsed.Seconds())

		s.logger.Info("http request",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", elapsed,
			"bytes", ww.BytesWritten(),
		)
	})
}

// resolvePrincipal turns the bearer token into a Principal using the
// current profile rows. A request without a token is Anonymous; a token
// that fails verification, was revoked, or names a deleted account is
// rejected outright.
func (s *Server) resolvePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, principalKey{}, access.Anonymous())))
			return
		}

		claims, err := auth.ParseToken(s.auth.JWTSecret, s.auth.JWTIssuer, token)
		if err != nil {
			s.fail(w, r, apperr.New(apperr.Unauthorized, "invalid or expired token"))
			return
		}

		if s.opts.Revocations != nil {
			revoked, err := s.opts.Revocations.IsRevoked(ctx, claims.ID)
			if err != nil {
				s.fail(w, r, apperr.Wrap(err, apperr.Internal, "token revocation check"))
				return
			}
			if revoked {
				s.fail(w, r, apperr.New(apperr.Unauthorized, "token has been revoked"))
				return
			}
		}

		profiles, err := s.store.Profiles(ctx, claims.AccountID)
		if apperr.Is(err, apperr.NotFound) {
			s.fail(w, r, apperr.New(apperr.Unauthorized, "account no longer exists"))
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx = context.WithValue(ctx, principalKey{}, principalFromProfiles(profiles))
		ctx = context.WithValue(ctx, claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromProfiles(set *database.ProfileSet) access.Principal {
	switch {
	case set.AdminProfileID != nil:
		return access.Admin(set.AccountID, *set.AdminProfileID, set.AccessLevel)
	case set.AuthorizedProfileID != nil:
		return access.Authorized(set.AccountID, *set.AuthorizedProfileID)
	default:
		return access.Citizen(set.AccountID)
	}
}

func (s *Server) requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r.Context()).Authenticated() {
			s.fail(w, r, errNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalFrom(ctx context.Context) access.Principal {
	p, ok := ctx.Value(principalKey{}).(access.Principal)
	if !ok {
		return access.Anonymous()
	}
	return p
}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}

var errNotAuthenticated = apperr.New(apperr.Unauthorized, "authentication credentials were not provided")

// authorize applies the access policy and records the decision. Denials
// for unauthenticated principals map to Unauthorized, all others to a
// uniform Forbidden.
func (s *Server) authorize(r *http.Request, action access.Action, resource access.Resource, target *access.Target) error {
	p := principalFrom(r.Context())
	result := access.Authorize(p, action, resource, target)
	metrics.AuthorizationDecisions.WithLabelValues(string(resource), string(action), result.Decision.String()).Inc()
	if result.Allowed() {
		return nil
	}

	s.logger.Info("authorization denied",
		"request_id", requestIDFrom(r.Context()),
		"principal", p.Kind.String(),
		"account_id", p.AccountID,
		"resource", string(resource),
		"action", string(action),
		"reason", result.Reason.String(),
	)
	if result.Reason == access.ReasonNotAuthenticated {
		return errNotAuthenticated
	}
	return apperr.Forbiddenf("you do not have permission to perform this action")
}

// queryContext bounds visibility-filtered queries by the configured
// query timeout.
func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.http.QueryTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.http.QueryTimeout)
}

// preauthorize rejects non-admin principals for admin-only writes before
// any lookup can reveal whether the target exists. Admins proceed to the
// object-level check.
func (s *Server) preauthorize(r *http.Request, action access.Action, resource access.Resource) error {
	if principalFrom(r.Context()).IsAdmin() {
		return nil
	}
	if err := s.authorize(r, action, resource, nil); err != nil {
		return err
	}
	return apperr.Forbiddenf("you do not have permission to perform this action")
}
