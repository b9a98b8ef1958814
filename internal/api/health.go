package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	PostGIS string            `json:"postgis,omitempty"`
}

// handleHealth reports 200 only when the database, PostGIS and Redis (if
// configured) all answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			s.logger.Warn("health check failed", "check", name, "error", err)
			return
		}
		resp.Checks[name] = "ok"
	}

	check("database", s.store.PingContext(ctx))
	version, err := s.store.PostGISVersion(ctx)
	check("postgis", err)
	resp.PostGIS = version
	if s.opts.Redis != nil {
		check("redis", s.opts.Redis.Ping(ctx).Err())
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
