package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smukkama/vrisa/internal/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.Internal:        http.StatusInternalServerError,
	apperr.NotFound:        http.StatusNotFound,
	apperr.InvalidArgument: http.StatusBadRequest,
	apperr.Forbidden:       http.StatusForbidden,
	apperr.Conflict:        http.StatusConflict,
	apperr.Unauthorized:    http.StatusUnauthorized,
	apperr.Timeout:         http.StatusGatewayTimeout,
}

func statusFor(err error) int {
	if status, ok := statusByKind[apperr.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": code, "detail": message}. Internal errors
// are logged with their cause and reported without it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal || kind == apperr.Timeout {
		s.logger.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, statusFor(err), map[string]string{
		"error":  kind.String(),
		"detail": apperr.Message(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalidf("request body is required")
		}
		return apperr.Wrap(err, apperr.InvalidArgument, "invalid request body: %v", err)
	}
	return nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// pathID parses a positive integer URL parameter. Malformed ids read as
// NotFound, as an unmatched route would.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFoundf("not found")
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Invalidf("%s must be an integer", name)
	}
	return v, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.Invalidf("%s must be a number", name)
	}
	return &v, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	raw := strings.ToLower(r.URL.Query().Get(name))
	switch raw {
	case "":
		return nil, nil
	case "true", "1":
		v := true
		return &v, nil
	case "false", "0":
		v := false
		return &v, nil
	}
	return nil, apperr.Invalidf("%s must be true or false", name)
}

const dateLayout = "2006-01-02"

func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	return parseDate(name, raw)
}

func parseDate(name, raw string) (*time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperr.Invalidf("%s must be a date in YYYY-MM-DD format", name)
	}
	return &t, nil
}

// parseDateTime accepts either RFC3339 or a bare date.
func parseDateTime(name, raw string) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	return parseDate(name, raw)
}

func queryDateTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	return parseDateTime(name, raw)
}

type messageResponse struct {
	Message string `json:"message"`
}
