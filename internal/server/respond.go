package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rickgao/romarket/internal/refresh"
)

// errNoStore is reported when no history store is configured.
var errNoStore = fmt.Errorf("database not initialized: %w", refresh.ErrNotInitialized)

// paramError is a malformed or out-of-range query parameter.
type paramError struct {
	Name   string
	Reason string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid query parameter %q: %s", e.Name, e.Reason)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps err onto a status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *paramError
	switch {
	case errors.As(err, &pe), errors.Is(err, refresh.ErrInvalidRequest):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, refresh.ErrFetchFailed):
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, refresh.ErrNotInitialized):
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

// requiredString returns a non-empty parameter.
func requiredString(q url.Values, name string) (string, error) {
	v := q.Get(name)
	if v == "" {
		return "", &paramError{Name: name, Reason: "field required"}
	}
	return v, nil
}

// intParam parses an optional integer within [min, max], returning def when absent.
func intParam(q url.Values, name string, def, lo, hi int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &paramError{Name: name, Reason: "not an integer"}
	}
	if n < lo || n > hi {
		return 0, &paramError{Name: name, Reason: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return n, nil
}

func boolParam(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &paramError{Name: name, Reason: "not a boolean"}
	}
	return b, nil
}
