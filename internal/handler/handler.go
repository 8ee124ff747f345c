package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/akulagin/authd/internal/config"
	internal_errors "github.com/akulagin/authd/internal/errors"
	"github.com/akulagin/authd/internal/logger"
	"github.com/akulagin/authd/internal/service"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	auth   service.AuthService
	health HealthChecker
	cfg    *config.Config
}

func New(auth service.AuthService, health HealthChecker, cfg *config.Config) *Handler {
	return &Handler{auth: auth, health: health, cfg: cfg}
}

// envelope is the success body shape: {"message": ..., "data": {...}}
type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode response", "error", err)
	}
}

// writeError maps business refusals to their status code with an
// {"error": ...} body; anything else is an internal error and the
// message stays out of the response.
func writeError(w http.ResponseWriter, err error) {
	if e, ok := err.(*internal_errors.ErrorWithStatusCode); ok {
		writeJSON(w, e.StatusCode, map[string]string{"error": e.Message})
		return
	}
	logger.Log.Error("internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

// writeValidationErrors sends the field -> message mapping verbatim at 422.
func writeValidationErrors(w http.ResponseWriter, errs map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": errs})
}

func decodeBody(r *http.Request, body any) error {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		return &internal_errors.ErrorWithStatusCode{Message: "Body is invalid json", StatusCode: http.StatusBadRequest}
	}
	return nil
}

// tokenFromRequest pulls the bearer token from the Authorization header
// (API clients) or the jwt cookie (browsers).
func tokenFromRequest(r *http.Request) (string, bool) {
	if token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found && token != "" {
		return token, true
	}
	if cookie, err := r.Cookie(jwtCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}
