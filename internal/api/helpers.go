package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skillpulse/skillpulse/internal/registry"
	"github.com/skillpulse/skillpulse/internal/security"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeStoreError maps registry errors to HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	var stateErr *registry.StateError
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, registry.ErrRequestNotFound),
		errors.Is(err, registry.ErrVersionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &stateErr):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrNoPreviousVersion):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// requireRole enforces a role on a mutating handler. It reports true when the
// request may proceed. Requests without claims pass: that only happens in dev
// mode, when no JWT secret is configured.
func requireRole(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	claims, err := security.GetClaims(r)
	if err != nil {
		return true
	}
	if security.RoleAllowed(claims.Role, roles...) {
		return true
	}
	writeError(w, http.StatusForbidden, security.ErrInsufficientRole.Error())
	return false
}

// operatorID names the acting operator for audit fields, "dev" in dev mode.
func operatorID(r *http.Request) string {
	claims, err := security.GetClaims(r)
	if err != nil {
		return "dev"
	}
	return claims.OperatorID
}
