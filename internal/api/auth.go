package api

import (
	"encoding/json"
	"net/http"

	"github.com/skillpulse/skillpulse/internal/security"
)

type tokenRequest struct {
	OperatorID string `json:"operatorId"`
	Password   string `json:"password"`
}

// handleToken exchanges operator credentials for a JWT.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.auth == nil || s.jwtSecret == nil {
		writeError(w, http.StatusNotFound, "authentication is not configured")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	op, err := s.auth.Authenticate(req.OperatorID, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, security.ErrBadCredentials.Error())
		return
	}

	token, err := security.GenerateToken(op.ID, op.Role, s.jwtSecret, s.tokenExpiry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"role":      op.Role,
		"expiresIn": int(s.tokenExpiry.Seconds()),
	})
}
