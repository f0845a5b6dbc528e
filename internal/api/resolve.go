package api

import (
	"encoding/json"
	"net/http"

	"github.com/skillpulse/skillpulse/internal/resolver"
)

// resolveRequest asks for the effective prompt of one skill. The fallback
// fields carry the caller's built-in prompt content.
type resolveRequest struct {
	SkillID            string            `json:"skillId"`
	SystemInstruction  string            `json:"fallbackSystemInstruction"`
	UserPromptTemplate string            `json:"fallbackUserPromptTemplate"`
	Variables          map[string]string `json:"variables,omitempty"`
}

// handleResolve returns the effective prompt for a skill. Resolution never
// fails: registry problems degrade to the supplied fallback.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SkillID == "" {
		writeError(w, http.StatusBadRequest, "skillId is required")
		return
	}

	eff := s.resolver.Resolve(r.Context(), req.SkillID, resolver.Fallback{
		SystemInstruction:  req.SystemInstruction,
		UserPromptTemplate: req.UserPromptTemplate,
	}, req.Variables)
	writeJSON(w, http.StatusOK, eff)
}
