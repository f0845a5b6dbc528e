package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/skillpulse/skillpulse/internal/improvement"
	"github.com/skillpulse/skillpulse/internal/registry"
	"github.com/skillpulse/skillpulse/internal/security"
)

// skillSummary is one row of the skill listing.
type skillSummary struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	Type   registry.SkillType   `json:"skillType"`
	Scores registry.SkillScores `json:"scores"`
}

// handleSkills lists all registered skills with their current scores.
func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries, err := s.store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	summaries := make([]skillSummary, len(entries))
	for i, e := range entries {
		summaries[i] = skillSummary{
			ID:     e.ID,
			Name:   e.Name,
			Type:   e.Type,
			Scores: registry.ComputeScores(e),
		}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleSkillDetail dispatches /api/skills/{id} and its sub-resources.
func (s *Server) handleSkillDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/skills/")
	parts := strings.SplitN(path, "/", 2)

	skillID := parts[0]
	if skillID == "" {
		writeError(w, http.StatusBadRequest, "skill id required")
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleSkillGet(w, r, skillID)
	case action == "scores" && r.Method == http.MethodGet:
		s.handleSkillScores(w, r, skillID)
	case action == "versions" && r.Method == http.MethodGet:
		s.handleSkillVersions(w, r, skillID)
	case action == "improvement" && r.Method == http.MethodGet:
		s.handleSkillImprovement(w, r, skillID)
	case action == "rollback" && r.Method == http.MethodPost:
		s.handleSkillRollback(w, r, skillID)
	default:
		writeError(w, http.StatusBadRequest, "invalid action or method")
	}
}

func (s *Server) handleSkillGet(w http.ResponseWriter, r *http.Request, skillID string) {
	e, err := s.store.Entry(r.Context(), skillID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 e.ID,
		"name":               e.Name,
		"skillType":          e.Type,
		"systemInstruction":  e.SystemInstruction,
		"userPromptTemplate": e.UserPromptTemplate,
		"currentVersion":     e.CurrentVersion,
		"lastImprovedAt":     e.LastImprovedAt,
		"scores":             registry.ComputeScores(e),
	})
}

func (s *Server) handleSkillScores(w http.ResponseWriter, r *http.Request, skillID string) {
	e, err := s.store.Entry(r.Context(), skillID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registry.ComputeScores(e))
}

func (s *Server) handleSkillVersions(w http.ResponseWriter, r *http.Request, skillID string) {
	history, err := s.store.VersionHistory(r.Context(), skillID, 50)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleSkillImprovement(w http.ResponseWriter, r *http.Request, skillID string) {
	status, err := s.svc.Status(r.Context(), skillID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSkillRollback(w http.ResponseWriter, r *http.Request, skillID string) {
	if !requireRole(w, r, security.RoleAdmin) {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	restored, err := s.svc.Rollback(r.Context(), skillID, body.Reason)
	if err != nil {
		if errors.Is(err, improvement.ErrReasonRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restoredVersion": restored})
}
