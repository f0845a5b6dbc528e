package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/skillpulse/skillpulse/internal/improvement"
	"github.com/skillpulse/skillpulse/internal/security"
)

// handleImprovements lists unresolved requests (GET) or runs a detection
// sweep immediately (POST /api/improvements with action=sweep).
func (s *Server) handleImprovements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pending, err := s.svc.Pending(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pending)

	case http.MethodPost:
		if !requireRole(w, r, security.RoleAdmin) {
			return
		}
		created, err := s.detector.Sweep(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"triggered": created})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleImprovementDetail dispatches /api/improvements/{id} and its actions.
func (s *Server) handleImprovementDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/improvements/")
	parts := strings.SplitN(path, "/", 2)

	requestID := parts[0]
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request id required")
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		req, err := s.store.Request(r.Context(), requestID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case action == "generate" && r.Method == http.MethodPost:
		s.handleGenerate(w, r, requestID)
	case action == "approve" && r.Method == http.MethodPost:
		s.handleApprove(w, r, requestID)
	case action == "reject" && r.Method == http.MethodPost:
		s.handleReject(w, r, requestID)
	case action == "apply" && r.Method == http.MethodPost:
		s.handleApply(w, r, requestID)
	default:
		writeError(w, http.StatusBadRequest, "invalid action or method")
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, requestID string) {
	if !requireRole(w, r, security.RoleReviewer) {
		return
	}
	req, err := s.svc.Generate(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, improvement.ErrNoGenerator) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, requestID string) {
	if !requireRole(w, r, security.RoleReviewer) {
		return
	}
	if err := s.svc.Approve(r.Context(), requestID, operatorID(r)); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, requestID string) {
	if !requireRole(w, r, security.RoleReviewer) {
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if err := s.svc.Reject(r.Context(), requestID, operatorID(r), body.Notes); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request, requestID string) {
	if !requireRole(w, r, security.RoleAdmin) {
		return
	}
	newVersion, err := s.svc.Apply(r.Context(), requestID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"newVersion": newVersion})
}
