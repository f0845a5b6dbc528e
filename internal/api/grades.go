package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skillpulse/skillpulse/internal/grading"
)

// handleGrades accepts anonymized skill grades. The endpoint is public: it is
// called from product code paths, not by operators.
func (s *Server) handleGrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var sub grading.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid JSON body",
		})
		return
	}

	if err := s.ingestor.SubmitGrade(r.Context(), sub); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, grading.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
