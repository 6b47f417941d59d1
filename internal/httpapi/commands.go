package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/thin-edge/tedge-core/internal/domain"
)

func (s *Server) handleStartCommand(w http.ResponseWriter, r *http.Request, id domain.TopicID, operation string) {
	var input map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "malformed json body")
			return
		}
	}

	commandID, err := s.engine.Start(r.Context(), id, operation, input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": commandID})
}

func (s *Server) handleCommandStatus(w http.ResponseWriter, r *http.Request, id domain.TopicID, operation, commandID string) {
	record, err := s.engine.Status(r.Context(), id, operation, commandID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": record.Status,
		"input":  record.Input,
		"output": record.Output,
	})
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request, id domain.TopicID, operation, commandID string) {
	if err := s.engine.Cancel(r.Context(), id, operation, commandID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
