package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/ccsched/internal/sim"
	"github.com/me/ccsched/internal/thread"
	"github.com/me/ccsched/pkg/model"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	status, err := s.controls.Status(r.Context())
	if err != nil {
		s.respondControlError(w, reqID, err)
		return
	}
	respondOK(w, reqID, status)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{"commands": sim.Commands()})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "command")

	if err := s.controls.Command(r.Context(), name); err != nil {
		s.respondControlError(w, reqID, err)
		return
	}
	s.logger.Info("command applied", "command", name, "request_id", reqID)

	status, err := s.controls.Status(r.Context())
	if err != nil {
		s.respondControlError(w, reqID, err)
		return
	}
	respondOK(w, reqID, status)
}

// respondControlError maps errors from the impl thread onto HTTP statuses.
func (s *Server) respondControlError(w http.ResponseWriter, reqID string, err error) {
	switch {
	case errors.Is(err, sim.ErrUnknownCommand):
		respondError(w, reqID, http.StatusNotFound,
			&model.APIError{Code: model.ErrNotFound, Message: err.Error()})
	case errors.Is(err, sim.ErrRejected):
		respondError(w, reqID, http.StatusConflict,
			&model.APIError{Code: model.ErrConflict, Message: err.Error()})
	case errors.Is(err, thread.ErrStopped):
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: err.Error()})
	default:
		s.logger.Error("impl thread call failed", "error", err, "request_id", reqID)
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
	}
}
