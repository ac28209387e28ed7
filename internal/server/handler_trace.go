package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/ccsched/pkg/model"
)

type sessionDetail struct {
	*model.Session
	Summary model.ActionSummary `json:"summary"`
}

// requireStore answers 503 when no trace store is configured.
func (s *Server) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			respondError(w, RequestIDFromContext(r.Context()), http.StatusServiceUnavailable,
				&model.APIError{Code: model.ErrUnavailable, Message: "action trace is disabled"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// listOptions reads limit, offset, session_id and action from the query.
func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, model.NewValidationError("limit must be a positive integer")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, model.NewValidationError("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	opts.SessionID = q.Get("session_id")
	if v := q.Get("action"); v != "" {
		action := model.Action(v)
		if !action.IsValid() {
			return opts, model.NewValidationError("unknown action " + strconv.Quote(v))
		}
		opts.Action = action
	}
	opts.Clamp()
	return opts, nil
}

func pagination(opts model.ListOptions, total int) *model.Pagination {
	return &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	sessions, total, err := s.store.ListSessions(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	respondList(w, reqID, sessions, pagination(opts, total))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if sess == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("session", id))
		return
	}

	summary, err := s.store.CountActions(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	respondOK(w, reqID, sessionDetail{Session: sess, Summary: summary})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	recs, total, err := s.store.ListActions(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if recs == nil {
		recs = []*model.ActionRecord{}
	}
	respondList(w, reqID, recs, pagination(opts, total))
}
