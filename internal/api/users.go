package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"talky/internal/apperr"
	"talky/internal/progress"
	"talky/pkg/model"
)

type createUserRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Input("invalid request body", err))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, r, apperr.Input("userId is required", progress.ErrMissingUser))
		return
	}
	if req.Age < 0 {
		writeError(w, r, apperr.Input("age must not be negative", nil))
		return
	}

	u := &model.User{ID: req.UserID, Name: strings.TrimSpace(req.Name), Age: req.Age}
	created, err := s.progress.CreateUser(r.Context(), u)
	if err != nil {
		writeError(w, r, classify(err))
		return
	}
	if !created {
		existing, err := s.progress.GetUser(r.Context(), req.UserID)
		if err != nil {
			writeError(w, r, classify(err))
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.progress.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, apperr.Input("limit must be a positive integer", err))
			return
		}
		limit = n
	}

	userID := r.PathValue("id")
	if _, err := s.progress.GetUser(r.Context(), userID); err != nil {
		writeError(w, r, classify(err))
		return
	}

	h, err := s.progress.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "history": h})
}

func (s *Server) handleRecordProgress(w http.ResponseWriter, r *http.Request) {
	var e progress.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, r, apperr.Input("invalid request body", err))
		return
	}
	if err := e.Validate(); err != nil {
		writeError(w, r, classify(err))
		return
	}

	if err := s.progress.Record(r.Context(), e, s.now()); err != nil {
		writeError(w, r, classify(err))
		return
	}

	p, err := s.progress.Progress(r.Context(), e.UserID)
	if err != nil {
		writeError(w, r, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
