package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"talky/internal/apperr"
	"talky/internal/audio"
	"talky/internal/gop"
	"talky/internal/pipeline"
	"talky/internal/progress"
	"talky/internal/queue"
	"talky/internal/scoring"
	"talky/internal/storage"
	"talky/pkg/cache"
	"talky/pkg/logger"
	"talky/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// scoreForm is the multipart form shared by /api/score and /api/attempts.
type scoreForm struct {
	Audio     []byte
	Clip      *audio.Clip
	Reference string
	Strategy  scoring.Strategy
	UserID    string
}

func (s *Server) parseScoreForm(w http.ResponseWriter, r *http.Request) (*scoreForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return nil, apperr.Input("expected a multipart form with an audio file", err)
	}

	f, _, err := r.FormFile("audio")
	if err != nil {
		return nil, apperr.Input("audio file is required", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.Input("failed to read audio file", err)
	}

	clip, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Input("audio must be a PCM WAV file", err)
	}

	reference := strings.TrimSpace(r.FormValue("reference"))
	if reference == "" {
		return nil, apperr.Input("reference text is required", nil)
	}

	strategy, err := scoring.ParseStrategy(r.FormValue("strategy"), s.thresholds)
	if err != nil {
		return nil, apperr.Input(err.Error(), err)
	}

	return &scoreForm{
		Audio:     data,
		Clip:      clip,
		Reference: reference,
		Strategy:  strategy,
		UserID:    strings.TrimSpace(r.FormValue("userId")),
	}, nil
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseScoreForm(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := s.scorer.Score(r.Context(), pipeline.Request{
		Samples:    form.Clip.Samples,
		SampleRate: form.Clip.SampleRate,
		Reference:  form.Reference,
		Strategy:   form.Strategy,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if form.UserID != "" && outcome.AlignErr == nil && s.progress != nil {
		s.recordOutcome(r, form.UserID, outcome)
	}

	writeJSON(w, http.StatusOK, outcome)
}

// recordOutcome folds every scored phoneme into the user's progress. A
// failure is logged and does not affect the response.
func (s *Server) recordOutcome(r *http.Request, userID string, outcome *pipeline.Outcome) {
	now := s.now()
	for _, e := range progress.FromReport(userID, gop.Report{Words: outcome.Words, Overall: outcome.Overall}) {
		if err := s.progress.Record(r.Context(), e, now); err != nil {
			logger.Warn("Failed to record progress",
				zap.String("user_id", userID),
				zap.String("phoneme", e.Phoneme),
				zap.Error(err))
			return
		}
	}
}

type attemptCreated struct {
	AttemptID string `json:"attemptId"`
	Status    string `json:"status"`
}

func (s *Server) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	if s.attempts == nil || s.audio == nil || s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "asynchronous scoring is not configured"})
		return
	}

	form, err := s.parseScoreForm(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := s.now()
	attempt := &model.Attempt{
		ID:        uuid.New().String(),
		Reference: form.Reference,
		Strategy:  form.Strategy.Name(),
		Status:    model.AttemptStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if form.UserID != "" {
		attempt.UserID = &form.UserID
	}
	attempt.AudioKey = storage.AudioKey(attempt.ID, now)

	ctx := r.Context()
	if err := s.audio.UploadAudio(ctx, attempt.AudioKey, form.Audio); err != nil {
		writeError(w, r, apperr.External("failed to store recording", err))
		return
	}
	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		s.discardAudio(ctx, attempt.AudioKey)
		writeError(w, r, classify(fmt.Errorf("failed to create attempt: %w", err)))
		return
	}

	err = s.queue.PublishTask(ctx, &queue.ScoreTask{
		AttemptID: attempt.ID,
		UserID:    form.UserID,
		AudioKey:  attempt.AudioKey,
		Reference: attempt.Reference,
		Strategy:  attempt.Strategy,
		CreatedAt: now,
	})
	if err != nil {
		// The row stays as a failed attempt pointing at the archived audio.
		attempt.SetError("failed to queue attempt: " + err.Error())
		if uerr := s.attempts.UpdateAttempt(ctx, attempt); uerr != nil {
			logger.Error("Failed to mark attempt as failed",
				zap.String("attempt_id", attempt.ID),
				zap.Error(uerr))
		}
		writeError(w, r, apperr.External("failed to queue attempt", err))
		return
	}

	logger.Info("Attempt queued", zap.String("attempt_id", attempt.ID))
	writeJSON(w, http.StatusAccepted, attemptCreated{AttemptID: attempt.ID, Status: string(attempt.Status)})
}

// discardAudio removes a recording that no attempt row refers to.
func (s *Server) discardAudio(ctx context.Context, key string) {
	if err := s.audio.DeleteAudio(ctx, key); err != nil {
		logger.Warn("Failed to delete orphaned recording",
			zap.String("audio_key", key),
			zap.Error(err))
	}
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	if s.attempts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "asynchronous scoring is not configured"})
		return
	}

	id := r.PathValue("id")
	ctx := r.Context()

	if s.cache != nil {
		var cached model.Attempt
		err := s.cache.Get(ctx, cache.AttemptCacheKey(id), &cached)
		if err == nil {
			writeJSON(w, http.StatusOK, &cached)
			return
		}
		if !errors.Is(err, cache.ErrNotFound) {
			logger.Warn("Attempt cache lookup failed", zap.String("attempt_id", id), zap.Error(err))
		}
	}

	attempt, err := s.attempts.GetAttempt(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, apperr.NotFound("attempt not found", err))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, attempt)
}
