// Package api serves the scoring, attempt, user and progress endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"talky/internal/apperr"
	"talky/internal/feedback"
	"talky/internal/observe"
	"talky/internal/pipeline"
	"talky/internal/progress"
	"talky/internal/queue"
	"talky/internal/scoring"
	"talky/pkg/cache"
	"talky/pkg/logger"
	"talky/pkg/model"

	"go.uber.org/zap"
)

// DefaultMaxUploadBytes bounds multipart bodies when Config leaves it unset.
const DefaultMaxUploadBytes = 20 << 20

type Scorer interface {
	Score(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *model.Attempt) error
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	UpdateAttempt(ctx context.Context, a *model.Attempt) error
}

type AudioStore interface {
	UploadAudio(ctx context.Context, key string, data []byte) error
	DeleteAudio(ctx context.Context, key string) error
}

// Practice generates lesson sentences and word banks.
type Practice interface {
	Sentences(ctx context.Context, words []string) ([]string, error)
	WordBank(ctx context.Context, category string) ([]feedback.WordCard, error)
}

type Publisher interface {
	PublishTask(ctx context.Context, task *queue.ScoreTask) error
}

// Config wires the server. Attempts, Audio and Queue enable the
// asynchronous attempt endpoints and Practice the lesson endpoints; Cache,
// Metrics and Health are optional.
type Config struct {
	Scorer         Scorer
	Progress       progress.Store
	Attempts       AttemptStore
	Audio          AudioStore
	Queue          Publisher
	Practice       Practice
	Cache          cache.Cache
	Thresholds     scoring.Thresholds
	MaxUploadBytes int64
	Metrics        *observe.Metrics
	Health         *observe.Health
	MetricsHandler http.Handler
}

type Server struct {
	scorer     Scorer
	progress   progress.Store
	attempts   AttemptStore
	audio      AudioStore
	queue      Publisher
	practice   Practice
	cache      cache.Cache
	thresholds scoring.Thresholds
	maxUpload  int64
	metrics    *observe.Metrics
	health     *observe.Health
	metricsH   http.Handler
	now        func() time.Time
}

func NewServer(c Config) *Server {
	maxUpload := c.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Server{
		scorer:     c.Scorer,
		progress:   c.Progress,
		attempts:   c.Attempts,
		audio:      c.Audio,
		queue:      c.Queue,
		practice:   c.Practice,
		cache:      c.Cache,
		thresholds: c.Thresholds,
		maxUpload:  maxUpload,
		metrics:    c.Metrics,
		health:     c.Health,
		metricsH:   c.MetricsHandler,
		now:        time.Now,
	}
}

// Handler returns the routed handler wrapped in the metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/score", s.handleScore)
	mux.HandleFunc("POST /api/attempts", s.handleCreateAttempt)
	mux.HandleFunc("GET /api/attempts/{id}", s.handleGetAttempt)
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/users/{id}/progress", s.handleGetProgress)
	mux.HandleFunc("GET /api/users/{id}/history", s.handleGetHistory)
	mux.HandleFunc("POST /api/progress", s.handleRecordProgress)
	mux.HandleFunc("GET /api/lessons", s.handleLessons)
	mux.HandleFunc("GET /api/wordbank", s.handleWordBank)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}

	metrics := s.metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return observe.Middleware(metrics)(mux)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		logger.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: apperr.Message(err)})
}

// classify maps domain sentinels onto transport kinds.
func classify(err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, progress.ErrUserNotFound):
		return apperr.NotFound("user not found", err)
	case errors.Is(err, progress.ErrMissingUser),
		errors.Is(err, progress.ErrMissingPhoneme),
		errors.Is(err, progress.ErrInvalidPosition),
		errors.Is(err, progress.ErrInvalidScore),
		errors.Is(err, progress.ErrInvalidSyllable):
		return apperr.Input(err.Error(), err)
	case errors.Is(err, scoring.ErrUnknownStrategy):
		return apperr.Input(err.Error(), err)
	}
	return err
}
