package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

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

	"go.uber.org/zap"
)

// AttemptCacheTTL is how long finished attempts stay in the cache
const AttemptCacheTTL = 24 * time.Hour

type AttemptStore interface {
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	UpdateAttempt(ctx context.Context, a *model.Attempt) error
}

type AudioStore interface {
	UploadAudio(ctx context.Context, key string, data []byte) error
	DownloadAudio(ctx context.Context, key string) ([]byte, error)
}

type Scorer interface {
	Score(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

type ProgressRecorder interface {
	Record(ctx context.Context, e progress.Event, at time.Time) error
}

// Messenger fetches recordings from and replies to the chat an attempt came
// from.
type Messenger interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
	Reply(ctx context.Context, chatID, messageID int64, text string) error
}

type Processor struct {
	db         AttemptStore
	s3         AudioStore
	scorer     Scorer
	progress   ProgressRecorder
	messenger  Messenger
	cache      cache.Cache
	thresholds scoring.Thresholds
	timeout    time.Duration
}

// Config carries the processor collaborators. Progress, Messenger and Cache
// are optional.
type Config struct {
	DB         AttemptStore
	S3         AudioStore
	Scorer     Scorer
	Progress   ProgressRecorder
	Messenger  Messenger
	Cache      cache.Cache
	Thresholds scoring.Thresholds
	Timeout    time.Duration
}

// NewProcessor creates a new worker processor
func NewProcessor(c Config) *Processor {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Processor{
		db:         c.DB,
		s3:         c.S3,
		scorer:     c.Scorer,
		progress:   c.Progress,
		messenger:  c.Messenger,
		cache:      c.Cache,
		thresholds: c.Thresholds,
		timeout:    timeout,
	}
}

// ProcessTask scores one queued attempt. A returned error wrapping
// queue.ErrReject means the task must not be redelivered.
func (p *Processor) ProcessTask(ctx context.Context, body []byte) error {
	task, err := queue.DecodeTask(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	logger.Info("Processing score task",
		zap.String("attempt_id", task.AttemptID),
		zap.Int64("chat_id", task.ChatID))

	attempt, err := p.db.GetAttempt(ctx, task.AttemptID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %v", queue.ErrReject, err)
		}
		return fmt.Errorf("failed to get attempt from db: %w", err)
	}
	if attempt.Status == model.AttemptStatusDone {
		logger.Info("Attempt already scored, skipping", zap.String("attempt_id", attempt.ID))
		return nil
	}

	attempt.SetInProgress()
	if err := p.db.UpdateAttempt(ctx, attempt); err != nil {
		logger.Error("Failed to update attempt status", zap.Error(err))
	}

	data, err := p.loadAudio(ctx, task, attempt)
	if err != nil {
		return p.fail(ctx, task, attempt, err)
	}

	clip, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return p.fail(ctx, task, attempt, apperr.Input("recording is not a readable WAV file", err))
	}

	strategy, err := scoring.ParseStrategy(task.Strategy, p.thresholds)
	if err != nil {
		return p.fail(ctx, task, attempt, apperr.Input("unknown scoring strategy", err))
	}

	outcome, err := p.scorer.Score(ctx, pipeline.Request{
		Samples:    clip.Samples,
		SampleRate: clip.SampleRate,
		Reference:  attempt.Reference,
		Strategy:   strategy,
	})
	if err != nil {
		return p.fail(ctx, task, attempt, err)
	}

	logger.Info("Attempt scored",
		zap.String("attempt_id", attempt.ID),
		zap.Float64("score", outcome.Score),
		zap.Bool("passed", outcome.Passed))

	attempt.SetCompleted(outcome.Transcription, outcome.Score, outcome.Passed, outcome.Feedback, Details(outcome))
	if err := p.db.UpdateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to store attempt result: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.SetWithTTL(ctx, cache.AttemptCacheKey(attempt.ID), attempt, AttemptCacheTTL); err != nil {
			logger.Warn("Failed to cache attempt", zap.String("attempt_id", attempt.ID), zap.Error(err))
		}
	}

	if attempt.UserID != nil && outcome.AlignErr == nil {
		p.recordProgress(ctx, *attempt.UserID, outcome)
	}

	if p.messenger != nil && task.ChatID != 0 {
		if err := p.messenger.Reply(ctx, task.ChatID, task.MessageID, FormatOutcome(outcome)); err != nil {
			// the attempt is stored either way
			logger.Error("Failed to send result to user", zap.Error(err))
		}
	}

	logger.Info("Attempt completed successfully", zap.String("attempt_id", attempt.ID))
	return nil
}

func (p *Processor) loadAudio(ctx context.Context, task *queue.ScoreTask, attempt *model.Attempt) ([]byte, error) {
	if !task.FromTelegram() {
		key := task.AudioKey
		if key == "" {
			key = attempt.AudioKey
		}
		if key == "" {
			return nil, apperr.Input("attempt has no recording", nil)
		}
		data, err := p.s3.DownloadAudio(ctx, key)
		if err != nil {
			return nil, apperr.External("failed to download recording", err)
		}
		return data, nil
	}

	if p.messenger == nil {
		return nil, apperr.Input("telegram recording without a messenger", nil)
	}
	data, err := p.messenger.Fetch(ctx, task.FileID)
	if err != nil {
		return nil, apperr.External("failed to download recording from telegram", err)
	}

	key := storage.AudioKey(attempt.ID, attempt.CreatedAt)
	if err := p.s3.UploadAudio(ctx, key, data); err != nil {
		// scoring does not need the archive copy
		logger.Warn("Failed to archive recording", zap.String("attempt_id", attempt.ID), zap.Error(err))
	} else {
		attempt.AudioKey = key
	}
	return data, nil
}

func (p *Processor) recordProgress(ctx context.Context, userID string, outcome *pipeline.Outcome) {
	if p.progress == nil {
		return
	}
	now := time.Now()
	for _, e := range progress.FromReport(userID, gop.Report{Words: outcome.Words, Overall: outcome.Overall}) {
		if err := p.progress.Record(ctx, e, now); err != nil {
			logger.Warn("Failed to record progress",
				zap.String("user_id", userID),
				zap.String("phoneme", e.Phoneme),
				zap.Error(err))
			if errors.Is(err, progress.ErrUserNotFound) {
				return
			}
		}
	}
}

// fail stores the error on the attempt. Input errors and attempts out of
// retries are rejected; anything else is requeued.
func (p *Processor) fail(ctx context.Context, task *queue.ScoreTask, attempt *model.Attempt, cause error) error {
	logger.Error("Attempt processing error",
		zap.String("attempt_id", attempt.ID),
		zap.Error(cause))

	attempt.SetError(cause.Error())
	attempt.IncrementRetries()

	if err := p.db.UpdateAttempt(ctx, attempt); err != nil {
		logger.Error("Failed to update attempt error", zap.Error(err))
	}

	final := apperr.KindOf(cause) == apperr.KindInput || !attempt.CanRetry()
	if !final {
		return fmt.Errorf("failed to score attempt %s: %w", attempt.ID, cause)
	}

	if p.messenger != nil && task.ChatID != 0 {
		msg := "Sorry, I could not score that recording: " + apperr.Message(cause)
		if err := p.messenger.Reply(ctx, task.ChatID, task.MessageID, msg); err != nil {
			logger.Error("Failed to notify user about error", zap.Error(err))
		}
	}
	return fmt.Errorf("%w: attempt %s: %w", queue.ErrReject, attempt.ID, cause)
}

// Details flattens the evidence of an outcome into the attempt's JSON column.
func Details(o *pipeline.Outcome) model.JSONB {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil
	}
	var d model.JSONB
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil
	}
	return d
}

// FormatOutcome renders a scored attempt as a chat reply.
func FormatOutcome(o *pipeline.Outcome) string {
	var b strings.Builder

	verdict := "Not quite"
	if o.Passed {
		verdict = "Passed"
	}
	fmt.Fprintf(&b, "%s: %.1f (%s, %s)\n", verdict, o.Score, o.Strategy, o.Direction)
	fmt.Fprintf(&b, "Heard: %q\n", o.Transcription)

	if len(o.MissedWords) > 0 {
		fmt.Fprintf(&b, "Check these words: %s\n", strings.Join(o.MissedWords, ", "))
	}

	var weak []string
	for _, w := range o.Words {
		if !w.Empty && w.Score < 0 {
			weak = append(weak, w.Text)
		}
	}
	if len(weak) > 0 {
		fmt.Fprintf(&b, "Weak sounds in: %s\n", strings.Join(weak, ", "))
	}

	if o.Feedback != "" {
		b.WriteString(o.Feedback)
	}
	return strings.TrimRight(b.String(), "\n")
}
