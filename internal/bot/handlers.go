package bot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"talky/internal/progress"
	"talky/internal/queue"
	"talky/internal/sequence"
	"talky/pkg/cache"
	"talky/pkg/logger"
	"talky/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
)

var (
	errNoSentence = errors.New("no practice sentence")
	errNotWAV     = errors.New("recording is not a WAV file")
)

// submission is a recording received in a chat.
type submission struct {
	ChatID    int64
	MessageID int64
	Sender    *tele.User
	FileID    string
	FileName  string
	MIME      string
	Caption   string
}

func (b *Bot) handlePractice(c tele.Context) error {
	sentence := strings.TrimSpace(c.Message().Payload)
	reply, err := b.practice(context.Background(), c.Chat().ID, sentence)
	if err != nil {
		logger.Error("Failed to store practice sentence", zap.Error(err))
	}
	return c.Send(reply)
}

// practice remembers the sentence the chat reads next
func (b *Bot) practice(ctx context.Context, chatID int64, sentence string) (string, error) {
	if len(sequence.Words(sentence)) == 0 {
		return "Usage: /practice <sentence to read>", nil
	}

	b.activate(ctx, chatID)
	if err := b.cache.SetWithTTL(ctx, cache.ChatSentenceCacheKey(chatID), sentence, sentenceTTL); err != nil {
		return "Could not save the sentence, please try again.", err
	}
	return fmt.Sprintf("Now send a WAV recording of: %q", sentence), nil
}

func (b *Bot) handleLesson(c tele.Context) error {
	reply, err := b.lesson(context.Background(), c.Chat().ID, c.Message().Payload)
	if err != nil {
		logger.Error("Failed to generate lesson", zap.Error(err))
	}
	return c.Send(reply)
}

// lesson generates practice sentences from the payload words and makes the
// first one the chat's practice sentence.
func (b *Bot) lesson(ctx context.Context, chatID int64, payload string) (string, error) {
	if b.lessons == nil {
		return "Lessons are not available right now.", nil
	}

	sentences, err := b.lessons.Sentences(ctx, strings.Fields(strings.ReplaceAll(payload, ",", " ")))
	if err != nil {
		return "Could not prepare a lesson, please try again.", err
	}
	if len(sentences) == 0 {
		return "Could not prepare a lesson, please try again.", errNoSentence
	}

	reply, err := b.practice(ctx, chatID, sentences[0])
	if err != nil {
		return reply, err
	}

	var sb strings.Builder
	sb.WriteString("Today's lesson:\n")
	for i, s := range sentences {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	sb.WriteString(reply)
	return sb.String(), nil
}

func (b *Bot) handleDocument(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Document == nil {
		return nil
	}
	return b.handleRecording(c, submission{
		ChatID:    msg.Chat.ID,
		MessageID: int64(msg.ID),
		Sender:    msg.Sender,
		FileID:    msg.Document.FileID,
		FileName:  msg.Document.FileName,
		MIME:      msg.Document.MIME,
		Caption:   msg.Caption,
	})
}

func (b *Bot) handleAudio(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Audio == nil {
		return nil
	}
	return b.handleRecording(c, submission{
		ChatID:    msg.Chat.ID,
		MessageID: int64(msg.ID),
		Sender:    msg.Sender,
		FileID:    msg.Audio.FileID,
		FileName:  msg.Audio.FileName,
		MIME:      msg.Audio.MIME,
		Caption:   msg.Caption,
	})
}

func (b *Bot) handleRecording(c tele.Context, s submission) error {
	if !b.isActive(s.ChatID) {
		logger.Info("Ignoring recording from inactive chat",
			zap.Int64("chat_id", s.ChatID),
			zap.Int64("message_id", s.MessageID))
		return nil
	}

	_, err := b.submit(context.Background(), s)
	switch {
	case errors.Is(err, errNoSentence):
		return c.Reply("Which sentence is this? Send /practice <sentence> or add it as a caption.")
	case errors.Is(err, errNotWAV):
		return c.Reply("Please send the recording as a .wav file.")
	case err != nil:
		return c.Reply("Could not queue your recording, please try again.")
	}
	return c.Reply("Scoring...")
}

// submit stores an attempt for the recording and queues it for scoring
func (b *Bot) submit(ctx context.Context, s submission) (*model.Attempt, error) {
	if !isWAV(s.FileName, s.MIME) {
		return nil, errNotWAV
	}

	reference := strings.TrimSpace(s.Caption)
	if reference == "" {
		if err := b.cache.Get(ctx, cache.ChatSentenceCacheKey(s.ChatID), &reference); err != nil {
			return nil, errNoSentence
		}
	}
	if len(sequence.Words(reference)) == 0 {
		return nil, errNoSentence
	}

	now := time.Now()
	attempt := &model.Attempt{
		ID:        uuid.New().String(),
		ChatID:    s.ChatID,
		Reference: reference,
		Strategy:  b.strategy,
		Status:    model.AttemptStatusQueued,
		Details: model.JSONB{
			"telegram_message_id": s.MessageID,
			"file_name":           s.FileName,
			"mime_type":           s.MIME,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.Sender != nil {
		id := userID(s.Sender)
		attempt.UserID = &id
	}

	if err := b.attempts.CreateAttempt(ctx, attempt); err != nil {
		logger.Error("Failed to create attempt in database",
			zap.Error(err),
			zap.String("attempt_id", attempt.ID))
		return nil, err
	}

	logger.Info("Attempt created in database",
		zap.String("attempt_id", attempt.ID),
		zap.Int64("chat_id", attempt.ChatID))

	task := &queue.ScoreTask{
		AttemptID: attempt.ID,
		ChatID:    s.ChatID,
		MessageID: s.MessageID,
		FileID:    s.FileID,
		Reference: reference,
		Strategy:  attempt.Strategy,
		CreatedAt: now,
	}
	if attempt.UserID != nil {
		task.UserID = *attempt.UserID
	}

	if err := b.q.PublishTask(ctx, task); err != nil {
		logger.Error("Failed to publish task to queue",
			zap.Error(err),
			zap.String("attempt_id", attempt.ID))
		attempt.SetError("failed to queue attempt: " + err.Error())
		if uerr := b.attempts.UpdateAttempt(ctx, attempt); uerr != nil {
			logger.Error("Failed to mark attempt as failed",
				zap.Error(uerr),
				zap.String("attempt_id", attempt.ID))
		}
		return nil, err
	}

	logger.Info("Task published to queue", zap.String("attempt_id", attempt.ID))
	return attempt, nil
}

func isWAV(fileName, mime string) bool {
	switch strings.ToLower(mime) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return true
	}
	return strings.EqualFold(path.Ext(fileName), ".wav")
}

func (b *Bot) handleProgress(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	p, err := b.users.Progress(context.Background(), userID(sender))
	if errors.Is(err, progress.ErrUserNotFound) {
		return c.Send("Send /start first.")
	}
	if err != nil {
		logger.Error("Failed to load progress", zap.Error(err))
		return c.Send("Could not load your progress, please try again.")
	}
	return c.Send(FormatProgress(p, 5))
}

// FormatProgress lists the weakest phonemes and the per-position averages.
func FormatProgress(p *model.Progress, limit int) string {
	if len(p.Phonemes) == 0 {
		return "No scores yet. Practice a sentence first!"
	}

	phonemes := append([]model.ProgressEntry(nil), p.Phonemes...)
	sort.SliceStable(phonemes, func(i, j int) bool {
		return phonemes[i].Average < phonemes[j].Average
	})
	if limit > 0 && len(phonemes) > limit {
		phonemes = phonemes[:limit]
	}

	var b strings.Builder
	b.WriteString("Sounds to work on:\n")
	for _, e := range phonemes {
		fmt.Fprintf(&b, "/%s/ %.0f (%d tries)\n", e.Key, e.Average, e.Attempts)
	}
	if len(p.Positions) > 0 {
		b.WriteString("By position:\n")
		for _, e := range p.Positions {
			fmt.Fprintf(&b, "%s %.0f\n", e.Key, e.Average)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
