package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talky/internal/config"
	"talky/internal/queue"
	"talky/pkg/cache"
	"talky/pkg/logger"
	"talky/pkg/model"

	tele "gopkg.in/telebot.v4"

	"go.uber.org/zap"
)

const (
	activeTTL   = 30 * 24 * time.Hour
	sentenceTTL = 7 * 24 * time.Hour
)

type QueuePublisher interface {
	PublishTask(ctx context.Context, task *queue.ScoreTask) error
}

type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *model.Attempt) error
	UpdateAttempt(ctx context.Context, a *model.Attempt) error
}

// LessonSource generates practice sentences for /lesson.
type LessonSource interface {
	Sentences(ctx context.Context, words []string) ([]string, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) (bool, error)
	Progress(ctx context.Context, userID string) (*model.Progress, error)
}

type Bot struct {
	tb       *tele.Bot
	q        QueuePublisher
	attempts AttemptStore
	users    UserStore
	cache    cache.Cache
	lessons  LessonSource
	strategy string
}

func NewBot(cfg *config.Config, attempts AttemptStore, users UserStore, q QueuePublisher, redisCache cache.Cache) (*Bot, error) {
	logger.Info("Starting bot initialization")

	if cfg.Telegram.Token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN environment variable is required")
	}

	pref := tele.Settings{
		Token: cfg.Telegram.Token,
		Poller: &tele.LongPoller{
			Timeout: 10 * time.Second,
		},
	}

	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created successfully")

	bot := &Bot{
		tb:       tb,
		q:        q,
		attempts: attempts,
		users:    users,
		cache:    redisCache,
		strategy: cfg.Telegram.Strategy,
	}

	bot.registerHandlers()
	return bot, nil
}

func (b *Bot) registerHandlers() {
	b.tb.Handle("/start", b.handleStart)
	b.tb.Handle("/stop", b.handleStop)
	b.tb.Handle("/practice", b.handlePractice)
	b.tb.Handle("/progress", b.handleProgress)
	b.tb.Handle("/lesson", b.handleLesson)
	b.tb.Handle(tele.OnDocument, b.handleDocument)
	b.tb.Handle(tele.OnAudio, b.handleAudio)
}

// EnableLessons turns on /lesson.
func (b *Bot) EnableLessons(l LessonSource) {
	b.lessons = l
}

// userID is the progress-store id of a Telegram account
func userID(u *tele.User) string {
	return fmt.Sprintf("tg-%d", u.ID)
}

// handleStart registers the learner and enables practice in this chat
func (b *Bot) handleStart(c tele.Context) error {
	chatID := c.Chat().ID
	ctx := context.Background()

	if sender := c.Sender(); sender != nil {
		if err := b.register(ctx, sender); err != nil {
			logger.Error("Failed to register user", zap.Error(err))
		}
	}

	b.activate(ctx, chatID)

	logger.Info("Bot activated for chat", zap.Int64("chat_id", chatID))

	return c.Send("Hi! Send /practice <sentence>, then a WAV recording of yourself reading it.")
}

// handleStop disables practice in this chat
func (b *Bot) handleStop(c tele.Context) error {
	chatID := c.Chat().ID

	key := cache.ChatActiveCacheKey(chatID)
	if err := b.cache.Delete(context.Background(), key); err != nil {
		logger.Error("Failed to delete chat active state from cache", zap.Error(err))
	}

	logger.Info("Bot deactivated for chat", zap.Int64("chat_id", chatID))

	return c.Send("Practice stopped. Send /start to resume.")
}

func (b *Bot) register(ctx context.Context, sender *tele.User) error {
	name := sender.FirstName
	if name == "" {
		name = sender.Username
	}
	_, err := b.users.CreateUser(ctx, &model.User{ID: userID(sender), Name: name})
	return err
}

func (b *Bot) activate(ctx context.Context, chatID int64) {
	key := cache.ChatActiveCacheKey(chatID)
	if err := b.cache.SetWithTTL(ctx, key, "true", activeTTL); err != nil {
		logger.Error("Failed to save chat active state to cache", zap.Error(err))
	}
}

// isActive checks whether practice is enabled for the chat
func (b *Bot) isActive(chatID int64) bool {
	var value string
	if err := b.cache.Get(context.Background(), cache.ChatActiveCacheKey(chatID), &value); err != nil {
		return false
	}
	return value == "true"
}

func (b *Bot) Start() {
	logger.Info("Bot started")
	b.tb.Start()
}

func (b *Bot) Stop() {
	b.tb.Stop()
	logger.Info("Bot stopped")
}
