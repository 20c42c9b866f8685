package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram implements Messenger on top of a bot API client.
type Telegram struct {
	bot        *tele.Bot
	httpClient *http.Client
}

func NewTelegram(bot *tele.Bot) *Telegram {
	return &Telegram{
		bot: bot,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Fetch downloads a file sent to the bot
func (t *Telegram) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	file, err := t.bot.FileByID(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	fileURL := t.bot.URL + "/file/bot" + t.bot.Token + "/" + file.FilePath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}

	return data, nil
}

// Reply answers the message an attempt was submitted with
func (t *Telegram) Reply(_ context.Context, chatID, messageID int64, text string) error {
	opts := &tele.SendOptions{}
	if messageID != 0 {
		opts.ReplyTo = &tele.Message{ID: int(messageID)}
	}
	_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, opts)
	return err
}
