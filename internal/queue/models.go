package queue

import "time"

// ScoreTask asks a worker to score one stored attempt. The recording is read
// from AudioKey when set, otherwise fetched from Telegram by FileID.
type ScoreTask struct {
	AttemptID string    `json:"attempt_id"`
	UserID    string    `json:"user_id,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
	MessageID int64     `json:"message_id,omitempty"`
	FileID    string    `json:"file_id,omitempty"`
	AudioKey  string    `json:"audio_key,omitempty"`
	Reference string    `json:"reference"`
	Strategy  string    `json:"strategy"`
	CreatedAt time.Time `json:"created_at"`
}

// FromTelegram reports whether the recording still lives on Telegram.
func (t *ScoreTask) FromTelegram() bool {
	return t.AudioKey == "" && t.FileID != ""
}
