package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttemptStatus represents the processing state of a queued attempt
type AttemptStatus string

const (
	AttemptStatusQueued     AttemptStatus = "queued"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusDone       AttemptStatus = "done"
	AttemptStatusFailed     AttemptStatus = "failed"
)

// MaxAttemptRetries bounds how often a failed attempt is re-queued
const MaxAttemptRetries = 3

// JSONB represents a JSONB field for PostgreSQL
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// User is a learner whose progress is tracked
type User struct {
	ID        string    `json:"userId" db:"id"`
	Name      string    `json:"name" db:"name"`
	Age       int       `json:"age" db:"age"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ProgressKind is the category a running average is kept for
type ProgressKind string

const (
	ProgressPhoneme   ProgressKind = "phoneme"
	ProgressSyllable  ProgressKind = "syllable"
	ProgressPosition  ProgressKind = "position"
	ProgressSoundType ProgressKind = "sound_type"
)

// Valid reports whether k is a known category
func (k ProgressKind) Valid() bool {
	switch k {
	case ProgressPhoneme, ProgressSyllable, ProgressPosition, ProgressSoundType:
		return true
	}
	return false
}

// ProgressEntry is the running average of one key within a category
type ProgressEntry struct {
	UserID    string       `json:"-" db:"user_id"`
	Kind      ProgressKind `json:"kind" db:"kind"`
	Key       string       `json:"key" db:"key"`
	Average   float64      `json:"average" db:"average"`
	Attempts  int          `json:"attempts" db:"attempts"`
	UpdatedAt time.Time    `json:"updatedAt" db:"updated_at"`
}

// Progress groups a user's running averages by category
type Progress struct {
	UserID     string          `json:"userId"`
	Phonemes   []ProgressEntry `json:"phonemeScores"`
	Syllables  []ProgressEntry `json:"syllableScores"`
	Positions  []ProgressEntry `json:"positionScores"`
	SoundTypes []ProgressEntry `json:"soundTypeScores"`
}

// Add files an entry under its category
func (p *Progress) Add(e ProgressEntry) {
	switch e.Kind {
	case ProgressPhoneme:
		p.Phonemes = append(p.Phonemes, e)
	case ProgressSyllable:
		p.Syllables = append(p.Syllables, e)
	case ProgressPosition:
		p.Positions = append(p.Positions, e)
	case ProgressSoundType:
		p.SoundTypes = append(p.SoundTypes, e)
	}
}

// HistoryEntry is one recorded practice score
type HistoryEntry struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Word      string    `json:"word" db:"word"`
	Phoneme   string    `json:"phoneme" db:"phoneme"`
	Position  string    `json:"position" db:"position"`
	SoundType string    `json:"soundType" db:"sound_type"`
	Syllables int       `json:"syllables,omitempty" db:"syllables"`
	Score     float64   `json:"score" db:"score"`
	CreatedAt time.Time `json:"timestamp" db:"created_at"`
}

// Attempt represents one scoring request processed by the worker
type Attempt struct {
	ID            string        `json:"id" db:"id"`
	UserID        *string       `json:"userId,omitempty" db:"user_id"`
	ChatID        int64         `json:"chatId,omitempty" db:"chat_id"`
	Reference     string        `json:"reference" db:"reference"`
	Strategy      string        `json:"strategy" db:"strategy"`
	Status        AttemptStatus `json:"status" db:"status"`
	AudioKey      string        `json:"audioKey" db:"audio_key"`
	Transcription string        `json:"transcription" db:"transcription"`
	Score         *float64      `json:"score,omitempty" db:"score"`
	Passed        *bool         `json:"passed,omitempty" db:"passed"`
	Feedback      string        `json:"feedback,omitempty" db:"feedback"`
	Retries       int           `json:"retries" db:"retries"`
	ErrorText     *string       `json:"error,omitempty" db:"error_text"`
	Details       JSONB         `json:"details,omitempty" db:"details"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time     `json:"updatedAt" db:"updated_at"`
}

// IsCompleted returns true if the attempt is in a final state
func (a *Attempt) IsCompleted() bool {
	return a.Status == AttemptStatusDone || a.Status == AttemptStatusFailed
}

// CanRetry returns true if the attempt can be retried
func (a *Attempt) CanRetry() bool {
	return a.Status == AttemptStatusFailed && a.Retries < MaxAttemptRetries
}

// IncrementRetries increases the retry counter
func (a *Attempt) IncrementRetries() {
	a.Retries++
}

// SetError sets the attempt status to failed with error message
func (a *Attempt) SetError(errorText string) {
	a.Status = AttemptStatusFailed
	a.ErrorText = &errorText
	a.UpdatedAt = time.Now()
}

// SetInProgress marks the attempt as picked up by a worker
func (a *Attempt) SetInProgress() {
	a.Status = AttemptStatusInProgress
	a.UpdatedAt = time.Now()
}

// SetCompleted stores the scoring outcome and marks the attempt done
func (a *Attempt) SetCompleted(transcription string, score float64, passed bool, feedback string, details JSONB) {
	a.Status = AttemptStatusDone
	a.Transcription = transcription
	a.Score = &score
	a.Passed = &passed
	a.Feedback = feedback
	a.Details = details
	a.ErrorText = nil
	a.UpdatedAt = time.Now()
}
