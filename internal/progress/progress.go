// Package progress keeps per-user running averages of practice scores.
package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"talky/internal/gop"
	"talky/internal/phoneme"
	"talky/pkg/model"
)

var (
	ErrMissingUser     = errors.New("userId is required")
	ErrMissingPhoneme  = errors.New("phoneme is required")
	ErrInvalidPosition = errors.New("position must be initial, medial or final")
	ErrInvalidScore    = errors.New("score must be between 0 and 100")
	ErrInvalidSyllable = errors.New("syllables must be between 0 and 10")
	ErrUserNotFound    = errors.New("user not found")
)

// Positions of a phoneme within its word.
const (
	PositionInitial = "initial"
	PositionMedial  = "medial"
	PositionFinal   = "final"
)

// Event is one practice score to fold into a user's progress.
type Event struct {
	UserID    string  `json:"userId"`
	Word      string  `json:"word"`
	Phoneme   string  `json:"phoneme"`
	Position  string  `json:"position"`
	SoundType string  `json:"soundType"`
	Syllables int     `json:"syllables,omitempty"`
	Score     float64 `json:"score"`
}

// Validate checks an event before it reaches the store.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(e.Phoneme) == "" {
		return ErrMissingPhoneme
	}
	switch e.Position {
	case PositionInitial, PositionMedial, PositionFinal:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidPosition, e.Position)
	}
	if e.Score < 0 || e.Score > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidScore, e.Score)
	}
	if e.Syllables < 0 || e.Syllables > 10 {
		return fmt.Errorf("%w: got %d", ErrInvalidSyllable, e.Syllables)
	}
	return nil
}

// Key identifies one running average.
type Key struct {
	Kind model.ProgressKind
	Key  string
}

// Keys lists the averages an event contributes to. Syllable counts and sound
// types are only tracked when present.
func (e Event) Keys() []Key {
	keys := []Key{
		{Kind: model.ProgressPhoneme, Key: e.Phoneme},
		{Kind: model.ProgressPosition, Key: e.Position},
	}
	if e.Syllables > 0 {
		keys = append(keys, Key{Kind: model.ProgressSyllable, Key: strconv.Itoa(e.Syllables)})
	}
	if st := strings.TrimSpace(e.SoundType); st != "" {
		keys = append(keys, Key{Kind: model.ProgressSoundType, Key: st})
	}
	return keys
}

// History returns the history row recorded for the event.
func (e Event) History(at time.Time) model.HistoryEntry {
	return model.HistoryEntry{
		UserID:    e.UserID,
		Word:      e.Word,
		Phoneme:   e.Phoneme,
		Position:  e.Position,
		SoundType: e.SoundType,
		Syllables: e.Syllables,
		Score:     e.Score,
		CreatedAt: at,
	}
}

// Fold adds one score to a running average:
// avg' = (avg*attempts + score)/(attempts+1), attempts' = attempts+1.
func Fold(entry model.ProgressEntry, score float64) model.ProgressEntry {
	entry.Average = (entry.Average*float64(entry.Attempts) + score) / float64(entry.Attempts+1)
	entry.Attempts++
	return entry
}

// Store persists users and progress. Record must apply the history row and
// every fold of one event atomically.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) (created bool, err error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	Record(ctx context.Context, e Event, at time.Time) error
	Progress(ctx context.Context, userID string) (*model.Progress, error)
	History(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error)
}

// FromReport derives one event per scored phoneme of an attempt. Phoneme
// scores in [-1, 1] become percentages, with negative margins counting as 0.
// Phonemes that received no frames are skipped.
func FromReport(userID string, rep gop.Report) []Event {
	var events []Event
	for _, w := range rep.Words {
		syllables := Syllables(w.Phonemes)
		for i, ps := range w.Phonemes {
			if ps.Empty {
				continue
			}
			events = append(events, Event{
				UserID:    userID,
				Word:      w.Text,
				Phoneme:   string(ps.Symbol),
				Position:  PositionOf(i, len(w.Phonemes)),
				SoundType: SoundTypeOf(ps.Symbol).String(),
				Syllables: syllables,
				Score:     clampPercent(ps.Score * 100),
			})
		}
	}
	return events
}

// PositionOf names where the i-th of n phonemes sits in its word.
func PositionOf(i, n int) string {
	switch {
	case i == 0:
		return PositionInitial
	case i == n-1:
		return PositionFinal
	default:
		return PositionMedial
	}
}

// Syllables counts vowel nuclei among a word's phonemes.
func Syllables(ps []gop.PhonemeScore) int {
	n := 0
	for _, p := range ps {
		if SoundTypeOf(p.Symbol) == Vowel {
			n++
		}
	}
	return n
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// validSymbol reports whether a symbol looks like a phoneme label.
func validSymbol(s phoneme.Symbol) bool {
	return strings.TrimSpace(string(s)) != ""
}
