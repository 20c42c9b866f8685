package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"talky/pkg/resilience"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

const (
	LessonSentences = 7
	WordBankSize    = 16
	DefaultCategory = "general"
)

// DefaultLessonWords seeds a lesson when the caller names no words.
var DefaultLessonWords = []string{"rainbow", "racecar", "rocket", "rabbit", "ring", "road", "rose"}

var ErrMalformedCompletion = errors.New("practice model returned malformed JSON")

// WordCard is one word-bank entry.
type WordCard struct {
	Word  string `json:"word"`
	Emoji string `json:"emoji"`
}

// LessonPrompt asks for numbered practice sentences built on words.
func LessonPrompt(words []string) string {
	return fmt.Sprintf("Your task is to generate a list of %d sentences for speech therapy practice. "+
		"Please generate the sentences based on these words: %s. "+
		"Each sentence should be between 5-10 words long. "+
		`Return the sentences as a JSON object keyed by number: {"1": "first sentence", "2": "second sentence", ...}.`,
		LessonSentences, strings.Join(words, ", "))
}

// WordBankPrompt asks for numbered word cards that fit category. Phoneme
// categories vary syllable count and phoneme position.
func WordBankPrompt(category string) string {
	return fmt.Sprintf("Your task is to generate %d words for speech therapy practice. "+
		`Return your output only as a JSON object keyed by number: {"1": {"word": "first word", "emoji": "🍎"}, ...}. `+
		"Follow these strict rules: "+
		"The words must fit the category: %s. "+
		`For phoneme-specific categories (e.g. "L-sounds"), vary the number of syllables (1-3) `+
		"and the phoneme position (initial, medial, final). "+
		"Each emoji must directly represent the word. Do not use abstract words. "+
		"Output must be valid JSON, with no text outside the JSON.",
		WordBankSize, category)
}

// Sentences generates practice sentences around words.
func (l *LLM) Sentences(ctx context.Context, words []string) ([]string, error) {
	if len(words) == 0 {
		words = DefaultLessonWords
	}

	var sentences []string
	err := l.completeJSON(ctx, LessonPrompt(words), func(content string) error {
		items, err := numbered[string](content)
		if err != nil {
			return err
		}
		sentences = sentences[:0]
		for _, s := range items {
			if s = strings.TrimSpace(s); s != "" {
				sentences = append(sentences, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate lesson: %w", err)
	}
	return sentences, nil
}

// WordBank generates word cards for category.
func (l *LLM) WordBank(ctx context.Context, category string) ([]WordCard, error) {
	if category = strings.TrimSpace(category); category == "" {
		category = DefaultCategory
	}

	var cards []WordCard
	err := l.completeJSON(ctx, WordBankPrompt(category), func(content string) error {
		items, err := numbered[WordCard](content)
		if err != nil {
			return err
		}
		cards = cards[:0]
		for _, c := range items {
			c.Word = strings.TrimSpace(c.Word)
			if c.Word != "" {
				cards = append(cards, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate word bank: %w", err)
	}
	return cards, nil
}

// completeJSON runs a JSON-mode completion and hands the content to parse.
// Parse errors are not retried.
func (l *LLM) completeJSON(ctx context.Context, prompt string, parse func(string) error) error {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(l.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(prompt),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	return resilience.RetryWithExponentialBackoff(ctx, l.retry, func() error {
		resp, err := l.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return resilience.Permanent(ErrEmptyCompletion)
		}
		if err := parse(resp.Choices[0].Message.Content); err != nil {
			return resilience.Permanent(err)
		}
		return nil
	})
}

// numbered decodes {"1": v1, "2": v2, ...} into values ordered by key.
// Non-numeric keys are ignored.
func numbered[T any](content string) ([]T, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCompletion, err)
	}

	type entry struct {
		n int
		v T
	}
	entries := make([]entry, 0, len(raw))
	for k, msg := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(msg, &v); err != nil {
			return nil, fmt.Errorf("%w: item %s: %w", ErrMalformedCompletion, k, err)
		}
		entries = append(entries, entry{n: n, v: v})
	}
	if len(entries) == 0 {
		return nil, ErrEmptyCompletion
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].n < entries[j].n })
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.v
	}
	return out, nil
}
