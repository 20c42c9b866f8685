package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"talky/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonRequest struct {
	Prompt string
	Format string
}

// jsonModeServer answers every chat completion with content and records what
// was asked.
func jsonModeServer(t *testing.T, content string, got *jsonRequest, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 1)
		got.Prompt = body.Messages[0].Content
		got.Format = body.ResponseFormat.Type

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-2",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   DefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func newTestLLM(t *testing.T, url string) *LLM {
	t.Helper()
	l, err := NewLLM("test-key", "",
		WithBaseURL(url+"/v1/"),
		WithTimeout(5*time.Second),
		WithRetry(&resilience.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
		}))
	require.NoError(t, err)
	return l
}

func TestLLM_Sentences(t *testing.T) {
	var got jsonRequest
	var calls atomic.Int32
	srv := jsonModeServer(t, `{"2": "The red rocket roared away.", "1": "A rabbit ran down the road.", "10": " ", "note": "x"}`, &got, &calls)
	defer srv.Close()

	sentences, err := newTestLLM(t, srv.URL).Sentences(context.Background(), []string{"rocket", "rabbit"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A rabbit ran down the road.", "The red rocket roared away."}, sentences)
	assert.Equal(t, "json_object", got.Format)
	assert.Contains(t, got.Prompt, "rocket, rabbit")
	assert.Contains(t, got.Prompt, "7 sentences")
}

func TestLLM_SentencesDefaultWords(t *testing.T) {
	var got jsonRequest
	var calls atomic.Int32
	srv := jsonModeServer(t, `{"1": "Look at the rainbow."}`, &got, &calls)
	defer srv.Close()

	_, err := newTestLLM(t, srv.URL).Sentences(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, got.Prompt, "rainbow, racecar, rocket")
}

func TestLLM_WordBank(t *testing.T) {
	var got jsonRequest
	var calls atomic.Int32
	srv := jsonModeServer(t, `{"1": {"word": "lion", "emoji": "🦁"}, "2": {"word": "balloon", "emoji": "🎈"}}`, &got, &calls)
	defer srv.Close()

	cards, err := newTestLLM(t, srv.URL).WordBank(context.Background(), "L-sounds")
	require.NoError(t, err)

	assert.Equal(t, []WordCard{{Word: "lion", Emoji: "🦁"}, {Word: "balloon", Emoji: "🎈"}}, cards)
	assert.Equal(t, "json_object", got.Format)
	assert.Contains(t, got.Prompt, "The words must fit the category: L-sounds.")
	assert.Contains(t, got.Prompt, "phoneme position (initial, medial, final)")
}

func TestLLM_WordBankDefaultCategory(t *testing.T) {
	var got jsonRequest
	var calls atomic.Int32
	srv := jsonModeServer(t, `{"1": {"word": "cat", "emoji": "🐱"}}`, &got, &calls)
	defer srv.Close()

	_, err := newTestLLM(t, srv.URL).WordBank(context.Background(), "  ")
	require.NoError(t, err)
	assert.Contains(t, got.Prompt, "category: general.")
}

func TestLLM_MalformedCompletionIsNotRetried(t *testing.T) {
	var got jsonRequest
	var calls atomic.Int32
	srv := jsonModeServer(t, `{"1": {"word": 3}}`, &got, &calls)
	defer srv.Close()

	_, err := newTestLLM(t, srv.URL).WordBank(context.Background(), "animals")
	assert.ErrorIs(t, err, ErrMalformedCompletion)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNumbered(t *testing.T) {
	t.Run("orders by number", func(t *testing.T) {
		got, err := numbered[string](`{"3": "c", "1": "a", "2": "b"}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, got)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := numbered[string](`1. a sentence`)
		assert.ErrorIs(t, err, ErrMalformedCompletion)
	})

	t.Run("no numbered keys", func(t *testing.T) {
		_, err := numbered[string](`{"sentences": "a"}`)
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})
}
