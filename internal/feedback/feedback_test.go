package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"talky/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompt(t *testing.T) {
	p := Prompt("the wabbit", "the rabbit")
	assert.Contains(t, p, "'the wabbit'")
	assert.Contains(t, p, "The expected sentence was: 'the rabbit'")
	assert.True(t, strings.HasSuffix(p, "ONLY the one sentence."))
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Try rounding your lips on the r sound. Also slow down.", "Try rounding your lips on the r sound."},
		{`  "Good effort!" `, "Good effort!"},
		{"no terminator", "no terminator"},
		{"Hold the s for 3.5 seconds, e.g. in sun. Then relax.", "Hold the s for 3.5 seconds, e.g. in sun."},
		{"Say it like Dr. Seuss would! Again.", "Say it like Dr. Seuss would!"},
		{"Ends at the end.", "Ends at the end."},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstSentence(tt.in))
		})
	}
}

func TestNewLLM_RequiresAPIKey(t *testing.T) {
	_, err := NewLLM("", "")
	assert.Error(t, err)
}

func completionServer(t *testing.T, status int, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body.Model)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)
		assert.Equal(t, Prompt("the wed", "the red"), body.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
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

func TestLLM_Generate(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, http.StatusOK, "Curl the tip of your tongue back for the r in red. Then repeat.", &calls)
	defer srv.Close()

	gen, err := NewLLM("test-key", "",
		WithBaseURL(srv.URL+"/v1/"),
		WithTimeout(5*time.Second),
		WithRateLimiter(resilience.NewRateLimiter(5, time.Second)))
	require.NoError(t, err)

	text, err := gen.Generate(context.Background(), "the wed", "the red")
	require.NoError(t, err)
	assert.Equal(t, "Curl the tip of your tongue back for the r in red.", text)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLLM_GenerateRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, http.StatusBadRequest, "", &calls)
	defer srv.Close()

	gen, err := NewLLM("test-key", "",
		WithBaseURL(srv.URL+"/v1/"),
		WithRetry(&resilience.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
		}))
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "the wed", "the red")
	assert.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
