// Package feedback produces a one-sentence pronunciation hint for failing
// attempts, and practice sentences and word banks from the same chat model.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"talky/pkg/resilience"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// Generator turns what was heard and what was expected into one sentence of
// advice. Implementations must not be relied on to succeed.
type Generator interface {
	Generate(ctx context.Context, decoded, expected string) (string, error)
}

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1/"
	DefaultModel   = "llama-3.1-8b-instant"
)

var ErrEmptyCompletion = errors.New("feedback model returned no text")

// Prompt is the fixed instruction sent for every failing attempt.
func Prompt(decoded, expected string) string {
	return fmt.Sprintf("This is the transcription of a spoken sentence that I spoke: '%s'. "+
		"The expected sentence was: '%s'. Based on common speech impediments "+
		"(r, w, l, th, f, s, v, b, ch, sh sounds), please deduce which sounds were mispronounced, "+
		"as well as the words that were mispronounced, and provide me constructive feedback on how "+
		"to improve the pronunciation. Output one sentence of feedback and ONLY the one sentence.",
		decoded, expected)
}

// LLM generates feedback through an OpenAI-compatible chat completion API.
type LLM struct {
	client  oai.Client
	model   string
	limiter *resilience.RateLimiter
	retry   *resilience.RetryConfig
}

type config struct {
	baseURL string
	timeout time.Duration
	limiter *resilience.RateLimiter
	retry   *resilience.RetryConfig
}

type Option func(*config)

func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithRateLimiter makes Generate wait for a token before each request.
func WithRateLimiter(rl *resilience.RateLimiter) Option {
	return func(c *config) {
		c.limiter = rl
	}
}

func WithRetry(rc *resilience.RetryConfig) Option {
	return func(c *config) {
		c.retry = rc
	}
}

func NewLLM(apiKey, model string, opts ...Option) (*LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("feedback: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{baseURL: DefaultBaseURL}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithMaxRetries(0),
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	retry := cfg.retry
	if retry == nil {
		retry = &resilience.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		}
	}

	return &LLM{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		limiter: cfg.limiter,
		retry:   retry,
	}, nil
}

// Generate implements Generator.
func (l *LLM) Generate(ctx context.Context, decoded, expected string) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("failed to wait for feedback rate limiter: %w", err)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(l.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(Prompt(decoded, expected)),
		},
		MaxCompletionTokens: param.NewOpt(int64(120)),
	}

	var text string
	err := resilience.RetryWithExponentialBackoff(ctx, l.retry, func() error {
		resp, err := l.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return resilience.Permanent(ErrEmptyCompletion)
		}
		text = FirstSentence(resp.Choices[0].Message.Content)
		if text == "" {
			return resilience.Permanent(ErrEmptyCompletion)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to request feedback: %w", err)
	}

	return text, nil
}

// abbreviations end in a period without ending the sentence.
var abbreviations = map[string]bool{
	"e.g.": true, "i.e.": true, "etc.": true, "vs.": true,
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true,
}

// FirstSentence trims surrounding quotes and whitespace and cuts text after
// its first sentence terminator. A terminator only counts when followed by
// whitespace or the end of the text, so decimals and abbreviations survive.
func FirstSentence(text string) string {
	text = strings.Trim(strings.TrimSpace(text), `"'`)
	for i := 0; i < len(text); i++ {
		if !strings.ContainsRune(".!?", rune(text[i])) {
			continue
		}
		end := i + 1
		if end < len(text) && !unicode.IsSpace(rune(text[end])) {
			continue
		}
		if text[i] == '.' && abbreviations[strings.ToLower(lastWord(text[:end]))] {
			continue
		}
		return strings.TrimSpace(text[:end])
	}
	return strings.TrimSpace(text)
}

func lastWord(s string) string {
	if i := strings.LastIndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[i+1:]
	}
	return s
}
