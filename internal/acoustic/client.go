package acoustic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"talky/internal/align"
	"talky/internal/phoneme"
	"talky/pkg/logger"
	"talky/pkg/resilience"

	"go.uber.org/zap"
)

const (
	LabelsPath = "/v1/labels"
	DecodePath = "/v1/decode"

	// DefaultFrameSeconds matches wav2vec2-style encoders (320 samples at 16 kHz).
	DefaultFrameSeconds = 0.02
)

// Client is a Model served by an HTTP inference sidecar.
type Client struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	breaker      *resilience.CircuitBreaker
	vocab        *phoneme.Vocabulary
	frameSeconds float64
}

type ClientOption func(*Client)

func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithCircuitBreaker stops calling the sidecar after repeated failures.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ClientOption {
	return func(c *Client) {
		c.breaker = cb
	}
}

// Dial connects to the sidecar and fetches its label set. It is the loader
// normally handed to a Pool.
func Dial(ctx context.Context, baseURL string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}

	var labels LabelsResponse
	if err := c.do(ctx, http.MethodGet, LabelsPath, nil, &labels); err != nil {
		return nil, fmt.Errorf("failed to fetch model labels: %w", err)
	}

	vocab, err := phoneme.NewVocabulary(labels.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to build vocabulary: %w", err)
	}
	c.vocab = vocab
	c.frameSeconds = labels.FrameSeconds
	if c.frameSeconds <= 0 {
		c.frameSeconds = DefaultFrameSeconds
	}

	logger.Info("Acoustic model connected",
		zap.String("url", c.baseURL),
		zap.Int("labels", vocab.Len()),
		zap.Float64("frame_seconds", c.frameSeconds))

	return c, nil
}

func (c *Client) Vocabulary() *phoneme.Vocabulary {
	return c.vocab
}

func (c *Client) FrameSeconds() float64 {
	return c.frameSeconds
}

// Decode implements Model.
func (c *Client) Decode(ctx context.Context, samples []float32, sampleRate int) (*Decoding, error) {
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}
	if sampleRate != SampleRate {
		return nil, fmt.Errorf("%w: got %d Hz", ErrSampleRate, sampleRate)
	}

	var resp DecodeResponse
	call := func() error {
		return c.do(ctx, http.MethodPost, DecodePath, DecodeRequest{SampleRate: sampleRate, Samples: samples}, &resp)
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}

	m, err := align.NewMatrix(resp.LogProbs)
	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}
	if m.Vocab() != c.vocab.Len() {
		return nil, fmt.Errorf("model returned %d classes, vocabulary has %d", m.Vocab(), c.vocab.Len())
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		text = Transcript(GreedyDecode(m, c.vocab), c.vocab)
	}

	logger.Debug("Audio decoded",
		zap.Int("samples", len(samples)),
		zap.Int("frames", m.Frames()),
		zap.String("text", text))

	return &Decoding{Matrix: m, Text: text}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			return fmt.Errorf("request failed: status=%d, error=%s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("request failed: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
