package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"talky/internal/apperr"
	"talky/internal/audio"
	"talky/internal/gop"
	"talky/internal/observe"
	"talky/internal/pipeline"
	"talky/internal/progress"
	"talky/internal/queue"
	"talky/internal/scoring"
	"talky/internal/storage"
	"talky/pkg/cache"
	"talky/pkg/logger"
	"talky/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitNop()
}

type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Score(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Outcome), args.Error(1)
}

type MockAttempts struct {
	mock.Mock
}

func (m *MockAttempts) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAttempts) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attempt), args.Error(1)
}

func (m *MockAttempts) UpdateAttempt(ctx context.Context, a *model.Attempt) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

type MockAudio struct {
	mock.Mock
}

func (m *MockAudio) UploadAudio(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *MockAudio) DeleteAudio(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) PublishTask(ctx context.Context, task *queue.ScoreTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

type testServer struct {
	scorer   *MockScorer
	attempts *MockAttempts
	audio    *MockAudio
	queue    *MockQueue
	store    *progress.MemoryStore
	cache    *cache.MemoryCache
	handler  http.Handler
}

func newTestServer(t *testing.T, async bool) *testServer {
	t.Helper()
	ts := &testServer{
		scorer:   new(MockScorer),
		attempts: new(MockAttempts),
		audio:    new(MockAudio),
		queue:    new(MockQueue),
		store:    progress.NewMemoryStore(),
		cache:    cache.NewMemoryCache(time.Hour),
	}
	cfg := Config{
		Scorer:   ts.scorer,
		Progress: ts.store,
		Cache:    ts.cache,
		Health:   observe.NewHealth(),
	}
	if async {
		cfg.Attempts = ts.attempts
		cfg.Audio = ts.audio
		cfg.Queue = ts.queue
	}
	ts.handler = NewServer(cfg).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func wavBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.WriteWAV(out, make([]float32, 800), 16000))
	require.NoError(t, out.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func multipartRequest(t *testing.T, url string, audioData []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if audioData != nil {
		fw, err := mw.CreateFormFile("audio", "clip.wav")
		require.NoError(t, err)
		_, err = fw.Write(audioData)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, url string, v any) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func catOutcome() *pipeline.Outcome {
	return &pipeline.Outcome{
		Result: scoring.Result{
			Transcription: "the cat",
			Reference:     "The cat",
			Score:         88,
			Passed:        true,
			Feedback:      scoring.DefaultPassedMessage,
			Strategy:      scoring.CoarseName,
			Direction:     scoring.HigherIsBetter,
		},
		Words: []gop.WordScore{
			{Text: "The", Score: 0.5, Phonemes: []gop.PhonemeScore{
				{Symbol: "ð", Score: 0.5},
				{Symbol: "ə", Score: 0.5},
			}},
			{Text: "cat", Score: 0.9, Phonemes: []gop.PhonemeScore{
				{Symbol: "k", Score: 0.9},
				{Symbol: "æ", Score: 0.9},
				{Symbol: "t", Empty: true},
			}},
		},
		Overall:     0.74,
		Similarity:  1,
		MissedWords: []string{},
	}
}

func TestScore_ReturnsOutcomeAndRecordsProgress(t *testing.T) {
	ts := newTestServer(t, false)
	_, err := ts.store.CreateUser(context.Background(), &model.User{ID: "u1"})
	require.NoError(t, err)

	ts.scorer.On("Score", mock.Anything, mock.MatchedBy(func(r pipeline.Request) bool {
		return r.Reference == "The cat" && r.Strategy.Name() == scoring.CoarseName &&
			r.SampleRate == 16000 && len(r.Samples) == 800
	})).Return(catOutcome(), nil)

	rec := ts.do(t, multipartRequest(t, "/api/score", wavBytes(t), map[string]string{
		"reference": " The cat ",
		"strategy":  "coarse",
		"userId":    "u1",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, 88.0, body["score"])
	assert.Equal(t, true, body["passed"])
	assert.Equal(t, "higher_is_better", body["direction"])
	assert.Equal(t, "Great job!", body["feedback"])
	assert.Len(t, body["words"], 2)
	assert.NotContains(t, body, "alignmentError")

	p, err := ts.store.Progress(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, p.Phonemes, 4)
	h, err := ts.store.History(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, h, 4)
	ts.scorer.AssertExpectations(t)
}

func TestScore_AlignmentFailureSkipsProgress(t *testing.T) {
	ts := newTestServer(t, false)
	_, err := ts.store.CreateUser(context.Background(), &model.User{ID: "u1"})
	require.NoError(t, err)

	out := catOutcome()
	out.AlignmentError = "alignment impossible"
	out.AlignErr = errors.New("alignment impossible")
	ts.scorer.On("Score", mock.Anything, mock.Anything).Return(out, nil)

	rec := ts.do(t, multipartRequest(t, "/api/score", wavBytes(t), map[string]string{
		"reference": "The cat", "strategy": "coarse", "userId": "u1",
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "alignment impossible", body["alignmentError"])

	h, err := ts.store.History(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestScore_InputErrors(t *testing.T) {
	tests := []struct {
		name    string
		audio   []byte
		fields  map[string]string
		message string
	}{
		{"missing audio", nil, map[string]string{"reference": "hi", "strategy": "coarse"}, "audio file is required"},
		{"not a wav", []byte("RIFFnope"), map[string]string{"reference": "hi", "strategy": "coarse"}, "audio must be a PCM WAV file"},
		{"missing reference", []byte{}, map[string]string{"strategy": "coarse"}, "reference text is required"},
		{"missing strategy", []byte{}, map[string]string{"reference": "hi"}, "unknown scoring strategy"},
		{"unknown strategy", []byte{}, map[string]string{"reference": "hi", "strategy": "vibes"}, "unknown scoring strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			data := tt.audio
			if data != nil && len(data) == 0 {
				data = wavBytes(t)
			}

			rec := ts.do(t, multipartRequest(t, "/api/score", data, tt.fields))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorResponse
			decode(t, rec, &body)
			assert.True(t, strings.HasPrefix(body.Error, tt.message), body.Error)
			ts.scorer.AssertNotCalled(t, "Score", mock.Anything, mock.Anything)
		})
	}
}

func TestScore_ModelUnavailable(t *testing.T) {
	ts := newTestServer(t, false)
	ts.scorer.On("Score", mock.Anything, mock.Anything).
		Return(nil, apperr.External("acoustic model unavailable", errors.New("dial tcp: refused")))

	rec := ts.do(t, multipartRequest(t, "/api/score", wavBytes(t), map[string]string{
		"reference": "hi", "strategy": "phoneme",
	}))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorResponse
	decode(t, rec, &body)
	assert.Equal(t, "acoustic model unavailable", body.Error)
}

func TestCreateAttempt_QueuesRecording(t *testing.T) {
	ts := newTestServer(t, true)
	wav := wavBytes(t)

	ts.audio.On("UploadAudio", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "audio/") && strings.HasSuffix(key, ".wav")
	}), wav).Return(nil)
	ts.attempts.On("CreateAttempt", mock.Anything, mock.MatchedBy(func(a *model.Attempt) bool {
		return a.Status == model.AttemptStatusQueued && a.Strategy == "phoneme" &&
			a.Reference == "the red rabbit" && a.UserID == nil
	})).Return(nil)
	ts.queue.On("PublishTask", mock.Anything, mock.MatchedBy(func(task *queue.ScoreTask) bool {
		return task.AudioKey != "" && !task.FromTelegram() && task.Strategy == "phoneme"
	})).Return(nil)

	rec := ts.do(t, multipartRequest(t, "/api/attempts", wav, map[string]string{
		"reference": "the red rabbit", "strategy": "phoneme-precision",
	}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body attemptCreated
	decode(t, rec, &body)
	assert.NotEmpty(t, body.AttemptID)
	assert.Equal(t, "queued", body.Status)

	ts.audio.AssertExpectations(t)
	ts.attempts.AssertExpectations(t)
	ts.queue.AssertExpectations(t)
}

func TestCreateAttempt_Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, false)
		rec := ts.do(t, multipartRequest(t, "/api/attempts", wavBytes(t), map[string]string{
			"reference": "hi", "strategy": "coarse",
		}))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("storage down", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.audio.On("UploadAudio", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("s3 down"))

		rec := ts.do(t, multipartRequest(t, "/api/attempts", wavBytes(t), map[string]string{
			"reference": "hi", "strategy": "coarse",
		}))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		ts.attempts.AssertNotCalled(t, "CreateAttempt", mock.Anything, mock.Anything)
	})

	t.Run("unknown user", func(t *testing.T) {
		ts := newTestServer(t, true)
		var key string
		ts.audio.On("UploadAudio", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { key = args.String(1) }).
			Return(nil)
		ts.attempts.On("CreateAttempt", mock.Anything, mock.Anything).
			Return(fmt.Errorf("failed to create attempt: %w", progress.ErrUserNotFound))
		ts.audio.On("DeleteAudio", mock.Anything, mock.Anything).Return(nil)

		rec := ts.do(t, multipartRequest(t, "/api/attempts", wavBytes(t), map[string]string{
			"reference": "hi", "strategy": "coarse", "userId": "ghost",
		}))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		ts.audio.AssertCalled(t, "DeleteAudio", mock.Anything, key)
		ts.queue.AssertNotCalled(t, "PublishTask", mock.Anything, mock.Anything)
	})

	t.Run("database down", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.audio.On("UploadAudio", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		ts.attempts.On("CreateAttempt", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
		ts.audio.On("DeleteAudio", mock.Anything, mock.Anything).Return(nil)

		rec := ts.do(t, multipartRequest(t, "/api/attempts", wavBytes(t), map[string]string{
			"reference": "hi", "strategy": "coarse",
		}))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		ts.audio.AssertNumberOfCalls(t, "DeleteAudio", 1)
	})

	t.Run("broker down", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.audio.On("UploadAudio", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		ts.attempts.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil)
		ts.queue.On("PublishTask", mock.Anything, mock.Anything).Return(errors.New("channel closed"))

		var updated *model.Attempt
		ts.attempts.On("UpdateAttempt", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { updated = args.Get(1).(*model.Attempt) }).
			Return(nil)

		rec := ts.do(t, multipartRequest(t, "/api/attempts", wavBytes(t), map[string]string{
			"reference": "hi", "strategy": "coarse",
		}))
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		require.NotNil(t, updated)
		assert.Equal(t, model.AttemptStatusFailed, updated.Status)
		require.NotNil(t, updated.ErrorText)
		assert.Contains(t, *updated.ErrorText, "channel closed")
		assert.NotEmpty(t, updated.AudioKey)
		ts.audio.AssertNotCalled(t, "DeleteAudio", mock.Anything, mock.Anything)
	})
}

func TestGetAttempt(t *testing.T) {
	t.Run("from cache", func(t *testing.T) {
		ts := newTestServer(t, true)
		score := 91.0
		require.NoError(t, ts.cache.Set(context.Background(), cache.AttemptCacheKey("a1"),
			&model.Attempt{ID: "a1", Status: model.AttemptStatusDone, Score: &score}))

		rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attempts/a1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var a model.Attempt
		decode(t, rec, &a)
		assert.Equal(t, model.AttemptStatusDone, a.Status)
		require.NotNil(t, a.Score)
		assert.Equal(t, 91.0, *a.Score)
		ts.attempts.AssertNotCalled(t, "GetAttempt", mock.Anything, mock.Anything)
	})

	t.Run("from store", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.attempts.On("GetAttempt", mock.Anything, "a2").
			Return(&model.Attempt{ID: "a2", Status: model.AttemptStatusQueued}, nil)

		rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attempts/a2", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var a model.Attempt
		decode(t, rec, &a)
		assert.Equal(t, "a2", a.ID)
	})

	t.Run("missing", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.attempts.On("GetAttempt", mock.Anything, "nope").Return(nil, storage.ErrNotFound)

		rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attempts/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestUsersAndProgress(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/users", map[string]any{"userId": "kid", "name": "Ada", "age": 8}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/users", map[string]any{"userId": "kid", "name": "Other"}))
	require.Equal(t, http.StatusOK, rec.Code)
	var u model.User
	decode(t, rec, &u)
	assert.Equal(t, "Ada", u.Name)

	for _, score := range []float64{40, 80, 90} {
		rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/progress", progress.Event{
			UserID: "kid", Word: "red", Phoneme: "ɹ", Position: "initial", SoundType: "liquid", Score: score,
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/users/kid/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var p model.Progress
	decode(t, rec, &p)
	require.Len(t, p.Phonemes, 1)
	assert.InDelta(t, 70, p.Phonemes[0].Average, 1e-9)
	assert.Equal(t, 3, p.Phonemes[0].Attempts)
	require.Len(t, p.SoundTypes, 1)
	assert.Equal(t, "liquid", p.SoundTypes[0].Key)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/users/kid/history?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var h struct {
		History []model.HistoryEntry `json:"history"`
	}
	decode(t, rec, &h)
	require.Len(t, h.History, 2)
	assert.Equal(t, 90.0, h.History[0].Score)
}

func TestUsersAndProgress_Errors(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{"user without id", func(t *testing.T) *http.Request {
			return jsonRequest(t, http.MethodPost, "/api/users", map[string]any{"name": "x"})
		}, http.StatusBadRequest},
		{"negative age", func(t *testing.T) *http.Request {
			return jsonRequest(t, http.MethodPost, "/api/users", map[string]any{"userId": "x", "age": -1})
		}, http.StatusBadRequest},
		{"malformed json", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("{"))
		}, http.StatusBadRequest},
		{"progress for unknown user", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/users/ghost/progress", nil)
		}, http.StatusNotFound},
		{"history bad limit", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/users/ghost/history?limit=zero", nil)
		}, http.StatusBadRequest},
		{"record bad position", func(t *testing.T) *http.Request {
			return jsonRequest(t, http.MethodPost, "/api/progress", progress.Event{UserID: "x", Phoneme: "ɹ", Position: "middle", Score: 50})
		}, http.StatusBadRequest},
		{"record for unknown user", func(t *testing.T) *http.Request {
			return jsonRequest(t, http.MethodPost, "/api/progress", progress.Event{UserID: "ghost", Phoneme: "ɹ", Position: "final", Score: 50})
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			rec := ts.do(t, tt.req(t))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHealthRoutes(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
