package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"talky/internal/progress"
	"talky/pkg/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioKey(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("UTC+3", 3*3600))

	assert.Equal(t, "audio/2026/03/07/attempt-1.wav", AudioKey("attempt-1", at))
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{Endpoint: "http://localhost:9000"})
	assert.Error(t, err)
}

func TestMigrationsURL(t *testing.T) {
	u, err := migrationsURL()
	require.NoError(t, err)
	assert.Contains(t, u, "file://")
	assert.Contains(t, u, "migrations")
}

func TestIsForeignKeyViolation(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "attempts_user_id_fkey"}

	assert.True(t, isForeignKeyViolation(fk))
	assert.True(t, isForeignKeyViolation(fmt.Errorf("insert: %w", fk)))
	assert.False(t, isForeignKeyViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isForeignKeyViolation(errors.New("connection reset")))
	assert.False(t, isForeignKeyViolation(nil))
}

// Runs against a real database when TEST_DATABASE_URL is set. The migrations
// directory is resolved relative to the working directory, so the test
// changes into the module root first.
func TestPostgresStorage_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	t.Chdir("../..")

	ctx := context.Background()
	db, err := NewPostgresStorage(ctx, dsn, 2)
	require.NoError(t, err)
	defer db.Close()

	userID := "it-" + time.Now().Format("150405.000000000")
	created, err := db.CreateUser(ctx, &model.User{ID: userID, Name: "Ada", Age: 9})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.CreateUser(ctx, &model.User{ID: userID})
	require.NoError(t, err)
	assert.False(t, created)

	for _, score := range []float64{40, 80} {
		err := db.Record(ctx, progress.Event{
			UserID: userID, Word: "red", Phoneme: "ɹ", Position: progress.PositionInitial, Score: score,
		}, time.Now())
		require.NoError(t, err)
	}

	p, err := db.Progress(ctx, userID)
	require.NoError(t, err)
	require.Len(t, p.Phonemes, 1)
	assert.InDelta(t, 60, p.Phonemes[0].Average, 1e-9)
	assert.Equal(t, 2, p.Phonemes[0].Attempts)

	h, err := db.History(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, h, 2)

	_, err = db.GetAttempt(ctx, "missing-"+userID)
	assert.ErrorIs(t, err, ErrNotFound)

	stranger := "nobody-" + userID
	err = db.CreateAttempt(ctx, &model.Attempt{
		ID:        "attempt-" + userID,
		UserID:    &stranger,
		Reference: "red",
		Strategy:  "coarse",
		Status:    model.AttemptStatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, progress.ErrUserNotFound)

	err = db.Record(ctx, progress.Event{UserID: "nobody-" + userID, Phoneme: "ɹ", Position: "final"}, time.Now())
	assert.ErrorIs(t, err, progress.ErrUserNotFound)
}
