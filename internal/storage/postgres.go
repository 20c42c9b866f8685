package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"time"

	"talky/internal/progress"
	"talky/pkg/logger"
	"talky/pkg/model"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// PostgresStorage keeps users, progress, history and attempts
type PostgresStorage struct {
	pool *pgxpool.Pool
}

var _ progress.Store = (*PostgresStorage)(nil)

// NewPostgresStorage connects, pings and migrates the database
func NewPostgresStorage(ctx context.Context, databaseURL string, maxConns int32) (*PostgresStorage, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")

	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// migrationsURL resolves the migrations directory into a file:// URL
func migrationsURL() (string, error) {
	path, err := filepath.Abs("migrations")
	if err != nil {
		return "", fmt.Errorf("failed to get migrations path: %w", err)
	}
	if runtime.GOOS == "windows" {
		u := &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
		return u.String(), nil
	}
	return "file://" + path, nil
}

func newMigrate(databaseURL string) (*migrate.Migrate, func(), error) {
	source, err := migrationsURL()
	if err != nil {
		return nil, nil, err
	}

	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	db := stdlib.OpenDB(*connConfig)

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	logger.Info("Running migrations", zap.String("path", source))

	return m, func() {
		m.Close()
		db.Close()
	}, nil
}

func runMigrations(databaseURL string) error {
	m, closeFn, err := newMigrate(databaseURL)
	if err != nil {
		return err
	}
	defer closeFn()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No new migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Migrations applied successfully")
	return nil
}

// ResetMigrations drops all tables and re-runs migrations (for development)
func ResetMigrations(databaseURL string) error {
	logger.Warn("Resetting database - this will drop all data!")

	m, closeFn, err := newMigrate(databaseURL)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Drop(); err != nil {
		return fmt.Errorf("failed to drop database: %w", err)
	}

	logger.Info("Database dropped successfully")

	// Drop removes the schema_migrations table along with everything else,
	// so a fresh instance is needed to migrate up again.
	m2, closeFn2, err := newMigrate(databaseURL)
	if err != nil {
		return err
	}
	defer closeFn2()

	if err := m2.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations after reset: %w", err)
	}

	logger.Info("Database reset and migrations applied successfully")
	return nil
}

// Ping reports whether the pool can reach the database
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PostgresStorage) Close() {
	s.pool.Close()
}

// CreateUser inserts a user, reporting false when the id already exists
func (s *PostgresStorage) CreateUser(ctx context.Context, u *model.User) (bool, error) {
	query := `
		INSERT INTO users (id, name, age, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query, u.ID, u.Name, u.Age).Scan(&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	return true, nil
}

// GetUser retrieves a user by id
func (s *PostgresStorage) GetUser(ctx context.Context, id string) (*model.User, error) {
	query := `
		SELECT id, name, age, created_at, updated_at
		FROM users
		WHERE id = $1`

	var u model.User
	err := s.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.Age, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, progress.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Record appends the history row and folds the score into every running
// average of the event within one transaction.
func (s *PostgresStorage) Record(ctx context.Context, e progress.Event, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE users SET updated_at = $2 WHERE id = $1`, e.UserID, at)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progress.ErrUserNotFound
	}

	h := e.History(at)
	_, err = tx.Exec(ctx, `
		INSERT INTO score_history (user_id, word, phoneme, position, sound_type, syllables, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.UserID, h.Word, h.Phoneme, h.Position, h.SoundType, h.Syllables, h.Score, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	batch := &pgx.Batch{}
	for _, k := range e.Keys() {
		batch.Queue(`
			INSERT INTO progress (user_id, kind, key, average, attempts, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5)
			ON CONFLICT (user_id, kind, key) DO UPDATE
			SET average = (progress.average * progress.attempts + EXCLUDED.average) / (progress.attempts + 1),
			    attempts = progress.attempts + 1,
			    updated_at = EXCLUDED.updated_at`,
			e.UserID, k.Kind, k.Key, e.Score, at,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}
	return nil
}

// Progress returns every running average of a user grouped by kind
func (s *PostgresStorage) Progress(ctx context.Context, userID string) (*model.Progress, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, kind, key, average, attempts, updated_at
		FROM progress
		WHERE user_id = $1
		ORDER BY kind, key`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}

	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.ProgressEntry])
	if err != nil {
		return nil, fmt.Errorf("failed to scan progress: %w", err)
	}

	p := &model.Progress{UserID: userID}
	for _, e := range entries {
		p.Add(e)
	}
	return p, nil
}

// History returns the newest history rows of a user
func (s *PostgresStorage) History(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, word, phoneme, position, sound_type, syllables, score, created_at
		FROM score_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.HistoryEntry])
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	return entries, nil
}

const attemptColumns = `id, user_id, chat_id, reference, strategy, status, audio_key,
	transcription, score, passed, feedback, retries, error_text, details, created_at, updated_at`

// CreateAttempt inserts a new attempt into the database
func (s *PostgresStorage) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	query := `
		INSERT INTO attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.pool.Exec(ctx, query,
		a.ID,
		a.UserID,
		a.ChatID,
		a.Reference,
		a.Strategy,
		a.Status,
		a.AudioKey,
		a.Transcription,
		a.Score,
		a.Passed,
		a.Feedback,
		a.Retries,
		a.ErrorText,
		a.Details,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("failed to create attempt: %w", progress.ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by its id
func (s *PostgresStorage) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Attempt])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan attempt: %w", err)
	}
	return a, nil
}

// UpdateAttempt writes every mutable attempt column
func (s *PostgresStorage) UpdateAttempt(ctx context.Context, a *model.Attempt) error {
	query := `
		UPDATE attempts
		SET status = $2, transcription = $3, score = $4, passed = $5, feedback = $6,
		    retries = $7, error_text = $8, details = $9, updated_at = $10
		WHERE id = $1`

	result, err := s.pool.Exec(ctx, query,
		a.ID,
		a.Status,
		a.Transcription,
		a.Score,
		a.Passed,
		a.Feedback,
		a.Retries,
		a.ErrorText,
		a.Details,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("attempt %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// foreignKeyViolation is the SQLSTATE Postgres reports for a dangling reference.
const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
