// Package store persists onboarding progress and the site-wide lease.
// The PostgreSQL store keys progress per (location, step) and applies
// mutations inside a row-locked transaction; the memory store backs mock
// mode and tests.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"payments-onboarding/internal/onboarding"
)

// DefaultLeaseTTL is how long an onboarding lease lives before it is
// treated as abandoned. Longer than the remote client's request timeout so
// a healthy in-flight call never loses its lease.
const DefaultLeaseTTL = 90 * time.Second

const testModeOption = "test_mode_enabled"

// Store is the PostgreSQL-backed ProgressStore and LockManager.
type Store struct {
	db       *sqlx.DB
	leaseTTL time.Duration
}

// Open connects to PostgreSQL and pings it.
func Open(connectionString string) (*Store, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{db: db, leaseTTL: DefaultLeaseTTL}, nil
}

// NewStore wraps an existing connection. Used by tests with sqlmock.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, leaseTTL: DefaultLeaseTTL}
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitDB creates the onboarding schema if it does not exist.
func (s *Store) InitDB(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS onboarding_steps (
			location   text NOT NULL,
			step_id    text NOT NULL,
			statuses   jsonb NOT NULL DEFAULT '{}'::jsonb,
			data       jsonb NOT NULL DEFAULT '{}'::jsonb,
			last_error jsonb,
			updated_at timestamptz NOT NULL DEFAULT (now() at time zone 'utc'),
			PRIMARY KEY (location, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS onboarding_options (
			name       text PRIMARY KEY,
			value      jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT (now() at time zone 'utc')
		)`,
		`CREATE TABLE IF NOT EXISTS onboarding_lease (
			id         int PRIMARY KEY CHECK (id = 1),
			token      text NOT NULL,
			expires_at timestamptz NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create onboarding schema: %w", err)
		}
	}
	return nil
}

type stepRow struct {
	Location string           `db:"location"`
	StepID   string           `db:"step_id"`
	Statuses JSONBStatuses    `db:"statuses"`
	Data     JSONBGeneric     `db:"data"`
	Error    JSONBErrorDetail `db:"last_error"`
}

func (r stepRow) progress() onboarding.StepProgress {
	return onboarding.StepProgress{
		Statuses: map[onboarding.Status]int64(r.Statuses),
		Data:     map[string]any(r.Data),
		Error:    r.Error.Detail,
	}
}

// GetStep returns the stored progress for (location, step), or a zero
// StepProgress when nothing was recorded.
func (s *Store) GetStep(ctx context.Context, location string, step onboarding.StepID) (onboarding.StepProgress, error) {
	var row stepRow
	err := s.db.GetContext(ctx, &row, `
		SELECT location, step_id, statuses, data, last_error
		FROM onboarding_steps
		WHERE location = $1 AND step_id = $2`,
		location, string(step))
	if errors.Is(err, sql.ErrNoRows) {
		return onboarding.StepProgress{}, nil
	}
	if err != nil {
		return onboarding.StepProgress{}, fmt.Errorf("failed to get step progress: %w", err)
	}
	return row.progress(), nil
}

// UpdateStep applies mutate to the stored progress under a row-locked
// transaction, inserting the row when absent.
func (s *Store) UpdateStep(ctx context.Context, location string, step onboarding.StepID, mutate func(*onboarding.StepProgress) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row stepRow
	err = tx.GetContext(ctx, &row, `
		SELECT location, step_id, statuses, data, last_error
		FROM onboarding_steps
		WHERE location = $1 AND step_id = $2
		FOR UPDATE`,
		location, string(step))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to lock step progress: %w", err)
	}

	progress := row.progress()
	if err := mutate(&progress); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO onboarding_steps (location, step_id, statuses, data, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, (now() at time zone 'utc'))
		ON CONFLICT (location, step_id) DO UPDATE
		SET statuses = EXCLUDED.statuses,
		    data = EXCLUDED.data,
		    last_error = EXCLUDED.last_error,
		    updated_at = EXCLUDED.updated_at`,
		location, string(step),
		JSONBStatuses(progress.Statuses),
		JSONBGeneric(progress.Data),
		JSONBErrorDetail{Detail: progress.Error})
	if err != nil {
		return fmt.Errorf("failed to write step progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step progress: %w", err)
	}
	return nil
}

// DeleteStep removes the progress row for (location, step).
func (s *Store) DeleteStep(ctx context.Context, location string, step onboarding.StepID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM onboarding_steps
		WHERE location = $1 AND step_id = $2`,
		location, string(step))
	if err != nil {
		return fmt.Errorf("failed to delete step progress: %w", err)
	}
	return nil
}

// Locations lists every location with recorded progress.
func (s *Store) Locations(ctx context.Context) ([]string, error) {
	var locations []string
	err := s.db.SelectContext(ctx, &locations, `
		SELECT DISTINCT location FROM onboarding_steps ORDER BY location`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}

// Reset deletes every step row across all locations.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM onboarding_steps`); err != nil {
		return fmt.Errorf("failed to reset onboarding progress: %w", err)
	}
	return nil
}

// SetTestMode persists the cached test-mode flag.
func (s *Store) SetTestMode(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO onboarding_options (name, value, updated_at)
		VALUES ($1, to_jsonb($2::boolean), (now() at time zone 'utc'))
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		testModeOption, enabled)
	if err != nil {
		return fmt.Errorf("failed to set test mode: %w", err)
	}
	return nil
}

// TestMode reads the cached test-mode flag; false when never set.
func (s *Store) TestMode(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.db.GetContext(ctx, &enabled, `
		SELECT (value)::boolean FROM onboarding_options WHERE name = $1`,
		testModeOption)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read test mode: %w", err)
	}
	return enabled, nil
}

// ClearTestMode removes the cached test-mode flag.
func (s *Store) ClearTestMode(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM onboarding_options WHERE name = $1`, testModeOption); err != nil {
		return fmt.Errorf("failed to clear test mode: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// LockManager (lease)
// ---------------------------------------------------------------------------

// IsLocked reports whether a live lease exists. Expired leases count as
// unlocked.
func (s *Store) IsLocked(ctx context.Context) (bool, error) {
	var locked bool
	err := s.db.GetContext(ctx, &locked, `
		SELECT expires_at > (now() at time zone 'utc')
		FROM onboarding_lease WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lease: %w", err)
	}
	return locked, nil
}

// Acquire takes the lease, replacing an expired one, and returns its
// token. Returns onboarding.ErrLeaseHeld when a live lease exists.
func (s *Store) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	var got string
	err := s.db.GetContext(ctx, &got, `
		INSERT INTO onboarding_lease (id, token, expires_at)
		VALUES (1, $1, (now() at time zone 'utc') + $2 * interval '1 second')
		ON CONFLICT (id) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE onboarding_lease.expires_at <= (now() at time zone 'utc')
		RETURNING token`,
		token, int64(s.leaseTTL/time.Second))
	if errors.Is(err, sql.ErrNoRows) {
		return "", onboarding.ErrLeaseHeld
	}
	if err != nil {
		return "", fmt.Errorf("failed to acquire lease: %w", err)
	}
	return got, nil
}

// Release frees the lease identified by token. Releasing a replaced or
// already-released lease is a no-op.
func (s *Store) Release(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM onboarding_lease WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
