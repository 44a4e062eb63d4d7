package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/openfroyo/safeguards/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore records safeguards runs in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun stores a finished run and its per-policy results in one transaction.
// A record without an ID is assigned a new UUID.
func (s *SQLiteStore) SaveRun(ctx context.Context, record *engine.RunRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sum := record.Summary
	_, err = tx.ExecContext(ctx, `
		INSERT INTO safeguard_runs (id, service, stage, region, framework_version, outcome,
			passed, warned, failed, inconclusive, blocked, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.Service,
		record.Stage,
		record.Region,
		record.FrameworkVersion,
		string(sum.Outcome()),
		sum.Passed,
		sum.Warned,
		sum.Failed,
		sum.Inconclusive,
		sum.Blocked,
		record.StartedAt.UnixMilli(),
		record.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for i, res := range sum.Results {
		messages, err := json.Marshal(nonNil(res.Messages))
		if err != nil {
			return fmt.Errorf("failed to encode messages: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO policy_results (run_id, position, policy, title, source, enforcement_level,
				outcome, messages, docs_url, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			record.ID,
			i,
			res.Config.Name,
			res.Config.Title,
			string(res.Config.Source),
			string(res.Config.EnforcementLevel),
			string(res.Outcome()),
			string(messages),
			res.Config.DocsURL,
			res.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to save result of %s: %w", res.Config.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, service, stage, region, framework_version, passed, warned, failed,
	inconclusive, blocked, started_at, duration_ms`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*engine.RunRecord, error) {
	var (
		record              engine.RunRecord
		startedAt, duration int64
	)
	err := row.Scan(
		&record.ID,
		&record.Service,
		&record.Stage,
		&record.Region,
		&record.FrameworkVersion,
		&record.Summary.Passed,
		&record.Summary.Warned,
		&record.Summary.Failed,
		&record.Summary.Inconclusive,
		&record.Summary.Blocked,
		&startedAt,
		&duration,
	)
	if err != nil {
		return nil, err
	}
	record.StartedAt = time.UnixMilli(startedAt)
	record.Duration = time.Duration(duration) * time.Millisecond
	return &record, nil
}

// GetRun retrieves a run with its per-policy results in their original order.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.RunRecord, error) {
	record, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM safeguard_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT policy, title, source, enforcement_level, outcome, messages, docs_url, duration_ms
		FROM policy_results
		WHERE run_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get policy results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			res                    engine.Result
			source, level, outcome string
			messages               string
			duration               int64
		)
		if err := rows.Scan(&res.Config.Name, &res.Config.Title, &source, &level, &outcome, &messages, &res.Config.DocsURL, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan policy result: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &res.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages: %w", err)
		}
		res.Config.Source = engine.Source(source)
		res.Config.EnforcementLevel = engine.EnforcementLevel(level)
		res.Duration = time.Duration(duration) * time.Millisecond

		switch engine.Outcome(outcome) {
		case engine.OutcomePassed:
			res.Approved = true
		case engine.OutcomeWarned, engine.OutcomeFailed:
			res.Failed = true
		}
		if len(res.Messages) == 0 {
			res.Messages = nil
		}
		record.Summary.Results = append(record.Summary.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate policy results: %w", err)
	}

	return record, nil
}

// ListRuns returns runs newest first, without per-policy results.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.RunRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	var where []string
	var args []interface{}
	if filter.Service != "" {
		where = append(where, "service = ?")
		args = append(args, filter.Service)
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT ` + runColumns + ` FROM safeguard_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*engine.RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, record)
	}

	return runs, rows.Err()
}

// PolicyStats aggregates stored outcomes per policy, ordered by policy name.
func (s *SQLiteStore) PolicyStats(ctx context.Context, service string) ([]PolicyStat, error) {
	query := `
		SELECT pr.policy,
			SUM(CASE WHEN pr.outcome = 'passed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN pr.outcome = 'warned' THEN 1 ELSE 0 END),
			SUM(CASE WHEN pr.outcome = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN pr.outcome = 'inconclusive' THEN 1 ELSE 0 END)
		FROM policy_results pr
		JOIN safeguard_runs r ON r.id = pr.run_id
	`
	var args []interface{}
	if service != "" {
		query += " WHERE r.service = ?"
		args = append(args, service)
	}
	query += " GROUP BY pr.policy ORDER BY pr.policy"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate policy results: %w", err)
	}
	defer rows.Close()

	var stats []PolicyStat
	for rows.Next() {
		var st PolicyStat
		if err := rows.Scan(&st.Policy, &st.Passed, &st.Warned, &st.Failed, &st.Inconclusive); err != nil {
			return nil, fmt.Errorf("failed to scan policy stat: %w", err)
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

// DeleteRunsBefore removes runs started before cutoff and returns how many were deleted.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM safeguard_runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func nonNil(messages []string) []string {
	if messages == nil {
		return []string{}
	}
	return messages
}

var _ engine.RunRecorder = (*SQLiteStore)(nil)
