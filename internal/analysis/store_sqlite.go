package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/report"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var _ RunStore = (*SQLiteRunStore)(nil)

// runSchemaVersion is the schema version the store migrates to.
const runSchemaVersion = 1

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type runMigration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var runMigrations = []runMigration{
	{
		Version:     1,
		Description: "Create runs table",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					status TEXT NOT NULL,
					progress_percent INTEGER NOT NULL DEFAULT 0,
					progress_label TEXT NOT NULL DEFAULT '',
					error TEXT,
					report TEXT,
					created_at TEXT NOT NULL,
					finished_at TEXT,
					generated_at TEXT
				)`,
				`CREATE INDEX idx_runs_status_generated ON runs(status, generated_at)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// SQLiteRunStore implements RunStore on an in-memory SQLite database. The
// single connection serializes every read and write.
type SQLiteRunStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRunStore opens a private in-memory database and migrates it.
func NewSQLiteRunStore(ctx context.Context) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The database lives only as long as its one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteRunStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection, discarding all runs.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteRunStore) migrate(ctx context.Context) error {
	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range runMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		slog.Debug("Applied run store migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion); err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != runSchemaVersion {
		return fmt.Errorf("run store schema version mismatch: expected %d, got %d", runSchemaVersion, finalVersion)
	}
	return nil
}

// Create records a new run.
func (s *SQLiteRunStore) Create(ctx context.Context, run *Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if run.RunID == "" {
		return fmt.Errorf("run ID is required")
	}

	query := `
		INSERT INTO runs (id, status, progress_percent, progress_label, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var errorStr sql.NullString
	if run.Error != "" {
		errorStr = sql.NullString{String: run.Error, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query,
		run.RunID,
		string(run.Status),
		run.Progress.Percent,
		run.Progress.Label,
		errorStr,
		run.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	slog.Debug("Created run in database", "run_id", run.RunID, "status", run.Status)
	return nil
}

// Get returns a snapshot of a run.
func (s *SQLiteRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT status, progress_percent, progress_label, error, report, created_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{RunID: runID}
	var (
		status, createdAt    string
		errorStr, reportJSON sql.NullString
		finishedAt           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&status,
		&run.Progress.Percent,
		&run.Progress.Label,
		&errorStr,
		&reportJSON,
		&createdAt,
		&finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = Status(status)
	run.Error = errorStr.String
	if run.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if finishedAt.Valid {
		t, parseErr := time.Parse(timeLayout, finishedAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", parseErr)
		}
		run.FinishedAt = &t
	}
	if reportJSON.Valid {
		var rep report.Report
		if err := json.Unmarshal([]byte(reportJSON.String), &rep); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		run.Report = &rep
	}
	return run, nil
}

// UpdateProgress advances a processing run's progress.
func (s *SQLiteRunStore) UpdateProgress(ctx context.Context, runID string, progress Progress) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET progress_percent = ?, progress_label = ?
		WHERE id = ? AND status = ? AND progress_percent <= ?
	`, progress.Percent, progress.Label, runID, string(StatusProcessing), progress.Percent)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return nil
	}

	// Stale or terminal updates are ignored; only unknown ids are errors.
	_, err = s.status(ctx, runID)
	return err
}

// Complete moves a run to StatusDone with its report.
func (s *SQLiteRunStore) Complete(ctx context.Context, runID string, rep *report.Report) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rep == nil {
		return fmt.Errorf("report cannot be nil")
	}

	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, progress_percent = 100, progress_label = ?, report = ?, finished_at = ?, generated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(StatusDone),
		LabelComplete,
		string(data),
		s.now().Format(timeLayout),
		rep.GeneratedAt.UTC().Format(timeLayout),
		runID,
		string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return s.checkTransition(ctx, runID, result)
}

// Fail moves a run to StatusError.
func (s *SQLiteRunStore) Fail(ctx context.Context, runID string, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	message = common.Truncate(message, MaxErrorLength)
	progress := failureProgress(message)

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?, progress_percent = ?, progress_label = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`,
		string(StatusError),
		message,
		progress.Percent,
		progress.Label,
		s.now().Format(timeLayout),
		runID,
		string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	return s.checkTransition(ctx, runID, result)
}

// ListCompleted returns summaries of done runs, newest first.
func (s *SQLiteRunStore) ListCompleted(ctx context.Context) ([]RunSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report FROM runs
		WHERE status = ?
		ORDER BY generated_at DESC, id ASC
	`, string(StatusDone))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	summaries := []RunSummary{}
	for rows.Next() {
		var (
			id         string
			reportJSON sql.NullString
		)
		if err := rows.Scan(&id, &reportJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run := &Run{RunID: id}
		if reportJSON.Valid {
			var rep report.Report
			if err := json.Unmarshal([]byte(reportJSON.String), &rep); err != nil {
				return nil, fmt.Errorf("failed to unmarshal report for run %s: %w", id, err)
			}
			run.Report = &rep
		}
		summaries = append(summaries, run.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return summaries, nil
}

func (s *SQLiteRunStore) status(ctx context.Context, runID string) (Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read run status: %w", err)
	}
	return Status(status), nil
}

// checkTransition explains why a guarded status update touched no rows.
func (s *SQLiteRunStore) checkTransition(ctx context.Context, runID string, result sql.Result) error {
	if affected, _ := result.RowsAffected(); affected > 0 {
		return nil
	}
	status, err := s.status(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s is %s: %w", runID, status, common.ErrTerminalState)
}
