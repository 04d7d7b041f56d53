// Package history records finished runs in a sqlite database so they can be
// listed after the workspace and its artifacts are gone.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/engine"
	"github.com/Iron-Ham/autobuild/internal/errors"
)

// Timestamps are stored as text so that ordering by column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Turn is the stored form of one turn.
type Turn struct {
	Number      int       `json:"number"`
	Status      string    `json:"status"`
	Verdict     string    `json:"verdict,omitempty"`
	CriteriaMet int       `json:"criteria_met"`
	Synthetic   bool      `json:"synthetic,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its parent directory
// when missing. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.NewEnvironmentError("history", err).WithPath(path)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewEnvironmentError("history", err).WithPath(path)
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "running migrations")
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordResult stores an engine result and its turns.
func (s *Store) RecordResult(ctx context.Context, r *engine.Result) error {
	turns := make([]Turn, 0, len(r.TurnHistory))
	for _, t := range r.TurnHistory {
		rec := Turn{
			Number:    t.Number,
			Status:    string(t.Status),
			Verdict:   t.Verdict(),
			Synthetic: t.Synthetic(),
			Error:     t.Error,
			StartedAt: t.StartedAt,
			EndedAt:   t.EndedAt,
		}
		if t.Decision != nil {
			rec.CriteriaMet = t.Decision.CriteriaMet()
		}
		turns = append(turns, rec)
	}
	return s.Record(ctx, r.RunSummary(), turns)
}

// Record inserts or replaces a run and its turns in one transaction.
func (s *Store) Record(ctx context.Context, run artifact.RunSummary, turns []Turn) error {
	if run.RunID == "" {
		return errors.NewValidationError("run id cannot be empty").WithField("run_id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin history transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, success, final_decision, total_turns, max_turns, rollback_count, conditional, workspace, branch, error, summary, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			success = excluded.success,
			final_decision = excluded.final_decision,
			total_turns = excluded.total_turns,
			max_turns = excluded.max_turns,
			rollback_count = excluded.rollback_count,
			conditional = excluded.conditional,
			workspace = excluded.workspace,
			branch = excluded.branch,
			error = excluded.error,
			summary = excluded.summary,
			finished_at = excluded.finished_at
	`,
		run.RunID,
		run.TaskID,
		run.Success,
		run.FinalDecision,
		run.TotalTurns,
		run.MaxTurns,
		run.RollbackCount,
		run.Conditional,
		run.Workspace,
		run.Branch,
		run.Error,
		run.Summary,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "record run %s", run.RunID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE run_id = ?`, run.RunID); err != nil {
		return errors.Wrapf(err, "clear turns of run %s", run.RunID)
	}
	for _, t := range turns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO turns (run_id, number, status, verdict, criteria_met, synthetic, error, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.RunID, t.Number, t.Status, t.Verdict, t.CriteriaMet, t.Synthetic, t.Error,
			formatTime(t.StartedAt), formatTime(t.EndedAt),
		)
		if err != nil {
			return errors.Wrapf(err, "record turn %d of run %s", t.Number, run.RunID)
		}
	}
	return tx.Commit()
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	TaskID        string
	FinalDecision string
	// Limit caps the number of runs returned, 0 means no limit.
	Limit int
}

const runColumns = `id, task_id, success, final_decision, total_turns, max_turns, rollback_count, conditional, workspace, branch, error, summary, started_at, finished_at`

// List returns runs matching opts, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]artifact.RunSummary, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if opts.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, opts.TaskID)
	}
	if opts.FinalDecision != "" {
		query += " AND final_decision = ?"
		args = append(args, opts.FinalDecision)
	}
	query += " ORDER BY started_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []artifact.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run and its turns, oldest turn first.
func (s *Store) Get(ctx context.Context, runID string) (artifact.RunSummary, []Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return artifact.RunSummary{}, nil, errors.NewNotFoundError("run", runID)
	}
	if err != nil {
		return artifact.RunSummary{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT number, status, verdict, criteria_met, synthetic, error, started_at, ended_at
		FROM turns WHERE run_id = ? ORDER BY number
	`, runID)
	if err != nil {
		return artifact.RunSummary{}, nil, errors.Wrapf(err, "list turns of run %s", runID)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var verdict, errText sql.NullString
		var started, ended string
		if err := rows.Scan(&t.Number, &t.Status, &verdict, &t.CriteriaMet, &t.Synthetic, &errText, &started, &ended); err != nil {
			return artifact.RunSummary{}, nil, err
		}
		t.Verdict, t.Error = verdict.String, errText.String
		t.StartedAt, t.EndedAt = parseTime(started), parseTime(ended)
		turns = append(turns, t)
	}
	return run, turns, rows.Err()
}

// CountByDecision returns how many runs ended with each final decision.
func (s *Store) CountByDecision(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT final_decision, COUNT(*) FROM runs GROUP BY final_decision`)
	if err != nil {
		return nil, errors.Wrap(err, "count runs")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var decision string
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, err
		}
		counts[decision] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (artifact.RunSummary, error) {
	var run artifact.RunSummary
	var workspace, branch, errText, summary sql.NullString
	var started, finished string

	err := row.Scan(&run.RunID, &run.TaskID, &run.Success, &run.FinalDecision, &run.TotalTurns, &run.MaxTurns,
		&run.RollbackCount, &run.Conditional, &workspace, &branch, &errText, &summary, &started, &finished)
	if err != nil {
		return artifact.RunSummary{}, err
	}
	run.Workspace = workspace.String
	run.Branch = branch.String
	run.Error = errText.String
	run.Summary = summary.String
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
