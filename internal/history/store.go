package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gantryci/gantry/internal/pipeline"
)

// Run is one recorded pipeline run.
type Run struct {
	RunID    string
	Job      string
	Number   int
	Outcome  pipeline.Outcome
	Started  time.Time
	Finished time.Time
	Duration time.Duration
	ChangeID string
	Stages   []StageRecord
	Log      string
}

// StageRecord is the per-stage outcome kept with a run.
type StageRecord struct {
	Name     string           `json:"name"`
	Kind     string           `json:"kind"`
	Outcome  pipeline.Outcome `json:"outcome"`
	Duration time.Duration    `json:"duration"`
	Skipped  bool             `json:"skipped,omitempty"`
}

// Store persists run records in a local SQLite database, pruning each
// job's history down to a retention limit on every write.
type Store struct {
	db   *sql.DB
	keep int
}

// Open opens the run store under dir, creating it if needed. keep bounds
// how many runs are retained per job; zero or negative means 10.
func Open(dir string, keep int) (*Store, error) {
	if keep <= 0 {
		keep = 10
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "gantry.db"))
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			job         TEXT NOT NULL,
			number      INTEGER NOT NULL,
			outcome     TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			change_id   TEXT,
			stages_json TEXT,
			log         TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_job_started ON runs(job, started_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing run store: %w", err)
	}

	return &Store{db: db, keep: keep}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists a finished run and prunes the job's history. A missing
// RunID is filled with a fresh UUID.
func (s *Store) Record(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}

	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("encoding stages: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, job, number, outcome, started_at, finished_at, duration_ms, change_id, stages_json, log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Job, run.Number, string(run.Outcome),
		run.Started.UnixNano(), run.Finished.UnixNano(), run.Duration.Milliseconds(),
		run.ChangeID, string(stagesJSON), run.Log,
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	return s.prune(run.Job)
}

func (s *Store) prune(job string) error {
	_, err := s.db.Exec(`
		DELETE FROM runs
		WHERE job = ? AND run_id NOT IN (
			SELECT run_id FROM runs WHERE job = ? ORDER BY started_at DESC LIMIT ?
		)`, job, job, s.keep)
	if err != nil {
		return fmt.Errorf("pruning runs: %w", err)
	}
	return nil
}

// List returns a job's most recent runs, newest first. limit <= 0 means
// the retention limit.
func (s *Store) List(job string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = s.keep
	}

	rows, err := s.db.Query(`
		SELECT run_id, job, number, outcome, started_at, finished_at, duration_ms, change_id, stages_json, log
		FROM runs
		WHERE job = ?
		ORDER BY started_at DESC
		LIMIT ?`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// NextNumber returns the next build number for a job, starting at 1.
func (s *Store) NextNumber(job string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(number) FROM runs WHERE job = ?`, job).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next build number: %w", err)
	}
	return int(max.Int64) + 1, nil
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var r Run
	var outcome, stagesJSON string
	var startedNS, finishedNS, durationMS int64

	err := rows.Scan(&r.RunID, &r.Job, &r.Number, &outcome,
		&startedNS, &finishedNS, &durationMS, &r.ChangeID, &stagesJSON, &r.Log)
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	r.Outcome = pipeline.Outcome(outcome)
	r.Started = time.Unix(0, startedNS)
	r.Finished = time.Unix(0, finishedNS)
	r.Duration = time.Duration(durationMS) * time.Millisecond
	if stagesJSON != "" {
		if err := json.Unmarshal([]byte(stagesJSON), &r.Stages); err != nil {
			return nil, fmt.Errorf("decoding stages for run %s: %w", r.RunID, err)
		}
	}
	return &r, nil
}
