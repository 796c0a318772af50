// Package jobs is the persistent regeneration queue: one SQLite table of
// jobs and a worker that claims them one at a time and runs the pipeline as
// a subprocess.
package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// maxRetries: a job failing more than once is done.
const maxRetries = 1

// Job is one queued regeneration.
type Job struct {
	ID          string
	RepoURL     string
	CommitSHA   string
	Status      string
	RetryCount  int
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Queue is the job table. At-least-once semantics: a worker killed mid-job
// leaves the row running until reset.
type Queue struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenQueue opens (or creates) the queue at dbPath.
func OpenQueue(dbPath string) (*Queue, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		repo_url TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize job schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close closes the queue database.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.db.Close()
}

const jobColumns = "id, repo_url, commit_sha, status, retry_count, error, created_at, started_at, completed_at"

// Enqueue inserts a job unless one for the same (repo_url, commit_sha) is
// already queued or running, in which case the existing job comes back.
func (q *Queue) Enqueue(ctx context.Context, repoURL, commitSHA string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.scanOne(q.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE repo_url = ? AND commit_sha = ? AND status IN (?, ?) ORDER BY created_at LIMIT 1",
		repoURL, commitSHA, StatusQueued, StatusRunning))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing jobs: %w", err)
	}
	if err == nil {
		return existing, nil
	}

	job := &Job{
		ID:        uuid.NewString(),
		RepoURL:   repoURL,
		CommitSHA: commitSHA,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
	_, err = q.db.ExecContext(ctx,
		"INSERT INTO jobs (id, repo_url, commit_sha, status, created_at) VALUES (?, ?, ?, ?, ?)",
		job.ID, job.RepoURL, job.CommitSHA, job.Status, job.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// ClaimNext marks the oldest queued job running and returns it, or nil when
// the queue is empty.
func (q *Queue) ClaimNext(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.scanOne(q.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1", StatusQueued))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next job: %w", err)
	}

	now := time.Now()
	res, err := q.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		StatusRunning, now.UnixNano(), job.ID, StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil // raced with another claimer
	}
	job.Status = StatusRunning
	job.StartedAt = &now
	return job, nil
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?",
		StatusCompleted, time.Now().UnixNano(), jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// Fail records a failure. The first failure requeues the job; the second is
// terminal.
func (q *Queue) Fail(ctx context.Context, jobID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var retries int
	err := q.db.QueryRowContext(ctx, "SELECT retry_count FROM jobs WHERE id = ?", jobID).Scan(&retries)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	retries++
	if retries <= maxRetries {
		_, err = q.db.ExecContext(ctx,
			"UPDATE jobs SET status = ?, retry_count = ?, error = ?, started_at = NULL WHERE id = ?",
			StatusQueued, retries, errMsg, jobID)
	} else {
		_, err = q.db.ExecContext(ctx,
			"UPDATE jobs SET status = ?, retry_count = ?, error = ?, completed_at = ? WHERE id = ?",
			StatusFailed, retries, errMsg, time.Now().UnixNano(), jobID)
	}
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// Get returns one job by ID.
func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.scanOne(q.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", jobID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	return job, err
}

// Depth counts queued jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE status = ?", StatusQueued).Scan(&n)
	return n, err
}

func (q *Queue) scanOne(row *sql.Row) (*Job, error) {
	var j Job
	var createdAt int64
	var startedAt, completedAt sql.NullInt64
	err := row.Scan(&j.ID, &j.RepoURL, &j.CommitSHA, &j.Status, &j.RetryCount,
		&j.Error, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = time.Unix(0, createdAt)
	if startedAt.Valid {
		t := time.Unix(0, startedAt.Int64)
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64)
		j.CompletedAt = &t
	}
	return &j, nil
}
