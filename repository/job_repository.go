package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// JobRepository defines the interface for the generation job queue.
type JobRepository interface {
	Enqueue(j *model.Job) (int64, error)
	ClaimNext() (*model.Job, error)
	Complete(id int64) error
	Fail(id int64, errorText string) error
	FailStale(window time.Duration) (int64, error)
	PendingCount() (int, error)
	HasActive(playlistID string) (bool, error)
}

// mysqlJobRepository implements JobRepository for MySQL.
type mysqlJobRepository struct {
	db *sql.DB
}

// NewMySQLJobRepository creates a new mysqlJobRepository.
func NewMySQLJobRepository(db *sql.DB) JobRepository {
	return &mysqlJobRepository{db: db}
}

// Enqueue inserts a pending job.
func (r *mysqlJobRepository) Enqueue(j *model.Job) (int64, error) {
	options, err := json.Marshal(j.Options)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal job options: %w", err)
	}

	query := "INSERT INTO jobs (user_id, playlist_id, trigger_type, options, status) VALUES (?, ?, ?, ?, ?)"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare enqueue job statement: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(j.UserID, j.PlaylistID, string(j.Trigger), string(options), string(model.JobPending))
	if err != nil {
		return 0, fmt.Errorf("failed to execute enqueue job statement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for job: %w", err)
	}
	return id, nil
}

// ClaimNext picks the oldest pending job and flips it to running. Returns
// nil when the queue is empty or another worker won the claim.
func (r *mysqlJobRepository) ClaimNext() (*model.Job, error) {
	query := `SELECT id, user_id, playlist_id, trigger_type, options, created_at
	          FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`
	row := r.db.QueryRow(query, string(model.JobPending))

	j := &model.Job{Status: model.JobRunning}
	var options sql.NullString
	err := row.Scan(&j.ID, &j.UserID, &j.PlaylistID, &j.Trigger, &options, &j.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Queue empty
		}
		return nil, fmt.Errorf("failed to scan pending job row: %w", err)
	}
	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &j.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options for job %d: %w", j.ID, err)
		}
	}

	claim := "UPDATE jobs SET status = ?, started_at = NOW() WHERE id = ? AND status = ?"
	res, err := r.db.Exec(claim, string(model.JobRunning), j.ID, string(model.JobPending))
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %d: %w", j.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows for job claim: %w", err)
	}
	if affected == 0 {
		return nil, nil // Another worker claimed it first
	}
	return j, nil
}

// Complete marks a job as finished.
func (r *mysqlJobRepository) Complete(id int64) error {
	query := "UPDATE jobs SET status = ?, ended_at = NOW() WHERE id = ?"
	_, err := r.db.Exec(query, string(model.JobCompleted), id)
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, err)
	}
	return nil
}

// Fail marks a job as failed with the given error text.
func (r *mysqlJobRepository) Fail(id int64, errorText string) error {
	query := "UPDATE jobs SET status = ?, error_text = ?, ended_at = NOW() WHERE id = ?"
	_, err := r.db.Exec(query, string(model.JobFailed), errorText, id)
	if err != nil {
		return fmt.Errorf("failed to fail job %d: %w", id, err)
	}
	return nil
}

// FailStale fails running jobs whose claim is older than the window. The
// worker runs one job at a time, so anything that old was orphaned by a
// crash and would otherwise block re-enqueues through HasActive.
func (r *mysqlJobRepository) FailStale(window time.Duration) (int64, error) {
	query := `UPDATE jobs SET status = ?, error_text = ?, ended_at = NOW()
	          WHERE status = ? AND started_at < NOW() - INTERVAL ? SECOND`
	res, err := r.db.Exec(query, string(model.JobFailed), "abandoned by crashed worker",
		string(model.JobRunning), int64(window.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to execute fail stale jobs statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows for fail stale jobs: %w", err)
	}
	return affected, nil
}

// PendingCount reports how many jobs are waiting.
func (r *mysqlJobRepository) PendingCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM jobs WHERE status = ?", string(model.JobPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

// HasActive reports whether the playlist already has a pending or running
// job, so duplicate enqueues can be rejected.
func (r *mysqlJobRepository) HasActive(playlistID string) (bool, error) {
	var count int
	query := "SELECT COUNT(*) FROM jobs WHERE playlist_id = ? AND status IN (?, ?)"
	err := r.db.QueryRow(query, playlistID, string(model.JobPending), string(model.JobRunning)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count active jobs for playlist %s: %w", playlistID, err)
	}
	return count > 0, nil
}
