package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/types"
)

// JobRepository persists import jobs. Every mutation is a single-row update.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, video_id, video_url, source, status, attempts, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (*models.ImportJob, error) {
	var (
		job    models.ImportJob
		origin string
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.VideoID,
		&job.VideoURL,
		&origin,
		&status,
		&job.Attempts,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Origin = types.Origin(origin)
	job.Status = types.JobStatus(status)
	return &job, nil
}

// Enqueue inserts a pending job and returns it
func (r *JobRepository) Enqueue(ctx context.Context, videoID, videoURL string, origin types.Origin) (*models.ImportJob, error) {
	query := `
		INSERT INTO import_jobs (video_id, video_url, source, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, NOW(), NOW())
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, videoID, videoURL, string(origin)))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job for %s: %w", videoID, err)
	}
	return job, nil
}

// DequeuePending returns up to limit pending jobs, oldest first
func (r *JobRepository) DequeuePending(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM import_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`
	return r.list(ctx, "pending jobs", query, limit)
}

// ListRecent returns the most recently created jobs
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM import_jobs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	return r.list(ctx, "recent jobs", query, limit)
}

func (r *JobRepository) list(ctx context.Context, what, query string, args ...interface{}) ([]*models.ImportJob, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}
	return jobs, nil
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*models.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("import job not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

// MarkProcessing moves a job to processing and counts the attempt
func (r *JobRepository) MarkProcessing(ctx context.Context, id int64) error {
	query := `
		UPDATE import_jobs
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "mark processing", id, query, id)
}

// MarkDone marks a job done unless it has already been skipped.
func (r *JobRepository) MarkDone(ctx context.Context, id int64) error {
	query := `
		UPDATE import_jobs
		SET status = 'done', last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> 'skipped'
	`
	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	// Either the row is gone or a skip won the race.
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != types.JobStatusSkipped {
		return fmt.Errorf("import job %d not marked done (status %s)", id, job.Status)
	}
	return nil
}

// MarkError records a failure
func (r *JobRepository) MarkError(ctx context.Context, id int64, message string) error {
	query := `
		UPDATE import_jobs
		SET status = 'error', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "mark error", id, query, id, message)
}

// MarkSkipped records a skip and its reason
func (r *JobRepository) MarkSkipped(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE import_jobs
		SET status = 'skipped', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "mark skipped", id, query, id, reason)
}

func (r *JobRepository) exec(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	result, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("import job not found: %d", id)
	}
	return nil
}

// RemoveByVideoID deletes every job of a video and reports whether any existed
func (r *JobRepository) RemoveByVideoID(ctx context.Context, videoID string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM import_jobs WHERE video_id = $1`, videoID)
	if err != nil {
		return false, fmt.Errorf("failed to remove jobs for %s: %w", videoID, err)
	}
	return result.RowsAffected() > 0, nil
}

// HasActive reports whether the video has a pending or processing job
func (r *JobRepository) HasActive(ctx context.Context, videoID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM import_jobs
			WHERE video_id = $1 AND status IN ('pending', 'processing')
		)
	`
	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, videoID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active jobs: %w", err)
	}
	return exists, nil
}

// HasAny reports whether the video was ever queued, whatever the outcome
func (r *JobRepository) HasAny(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM import_jobs WHERE video_id = $1)`, videoID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check jobs: %w", err)
	}
	return exists, nil
}

// GetStats returns job counts by status
func (r *JobRepository) GetStats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT status, COUNT(*) FROM import_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats.Set(types.JobStatus(status), count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}
	return stats, nil
}

// RequeueStale puts jobs stuck in processing for longer than olderThan back to pending
func (r *JobRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE import_jobs
		SET status = 'pending', last_error = 'requeued after stale processing', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	result, err := r.db.Pool().Exec(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return result.RowsAffected(), nil
}
