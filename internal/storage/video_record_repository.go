package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/video-importer/internal/models"
)

// ErrRecordNotFound is returned when no published record exists for a video
var ErrRecordNotFound = errors.New("video record not found")

// VideoRecordRepository persists published video records
type VideoRecordRepository struct {
	db *PostgresDB
}

// NewVideoRecordRepository creates a new video record repository
func NewVideoRecordRepository(db *PostgresDB) *VideoRecordRepository {
	return &VideoRecordRepository{db: db}
}

const recordColumns = `
	id, video_id, video_url, title, description, published_at, channel_id, channel_title,
	duration_iso, duration_seconds, duration_formatted, thumbnail_url, thumbnail_key,
	definition, view_count, like_count, comment_count, transcript, ai_description,
	hashtags, speakers, topics, premiere_pending, queue_status, created_at, updated_at`

func scanRecord(row pgx.Row) (*models.VideoRecord, error) {
	var rec models.VideoRecord
	err := row.Scan(
		&rec.ID,
		&rec.VideoID,
		&rec.VideoURL,
		&rec.Title,
		&rec.Description,
		&rec.PublishedAt,
		&rec.ChannelID,
		&rec.ChannelTitle,
		&rec.DurationISO,
		&rec.DurationSeconds,
		&rec.DurationFormatted,
		&rec.ThumbnailURL,
		&rec.ThumbnailKey,
		&rec.Definition,
		&rec.ViewCount,
		&rec.LikeCount,
		&rec.CommentCount,
		&rec.Transcript,
		&rec.AIDescription,
		&rec.Hashtags,
		&rec.Speakers,
		&rec.Topics,
		&rec.PremierePending,
		&rec.QueueStatus,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByVideoID returns the record for a video or ErrRecordNotFound
func (r *VideoRecordRepository) GetByVideoID(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM video_records WHERE video_id = $1`

	rec, err := scanRecord(r.db.Pool().QueryRow(ctx, query, videoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get video record: %w", err)
	}
	return rec, nil
}

// Exists reports whether a record exists for the video
func (r *VideoRecordRepository) Exists(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM video_records WHERE video_id = $1)`, videoID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check video record: %w", err)
	}
	return exists, nil
}

// Create inserts a new record and sets its ID and timestamps
func (r *VideoRecordRepository) Create(ctx context.Context, rec *models.VideoRecord) error {
	query := `
		INSERT INTO video_records (video_id, video_url, title, premiere_pending, queue_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.Pool().QueryRow(ctx, query,
		rec.VideoID,
		rec.VideoURL,
		rec.Title,
		rec.PremierePending,
		rec.QueueStatus,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create video record: %w", err)
	}
	return nil
}

// UpdateMetadata writes the metadata and statistics fields of a record
func (r *VideoRecordRepository) UpdateMetadata(ctx context.Context, rec *models.VideoRecord) error {
	query := `
		UPDATE video_records
		SET title = $2, description = $3, published_at = $4, channel_id = $5, channel_title = $6,
			duration_iso = $7, duration_seconds = $8, duration_formatted = $9, thumbnail_url = $10,
			definition = $11, view_count = $12, like_count = $13, comment_count = $14,
			updated_at = NOW()
		WHERE video_id = $1
	`
	return r.exec(ctx, "update metadata", rec.VideoID, query,
		rec.VideoID,
		rec.Title,
		rec.Description,
		rec.PublishedAt,
		rec.ChannelID,
		rec.ChannelTitle,
		rec.DurationISO,
		rec.DurationSeconds,
		rec.DurationFormatted,
		rec.ThumbnailURL,
		rec.Definition,
		rec.ViewCount,
		rec.LikeCount,
		rec.CommentCount,
	)
}

// SetThumbnailKey stores the object key of the uploaded thumbnail
func (r *VideoRecordRepository) SetThumbnailKey(ctx context.Context, videoID, key string) error {
	query := `UPDATE video_records SET thumbnail_key = $2, updated_at = NOW() WHERE video_id = $1`
	return r.exec(ctx, "set thumbnail", videoID, query, videoID, key)
}

// SetPremierePending sets or clears the premiere flag together with the queue status
func (r *VideoRecordRepository) SetPremierePending(ctx context.Context, videoID string, pending bool, queueStatus *string) error {
	query := `
		UPDATE video_records
		SET premiere_pending = $2, queue_status = $3, updated_at = NOW()
		WHERE video_id = $1
	`
	return r.exec(ctx, "set premiere flag", videoID, query, videoID, pending, queueStatus)
}

// SaveTranscript stores the transcript text
func (r *VideoRecordRepository) SaveTranscript(ctx context.Context, videoID, transcript string) error {
	query := `UPDATE video_records SET transcript = $2, updated_at = NOW() WHERE video_id = $1`
	return r.exec(ctx, "save transcript", videoID, query, videoID, transcript)
}

// SaveEditorial stores the AI description and the extracted taxonomy
func (r *VideoRecordRepository) SaveEditorial(ctx context.Context, videoID, description string, hashtags, speakers, topics []string) error {
	query := `
		UPDATE video_records
		SET ai_description = $2, hashtags = $3, speakers = $4, topics = $5, updated_at = NOW()
		WHERE video_id = $1
	`
	return r.exec(ctx, "save editorial", videoID, query, videoID, description, nonNil(hashtags), nonNil(speakers), nonNil(topics))
}

// ListAll returns every record ordered by ID
func (r *VideoRecordRepository) ListAll(ctx context.Context) ([]*models.VideoRecord, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM video_records ORDER BY id ASC`)
}

// ListPremierePending returns the records waiting for a premiere to end
func (r *VideoRecordRepository) ListPremierePending(ctx context.Context) ([]*models.VideoRecord, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM video_records WHERE premiere_pending ORDER BY id ASC`)
}

func (r *VideoRecordRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.VideoRecord, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list video records: %w", err)
	}
	defer rows.Close()

	var records []*models.VideoRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating video records: %w", err)
	}
	return records, nil
}

// Delete removes a record and reports whether it existed
func (r *VideoRecordRepository) Delete(ctx context.Context, videoID string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM video_records WHERE video_id = $1`, videoID)
	if err != nil {
		return false, fmt.Errorf("failed to delete video record: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *VideoRecordRepository) exec(ctx context.Context, op, videoID, query string, args ...interface{}) error {
	result, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
