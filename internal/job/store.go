// Package job runs the import pipeline: the enqueue facade, the per-tick
// queue processor and the premiere rescheduler.
package job

import (
	"context"
	"time"

	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/service"
	"github.com/video-importer/internal/types"
)

// JobStore is the persisted job queue. storage.JobRepository implements it.
type JobStore interface {
	Enqueue(ctx context.Context, videoID, videoURL string, origin types.Origin) (*models.ImportJob, error)
	DequeuePending(ctx context.Context, limit int) ([]*models.ImportJob, error)
	ListRecent(ctx context.Context, limit int) ([]*models.ImportJob, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkDone(ctx context.Context, id int64) error
	MarkError(ctx context.Context, id int64, message string) error
	MarkSkipped(ctx context.Context, id int64, reason string) error
	RemoveByVideoID(ctx context.Context, videoID string) (bool, error)
	HasActive(ctx context.Context, videoID string) (bool, error)
	HasAny(ctx context.Context, videoID string) (bool, error)
	GetStats(ctx context.Context) (*models.QueueStats, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RecordStore holds the published records. storage.VideoRecordRepository
// implements it.
type RecordStore interface {
	GetByVideoID(ctx context.Context, videoID string) (*models.VideoRecord, error)
	Exists(ctx context.Context, videoID string) (bool, error)
	Create(ctx context.Context, rec *models.VideoRecord) error
	UpdateMetadata(ctx context.Context, rec *models.VideoRecord) error
	SetThumbnailKey(ctx context.Context, videoID, key string) error
	SetPremierePending(ctx context.Context, videoID string, pending bool, queueStatus *string) error
	SaveTranscript(ctx context.Context, videoID, transcript string) error
	ListAll(ctx context.Context) ([]*models.VideoRecord, error)
	Delete(ctx context.Context, videoID string) (bool, error)
}

// MetadataSource resolves video metadata. metadata.Provider implements it.
type MetadataSource interface {
	GetVideoData(ctx context.Context, videoID string) (*models.VideoData, error)
	Refresh(ctx context.Context, videoID string) (*models.VideoData, error)
}

// TranscriptSource fetches transcripts. adapter.VendorClient implements it.
type TranscriptSource interface {
	GetTranscript(ctx context.Context, videoID, mode, lang string) (string, error)
}

// Editor generates and stores the editorial content of a record.
// service.EditorialService implements it.
type Editor interface {
	Generate(ctx context.Context, rec *models.VideoRecord, transcript string) (*service.Editorial, error)
}

// ThumbnailStore copies thumbnails into durable storage.
// storage.ThumbnailStore implements it.
type ThumbnailStore interface {
	Store(ctx context.Context, videoID, imageURL string) (string, error)
	Delete(ctx context.Context, videoID string) error
}

// ChannelLister lists a channel's uploads. adapter.YouTubeClient implements it.
type ChannelLister interface {
	ResolveChannelID(ctx context.Context, input string) (string, error)
	ListChannelVideos(ctx context.Context, channelID string, maxResults int) ([]models.ChannelVideo, error)
}

// Waker schedules an out-of-band processing tick
type Waker interface {
	Wake(delay time.Duration)
}
