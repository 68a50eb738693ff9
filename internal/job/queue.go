package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/video-importer/internal/errors"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/types"
)

// DefaultManualWakeDelay is how soon a manual submission triggers a tick
const DefaultManualWakeDelay = 5 * time.Second

// RecentJobsLimit is the size of the dashboard's recent jobs list
const RecentJobsLimit = 100

// Duplicate submissions
var (
	ErrAlreadyImported = errors.NewConflictError("ALREADY_IMPORTED", "video already imported")
	ErrAlreadyQueued   = errors.NewConflictError("ALREADY_QUEUED", "video already in the queue")
)

// SubmitResult is the outcome of one submitted URL or id
type SubmitResult struct {
	Input   string              `json:"input"`
	VideoID string              `json:"videoId,omitempty"`
	Job     *models.ImportJob   `json:"job,omitempty"`
	Error   *types.ServiceError `json:"error,omitempty"`
}

// Queue is the entry point for submitting import work
type Queue struct {
	jobs       JobStore
	records    RecordStore
	thumbnails ThumbnailStore
	wakeDelay  time.Duration

	mu    sync.RWMutex
	waker Waker
}

// NewQueue creates a queue. thumbnails may be nil.
func NewQueue(jobs JobStore, records RecordStore, thumbnails ThumbnailStore, wakeDelay time.Duration) *Queue {
	if wakeDelay <= 0 {
		wakeDelay = DefaultManualWakeDelay
	}
	return &Queue{
		jobs:       jobs,
		records:    records,
		thumbnails: thumbnails,
		wakeDelay:  wakeDelay,
	}
}

// SetWaker installs the scheduler that manual submissions wake up
func (q *Queue) SetWaker(w Waker) {
	q.mu.Lock()
	q.waker = w
	q.mu.Unlock()
}

// Enqueue inserts a pending job. Manual jobs also schedule a tick shortly
// after, so the user does not wait for the periodic one.
func (q *Queue) Enqueue(ctx context.Context, videoID, videoURL string, origin types.Origin) (*models.ImportJob, error) {
	if videoURL == "" {
		videoURL = types.WatchURL(videoID)
	}
	job, err := q.jobs.Enqueue(ctx, videoID, videoURL, origin)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":   job.ID,
		"videoId": videoID,
		"origin":  origin,
	}).Info("Job enqueued")

	if origin == types.OriginManual {
		q.mu.RLock()
		w := q.waker
		q.mu.RUnlock()
		if w != nil {
			w.Wake(q.wakeDelay)
		}
	}
	return job, nil
}

// Submit resolves input to a video id and enqueues it unless the video is
// already published or has an active job.
func (q *Queue) Submit(ctx context.Context, input string, origin types.Origin) (*models.ImportJob, error) {
	videoID, err := types.ExtractVideoID(input)
	if err != nil {
		return nil, errors.NewInvalidParameterError("videoUrl", err.Error())
	}
	return q.submitID(ctx, videoID, types.WatchURL(videoID), origin)
}

func (q *Queue) submitID(ctx context.Context, videoID, videoURL string, origin types.Origin) (*models.ImportJob, error) {
	exists, err := q.records.Exists(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyImported
	}

	active, err := q.jobs.HasActive(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrAlreadyQueued
	}

	return q.Enqueue(ctx, videoID, videoURL, origin)
}

// SubmitBatch submits every input independently
func (q *Queue) SubmitBatch(ctx context.Context, inputs []string, origin types.Origin) []SubmitResult {
	results := make([]SubmitResult, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))

	for _, input := range inputs {
		res := SubmitResult{Input: input}
		videoID, err := types.ExtractVideoID(input)
		if err != nil {
			res.Error = errors.NewInvalidParameterError("url", err.Error()).ToServiceError()
			results = append(results, res)
			continue
		}
		res.VideoID = videoID

		if seen[videoID] {
			res.Error = ErrAlreadyQueued.ToServiceError()
			results = append(results, res)
			continue
		}
		seen[videoID] = true

		job, err := q.submitID(ctx, videoID, types.WatchURL(videoID), origin)
		if err != nil {
			res.Error = errors.Categorize(err).ToServiceError()
		} else {
			res.Job = job
		}
		results = append(results, res)
	}
	return results
}

// ImportChannel submits up to maxResults of a channel's latest uploads
func (q *Queue) ImportChannel(ctx context.Context, lister ChannelLister, channel string, maxResults int) ([]SubmitResult, error) {
	channelID, err := lister.ResolveChannelID(ctx, channel)
	if err != nil {
		return nil, err
	}
	videos, err := lister.ListChannelVideos(ctx, channelID, maxResults)
	if err != nil {
		return nil, err
	}

	results := make([]SubmitResult, 0, len(videos))
	for _, v := range videos {
		res := SubmitResult{Input: v.VideoID, VideoID: v.VideoID}
		job, err := q.submitID(ctx, v.VideoID, types.WatchURL(v.VideoID), types.OriginChannel)
		if err != nil {
			res.Error = errors.Categorize(err).ToServiceError()
		} else {
			res.Job = job
		}
		results = append(results, res)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"channelId": channelID,
		"listed":    len(videos),
	}).Info("Channel import submitted")
	return results, nil
}

// Stats returns job counts by status
func (q *Queue) Stats(ctx context.Context) (*models.QueueStats, error) {
	return q.jobs.GetStats(ctx)
}

// Recent returns the latest jobs, newest first
func (q *Queue) Recent(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	if limit <= 0 || limit > RecentJobsLimit {
		limit = RecentJobsLimit
	}
	return q.jobs.ListRecent(ctx, limit)
}

// RemoveVideo deletes the published record, its thumbnail and every job row
// of the video, so it can be imported again
func (q *Queue) RemoveVideo(ctx context.Context, videoID string) (bool, error) {
	logger := logging.FromContext(ctx).WithField("videoId", videoID)

	deleted, err := q.records.Delete(ctx, videoID)
	if err != nil {
		return false, err
	}
	removed, err := q.jobs.RemoveByVideoID(ctx, videoID)
	if err != nil {
		return deleted, fmt.Errorf("remove jobs of %s: %w", videoID, err)
	}
	if q.thumbnails != nil && deleted {
		if err := q.thumbnails.Delete(ctx, videoID); err != nil {
			logger.WithError(err).Warn("Thumbnail delete failed")
		}
	}

	logger.WithFields(map[string]interface{}{
		"recordDeleted": deleted,
		"jobsRemoved":   removed,
	}).Info("Video removed")
	return deleted || removed, nil
}
