package job

import (
	"context"
	"sync"
	"time"

	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/types"
)

// RefreshResult summarizes a metadata refresh pass
type RefreshResult struct {
	Total    int    `json:"total"`
	Updated  int    `json:"updated"`
	Errors   int    `json:"errors"`
	Requeued int    `json:"requeued"`
	Cleared  int    `json:"cleared"`
	Duration string `json:"duration"`
}

// Refresher re-fetches metadata of every published record and hands premieres
// that went live back to the queue
type Refresher struct {
	mu sync.Mutex

	records  RecordStore
	metadata MetadataSource
	queue    *Queue
}

// NewRefresher creates a refresher
func NewRefresher(records RecordStore, metadata MetadataSource, queue *Queue) *Refresher {
	return &Refresher{records: records, metadata: metadata, queue: queue}
}

// RefreshAll refreshes every record. Per-record failures are counted and do
// not abort the pass.
func (r *Refresher) RefreshAll(ctx context.Context) (*RefreshResult, error) {
	if !r.mu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer r.mu.Unlock()

	start := time.Now()
	logger := logging.FromContext(ctx)

	records, err := r.records.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	result := &RefreshResult{Total: len(records)}
	attempted := make(map[string]bool)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recLogger := logger.WithField("videoId", rec.VideoID)

		data, err := r.metadata.Refresh(ctx, rec.VideoID)
		if err != nil {
			recLogger.WithError(err).Warn("Metadata refresh failed")
			result.Errors++
			continue
		}

		wasPremiere := rec.PremierePending
		rec.ApplyVideoData(data)
		if err := r.records.UpdateMetadata(ctx, rec); err != nil {
			recLogger.WithError(err).Warn("Failed to save refreshed metadata")
			result.Errors++
			continue
		}
		result.Updated++

		if !wasPremiere || data.DurationSeconds <= 0 {
			continue
		}

		attempted[rec.VideoID] = true
		if err := r.requeuePremiere(ctx, rec); err != nil {
			recLogger.WithError(err).Warn("Failed to requeue premiere")
			result.Errors++
			continue
		}
		result.Requeued++
		recLogger.WithField("duration", data.DurationFormatted).Info("Premiere is live, requeued")
	}

	// Records still flagged although a duration is already stored
	for _, rec := range records {
		if attempted[rec.VideoID] || !rec.PremierePending || rec.DurationSeconds <= 0 {
			continue
		}
		if err := r.requeuePremiere(ctx, rec); err != nil {
			logger.WithField("videoId", rec.VideoID).WithError(err).Warn("Failed to requeue stale premiere")
			result.Errors++
			continue
		}
		result.Cleared++
	}

	result.Duration = time.Since(start).String()
	logger.WithFields(map[string]interface{}{
		"total":    result.Total,
		"updated":  result.Updated,
		"errors":   result.Errors,
		"requeued": result.Requeued,
		"cleared":  result.Cleared,
	}).Info("Metadata refresh completed")
	return result, nil
}

// requeuePremiere hands a premiere that went live back to the queue. The flag
// is cleared only once a job exists for the video, so a failed enqueue leaves
// the record flagged for the next pass.
func (r *Refresher) requeuePremiere(ctx context.Context, rec *models.VideoRecord) error {
	active, err := r.queue.jobs.HasActive(ctx, rec.VideoID)
	if err != nil {
		return err
	}
	if !active {
		if _, err := r.queue.Enqueue(ctx, rec.VideoID, rec.VideoURL, types.OriginPremiereReady); err != nil {
			return err
		}
	}

	if err := r.records.SetPremierePending(ctx, rec.VideoID, false, nil); err != nil {
		// the job is queued; the next pass sees it active and retries the clear
		logging.FromContext(ctx).WithField("videoId", rec.VideoID).WithError(err).Warn("Failed to clear premiere flag")
	}
	rec.PremierePending = false
	rec.QueueStatus = nil
	return nil
}
