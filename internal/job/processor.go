package job

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/storage"
	"github.com/video-importer/internal/types"
)

// Defaults for ProcessorConfig
const (
	DefaultBatchSize   = 3
	DefaultMinDuration = 5 * time.Minute
)

// ErrTickInProgress is returned when a tick starts while another is running
var ErrTickInProgress = stderrors.New("queue tick already in progress")

// Outcome is how a job left the pipeline without an error
type Outcome int

const (
	// OutcomeDone means the editorial pipeline completed
	OutcomeDone Outcome = iota
	// OutcomeSkipped means the video was deliberately not processed
	OutcomeSkipped
)

// pipelineResult is the non-error result of one job's pipeline
type pipelineResult struct {
	outcome Outcome
	reason  string
}

func done() pipelineResult { return pipelineResult{outcome: OutcomeDone} }

func skipped(reason string) pipelineResult {
	return pipelineResult{outcome: OutcomeSkipped, reason: reason}
}

// ProcessorConfig tunes the processor
type ProcessorConfig struct {
	BatchSize      int
	MinDuration    time.Duration
	TranscriptMode string
	TranscriptLang string
}

// JobReport is what happened to one job in a tick
type JobReport struct {
	JobID   int64           `json:"jobId"`
	VideoID string          `json:"videoId"`
	Status  types.JobStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}

// TickResult summarizes one processing tick
type TickResult struct {
	TickID   string      `json:"tickId"`
	Done     int         `json:"done"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Jobs     []JobReport `json:"jobs"`
	Duration string      `json:"duration"`
}

// Processor runs pending jobs through the import pipeline
type Processor struct {
	mu sync.Mutex

	jobs        JobStore
	records     RecordStore
	metadata    MetadataSource
	transcripts TranscriptSource
	editor      Editor
	thumbnails  ThumbnailStore
	config      ProcessorConfig
}

// NewProcessor creates a processor. thumbnails may be nil.
func NewProcessor(
	jobs JobStore,
	records RecordStore,
	metadata MetadataSource,
	transcripts TranscriptSource,
	editor Editor,
	thumbnails ThumbnailStore,
	config ProcessorConfig,
) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MinDuration <= 0 {
		config.MinDuration = DefaultMinDuration
	}
	if config.TranscriptMode == "" {
		config.TranscriptMode = "auto"
	}
	if config.TranscriptLang == "" {
		config.TranscriptLang = "auto"
	}

	return &Processor{
		jobs:        jobs,
		records:     records,
		metadata:    metadata,
		transcripts: transcripts,
		editor:      editor,
		thumbnails:  thumbnails,
		config:      config,
	}
}

// ProcessTick handles up to BatchSize pending jobs, oldest first, one at a
// time. A failing job is recorded as error and does not stop the batch.
func (p *Processor) ProcessTick(ctx context.Context) (*TickResult, error) {
	if !p.mu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer p.mu.Unlock()

	start := time.Now()
	result := &TickResult{TickID: uuid.New().String(), Jobs: []JobReport{}}
	logger := logging.FromContext(ctx).WithField("tickId", result.TickID)
	ctx = logging.WithLogger(ctx, logger)

	pending, err := p.jobs.DequeuePending(ctx, p.config.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		result.Duration = time.Since(start).String()
		return result, nil
	}

	for _, job := range pending {
		report := p.processJob(ctx, job)
		switch report.Status {
		case types.JobStatusDone:
			result.Done++
		case types.JobStatusSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
		result.Jobs = append(result.Jobs, report)
	}

	result.Duration = time.Since(start).String()
	logger.WithFields(map[string]interface{}{
		"done":     result.Done,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
		"duration": result.Duration,
	}).Info("Queue tick completed")
	return result, nil
}

func (p *Processor) processJob(ctx context.Context, job *models.ImportJob) JobReport {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":   job.ID,
		"videoId": job.VideoID,
	})
	ctx = logging.WithLogger(ctx, logger)
	report := JobReport{JobID: job.ID, VideoID: job.VideoID}

	if err := p.jobs.MarkProcessing(ctx, job.ID); err != nil {
		logger.WithError(err).Error("Failed to mark job processing")
		report.Status = types.JobStatusError
		report.Message = err.Error()
		return report
	}

	res, err := p.runSafely(ctx, job)
	switch {
	case err != nil:
		report.Status = types.JobStatusError
		report.Message = err.Error()
		if markErr := p.jobs.MarkError(ctx, job.ID, err.Error()); markErr != nil {
			logger.WithError(markErr).Error("Failed to mark job error")
		}
		logger.WithError(err).Warn("Job failed")

	case res.outcome == OutcomeSkipped:
		report.Status = types.JobStatusSkipped
		report.Message = res.reason
		if markErr := p.jobs.MarkSkipped(ctx, job.ID, res.reason); markErr != nil {
			logger.WithError(markErr).Error("Failed to mark job skipped")
		}
		logger.WithField("reason", res.reason).Info("Job skipped")

	default:
		report.Status = types.JobStatusDone
		if markErr := p.jobs.MarkDone(ctx, job.ID); markErr != nil {
			logger.WithError(markErr).Error("Failed to mark job done")
			report.Status = types.JobStatusError
			report.Message = markErr.Error()
			return report
		}
		logger.Info("Job completed")
	}
	return report
}

// runSafely runs the pipeline and turns a panic into an error
func (p *Processor) runSafely(ctx context.Context, job *models.ImportJob) (res pipelineResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).WithField("stack", string(debug.Stack())).Error("Pipeline panic")
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return p.runPipeline(ctx, job)
}

func (p *Processor) runPipeline(ctx context.Context, job *models.ImportJob) (pipelineResult, error) {
	if job.VideoID == "" {
		return pipelineResult{}, stderrors.New("video id missing")
	}

	rec, err := p.records.GetByVideoID(ctx, job.VideoID)
	switch {
	case stderrors.Is(err, storage.ErrRecordNotFound):
		var skip *pipelineResult
		rec, skip, err = p.createRecord(ctx, job)
		if err != nil {
			return pipelineResult{}, err
		}
		if skip != nil {
			return *skip, nil
		}
	case err != nil:
		return pipelineResult{}, errors.Wrap(err, "load record")
	}

	transcript, err := p.transcripts.GetTranscript(ctx, job.VideoID, p.config.TranscriptMode, p.config.TranscriptLang)
	if err != nil {
		return pipelineResult{}, errors.Wrap(err, "transcript")
	}
	if err := p.records.SaveTranscript(ctx, job.VideoID, transcript); err != nil {
		return pipelineResult{}, errors.Wrap(err, "save transcript")
	}
	rec.Transcript = &transcript

	if _, err := p.editor.Generate(ctx, rec, transcript); err != nil {
		return pipelineResult{}, errors.Wrap(err, "description")
	}
	return done(), nil
}

// createRecord fetches metadata and creates the published record. A non-nil
// result means the job stops here as skipped.
func (p *Processor) createRecord(ctx context.Context, job *models.ImportJob) (*models.VideoRecord, *pipelineResult, error) {
	logger := logging.FromContext(ctx)
	minSeconds := int(p.config.MinDuration.Seconds())

	data, err := p.metadata.GetVideoData(ctx, job.VideoID)
	if err != nil {
		logger.WithError(err).Warn("Metadata unavailable, continuing with placeholder")
		data = nil
	}

	if data != nil && data.DurationSeconds > 0 && data.DurationSeconds < minSeconds {
		res := skipped(fmt.Sprintf("video too short (%d sec / %s), minimum is %d minutes",
			data.DurationSeconds, types.FormatClock(data.DurationSeconds), minSeconds/60))
		return nil, &res, nil
	}

	videoURL := job.VideoURL
	if videoURL == "" {
		videoURL = types.WatchURL(job.VideoID)
	}
	rec := &models.VideoRecord{
		VideoID:  job.VideoID,
		VideoURL: videoURL,
		Title:    "YouTube video " + job.VideoID,
	}
	if err := p.records.Create(ctx, rec); err != nil {
		return nil, nil, errors.Wrap(err, "create record")
	}

	if data == nil {
		return rec, nil, nil
	}

	rec.ApplyVideoData(data)
	if err := p.records.UpdateMetadata(ctx, rec); err != nil {
		return nil, nil, errors.Wrap(err, "save metadata")
	}
	p.storeThumbnail(ctx, rec, data.ThumbnailURL)

	if data.DurationSeconds == 0 {
		status := types.QueueStatusWaitingPremiere
		if err := p.records.SetPremierePending(ctx, rec.VideoID, true, &status); err != nil {
			return nil, nil, errors.Wrap(err, "flag premiere")
		}
		rec.PremierePending = true
		rec.QueueStatus = &status

		logger.WithField("title", rec.Title).Info("Premiere video, editorial pipeline deferred")
		res := skipped("premiere or scheduled video (duration 00:00:00), will be processed when available")
		return rec, &res, nil
	}
	return rec, nil, nil
}

// storeThumbnail copies the thumbnail into the asset store. Failures are
// logged only.
func (p *Processor) storeThumbnail(ctx context.Context, rec *models.VideoRecord, imageURL string) {
	if p.thumbnails == nil || imageURL == "" || rec.ThumbnailKey != nil {
		return
	}
	logger := logging.FromContext(ctx)

	key, err := p.thumbnails.Store(ctx, rec.VideoID, imageURL)
	if err != nil {
		logger.WithError(err).Warn("Thumbnail upload failed")
		return
	}
	if err := p.records.SetThumbnailKey(ctx, rec.VideoID, key); err != nil {
		logger.WithError(err).Warn("Failed to save thumbnail key")
		return
	}
	rec.ThumbnailKey = &key
}

// ReapStale moves jobs stuck in processing back to pending
func (p *Processor) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := p.jobs.RequeueStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"count":     n,
			"olderThan": olderThan.String(),
		}).Warn("Requeued stale processing jobs")
	}
	return n, nil
}
