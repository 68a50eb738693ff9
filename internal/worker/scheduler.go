// Package worker drives the import queue in the background: the periodic
// processing tick, the hourly metadata refresh, the channel feed poll and the
// stale-job reaper.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/video-importer/internal/config"
	"github.com/video-importer/internal/job"
	"github.com/video-importer/internal/logging"
)

// Default intervals
const (
	DefaultTickInterval    = time.Minute
	DefaultRefreshInterval = time.Hour
	DefaultReapInterval    = 5 * time.Minute
	DefaultStaleAfter      = 30 * time.Minute
	DefaultFeedInterval    = time.Hour
)

// TickRunner processes one batch of pending jobs
type TickRunner interface {
	ProcessTick(ctx context.Context) (*job.TickResult, error)
	ReapStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RefreshRunner refreshes the metadata of published records
type RefreshRunner interface {
	RefreshAll(ctx context.Context) (*job.RefreshResult, error)
}

// FeedRunner polls the configured channel feeds
type FeedRunner interface {
	PollAll(ctx context.Context) (*job.FeedPollResult, error)
}

// SchedulerConfig holds scheduler intervals
type SchedulerConfig struct {
	TickInterval    time.Duration
	RefreshInterval time.Duration
	ReapInterval    time.Duration
	StaleAfter      time.Duration
	FeedInterval    time.Duration
}

// SchedulerConfigFrom maps queue and feed configuration onto scheduler intervals
func SchedulerConfigFrom(queue *config.QueueConfig, feed *config.FeedConfig) SchedulerConfig {
	cfg := SchedulerConfig{
		TickInterval:    queue.TickInterval,
		RefreshInterval: queue.RefreshInterval,
		ReapInterval:    queue.ReapInterval,
		StaleAfter:      queue.StaleAfter,
	}
	if feed != nil {
		cfg.FeedInterval = feed.PollInterval
	}
	return cfg
}

// Scheduler runs the processor, refresher and feed poller on their intervals
// and accepts out-of-band wake-ups. A job still running when its next slot
// comes up is skipped for that slot.
type Scheduler struct {
	processor TickRunner
	refresher RefreshRunner
	feeds     FeedRunner
	config    SchedulerConfig

	mu       sync.Mutex
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	cron     *cron.Cron
	wake     *time.Timer
	wakes    sync.WaitGroup
	lastTick time.Time
}

// NewScheduler creates a scheduler. refresher may be nil.
func NewScheduler(processor TickRunner, refresher RefreshRunner, cfg SchedulerConfig) (*Scheduler, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.FeedInterval <= 0 {
		cfg.FeedInterval = DefaultFeedInterval
	}

	return &Scheduler{
		processor: processor,
		refresher: refresher,
		config:    cfg,
	}, nil
}

// SetFeedRunner enables feed polling. It must be called before Start.
func (s *Scheduler) SetFeedRunner(feeds FeedRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds = feeds
}

// every fires at a fixed delay after the previous activation. Unlike
// "@every" it keeps sub-second precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Start registers the periodic jobs and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{ctx: runCtx}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	guard := func(fn func(ctx context.Context)) cron.FuncJob {
		return func() {
			if runCtx.Err() != nil {
				return
			}
			fn(runCtx)
		}
	}
	c.Schedule(every(s.config.TickInterval), guard(s.RunTick))
	c.Schedule(every(s.config.ReapInterval), guard(s.RunReap))
	if s.refresher != nil {
		c.Schedule(every(s.config.RefreshInterval), guard(s.RunRefresh))
	}
	fields := map[string]interface{}{
		"tick":    s.config.TickInterval.String(),
		"refresh": s.config.RefreshInterval.String(),
		"reap":    s.config.ReapInterval.String(),
	}
	if s.feeds != nil {
		c.Schedule(every(s.config.FeedInterval), guard(s.RunFeeds))
		fields["feeds"] = s.config.FeedInterval.String()
	}

	s.running = true
	s.runCtx = runCtx
	s.cancel = cancel
	s.cron = c
	c.Start()

	logging.FromContext(ctx).WithFields(fields).Info("Scheduler started")
	return nil
}

// Stop halts the cron runner and waits for running jobs, wake-up ticks
// included, to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	if s.wake != nil && s.wake.Stop() {
		s.wakes.Done()
	}
	s.wake = nil
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()
	defer cancel()

	wakesDone := make(chan struct{})
	go func() {
		s.wakes.Wait()
		close(wakesDone)
	}()

	for _, done := range []<-chan struct{}{c.Stop().Done(), wakesDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logging.FromContext(ctx).Info("Scheduler stopped")
	return nil
}

// Wake schedules a processing tick after delay. Wake-ups that arrive while
// one is pending are merged into it.
func (s *Scheduler) Wake(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.wake != nil {
		return
	}
	ctx := s.runCtx
	s.wakes.Add(1)
	s.wake = time.AfterFunc(delay, func() {
		defer s.wakes.Done()
		s.mu.Lock()
		s.wake = nil
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		s.RunTick(ctx)
	})
}

// LastTick returns when the last processing tick started
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// RunTick runs one processing tick and logs the outcome. An overlapping
// tick is dropped.
func (s *Scheduler) RunTick(ctx context.Context) {
	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()

	logger := logging.FromContext(ctx)
	result, err := s.processor.ProcessTick(ctx)
	switch {
	case stderrors.Is(err, job.ErrTickInProgress):
		logger.Debug("Tick skipped, previous tick still running")
	case err != nil:
		logger.WithError(err).Error("Queue tick failed")
	case len(result.Jobs) > 0:
		logger.WithFields(map[string]interface{}{
			"tickId":  result.TickID,
			"done":    result.Done,
			"skipped": result.Skipped,
			"failed":  result.Failed,
		}).Debug("Scheduled tick finished")
	}
}

// RunReap returns jobs stuck in processing to the queue
func (s *Scheduler) RunReap(ctx context.Context) {
	if _, err := s.processor.ReapStale(ctx, s.config.StaleAfter); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Stale job reap failed")
	}
}

// RunRefresh runs one metadata refresh pass
func (s *Scheduler) RunRefresh(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if _, err := s.refresher.RefreshAll(ctx); err != nil && !stderrors.Is(err, job.ErrTickInProgress) {
		logging.FromContext(ctx).WithError(err).Error("Metadata refresh failed")
	}
}

// RunFeeds runs one poll over the channel feeds
func (s *Scheduler) RunFeeds(ctx context.Context) {
	s.mu.Lock()
	feeds := s.feeds
	s.mu.Unlock()
	if feeds == nil {
		return
	}
	if _, err := feeds.PollAll(ctx); err != nil && !stderrors.Is(err, job.ErrTickInProgress) {
		logging.FromContext(ctx).WithError(err).Error("Feed poll failed")
	}
}

// cronLogger routes cron's key/value logging into the service logger.
// Routine runner chatter goes to debug.
type cronLogger struct {
	ctx context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.FromContext(l.ctx).WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.FromContext(l.ctx).WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
