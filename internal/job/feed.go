package job

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/types"
)

// DefaultFeedImportLimit caps the entries read from each feed per poll
const DefaultFeedImportLimit = 10

// FeedSource reads channel feeds. adapter.FeedClient implements it.
type FeedSource interface {
	FetchFeed(ctx context.Context, feedURL string) ([]models.FeedEntry, error)
}

// FeedImport is the most recent video a feed poll queued
type FeedImport struct {
	VideoID    string    `json:"videoId"`
	Title      string    `json:"title"`
	ImportedAt time.Time `json:"importedAt"`
}

// FeedStats accumulates over the life of the poller
type FeedStats struct {
	LastCheck     *time.Time  `json:"lastCheck,omitempty"`
	TotalImported int         `json:"totalImported"`
	TotalSkipped  int         `json:"totalSkipped"`
	TotalErrors   int         `json:"totalErrors"`
	LastImported  *FeedImport `json:"lastImported,omitempty"`
}

// FeedPollResult summarizes one poll over every configured feed
type FeedPollResult struct {
	Feeds    int    `json:"feeds"`
	Entries  int    `json:"entries"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Errors   int    `json:"errors"`
	Duration string `json:"duration"`
}

// FeedPoller queues the new videos announced by channel feeds
type FeedPoller struct {
	mu sync.Mutex

	source FeedSource
	queue  *Queue
	urls   []string
	limit  int

	statsMu sync.RWMutex
	stats   FeedStats
}

// NewFeedPoller creates a poller over urls. A non-positive limit falls back
// to DefaultFeedImportLimit.
func NewFeedPoller(source FeedSource, queue *Queue, urls []string, limit int) *FeedPoller {
	if limit <= 0 {
		limit = DefaultFeedImportLimit
	}
	return &FeedPoller{source: source, queue: queue, urls: urls, limit: limit}
}

// PollAll reads every feed and queues entries that were never imported nor
// queued before. A failing feed is counted and the others still run.
func (p *FeedPoller) PollAll(ctx context.Context) (*FeedPollResult, error) {
	if !p.mu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer p.mu.Unlock()

	start := time.Now()
	logger := logging.FromContext(ctx)
	result := &FeedPollResult{Feeds: len(p.urls)}
	var last *FeedImport

	for _, feedURL := range p.urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		feedLogger := logger.WithField("feed", feedURL)

		entries, err := p.source.FetchFeed(ctx, feedURL)
		if err != nil {
			feedLogger.WithError(err).Warn("Feed fetch failed")
			result.Errors++
			continue
		}
		if len(entries) > p.limit {
			entries = entries[:p.limit]
		}
		result.Entries += len(entries)

		for _, entry := range entries {
			imported, err := p.importEntry(ctx, entry)
			switch {
			case err != nil:
				feedLogger.WithField("videoId", entry.VideoID).WithError(err).Warn("Failed to queue feed entry")
				result.Errors++
			case imported:
				result.Imported++
				if last == nil {
					last = &FeedImport{VideoID: entry.VideoID, Title: entry.Title, ImportedAt: time.Now()}
				}
			default:
				result.Skipped++
			}
		}
	}

	now := time.Now()
	p.statsMu.Lock()
	p.stats.LastCheck = &now
	p.stats.TotalImported += result.Imported
	p.stats.TotalSkipped += result.Skipped
	p.stats.TotalErrors += result.Errors
	if last != nil {
		p.stats.LastImported = last
	}
	p.statsMu.Unlock()

	result.Duration = time.Since(start).String()
	logger.WithFields(map[string]interface{}{
		"feeds":    result.Feeds,
		"entries":  result.Entries,
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"errors":   result.Errors,
	}).Info("Feed poll completed")
	return result, nil
}

// importEntry reports false for a video that already went through the queue
func (p *FeedPoller) importEntry(ctx context.Context, entry models.FeedEntry) (bool, error) {
	seen, err := p.queue.jobs.HasAny(ctx, entry.VideoID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	_, err = p.queue.submitID(ctx, entry.VideoID, types.WatchURL(entry.VideoID), types.OriginRSS)
	if stderrors.Is(err, ErrAlreadyImported) || stderrors.Is(err, ErrAlreadyQueued) {
		return false, nil
	}
	return err == nil, err
}

// Stats returns a snapshot of the accumulated counters
func (p *FeedPoller) Stats() FeedStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	stats := p.stats
	if stats.LastImported != nil {
		last := *stats.LastImported
		stats.LastImported = &last
	}
	return stats
}
