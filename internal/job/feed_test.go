package job

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/video-importer/internal/adapter"
	"github.com/video-importer/internal/config"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/types"
)

func atomFeed(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
 <title>Canale</title>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `
 <entry>
  <yt:videoId>%s</yt:videoId>
  <title>Video %s</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=%s"/>
  <published>2026-03-01T10:00:00+00:00</published>
 </entry>`, id, id, id)
	}
	b.WriteString("\n</feed>")
	return b.String()
}

// feedServer serves the Atom body currently stored in body
func feedServer(t *testing.T, body *atomic.Value) (*adapter.FeedClient, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, body.Load().(string))
	}))
	t.Cleanup(server.Close)
	client := adapter.NewFeedClient(&config.FeedConfig{}, server.Client())
	return client, server.URL + "/feeds/videos.xml?channel_id=UC1234567890123456789012"
}

func TestFeedPoller_QueuesNewEntries(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()
	var body atomic.Value
	body.Store(atomFeed("aaaaaaaaaa1", "aaaaaaaaaa2"))
	client, feedURL := feedServer(t, &body)
	poller := NewFeedPoller(client, p.queue, []string{feedURL}, 0)

	result, err := poller.PollAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Feeds)
	assert.Equal(t, 2, result.Entries)
	assert.Equal(t, 2, result.Imported)
	assert.Zero(t, result.Skipped)

	jobs := p.jobs.byVideo("aaaaaaaaaa1")
	require.Len(t, jobs, 1)
	assert.Equal(t, types.OriginRSS, jobs[0].Origin)
	assert.Equal(t, "https://www.youtube.com/watch?v=aaaaaaaaaa1", jobs[0].VideoURL)
	assert.Empty(t, p.waker.delays, "feed imports wait for the scheduled tick")

	// a new upload shows up on top of the feed
	body.Store(atomFeed("aaaaaaaaaa3", "aaaaaaaaaa1", "aaaaaaaaaa2"))
	result, err = poller.PollAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 2, result.Skipped)

	stats := poller.Stats()
	require.NotNil(t, stats.LastCheck)
	assert.Equal(t, 3, stats.TotalImported)
	assert.Equal(t, 2, stats.TotalSkipped)
	require.NotNil(t, stats.LastImported)
	assert.Equal(t, "aaaaaaaaaa3", stats.LastImported.VideoID)
	assert.Equal(t, "Video aaaaaaaaaa3", stats.LastImported.Title)
}

func TestFeedPoller_SkipsImportedAndFinishedJobs(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()
	require.NoError(t, p.records.Create(ctx, &models.VideoRecord{VideoID: "aaaaaaaaaa1"}))
	failed, err := p.queue.Enqueue(ctx, "aaaaaaaaaa2", "", types.OriginManual)
	require.NoError(t, err)
	require.NoError(t, p.jobs.MarkError(ctx, failed.ID, "metadata unavailable"))

	var body atomic.Value
	body.Store(atomFeed("aaaaaaaaaa1", "aaaaaaaaaa2", "aaaaaaaaaa3"))
	client, feedURL := feedServer(t, &body)
	poller := NewFeedPoller(client, p.queue, []string{feedURL}, 10)

	result, err := poller.PollAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 2, result.Skipped)
	assert.Len(t, p.jobs.byVideo("aaaaaaaaaa2"), 1, "a failed job is not retried by the feed")
}

func TestFeedPoller_RespectsImportLimit(t *testing.T) {
	p := newPipeline()
	var body atomic.Value
	body.Store(atomFeed("aaaaaaaaaa1", "aaaaaaaaaa2", "aaaaaaaaaa3"))
	client, feedURL := feedServer(t, &body)
	poller := NewFeedPoller(client, p.queue, []string{feedURL}, 2)

	result, err := poller.PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Entries)
	assert.Equal(t, 2, result.Imported)
	assert.Empty(t, p.jobs.byVideo("aaaaaaaaaa3"))
}

func TestFeedPoller_BrokenFeedDoesNotStopOthers(t *testing.T) {
	p := newPipeline()
	var body atomic.Value
	body.Store(atomFeed("aaaaaaaaaa1"))
	client, feedURL := feedServer(t, &body)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)

	poller := NewFeedPoller(client, p.queue, []string{broken.URL + "/feed", feedURL}, 0)

	result, err := poller.PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Feeds)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, poller.Stats().TotalErrors)
}

func TestFeedPoller_EnqueueFailureCounted(t *testing.T) {
	p := newPipeline()
	p.jobs.enqueueErr = stderrors.New("db down")
	var body atomic.Value
	body.Store(atomFeed("aaaaaaaaaa1"))
	client, feedURL := feedServer(t, &body)
	poller := NewFeedPoller(client, p.queue, []string{feedURL}, 0)

	result, err := poller.PollAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Imported)
	assert.Nil(t, poller.Stats().LastImported)
}
