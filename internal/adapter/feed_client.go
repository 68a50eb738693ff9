package adapter

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/video-importer/internal/config"
	"github.com/video-importer/internal/errors"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/types"
)

const maxFeedBytes = 4 << 20

// FeedClient reads YouTube channel feeds
// (https://www.youtube.com/feeds/videos.xml?channel_id=...).
type FeedClient struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewFeedClient creates a feed reader
func NewFeedClient(cfg *config.FeedConfig, httpClient *http.Client) *FeedClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedClient{client: httpClient, timeout: timeout, userAgent: cfg.UserAgent}
}

// FetchFeed downloads and parses one feed. Entries without a recognisable
// video id are dropped.
func (c *FeedClient) FetchFeed(ctx context.Context, feedURL string) ([]models.FeedEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, errors.NewInvalidParameterError("feed_url", err.Error())
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/atom+xml, application/xml;q=0.9")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewTransportError(err.Error(), false, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewAPIError(resp.StatusCode, "feed request failed")
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, errors.NewAPIError(resp.StatusCode, "invalid feed: "+err.Error())
	}

	entries := make([]models.FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		videoID := feedVideoID(item)
		if videoID == "" {
			continue
		}
		entries = append(entries, models.FeedEntry{
			VideoID:     videoID,
			Title:       item.Title,
			Link:        item.Link,
			PublishedAt: item.PublishedParsed,
		})
	}
	return entries, nil
}

// feedVideoID reads yt:videoId and falls back to the watch link
func feedVideoID(item *gofeed.Item) string {
	if values := item.Extensions["yt"]["videoId"]; len(values) > 0 && types.IsVideoID(values[0].Value) {
		return values[0].Value
	}
	if id, err := types.ExtractVideoID(item.Link); err == nil {
		return id
	}
	return ""
}
