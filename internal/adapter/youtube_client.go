package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/video-importer/internal/config"
	"github.com/video-importer/internal/errors"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/ratelimit"
	"github.com/video-importer/internal/types"
	"golang.org/x/time/rate"
)

const (
	// youtubeMaxPageSize is the largest maxResults the Data API accepts
	youtubeMaxPageSize = 50

	youtubeRequestsPerSecond = 5
)

var (
	channelIDPattern   = regexp.MustCompile(`^UC[\w-]{22}$`)
	channelPathPattern = regexp.MustCompile(`youtube\.com/channel/([^/?]+)`)
	handlePathPattern  = regexp.MustCompile(`youtube\.com/(@[\w.-]+|c/[\w-]+)`)
	userPathPattern    = regexp.MustCompile(`youtube\.com/user/([\w-]+)`)
)

// YouTubeClient talks to the YouTube Data API v3 directly. It is the fallback
// metadata source when the vendor cannot serve a video and the lister used by
// channel imports.
type YouTubeClient struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	rateLimiter *rate.Limiter
	quota       QuotaBudget
	costs       *ratelimit.CostRegistry
}

// QuotaBudget meters Data API units. *ratelimit.QuotaTracker implements it.
type QuotaBudget interface {
	TryConsume(ctx context.Context, units int, priority ratelimit.Priority) (bool, time.Duration)
	RecordResourceUsage(ctx context.Context, resource string, units int) error
}

// NewYouTubeClient creates a client for the Data API
func NewYouTubeClient(cfg *config.YouTubeConfig, httpClient *http.Client) *YouTubeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/youtube/v3"
	}
	return &YouTubeClient{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		client:      httpClient,
		rateLimiter: rate.NewLimiter(rate.Limit(youtubeRequestsPerSecond), youtubeRequestsPerSecond),
		costs:       ratelimit.NewCostRegistry(nil),
	}
}

// SetQuota meters every call against budget. A nil budget disables metering.
func (c *YouTubeClient) SetQuota(budget QuotaBudget) {
	c.quota = budget
}

// Configured reports whether an API key is set
func (c *YouTubeClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

type ytThumbnail struct {
	URL string `json:"url"`
}

type ytVideoItem struct {
	ID      string `json:"id"`
	Snippet struct {
		Title        string                 `json:"title"`
		Description  string                 `json:"description"`
		PublishedAt  string                 `json:"publishedAt"`
		ChannelID    string                 `json:"channelId"`
		ChannelTitle string                 `json:"channelTitle"`
		Tags         []string               `json:"tags"`
		CategoryID   string                 `json:"categoryId"`
		Thumbnails   map[string]ytThumbnail `json:"thumbnails"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration   string `json:"duration"`
		Definition string `json:"definition"`
		Caption    string `json:"caption"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount    string `json:"viewCount"`
		LikeCount    string `json:"likeCount"`
		CommentCount string `json:"commentCount"`
	} `json:"statistics"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
		Embeddable    *bool  `json:"embeddable"`
		MadeForKids   bool   `json:"madeForKids"`
	} `json:"status"`
}

// toVideoData maps one videos.list item onto VideoData
func (item *ytVideoItem) toVideoData() *models.VideoData {
	seconds := types.ParseISODuration(item.ContentDetails.Duration)
	data := &models.VideoData{
		VideoID:              item.ID,
		Title:                item.Snippet.Title,
		Description:          item.Snippet.Description,
		PublishedAt:          item.Snippet.PublishedAt,
		ChannelID:            item.Snippet.ChannelID,
		ChannelTitle:         item.Snippet.ChannelTitle,
		Tags:                 item.Snippet.Tags,
		CategoryID:           item.Snippet.CategoryID,
		ThumbnailResolutions: make(map[string]string),
		Duration:             item.ContentDetails.Duration,
		DurationSeconds:      seconds,
		DurationFormatted:    types.FormatDuration(seconds),
		Definition:           item.ContentDetails.Definition,
		Caption:              item.ContentDetails.Caption,
		ViewCount:            parseCount(item.Statistics.ViewCount),
		LikeCount:            parseCount(item.Statistics.LikeCount),
		CommentCount:         parseCount(item.Statistics.CommentCount),
		PrivacyStatus:        item.Status.PrivacyStatus,
		Embeddable:           item.Status.Embeddable == nil || *item.Status.Embeddable,
		MadeForKids:          item.Status.MadeForKids,
		Source:               "youtube",
	}
	if data.Caption == "" {
		data.Caption = "false"
	}
	for _, res := range models.ThumbnailPriority {
		thumb, ok := item.Snippet.Thumbnails[res]
		if !ok || thumb.URL == "" {
			continue
		}
		if data.ThumbnailURL == "" {
			data.ThumbnailURL = thumb.URL
		}
		data.ThumbnailResolutions[res] = thumb.URL
	}
	return data
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// get performs a GET against the Data API and decodes the JSON body into out.
// Channel lookups draw from the low priority pool.
func (c *YouTubeClient) get(ctx context.Context, resource string, priority ratelimit.Priority, params url.Values, out interface{}) error {
	if !c.Configured() {
		return errors.NewNoCredentialError("youtube/" + resource)
	}
	if err := c.consumeQuota(ctx, resource, priority); err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return errors.NewTransportError("rate limiter wait cancelled", false, err)
	}

	params.Set("key", c.apiKey)
	reqURL := c.baseURL + "/" + resource + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.NewTransportError("invalid request", false, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewTransportError(fmt.Sprintf("youtube %s: %v", resource, err), isRetryableTransport(ctx, err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.NewTransportError("failed to read youtube response", false, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return errors.NewAPIError(resp.StatusCode, errorMessage(body, "YouTube API quota exhausted"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return errors.NewAPIError(resp.StatusCode, fmt.Sprintf("YouTube API HTTP error: %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewAPIError(resp.StatusCode, "invalid JSON in YouTube response")
	}
	return nil
}

func (c *YouTubeClient) consumeQuota(ctx context.Context, resource string, priority ratelimit.Priority) error {
	if c.quota == nil {
		return nil
	}
	units := c.costs.Cost(resource)
	ok, retryAfter := c.quota.TryConsume(ctx, units, priority)
	if !ok {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"resource":   resource,
			"priority":   priority.String(),
			"retryAfter": retryAfter.String(),
		}).Warn("YouTube quota denied")
		return errors.NewQuotaExceededError(resource, retryAfter)
	}
	if err := c.quota.RecordResourceUsage(ctx, resource, units); err != nil {
		logging.FromContext(ctx).WithError(err).Debug("Failed to record quota usage")
	}
	return nil
}

// GetVideo fetches one video. A missing video is a NotFound error.
func (c *YouTubeClient) GetVideo(ctx context.Context, videoID string) (*models.VideoData, error) {
	videos, err := c.GetVideos(ctx, []string{videoID})
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, errors.NewNotFoundError("video", videoID)
	}
	return videos[0], nil
}

// GetVideos fetches several videos, batching ids by the API page size
func (c *YouTubeClient) GetVideos(ctx context.Context, videoIDs []string) ([]*models.VideoData, error) {
	out := make([]*models.VideoData, 0, len(videoIDs))
	for start := 0; start < len(videoIDs); start += youtubeMaxPageSize {
		end := start + youtubeMaxPageSize
		if end > len(videoIDs) {
			end = len(videoIDs)
		}

		var resp struct {
			Items []ytVideoItem `json:"items"`
		}
		params := url.Values{}
		params.Set("part", "snippet,contentDetails,statistics,status")
		params.Set("id", strings.Join(videoIDs[start:end], ","))
		if err := c.get(ctx, ratelimit.ResourceVideos, ratelimit.PriorityHigh, params, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Items {
			out = append(out, resp.Items[i].toVideoData())
		}
	}
	return out, nil
}

// ResolveChannelID accepts a channel id, a /channel/ URL, an @handle or /c/
// URL, or a legacy /user/ URL, and returns the channel id.
func (c *YouTubeClient) ResolveChannelID(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if channelIDPattern.MatchString(input) {
		return input, nil
	}
	if m := channelPathPattern.FindStringSubmatch(input); m != nil {
		return m[1], nil
	}

	params := url.Values{}
	params.Set("part", "id")
	switch {
	case handlePathPattern.MatchString(input):
		handle := handlePathPattern.FindStringSubmatch(input)[1]
		params.Set("forHandle", strings.TrimPrefix(strings.TrimPrefix(handle, "@"), "c/"))
	case strings.HasPrefix(input, "@"):
		params.Set("forHandle", strings.TrimPrefix(input, "@"))
	case userPathPattern.MatchString(input):
		params.Set("forUsername", userPathPattern.FindStringSubmatch(input)[1])
	default:
		return "", errors.NewInvalidParameterError("channel", "not a YouTube channel URL or id")
	}

	var resp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := c.get(ctx, ratelimit.ResourceChannels, ratelimit.PriorityLow, params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ID == "" {
		return "", errors.NewNotFoundError("channel", input)
	}
	return resp.Items[0].ID, nil
}

// UploadsPlaylistID returns the id of the channel's uploads playlist
func (c *YouTubeClient) UploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	var resp struct {
		Items []struct {
			ContentDetails struct {
				RelatedPlaylists struct {
					Uploads string `json:"uploads"`
				} `json:"relatedPlaylists"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("id", channelID)
	if err := c.get(ctx, ratelimit.ResourceChannels, ratelimit.PriorityLow, params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", errors.NewNotFoundError("channel uploads", channelID)
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// ListChannelVideos returns up to maxResults of the channel's most recent
// uploads, following page tokens as needed.
func (c *YouTubeClient) ListChannelVideos(ctx context.Context, channelID string, maxResults int) ([]models.ChannelVideo, error) {
	if maxResults <= 0 {
		maxResults = youtubeMaxPageSize
	}
	playlistID, err := c.UploadsPlaylistID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"channelId":  channelID,
		"playlistId": playlistID,
	})

	videos := make([]models.ChannelVideo, 0, maxResults)
	pageToken := ""
	for len(videos) < maxResults {
		pageSize := maxResults - len(videos)
		if pageSize > youtubeMaxPageSize {
			pageSize = youtubeMaxPageSize
		}

		var resp struct {
			NextPageToken string `json:"nextPageToken"`
			Items         []struct {
				Snippet struct {
					Title string `json:"title"`
				} `json:"snippet"`
				ContentDetails struct {
					VideoID          string `json:"videoId"`
					VideoPublishedAt string `json:"videoPublishedAt"`
				} `json:"contentDetails"`
			} `json:"items"`
		}
		params := url.Values{}
		params.Set("part", "snippet,contentDetails")
		params.Set("playlistId", playlistID)
		params.Set("maxResults", strconv.Itoa(pageSize))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		if err := c.get(ctx, ratelimit.ResourcePlaylistItems, ratelimit.PriorityLow, params, &resp); err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			if item.ContentDetails.VideoID == "" {
				continue
			}
			videos = append(videos, models.ChannelVideo{
				VideoID:     item.ContentDetails.VideoID,
				Title:       item.Snippet.Title,
				PublishedAt: item.ContentDetails.VideoPublishedAt,
			})
		}

		if resp.NextPageToken == "" || len(resp.Items) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(videos) > maxResults {
		videos = videos[:maxResults]
	}
	logger.WithField("count", len(videos)).Info("Listed channel uploads")
	return videos, nil
}
