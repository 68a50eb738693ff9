// Package metadata resolves YouTube video metadata from the vendor, falling
// back to the YouTube Data API, and caches the normalized result.
package metadata

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/video-importer/internal/errors"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/storage"
	"github.com/video-importer/internal/types"
)

// DefaultCacheTTL is how long normalized metadata is kept
const DefaultCacheTTL = time.Hour

// VendorSource is the vendor side of the provider
type VendorSource interface {
	IsLicenseActive() bool
	FetchVideoData(ctx context.Context, videoID string) (json.RawMessage, error)
}

// DirectSource is the YouTube Data API side of the provider
type DirectSource interface {
	Configured() bool
	GetVideo(ctx context.Context, videoID string) (*models.VideoData, error)
}

// Cache stores normalized metadata
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Provider returns normalized video metadata
type Provider struct {
	vendor VendorSource
	direct DirectSource
	cache  Cache
	ttl    time.Duration
}

// NewProvider creates a provider. direct and cache may be nil.
func NewProvider(vendor VendorSource, direct DirectSource, cache Cache, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Provider{vendor: vendor, direct: direct, cache: cache, ttl: ttl}
}

// GetVideoData returns metadata for a video, from cache when possible
func (p *Provider) GetVideoData(ctx context.Context, videoID string) (*models.VideoData, error) {
	logger := logging.FromContext(ctx).WithField("videoId", videoID)

	if p.cache != nil {
		var cached models.VideoData
		found, err := p.cache.Get(ctx, storage.VideoMetaKey(videoID), &cached)
		if err != nil {
			logger.WithError(err).Warn("Metadata cache read failed")
		}
		if found {
			logger.Debug("Video data from cache")
			return &cached, nil
		}
	}

	return p.fetch(ctx, videoID)
}

// Refresh bypasses the cache, fetches fresh metadata and stores it
func (p *Provider) Refresh(ctx context.Context, videoID string) (*models.VideoData, error) {
	return p.fetch(ctx, videoID)
}

func (p *Provider) fetch(ctx context.Context, videoID string) (*models.VideoData, error) {
	logger := logging.FromContext(ctx).WithField("videoId", videoID)

	var (
		data    *models.VideoData
		lastErr error
	)

	if p.vendor != nil && p.vendor.IsLicenseActive() {
		raw, err := p.vendor.FetchVideoData(ctx, videoID)
		if err != nil {
			logger.WithError(err).Warn("Vendor video data failed")
			lastErr = err
		} else {
			resp, err := DecodeVendorResponse(raw)
			if err != nil {
				logger.WithError(err).Warn("Vendor video data in unknown format")
				lastErr = err
			} else {
				data = resp.Normalize(videoID)
			}
		}
	} else {
		logger.Debug("License not active, skipping vendor video data")
	}

	if data == nil && p.direct != nil && p.direct.Configured() {
		logger.Info("Using YouTube Data API fallback")
		direct, err := p.direct.GetVideo(ctx, videoID)
		if err != nil {
			logger.WithError(err).Warn("YouTube Data API fallback failed")
			lastErr = err
		} else {
			data = direct
		}
	}

	if data == nil {
		return nil, errors.NewUnavailableError(videoID, lastErr)
	}

	if p.cache != nil {
		if err := p.cache.SetWithTTL(ctx, storage.VideoMetaKey(videoID), data, p.ttl); err != nil {
			logger.WithError(err).Warn("Metadata cache write failed")
		}
	}
	return data, nil
}

// VendorVideoResponse is the vendor's youtube/video-data payload. The vendor
// answers either {"video_data": {...}} or the flat object itself; exactly
// one of Nested and Flat is set after decoding.
type VendorVideoResponse struct {
	Nested *VendorVideo
	Flat   *VendorVideo
}

// VendorVideo is the vendor's flat video shape
type VendorVideo struct {
	VideoID          string   `json:"video_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	PublishedAt      string   `json:"published_at"`
	ChannelID        string   `json:"channel_id"`
	ChannelTitle     string   `json:"channel_title"`
	Tags             []string `json:"tags"`
	CategoryID       string   `json:"category_id"`
	Duration         string   `json:"duration"`
	Definition       string   `json:"definition"`
	Caption          string   `json:"caption"`
	ViewCount        flexInt  `json:"view_count"`
	LikeCount        flexInt  `json:"like_count"`
	CommentCount     flexInt  `json:"comment_count"`
	ThumbnailMaxres  string   `json:"thumbnail_maxres"`
	ThumbnailStd     string   `json:"thumbnail_standard"`
	ThumbnailHigh    string   `json:"thumbnail_high"`
	ThumbnailMedium  string   `json:"thumbnail_medium"`
	ThumbnailDefault string   `json:"thumbnail_default"`
}

func (v *VendorVideo) thumbnails() map[string]string {
	return map[string]string{
		"maxres":   v.ThumbnailMaxres,
		"standard": v.ThumbnailStd,
		"high":     v.ThumbnailHigh,
		"medium":   v.ThumbnailMedium,
		"default":  v.ThumbnailDefault,
	}
}

// flexInt accepts a JSON number or a numeric string
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			*f = 0
			return nil
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

// DecodeVendorResponse decodes a youtube/video-data body. A body with neither
// a video_data object nor a non-empty title is an error.
func DecodeVendorResponse(raw json.RawMessage) (*VendorVideoResponse, error) {
	var envelope struct {
		VideoData *VendorVideo `json:"video_data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.NewAPIError(200, "invalid video data response")
	}
	if envelope.VideoData != nil {
		if strings.TrimSpace(envelope.VideoData.Title) == "" {
			return nil, errors.NewEmptyResponseError("title")
		}
		return &VendorVideoResponse{Nested: envelope.VideoData}, nil
	}

	var flat VendorVideo
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, errors.NewAPIError(200, "invalid video data response")
	}
	if strings.TrimSpace(flat.Title) == "" {
		return nil, errors.NewEmptyResponseError("title")
	}
	return &VendorVideoResponse{Flat: &flat}, nil
}

// Normalize converts either shape into VideoData
func (r *VendorVideoResponse) Normalize(videoID string) *models.VideoData {
	v := r.Flat
	if r.Nested != nil {
		v = r.Nested
	}

	id := v.VideoID
	if id == "" {
		id = videoID
	}
	duration := v.Duration
	if duration == "" {
		duration = "PT0S"
	}
	seconds := types.ParseISODuration(duration)
	caption := v.Caption
	if caption == "" {
		caption = "false"
	}

	data := &models.VideoData{
		VideoID:              id,
		Title:                strings.TrimSpace(v.Title),
		Description:          v.Description,
		PublishedAt:          v.PublishedAt,
		ChannelID:            v.ChannelID,
		ChannelTitle:         v.ChannelTitle,
		Tags:                 v.Tags,
		CategoryID:           v.CategoryID,
		ThumbnailResolutions: make(map[string]string),
		Duration:             v.Duration,
		DurationSeconds:      seconds,
		DurationFormatted:    types.FormatDuration(seconds),
		Definition:           v.Definition,
		Caption:              caption,
		ViewCount:            int64(v.ViewCount),
		LikeCount:            int64(v.LikeCount),
		CommentCount:         int64(v.CommentCount),
		Embeddable:           true,
		Source:               "vendor",
	}
	if data.Tags == nil {
		data.Tags = []string{}
	}

	thumbs := v.thumbnails()
	for _, res := range models.ThumbnailPriority {
		if url := thumbs[res]; url != "" {
			if data.ThumbnailURL == "" {
				data.ThumbnailURL = url
			}
			data.ThumbnailResolutions[res] = url
		}
	}
	return data
}
