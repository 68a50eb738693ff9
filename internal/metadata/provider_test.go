package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/video-importer/internal/errors"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/storage"
)

type fakeVendor struct {
	active bool
	body   string
	err    error
	calls  int
}

func (f *fakeVendor) IsLicenseActive() bool { return f.active }

func (f *fakeVendor) FetchVideoData(ctx context.Context, videoID string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.body), nil
}

type fakeDirect struct {
	configured bool
	data       *models.VideoData
	err        error
	calls      int
}

func (f *fakeDirect) Configured() bool { return f.configured }

func (f *fakeDirect) GetVideo(ctx context.Context, videoID string) (*models.VideoData, error) {
	f.calls++
	return f.data, f.err
}

func newTestCache(t *testing.T) (*storage.CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storage.NewCacheService(storage.NewRedisCacheFromClient(client), time.Hour), mr
}

func TestDecodeVendorResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		nested  bool
		wantErr bool
	}{
		{"nested", `{"video_data":{"title":"A","duration":"PT10M"}}`, true, false},
		{"flat", `{"title":"A","duration":"PT10M"}`, false, false},
		{"nested without title", `{"video_data":{"duration":"PT10M"}}`, false, true},
		{"unknown", `{"ok":true}`, false, true},
		{"not json", `nope`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeVendorResponse(json.RawMessage(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.nested, resp.Nested != nil)
			assert.Equal(t, !tt.nested, resp.Flat != nil)
		})
	}
}

func TestNormalize(t *testing.T) {
	resp, err := DecodeVendorResponse(json.RawMessage(`{
		"title": " Intervista ",
		"duration": "PT15M30S",
		"view_count": "1200",
		"like_count": 7,
		"thumbnail_high": "https://i.ytimg.com/high.jpg",
		"thumbnail_default": "https://i.ytimg.com/default.jpg"
	}`))
	require.NoError(t, err)

	data := resp.Normalize("dQw4w9WgXcQ")
	assert.Equal(t, "dQw4w9WgXcQ", data.VideoID)
	assert.Equal(t, "Intervista", data.Title)
	assert.Equal(t, 930, data.DurationSeconds)
	assert.Equal(t, "15:30", data.DurationFormatted)
	assert.EqualValues(t, 1200, data.ViewCount)
	assert.EqualValues(t, 7, data.LikeCount)
	assert.Equal(t, "https://i.ytimg.com/high.jpg", data.ThumbnailURL)
	assert.Equal(t, map[string]string{
		"high":    "https://i.ytimg.com/high.jpg",
		"default": "https://i.ytimg.com/default.jpg",
	}, data.ThumbnailResolutions)
	assert.Equal(t, "vendor", data.Source)
}

func TestProvider_VendorThenCache(t *testing.T) {
	cache, mr := newTestCache(t)
	vendor := &fakeVendor{active: true, body: `{"video_data":{"title":"Da vendor","duration":"PT20M"}}`}
	direct := &fakeDirect{configured: true}
	p := NewProvider(vendor, direct, cache, time.Hour)
	ctx := context.Background()

	data, err := p.GetVideoData(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Da vendor", data.Title)

	data, err = p.GetVideoData(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, 1200, data.DurationSeconds)
	assert.Equal(t, 1, vendor.calls)
	assert.Equal(t, 0, direct.calls)

	mr.FastForward(2 * time.Hour)
	_, err = p.GetVideoData(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, 2, vendor.calls)
}

func TestProvider_RefreshBypassesCache(t *testing.T) {
	cache, _ := newTestCache(t)
	vendor := &fakeVendor{active: true, body: `{"title":"Premiere","duration":"PT0S"}`}
	p := NewProvider(vendor, nil, cache, time.Hour)
	ctx := context.Background()

	data, err := p.GetVideoData(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Zero(t, data.DurationSeconds)

	vendor.body = `{"title":"Premiere","duration":"PT15M30S"}`
	data, err = p.Refresh(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, 930, data.DurationSeconds)

	data, err = p.GetVideoData(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, 930, data.DurationSeconds, "refresh rewrites the cache")
}

func TestProvider_FallsBackToDirect(t *testing.T) {
	direct := &fakeDirect{configured: true, data: &models.VideoData{VideoID: "dQw4w9WgXcQ", Title: "Da YouTube"}}

	tests := []struct {
		name   string
		vendor *fakeVendor
	}{
		{"vendor error", &fakeVendor{active: true, err: errors.NewAPIError(503, "busy")}},
		{"unknown format", &fakeVendor{active: true, body: `{"ok":true}`}},
		{"license inactive", &fakeVendor{active: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.vendor, direct, nil, time.Hour)
			data, err := p.GetVideoData(context.Background(), "dQw4w9WgXcQ")
			require.NoError(t, err)
			assert.Equal(t, "Da YouTube", data.Title)
		})
	}
}

func TestProvider_Unavailable(t *testing.T) {
	vendor := &fakeVendor{active: true, err: fmt.Errorf("connection refused")}

	p := NewProvider(vendor, &fakeDirect{configured: false}, nil, time.Hour)
	_, err := p.GetVideoData(context.Background(), "dQw4w9WgXcQ")
	assert.True(t, errors.IsUnavailable(err))

	p = NewProvider(vendor, &fakeDirect{configured: true, err: errors.NewAPIError(403, "quota")}, nil, time.Hour)
	_, err = p.GetVideoData(context.Background(), "dQw4w9WgXcQ")
	assert.True(t, errors.IsUnavailable(err))
}
