package models

import "time"

// ThumbnailPriority lists thumbnail resolutions from best to worst
var ThumbnailPriority = []string{"maxres", "standard", "high", "medium", "default"}

// VideoData is normalized video metadata, whichever source produced it
type VideoData struct {
	VideoID              string            `json:"video_id"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	PublishedAt          string            `json:"published_at"`
	ChannelID            string            `json:"channel_id"`
	ChannelTitle         string            `json:"channel_title"`
	Tags                 []string          `json:"tags"`
	CategoryID           string            `json:"category_id"`
	ThumbnailURL         string            `json:"thumbnail_url"`
	ThumbnailResolutions map[string]string `json:"thumbnail_resolutions"`
	Duration             string            `json:"duration"`
	DurationSeconds      int               `json:"duration_seconds"`
	DurationFormatted    string            `json:"duration_formatted"`
	Definition           string            `json:"definition"`
	Caption              string            `json:"caption"`
	ViewCount            int64             `json:"view_count"`
	LikeCount            int64             `json:"like_count"`
	CommentCount         int64             `json:"comment_count"`
	PrivacyStatus        string            `json:"privacy_status"`
	Embeddable           bool              `json:"embeddable"`
	MadeForKids          bool              `json:"made_for_kids"`
	Source               string            `json:"source"` // vendor or youtube
}

// VideoRecord is the published record of an imported video
type VideoRecord struct {
	ID                int64      `json:"id" db:"id"`
	VideoID           string     `json:"videoId" db:"video_id"`
	VideoURL          string     `json:"videoUrl" db:"video_url"`
	Title             string     `json:"title" db:"title"`
	Description       string     `json:"description" db:"description"`
	PublishedAt       *time.Time `json:"publishedAt,omitempty" db:"published_at"`
	ChannelID         string     `json:"channelId" db:"channel_id"`
	ChannelTitle      string     `json:"channelTitle" db:"channel_title"`
	DurationISO       string     `json:"durationIso" db:"duration_iso"`
	DurationSeconds   int        `json:"durationSeconds" db:"duration_seconds"`
	DurationFormatted string     `json:"durationFormatted" db:"duration_formatted"`
	ThumbnailURL      string     `json:"thumbnailUrl" db:"thumbnail_url"`
	ThumbnailKey      *string    `json:"thumbnailKey,omitempty" db:"thumbnail_key"`
	Definition        string     `json:"definition" db:"definition"`
	ViewCount         int64      `json:"viewCount" db:"view_count"`
	LikeCount         int64      `json:"likeCount" db:"like_count"`
	CommentCount      int64      `json:"commentCount" db:"comment_count"`
	Transcript        *string    `json:"transcript,omitempty" db:"transcript"`
	AIDescription     *string    `json:"aiDescription,omitempty" db:"ai_description"`
	Hashtags          []string   `json:"hashtags" db:"hashtags"`
	Speakers          []string   `json:"speakers" db:"speakers"`
	Topics            []string   `json:"topics" db:"topics"`
	PremierePending   bool       `json:"premierePending" db:"premiere_pending"`
	QueueStatus       *string    `json:"queueStatus,omitempty" db:"queue_status"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time  `json:"updatedAt" db:"updated_at"`
}

// ApplyVideoData copies metadata fields onto the record
func (r *VideoRecord) ApplyVideoData(data *VideoData) {
	if data.Title != "" {
		r.Title = data.Title
	}
	r.Description = data.Description
	r.ChannelID = data.ChannelID
	r.ChannelTitle = data.ChannelTitle
	r.DurationISO = data.Duration
	r.DurationSeconds = data.DurationSeconds
	r.DurationFormatted = data.DurationFormatted
	r.ThumbnailURL = data.ThumbnailURL
	r.Definition = data.Definition
	r.ViewCount = data.ViewCount
	r.LikeCount = data.LikeCount
	r.CommentCount = data.CommentCount
	if t, err := time.Parse(time.RFC3339, data.PublishedAt); err == nil {
		r.PublishedAt = &t
	}
}

// FeedEntry is one video announced by a channel feed
type FeedEntry struct {
	VideoID     string     `json:"videoId"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// ChannelVideo is one entry of a channel's uploads listing
type ChannelVideo struct {
	VideoID     string `json:"videoId"`
	Title       string `json:"title"`
	PublishedAt string `json:"publishedAt"`
}
