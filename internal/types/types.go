// Package types holds the shared enums and value helpers of the importer.
package types

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// JobStatus is the lifecycle state of an import job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
	JobStatusSkipped    JobStatus = "skipped"
)

// AllJobStatuses lists statuses in dashboard order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusDone,
	JobStatusError,
	JobStatusSkipped,
}

// Origin identifies what submitted a job
type Origin string

const (
	OriginManual        Origin = "manual"
	OriginBatch         Origin = "batch"
	OriginChannel       Origin = "channel"
	OriginRSS           Origin = "rss"
	OriginPremiereReady Origin = "premiere-ready"
)

// IsValid reports whether o is a known origin.
func (o Origin) IsValid() bool {
	switch o {
	case OriginManual, OriginBatch, OriginChannel, OriginRSS, OriginPremiereReady:
		return true
	}
	return false
}

// QueueStatusWaitingPremiere marks a record whose editorial pipeline is parked.
const QueueStatusWaitingPremiere = "waiting_premiere"

// ServiceError represents a service-level error returned over the API
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var isoDurationPattern = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)

// ParseISODuration converts an ISO-8601 "PT#H#M#S" duration into seconds.
// Missing components count as zero; unparseable input yields 0.
func ParseISODuration(duration string) int {
	m := isoDurationPattern.FindStringSubmatch(duration)
	if m == nil {
		return 0
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	return hours*3600 + minutes*60 + seconds
}

// FormatISODuration renders seconds as an ISO-8601 duration.
func FormatISODuration(seconds int) string {
	if seconds <= 0 {
		return "PT0S"
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	var b strings.Builder
	b.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}

// FormatDuration renders seconds as H:MM:SS when there are hours, M:SS otherwise.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatClock renders seconds as MM:SS, the form used in skip reasons.
func FormatClock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", (seconds/60)%60, seconds%60)
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// IsVideoID reports whether s looks like a YouTube video id.
func IsVideoID(s string) bool {
	return videoIDPattern.MatchString(s)
}

// ExtractVideoID returns the video id from a bare id or any of the common
// YouTube URL shapes (watch, youtu.be, shorts, embed, live).
func ExtractVideoID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if IsVideoID(input) {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("not a YouTube URL: %q", input)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")

	var candidate string
	switch host {
	case "youtu.be":
		candidate = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			candidate = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "shorts", "embed", "live", "v":
				candidate = parts[1]
			}
		}
	}

	if !IsVideoID(candidate) {
		return "", fmt.Errorf("no video id in URL: %q", input)
	}
	return candidate, nil
}

// WatchURL builds the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
