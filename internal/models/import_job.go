package models

import (
	"time"

	"github.com/video-importer/internal/types"
)

// ImportJob represents one queued import of a single video
type ImportJob struct {
	ID        int64           `json:"id" db:"id"`
	VideoID   string          `json:"videoId" db:"video_id"`
	VideoURL  string          `json:"videoUrl" db:"video_url"`
	Origin    types.Origin    `json:"origin" db:"source"`
	Status    types.JobStatus `json:"status" db:"status"`
	Attempts  int             `json:"attempts" db:"attempts"`
	LastError *string         `json:"lastError,omitempty" db:"last_error"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// QueueStats holds job counts by status
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Error      int64 `json:"error"`
	Skipped    int64 `json:"skipped"`
}

// Total returns the number of jobs across all statuses
func (s *QueueStats) Total() int64 {
	return s.Pending + s.Processing + s.Done + s.Error + s.Skipped
}

// Set assigns the count for a status; unknown statuses are ignored
func (s *QueueStats) Set(status types.JobStatus, count int64) {
	switch status {
	case types.JobStatusPending:
		s.Pending = count
	case types.JobStatusProcessing:
		s.Processing = count
	case types.JobStatusDone:
		s.Done = count
	case types.JobStatusError:
		s.Error = count
	case types.JobStatusSkipped:
		s.Skipped = count
	}
}
