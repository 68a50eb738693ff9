package api

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/video-importer/internal/job"
	"github.com/video-importer/internal/types"
)

// maxBatchSize caps one batch submission
const maxBatchSize = 200

type submitJobRequest struct {
	VideoURL string       `json:"videoUrl" validate:"required_without=VideoID"`
	VideoID  string       `json:"videoId" validate:"required_without=VideoURL"`
	Origin   types.Origin `json:"origin,omitempty"`
}

type submitBatchRequest struct {
	URLs []string `json:"urls" validate:"required,min=1,max=200,dive,required"`
}

type importChannelRequest struct {
	Channel    string `json:"channel" validate:"required"`
	MaxResults int    `json:"maxResults" validate:"omitempty,min=1,max=500"`
}

// handleSubmitJob handles POST /api/v1/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	origin := req.Origin
	if origin == "" {
		origin = types.OriginManual
	}
	if !origin.IsValid() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "unknown origin", map[string]interface{}{"origin": origin})
		return
	}

	input := req.VideoURL
	if input == "" {
		input = req.VideoID
	}

	created, err := s.deps.Queue.Submit(r.Context(), input, origin)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// handleSubmitBatch handles POST /api/v1/jobs/batch
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), map[string]interface{}{"max": maxBatchSize})
		return
	}

	results := s.deps.Queue.SubmitBatch(r.Context(), req.URLs, types.OriginBatch)
	respondJSON(w, http.StatusOK, summarize(results))
}

// handleImportChannel handles POST /api/v1/channels/import
func (s *Server) handleImportChannel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Channels == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "channel import is not configured", nil)
		return
	}

	var req importChannelRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if req.MaxResults == 0 {
		req.MaxResults = 50
	}

	results, err := s.deps.Queue.ImportChannel(r.Context(), s.deps.Channels, req.Channel, req.MaxResults)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(results))
}

type batchResponse struct {
	Queued  int                `json:"queued"`
	Failed  int                `json:"failed"`
	Results []job.SubmitResult `json:"results"`
}

func summarize(results []job.SubmitResult) batchResponse {
	resp := batchResponse{Results: results}
	for _, res := range results {
		if res.Job != nil {
			resp.Queued++
		} else {
			resp.Failed++
		}
	}
	return resp
}

// handleListJobs handles GET /api/v1/jobs?limit=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := job.RecentJobsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	jobs, err := s.deps.Queue.Recent(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleJobStats handles GET /api/v1/jobs/stats
func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
		"total": stats.Total(),
	})
}

// handleProcessQueue handles POST /api/v1/queue/process
func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Processor.ProcessTick(r.Context())
	if stderrors.Is(err, job.ErrTickInProgress) {
		respondError(w, http.StatusConflict, ErrCodeTickInProgress, err.Error(), nil)
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleRefresh handles POST /api/v1/queue/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Refresher.RefreshAll(r.Context())
	if stderrors.Is(err, job.ErrTickInProgress) {
		respondError(w, http.StatusConflict, ErrCodeTickInProgress, "refresh already in progress", nil)
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleFeedPoll handles POST /api/v1/feeds/poll
func (s *Server) handleFeedPoll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feeds == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "feed import is not configured", nil)
		return
	}
	result, err := s.deps.Feeds.PollAll(r.Context())
	if stderrors.Is(err, job.ErrTickInProgress) {
		respondError(w, http.StatusConflict, ErrCodeTickInProgress, "feed poll already in progress", nil)
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleFeedStats handles GET /api/v1/feeds/stats
func (s *Server) handleFeedStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feeds == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "feed import is not configured", nil)
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Feeds.Stats())
}

// handleRemoveVideo handles DELETE /api/v1/videos/{videoId}
func (s *Server) handleRemoveVideo(w http.ResponseWriter, r *http.Request) {
	videoID := mux.Vars(r)["videoId"]
	if !types.IsVideoID(videoID) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid video id", nil)
		return
	}

	removed, err := s.deps.Queue.RemoveVideo(r.Context(), videoID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "video not found", map[string]interface{}{"videoId": videoID})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"videoId": videoID,
		"removed": true,
	})
}
