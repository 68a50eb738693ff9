package job

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/service"
	"github.com/video-importer/internal/storage"
	"github.com/video-importer/internal/types"
)

type memJobs struct {
	mu     sync.Mutex
	nextID int64
	jobs   []*models.ImportJob
	clock  time.Time

	enqueueErr error
}

func newMemJobs() *memJobs {
	return &memJobs{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memJobs) Enqueue(ctx context.Context, videoID, videoURL string, origin types.Origin) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return nil, m.enqueueErr
	}
	m.nextID++
	m.clock = m.clock.Add(time.Second)
	job := &models.ImportJob{
		ID:        m.nextID,
		VideoID:   videoID,
		VideoURL:  videoURL,
		Origin:    origin,
		Status:    types.JobStatusPending,
		CreatedAt: m.clock,
		UpdatedAt: m.clock,
	}
	m.jobs = append(m.jobs, job)
	cp := *job
	return &cp, nil
}

func (m *memJobs) DequeuePending(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ImportJob
	for _, j := range m.jobs {
		if j.Status == types.JobStatusPending && len(out) < limit {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobs) ListRecent(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ImportJob, 0, len(m.jobs))
	for i := len(m.jobs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.jobs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memJobs) set(id int64, status types.JobStatus, msg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			j.Status = status
			if status == types.JobStatusProcessing {
				j.Attempts++
			}
			if msg != nil {
				j.LastError = msg
			}
			return nil
		}
	}
	return storage.ErrRecordNotFound
}

func (m *memJobs) MarkProcessing(ctx context.Context, id int64) error {
	return m.set(id, types.JobStatusProcessing, nil)
}

func (m *memJobs) MarkDone(ctx context.Context, id int64) error {
	return m.set(id, types.JobStatusDone, nil)
}

func (m *memJobs) MarkError(ctx context.Context, id int64, message string) error {
	return m.set(id, types.JobStatusError, &message)
}

func (m *memJobs) MarkSkipped(ctx context.Context, id int64, reason string) error {
	return m.set(id, types.JobStatusSkipped, &reason)
}

func (m *memJobs) RemoveByVideoID(ctx context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.jobs[:0]
	removed := false
	for _, j := range m.jobs {
		if j.VideoID == videoID {
			removed = true
			continue
		}
		kept = append(kept, j)
	}
	m.jobs = kept
	return removed, nil
}

func (m *memJobs) HasActive(ctx context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.VideoID == videoID && (j.Status == types.JobStatusPending || j.Status == types.JobStatusProcessing) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memJobs) HasAny(ctx context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.VideoID == videoID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memJobs) GetStats(ctx context.Context) (*models.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[types.JobStatus]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	stats := &models.QueueStats{}
	for status, n := range counts {
		stats.Set(status, n)
	}
	return stats, nil
}

func (m *memJobs) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status == types.JobStatusProcessing {
			j.Status = types.JobStatusPending
			n++
		}
	}
	return n, nil
}

func (m *memJobs) byVideo(videoID string) []*models.ImportJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ImportJob
	for _, j := range m.jobs {
		if j.VideoID == videoID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out
}

type memRecords struct {
	mu          sync.Mutex
	records     map[string]*models.VideoRecord
	updateErr   map[string]error
	transcripts map[string]string
}

func newMemRecords() *memRecords {
	return &memRecords{
		records:     make(map[string]*models.VideoRecord),
		updateErr:   make(map[string]error),
		transcripts: make(map[string]string),
	}
}

func (m *memRecords) GetByVideoID(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[videoID]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecords) Exists(ctx context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[videoID]
	return ok, nil
}

func (m *memRecords) Create(ctx context.Context, rec *models.VideoRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.VideoID]; ok {
		return stderrors.New("duplicate video_id")
	}
	rec.ID = int64(len(m.records) + 1)
	cp := *rec
	m.records[rec.VideoID] = &cp
	return nil
}

func (m *memRecords) UpdateMetadata(ctx context.Context, rec *models.VideoRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[rec.VideoID]; err != nil {
		return err
	}
	stored, ok := m.records[rec.VideoID]
	if !ok {
		return storage.ErrRecordNotFound
	}
	pending, status, key := stored.PremierePending, stored.QueueStatus, stored.ThumbnailKey
	cp := *rec
	cp.PremierePending, cp.QueueStatus, cp.ThumbnailKey = pending, status, key
	m.records[rec.VideoID] = &cp
	return nil
}

func (m *memRecords) SetThumbnailKey(ctx context.Context, videoID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[videoID].ThumbnailKey = &key
	return nil
}

func (m *memRecords) SetPremierePending(ctx context.Context, videoID string, pending bool, queueStatus *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[videoID]
	if !ok {
		return storage.ErrRecordNotFound
	}
	rec.PremierePending = pending
	rec.QueueStatus = queueStatus
	return nil
}

func (m *memRecords) SaveTranscript(ctx context.Context, videoID, transcript string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[videoID] = transcript
	return nil
}

func (m *memRecords) ListAll(ctx context.Context) ([]*models.VideoRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.VideoRecord, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRecords) Delete(ctx context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[videoID]
	delete(m.records, videoID)
	return ok, nil
}

func (m *memRecords) get(videoID string) *models.VideoRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[videoID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

type fakeMetadata struct {
	mu        sync.Mutex
	data      map[string]*models.VideoData
	err       map[string]error
	refreshes int
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{data: make(map[string]*models.VideoData), err: make(map[string]error)}
}

func (f *fakeMetadata) put(videoID string, seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[videoID] = &models.VideoData{
		VideoID:           videoID,
		Title:             "Video " + videoID,
		DurationSeconds:   seconds,
		DurationFormatted: types.FormatDuration(seconds),
		ThumbnailURL:      "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg",
	}
}

func (f *fakeMetadata) GetVideoData(ctx context.Context, videoID string) (*models.VideoData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err[videoID]; err != nil {
		return nil, err
	}
	data, ok := f.data[videoID]
	if !ok {
		return nil, stderrors.New("metadata unavailable")
	}
	cp := *data
	return &cp, nil
}

func (f *fakeMetadata) Refresh(ctx context.Context, videoID string) (*models.VideoData, error) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return f.GetVideoData(ctx, videoID)
}

type fakeTranscripts struct {
	mu    sync.Mutex
	calls []string
	text  string
	err   error
	panic bool
}

func (f *fakeTranscripts) GetTranscript(ctx context.Context, videoID, mode, lang string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, videoID)
	f.mu.Unlock()
	if f.panic {
		panic("transcript decoder exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeTranscripts) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEditor struct {
	mu    sync.Mutex
	calls []string
	err   error
	block chan struct{}
}

func (f *fakeEditor) Generate(ctx context.Context, rec *models.VideoRecord, transcript string) (*service.Editorial, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, rec.VideoID)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &service.Editorial{Description: "desc"}, nil
}

type fakeThumbnails struct {
	err     error
	stored  []string
	deleted []string
}

func (f *fakeThumbnails) Store(ctx context.Context, videoID, imageURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, videoID)
	return "thumbnails/" + videoID + ".jpg", nil
}

func (f *fakeThumbnails) Delete(ctx context.Context, videoID string) error {
	f.deleted = append(f.deleted, videoID)
	return nil
}

type fakeWaker struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeWaker) Wake(delay time.Duration) {
	f.mu.Lock()
	f.delays = append(f.delays, delay)
	f.mu.Unlock()
}

type fakeLister struct {
	videos []models.ChannelVideo
	err    error
}

func (f *fakeLister) ResolveChannelID(ctx context.Context, input string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "UC1234567890123456789012", nil
}

func (f *fakeLister) ListChannelVideos(ctx context.Context, channelID string, maxResults int) ([]models.ChannelVideo, error) {
	if len(f.videos) > maxResults {
		return f.videos[:maxResults], nil
	}
	return f.videos, nil
}

// pipeline wires a queue, processor and refresher over in-memory fakes
type pipeline struct {
	jobs        *memJobs
	records     *memRecords
	metadata    *fakeMetadata
	transcripts *fakeTranscripts
	editor      *fakeEditor
	thumbnails  *fakeThumbnails
	waker       *fakeWaker

	queue     *Queue
	processor *Processor
	refresher *Refresher
}

func newPipeline() *pipeline {
	p := &pipeline{
		jobs:        newMemJobs(),
		records:     newMemRecords(),
		metadata:    newFakeMetadata(),
		transcripts: &fakeTranscripts{text: "trascrizione del video"},
		editor:      &fakeEditor{},
		thumbnails:  &fakeThumbnails{},
		waker:       &fakeWaker{},
	}
	p.queue = NewQueue(p.jobs, p.records, p.thumbnails, 0)
	p.queue.SetWaker(p.waker)
	p.processor = NewProcessor(p.jobs, p.records, p.metadata, p.transcripts, p.editor, p.thumbnails, ProcessorConfig{})
	p.refresher = NewRefresher(p.records, p.metadata, p.queue)
	return p
}
