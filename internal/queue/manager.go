package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"snaporia/internal/transcode"
)

// Uploader and PostCreator are the external collaborators the worker drives.
// Implemented by api.Client; tests supply fakes.
type Uploader interface {
	Upload(ctx context.Context, media []byte, contentType string) (string, error)
}

type PostCreator interface {
	CreatePost(ctx context.Context, content string, imageURLs []string, videoURL string) error
}

const (
	defaultStepTimeout = 2 * time.Minute
	storeTimeout       = 10 * time.Second

	// Banner auto-dismiss intervals after terminal states.
	successHide = 1200 * time.Millisecond
	failureHide = 2500 * time.Millisecond
)

// Config wires a Manager.
type Config struct {
	Store      JobStore
	Transcoder transcode.Transcoder
	Uploader   Uploader
	Posts      PostCreator
	Logger     *zap.Logger

	// StepTimeout bounds each pipeline step (transcode, upload, publish) so
	// a hung call cannot wedge the queue forever. Zero means the default.
	StepTimeout time.Duration
}

// Manager is the public entry point for queueing publish jobs. It owns the
// pending-posts projection the UI renders, persists jobs for recovery, and
// runs them through a single-slot runner: at most one job is in flight, the
// rest wait in enqueue order.
type Manager struct {
	store       JobStore
	transcoder  transcode.Transcoder
	uploader    Uploader
	posts       PostCreator
	log         *zap.Logger
	stepTimeout time.Duration

	mu        sync.Mutex
	waiting   []*PublishJob // ordered, oldest first
	active    *PublishJob   // nil when the slot is empty
	pending   []PendingPost // UI projection, newest first
	status    Status
	hideTimer *time.Timer
}

func NewManager(cfg Config) *Manager {
	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	return &Manager{
		store:       cfg.Store,
		transcoder:  cfg.Transcoder,
		uploader:    cfg.Uploader,
		posts:       cfg.Posts,
		log:         cfg.Logger,
		stepTimeout: timeout,
	}
}

// Enqueue queues one video post. The job is projected into the pending list
// immediately, persisted best-effort, and started as soon as the slot is
// free. onDone may be nil; when set it fires exactly once with the terminal
// outcome.
func (m *Manager) Enqueue(media []byte, mediaType, content string, imageURLs []string, onDone func(ok bool)) string {
	job := &PublishJob{
		ID:        uuid.NewString(),
		Kind:      KindVideo,
		Media:     media,
		MediaType: mediaType,
		Content:   content,
		ImageURLs: imageURLs,
		CreatedAt: time.Now(),
		onDone:    onDone,
	}

	m.persistBestEffort(job.record())

	m.mu.Lock()
	m.pending = append([]PendingPost{projection(job)}, m.pending...)
	m.waiting = append(m.waiting, job)
	m.dispatchLocked()
	m.mu.Unlock()

	m.log.Info("job enqueued", zap.String("job_id", job.ID), zap.Int("bytes", len(media)))
	return job.ID
}

// Restore reloads persisted jobs after a restart, rebuilds their pending
// projections oldest first, and resumes processing. Finding nothing is a
// normal, silent no-op.
func (m *Manager) Restore(ctx context.Context) {
	recs, err := m.store.GetAll(ctx)
	if err != nil {
		m.log.Warn("job recovery failed", zap.Error(err))
		return
	}
	if len(recs) == 0 {
		return
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })

	m.mu.Lock()
	restored := 0
	for _, rec := range recs {
		if m.knownLocked(rec.ID) {
			continue
		}
		job := rec.job()
		m.pending = append(m.pending, projection(job))
		m.waiting = append(m.waiting, job)
		restored++
	}
	m.dispatchLocked()
	m.mu.Unlock()

	if restored > 0 {
		m.log.Info("restored persisted jobs", zap.Int("count", restored))
	}
}

// PendingPosts returns the UI projection of every queued or active job.
func (m *Manager) PendingPosts() []PendingPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingPost, len(m.pending))
	copy(out, m.pending)
	return out
}

// Status returns the current banner state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// dispatchLocked pulls the next waiting job into the slot if it is empty.
// While a terminal banner is on display its hide timer holds the slot; the
// timer dispatches after dismissing, so the banner gets its full interval
// before the next job starts reporting. Callers hold m.mu.
func (m *Manager) dispatchLocked() {
	if m.active != nil || len(m.waiting) == 0 || m.hideTimer != nil {
		return
	}
	job := m.waiting[0]
	m.waiting = m.waiting[1:]
	m.active = job
	go m.run(job)
}

func (m *Manager) knownLocked(id string) bool {
	if m.active != nil && m.active.ID == id {
		return true
	}
	for _, j := range m.waiting {
		if j.ID == id {
			return true
		}
	}
	return false
}

func projection(job *PublishJob) PendingPost {
	return PendingPost{
		ID:        job.ID,
		Kind:      job.Kind,
		Content:   job.Content,
		ImageURLs: job.ImageURLs,
		CreatedAt: job.CreatedAt,
	}
}

// persistBestEffort writes the job record, trading durability for
// availability: a store failure is logged and discarded so the posting flow
// never blocks on persistence.
func (m *Manager) persistBestEffort(rec JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Put(ctx, rec); err != nil {
		m.log.Warn("job not persisted; it will not survive a restart",
			zap.String("job_id", rec.ID), zap.Error(err))
	}
}

// deleteBestEffort removes the persisted record once the job is terminal.
// A failure here leaves a stale record that recovery will retry; that beats
// blocking the pipeline.
func (m *Manager) deleteBestEffort(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Delete(ctx, id); err != nil {
		m.log.Warn("persisted job not cleaned up", zap.String("job_id", id), zap.Error(err))
	}
}
