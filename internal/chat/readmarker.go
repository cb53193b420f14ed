package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// markDebounce matches the short delay the UI waits after rendering an
	// incoming message before acknowledging it, so bursts collapse into one
	// mark-read call.
	markDebounce = 100 * time.Millisecond
	markTimeout  = 10 * time.Second
)

// readMarker batches ids of incoming messages and acknowledges them with a
// single mark-read call per burst. Failures are logged only; the server will
// get another chance on the next batch or reload.
type readMarker struct {
	conversationID string
	backend        Backend
	log            *zap.Logger
	debounce       time.Duration

	mu     sync.Mutex
	ids    []string
	timer  *time.Timer
	closed bool
}

func newReadMarker(conversationID string, backend Backend, log *zap.Logger) *readMarker {
	return &readMarker{
		conversationID: conversationID,
		backend:        backend,
		log:            log,
		debounce:       markDebounce,
	}
}

func (m *readMarker) Add(ids ...string) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.ids = append(m.ids, ids...)
	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, m.flush)
	}
}

func (m *readMarker) flush() {
	m.mu.Lock()
	ids := m.ids
	m.ids = nil
	m.timer = nil
	m.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()
	if err := m.backend.MarkRead(ctx, m.conversationID, ids); err != nil {
		m.log.Warn("mark-read failed",
			zap.String("conversation_id", m.conversationID),
			zap.Int("count", len(ids)),
			zap.Error(err))
	}
}

func (m *readMarker) Close() {
	m.mu.Lock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	m.flush()
}
