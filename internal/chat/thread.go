package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backend is what a thread needs from the chat collaborators. Implemented by
// api.Client; tests supply fakes.
type Backend interface {
	SendMessage(ctx context.Context, conversationID, content string) (Message, error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
	Messages(ctx context.Context, conversationID string) ([]Message, error)
}

// Thread holds the reconciled, ordered view of one conversation. It merges
// three event sources into a single list: the initial history fetch, locally
// sent optimistic messages, and inbound realtime events.
type Thread struct {
	conversationID string
	selfID         string
	backend        Backend
	log            *zap.Logger
	marker         *readMarker

	mu   sync.Mutex
	msgs []Message
}

func NewThread(conversationID, selfID string, backend Backend, log *zap.Logger) *Thread {
	return &Thread{
		conversationID: conversationID,
		selfID:         selfID,
		backend:        backend,
		log:            log.With(zap.String("conversation_id", conversationID)),
		marker:         newReadMarker(conversationID, backend, log),
	}
}

// Load fetches the conversation history. Incoming messages not yet read are
// queued for a batched mark-read, as if they had just been rendered.
func (t *Thread) Load(ctx context.Context) error {
	history, err := t.backend.Messages(ctx, t.conversationID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	t.mu.Lock()
	t.mergeHistoryLocked(history)
	unread := t.unreadIncomingLocked()
	t.mu.Unlock()

	t.marker.Add(unread...)
	return nil
}

// Reload is Load for an already-live thread: it refreshes from the server
// without dropping local pending or failed entries.
func (t *Thread) Reload(ctx context.Context) error {
	return t.Load(ctx)
}

// mergeHistoryLocked folds a server history into the current list. Server
// entries win on status per Merge; local entries the server does not know
// about yet (pending, failed, or racing confirmations) are kept.
func (t *Thread) mergeHistoryLocked(history []Message) {
	for _, m := range history {
		if m.Status == StatusPending {
			// Anything the server persisted is at least sent.
			m.Status = StatusSent
		}
		if i := t.indexByIDLocked(m.ID); i >= 0 {
			m.TempID = t.msgs[i].TempID
			m.Status = Merge(t.msgs[i].Status, m.Status)
			t.msgs[i] = m
			continue
		}
		// A self-sent entry the server knows but we do not is the history
		// view of a send still in flight. Fold it into the oldest pending
		// entry, as with the realtime echo, so the late response reconciles
		// instead of leaving two rows with the same id.
		if m.SenderID == t.selfID {
			if i := t.oldestPendingFromSelfLocked(); i >= 0 {
				m.TempID = t.msgs[i].TempID
				m.Status = Merge(t.msgs[i].Status, m.Status)
				t.msgs[i] = m
				continue
			}
		}
		t.msgs = append(t.msgs, m)
	}
	t.sortLocked()
}

// sendTimeout bounds the background send; the api client has its own HTTP
// timeout, this is the outer guard.
const sendTimeout = 60 * time.Second

// Send inserts a pending message immediately and fires the network send in
// the background. The UI never waits on the network for display. Returns the
// temp id identifying the optimistic entry.
func (t *Thread) Send(content string) string {
	tempID := "temp-" + uuid.NewString()
	msg := Message{
		ID:             tempID,
		TempID:         tempID,
		ConversationID: t.conversationID,
		SenderID:       t.selfID,
		Content:        content,
		CreatedAt:      time.Now(),
		Status:         StatusPending,
	}

	t.mu.Lock()
	t.msgs = append(t.msgs, msg)
	t.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		confirmed, err := t.backend.SendMessage(ctx, t.conversationID, content)
		if err != nil {
			t.log.Warn("send failed", zap.String("temp_id", tempID), zap.Error(err))
			t.failSend(tempID)
			return
		}
		t.confirmSend(tempID, confirmed)
	}()

	return tempID
}

// confirmSend replaces the pending entry whose temp id matches, in place, so
// the message keeps its screen position. If the realtime echo already merged
// the entry, only the status is reconciled.
func (t *Thread) confirmSend(tempID string, confirmed Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	confirmed.TempID = tempID
	if confirmed.Status == StatusPending {
		confirmed.Status = StatusSent
	}

	if i := t.indexByTempIDLocked(tempID); i >= 0 {
		confirmed.Status = Merge(t.msgs[i].Status, confirmed.Status)
		t.msgs[i] = confirmed
		return
	}
	// The echo won the race and already replaced the entry under its
	// permanent id. Reconcile status on that entry instead.
	if i := t.indexByIDLocked(confirmed.ID); i >= 0 {
		t.msgs[i].Status = Merge(t.msgs[i].Status, confirmed.Status)
		t.msgs[i].TempID = tempID
	}
}

func (t *Thread) failSend(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexByTempIDLocked(tempID); i >= 0 {
		t.msgs[i].Status = Merge(t.msgs[i].Status, StatusFailed)
	}
}

// HandleNewMessage applies an inbound new-message realtime event.
func (t *Thread) HandleNewMessage(msg Message) {
	t.mu.Lock()

	if msg.Status == StatusPending {
		msg.Status = StatusSent
	}

	// Dedup: the event may race the HTTP response or be redelivered.
	if i := t.indexByIDLocked(msg.ID); i >= 0 {
		msg.TempID = t.msgs[i].TempID
		msg.Status = Merge(t.msgs[i].Status, msg.Status)
		t.msgs[i] = msg
		t.mu.Unlock()
		return
	}

	// The realtime echo of our own send can arrive before the HTTP response.
	// Treat it as confirmation of the oldest pending entry rather than
	// appending a duplicate row; the entry keeps its position.
	if msg.SenderID == t.selfID {
		if i := t.oldestPendingFromSelfLocked(); i >= 0 {
			msg.TempID = t.msgs[i].TempID
			msg.Status = Merge(t.msgs[i].Status, msg.Status)
			t.msgs[i] = msg
			t.mu.Unlock()
			return
		}
	}

	t.msgs = append(t.msgs, msg)
	t.sortLocked()
	fromOther := msg.SenderID != t.selfID
	t.mu.Unlock()

	// A just-rendered incoming message is acknowledged shortly after, batched
	// with any neighbours that arrive close together.
	if fromOther {
		t.marker.Add(msg.ID)
	}
}

// HandleRead applies an inbound messages-read realtime event. Only our own
// outgoing messages move to read; events about our own read actions on the
// other party's messages are ignored.
func (t *Thread) HandleRead(receipt ReadReceipt) {
	if receipt.ReadBy == t.selfID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range receipt.MessageIDs {
		i := t.indexByIDLocked(id)
		if i < 0 || t.msgs[i].SenderID != t.selfID {
			continue
		}
		t.msgs[i].Status = Merge(t.msgs[i].Status, StatusRead)
	}
}

// Messages returns a snapshot of the reconciled list, ordered by CreatedAt.
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// OtherParty returns the sender snapshot of the first message not sent by
// the local user, or nil if the other side has not spoken yet.
func (t *Thread) OtherParty() *Sender {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.msgs {
		if m.SenderID != t.selfID && m.Sender != nil {
			s := *m.Sender
			return &s
		}
	}
	return nil
}

// Close releases the batched read-marker. Pending acknowledgements are
// flushed before it stops.
func (t *Thread) Close() {
	t.marker.Close()
}

func (t *Thread) indexByIDLocked(id string) int {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Thread) indexByTempIDLocked(tempID string) int {
	for i := range t.msgs {
		if t.msgs[i].TempID == tempID {
			return i
		}
	}
	return -1
}

func (t *Thread) oldestPendingFromSelfLocked() int {
	for i := range t.msgs {
		if t.msgs[i].SenderID == t.selfID && t.msgs[i].Status == StatusPending {
			return i
		}
	}
	return -1
}

func (t *Thread) unreadIncomingLocked() []string {
	var ids []string
	for i := range t.msgs {
		if t.msgs[i].SenderID != t.selfID && t.msgs[i].Status != StatusRead {
			ids = append(ids, t.msgs[i].ID)
		}
	}
	return ids
}

// sortLocked restores the CreatedAt ordering after an append. The sort is
// stable so equal timestamps keep arrival order.
func (t *Thread) sortLocked() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		return t.msgs[i].CreatedAt.Before(t.msgs[j].CreatedAt)
	})
}
