package chat

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"snaporia/internal/realtime"
)

// Realtime event names, as broadcast by the server.
const (
	EventNewMessage   = "new-message"
	EventMessagesRead = "messages-read"
)

// window is one open conversation: its thread plus the live channel feeding it.
type window struct {
	thread *Thread
	sub    realtime.Subscription
	done   chan struct{}
}

// Service owns the open conversation windows and the per-user channel used
// for cross-conversation previews. One subscription exists per open
// conversation; closing a window tears its subscription down so remounts do
// not leak handlers.
type Service struct {
	selfID    string
	backend   Backend
	transport realtime.Transport
	log       *zap.Logger

	mu      sync.Mutex
	windows map[string]*window
	unread  map[string]int
	userSub realtime.Subscription
}

func NewService(selfID string, backend Backend, transport realtime.Transport, log *zap.Logger) *Service {
	return &Service{
		selfID:    selfID,
		backend:   backend,
		transport: transport,
		log:       log,
		windows:   make(map[string]*window),
		unread:    make(map[string]int),
	}
}

// Start subscribes the per-user channel that feeds notification previews and
// unread counts for conversations that are not currently open.
func (s *Service) Start() {
	s.mu.Lock()
	if s.userSub != nil {
		s.mu.Unlock()
		return
	}
	sub := s.transport.Subscribe(realtime.UserChannel(s.selfID))
	s.userSub = sub
	s.mu.Unlock()

	go func() {
		for ev := range sub.Events() {
			if ev.Event != EventNewMessage {
				continue
			}
			var msg Message
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				s.log.Warn("bad user-channel payload", zap.Error(err))
				continue
			}
			s.bumpUnread(msg)
		}
	}()
}

func (s *Service) bumpUnread(msg Message) {
	if msg.SenderID == s.selfID || msg.ConversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, open := s.windows[msg.ConversationID]; open {
		// The open window marks it read itself.
		return
	}
	s.unread[msg.ConversationID]++
}

// Unread returns the per-conversation unread counts for closed conversations.
func (s *Service) Unread() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.unread))
	for id, n := range s.unread {
		out[id] = n
	}
	return out
}

// Open returns the live thread for a conversation, creating it (history
// fetch plus channel subscription) on first use. Opening resets the
// conversation's unread count.
func (s *Service) Open(ctx context.Context, conversationID string) (*Thread, error) {
	s.mu.Lock()
	if w, ok := s.windows[conversationID]; ok {
		delete(s.unread, conversationID)
		s.mu.Unlock()
		return w.thread, nil
	}
	s.mu.Unlock()

	thread := NewThread(conversationID, s.selfID, s.backend, s.log)
	if err := thread.Load(ctx); err != nil {
		thread.Close()
		return nil, err
	}

	sub := s.transport.Subscribe(realtime.ConversationChannel(conversationID))
	w := &window{thread: thread, sub: sub, done: make(chan struct{})}

	s.mu.Lock()
	if existing, ok := s.windows[conversationID]; ok {
		// Lost a race with another Open; keep the first window.
		s.mu.Unlock()
		sub.Close()
		thread.Close()
		return existing.thread, nil
	}
	s.windows[conversationID] = w
	delete(s.unread, conversationID)
	s.mu.Unlock()

	go s.pump(w)
	return thread, nil
}

// pump routes channel events into the thread until the window closes.
func (s *Service) pump(w *window) {
	defer close(w.done)
	for ev := range w.sub.Events() {
		switch ev.Event {
		case EventNewMessage:
			var msg Message
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				s.log.Warn("bad new-message payload", zap.Error(err))
				continue
			}
			w.thread.HandleNewMessage(msg)
		case EventMessagesRead:
			var receipt ReadReceipt
			if err := json.Unmarshal(ev.Data, &receipt); err != nil {
				s.log.Warn("bad messages-read payload", zap.Error(err))
				continue
			}
			w.thread.HandleRead(receipt)
		}
	}
}

// Close tears down one conversation window: unsubscribes its channel, stops
// the event pump and flushes outstanding read acknowledgements.
func (s *Service) Close(conversationID string) {
	s.mu.Lock()
	w, ok := s.windows[conversationID]
	if ok {
		delete(s.windows, conversationID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	w.sub.Close()
	<-w.done
	w.thread.Close()
}

// Stop closes every window and the per-user channel.
func (s *Service) Stop() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.windows))
	for id := range s.windows {
		ids = append(ids, id)
	}
	userSub := s.userSub
	s.userSub = nil
	s.mu.Unlock()

	for _, id := range ids {
		s.Close(id)
	}
	if userSub != nil {
		userSub.Close()
	}
}
