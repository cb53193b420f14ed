package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snaporia/internal/realtime"
)

// fakeTransport hands out in-memory subscriptions keyed by channel name.
type fakeTransport struct {
	mu   sync.Mutex
	subs map[string]*fakeSub
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]*fakeSub)}
}

func (ft *fakeTransport) Subscribe(channel string) realtime.Subscription {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	sub := &fakeSub{channel: channel, events: make(chan realtime.Event, 16)}
	ft.subs[channel] = sub
	return sub
}

func (ft *fakeTransport) push(t *testing.T, channel, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	ft.mu.Lock()
	sub := ft.subs[channel]
	ft.mu.Unlock()
	require.NotNil(t, sub, "no subscription on %s", channel)
	sub.events <- realtime.Event{Channel: channel, Event: event, Data: data}
}

type fakeSub struct {
	channel string
	events  chan realtime.Event
	once    sync.Once
}

func (s *fakeSub) Channel() string               { return s.channel }
func (s *fakeSub) Events() <-chan realtime.Event { return s.events }
func (s *fakeSub) Close()                        { s.once.Do(func() { close(s.events) }) }

func newTestService(t *testing.T, backend *fakeBackend) (*Service, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	svc := NewService("self", backend, transport, zap.NewNop())
	t.Cleanup(svc.Stop)
	return svc, transport
}

func TestOpenRoutesEventsIntoThread(t *testing.T) {
	backend := &fakeBackend{}
	svc, transport := newTestService(t, backend)

	thread, err := svc.Open(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Empty(t, thread.Messages())

	transport.push(t, realtime.ConversationChannel("conv-1"), EventNewMessage, Message{
		ID: "m1", SenderID: "other", Content: "hi", CreatedAt: at(1),
	})

	require.Eventually(t, func() bool {
		return len(thread.Messages()) == 1
	}, time.Second, 10*time.Millisecond)

	transport.push(t, realtime.ConversationChannel("conv-1"), EventMessagesRead, ReadReceipt{
		ReadBy: "other", MessageIDs: []string{"m1"},
	})

	// The receipt names the other party's message, so nothing advances, but
	// the pump must consume it without wedging.
	transport.push(t, realtime.ConversationChannel("conv-1"), EventNewMessage, Message{
		ID: "m2", SenderID: "other", Content: "again", CreatedAt: at(2),
	})
	require.Eventually(t, func() bool {
		return len(thread.Messages()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestOpenIsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := newTestService(t, backend)

	first, err := svc.Open(context.Background(), "conv-1")
	require.NoError(t, err)
	second, err := svc.Open(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestUnreadCountsForClosedConversations(t *testing.T) {
	backend := &fakeBackend{}
	svc, transport := newTestService(t, backend)
	svc.Start()

	userCh := realtime.UserChannel("self")
	transport.push(t, userCh, EventNewMessage, Message{
		ID: "m1", ConversationID: "conv-9", SenderID: "other", CreatedAt: at(1),
	})
	transport.push(t, userCh, EventNewMessage, Message{
		ID: "m2", ConversationID: "conv-9", SenderID: "other", CreatedAt: at(2),
	})
	// Own sends never count as unread.
	transport.push(t, userCh, EventNewMessage, Message{
		ID: "m3", ConversationID: "conv-9", SenderID: "self", CreatedAt: at(3),
	})

	require.Eventually(t, func() bool {
		return svc.Unread()["conv-9"] == 2
	}, time.Second, 10*time.Millisecond)

	// Opening the conversation clears its counter.
	_, err := svc.Open(context.Background(), "conv-9")
	require.NoError(t, err)
	require.Zero(t, svc.Unread()["conv-9"])
}

func TestUnreadSkipsOpenWindows(t *testing.T) {
	backend := &fakeBackend{}
	svc, transport := newTestService(t, backend)
	svc.Start()

	_, err := svc.Open(context.Background(), "conv-1")
	require.NoError(t, err)

	transport.push(t, realtime.UserChannel("self"), EventNewMessage, Message{
		ID: "m1", ConversationID: "conv-1", SenderID: "other", CreatedAt: at(1),
	})

	// The open window handles it; the counter must stay at zero. Give the
	// pump a moment to prove the negative.
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, svc.Unread()["conv-1"])
}

func TestCloseStopsPump(t *testing.T) {
	backend := &fakeBackend{}
	svc, transport := newTestService(t, backend)

	thread, err := svc.Open(context.Background(), "conv-1")
	require.NoError(t, err)

	svc.Close("conv-1")
	// Closing twice is a no-op.
	svc.Close("conv-1")

	// A fresh Open builds a new window with its own subscription.
	reopened, err := svc.Open(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotSame(t, thread, reopened)

	transport.push(t, realtime.ConversationChannel("conv-1"), EventNewMessage, Message{
		ID: "m1", SenderID: "other", CreatedAt: at(1),
	})
	require.Eventually(t, func() bool {
		return len(reopened.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBadPayloadDoesNotKillPump(t *testing.T) {
	backend := &fakeBackend{}
	svc, transport := newTestService(t, backend)

	thread, err := svc.Open(context.Background(), "conv-1")
	require.NoError(t, err)

	ch := realtime.ConversationChannel("conv-1")
	transport.mu.Lock()
	sub := transport.subs[ch]
	transport.mu.Unlock()
	sub.events <- realtime.Event{Channel: ch, Event: EventNewMessage, Data: json.RawMessage(`{broken`)}

	transport.push(t, ch, EventNewMessage, Message{ID: "m1", SenderID: "other", CreatedAt: at(1)})
	require.Eventually(t, func() bool {
		return len(thread.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
}
