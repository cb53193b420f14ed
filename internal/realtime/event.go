package realtime

import "encoding/json"

// Event is one frame pushed by the realtime server on a named channel.
type Event struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// frame is the control message the client sends upstream.
type frame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
}

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
)

// Channel names are scoped per conversation and per user; the server
// authorizes each subscription out of band.

func ConversationChannel(conversationID string) string {
	return "private-conversation-" + conversationID
}

func UserChannel(userID string) string {
	return "private-user-" + userID
}
