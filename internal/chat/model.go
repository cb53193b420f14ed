package chat

import "time"

// Sender is the denormalized profile snapshot carried on each message so the
// UI can render without a separate lookup.
type Sender struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    string `json:"avatar,omitempty"`
}

// Message is one chat message as known to the client. ID is the permanent
// server-assigned identifier once confirmed; TempID is the client-side
// placeholder used while the message is still pending.
type Message struct {
	ID             string    `json:"id"`
	TempID         string    `json:"tempId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Status         Status    `json:"status"`
	Sender         *Sender   `json:"sender,omitempty"`
}

// ReadReceipt is the payload of a messages-read realtime event.
type ReadReceipt struct {
	ReadBy     string   `json:"readBy"`
	MessageIDs []string `json:"messageIds"`
}
