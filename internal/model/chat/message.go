package chat

import "time"

// Sender identifies the author of a message.
type Sender string

const (
	SenderUser Sender = "user"
	// SenderAssistant keeps the wire value the chat page has always used.
	SenderAssistant Sender = "jarvis"
)

// Message is one entry of a tab's chat history. Insertion order is display order.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// FromUser reports whether the message was typed by the user.
func (m Message) FromUser() bool {
	return m.Sender == SenderUser
}
