package llms

import "time"

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a single entry in the conversation history sent to the chat
// service. Messages are immutable once created.
type Message struct {
	Role      MessageRole
	Content   string
	Timestamp time.Time
}

func NewMessage(role MessageRole, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}
