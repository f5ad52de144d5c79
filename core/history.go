package orchestration

import (
	"sync"

	"github.com/gideontalk/talk-core/core/llms"
)

// defaultHistoryLimit caps the context sent to the chat service at the 20
// most recent messages (10 exchanges).
const defaultHistoryLimit = 20

// history is the bounded ordered log of messages exchanged with the chat
// service. Only the orchestrator appends: the user message after
// transcription, the assistant message after the reply is finalized.
type history struct {
	mu       sync.Mutex
	messages []llms.Message
	limit    int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &history{limit: limit}
}

func (h *history) Append(role llms.MessageRole, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, llms.NewMessage(role, content))
	if len(h.messages) > h.limit {
		h.messages = h.messages[len(h.messages)-h.limit:]
	}
}

func (h *history) Messages() []llms.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	messages := make([]llms.Message, len(h.messages))
	copy(messages, h.messages)
	return messages
}

// SetLimit changes the cap in place, evicting oldest messages if the log
// already exceeds it. Existing messages within the new cap are kept, so a
// runtime settings change does not wipe the conversation.
func (h *history) SetLimit(limit int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limit = limit
	if len(h.messages) > h.limit {
		h.messages = h.messages[len(h.messages)-h.limit:]
	}
}

func (h *history) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *history) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
