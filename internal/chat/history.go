// Package chat implements the interactive conversation layer: the turn loop
// a recognized person talks through, the rolling history behind it, and the
// contracts (Router, LineReader, Speaker) the loop drives.
package chat

import "sync"

// Role identifies who authored a history message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single history entry.
type Message struct {
	Role    Role
	Content string
}

// History is the rolling conversation transcript for one session. A fresh
// History is created per session and discarded when it ends; nothing about
// a conversation survives into the next one. Safe for concurrent use.
type History struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewHistory creates a history seeded with a system instruction.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	if systemPrompt != "" {
		h.msgs = append(h.msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return h
}

// Add appends a message.
func (h *History) Add(role Role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, Message{Role: role, Content: content})
}

// Messages returns a copy of the transcript in order.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len reports the number of messages, including the system instruction.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}
