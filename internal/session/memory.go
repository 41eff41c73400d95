package session

import "sync"

// defaultHistoryLimit caps conversation memory when no limit is
// configured.
const defaultHistoryLimit = 20

// Role identifies the author of a conversation turn.
type Role string

// Turn authors.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation entry.
type Turn struct {
	Role    Role
	Content string
}

// Memory is a per-device sliding window of conversation turns. In-memory
// only; it is cleared when the owning session stops and never persisted.
type Memory struct {
	mu    sync.Mutex
	limit int
	turns []Turn
}

// NewMemory returns a memory window holding at most limit turns. A
// non-positive limit selects the default.
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Memory{limit: limit}
}

// Add appends one turn, evicting the oldest entries beyond the window.
func (m *Memory) Add(role Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, Turn{Role: role, Content: content})
	if excess := len(m.turns) - m.limit; excess > 0 {
		m.turns = append(m.turns[:0], m.turns[excess:]...)
	}
}

// Snapshot returns a copy of the window, oldest first.
func (m *Memory) Snapshot() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Len reports the number of turns held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Clear empties the window.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
}
