package session

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// DefaultMaxTurns is the number of user/system pairs a session remembers.
const DefaultMaxTurns = 10

// ContextTurns is how many recent pairs are folded into a follow-up question.
const ContextTurns = 3

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Memory is a sliding window over the conversation. The oldest messages are
// dropped first and order is never changed.
type Memory struct {
	maxTurns int
	history  []Turn
}

func NewMemory(maxTurns int) *Memory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Memory{maxTurns: maxTurns}
}

func (m *Memory) AddUser(content string) {
	m.add(RoleUser, content)
}

func (m *Memory) AddSystem(content string) {
	m.add(RoleSystem, content)
}

func (m *Memory) add(role Role, content string) {
	if content == "" {
		return
	}
	m.history = append(m.history, Turn{Role: role, Content: content})
	if limit := m.maxTurns * 2; len(m.history) > limit {
		m.history = append([]Turn(nil), m.history[len(m.history)-limit:]...)
	}
}

// History returns a copy of the remembered messages, oldest first.
func (m *Memory) History() []Turn {
	return append([]Turn(nil), m.history...)
}

func (m *Memory) Len() int {
	return len(m.history)
}

func (m *Memory) Clear() {
	m.history = nil
}

// Context renders the last turns pairs as "User: ..." / "System: ..." lines.
func (m *Memory) Context(turns int) string {
	if len(m.history) == 0 || turns <= 0 {
		return ""
	}
	recent := m.history
	if limit := turns * 2; len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	lines := make([]string, 0, len(recent))
	for _, turn := range recent {
		prefix := "User"
		if turn.Role == RoleSystem {
			prefix = "System"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", prefix, turn.Content))
	}
	return strings.Join(lines, "\n")
}

// Enrich prefixes question with the conversation so far. With no history the
// question is returned unchanged.
func Enrich(context, question string) string {
	if strings.TrimSpace(context) == "" {
		return question
	}
	return fmt.Sprintf("Conversation context:\n%s\n\nCurrent question:\n%s", context, question)
}
