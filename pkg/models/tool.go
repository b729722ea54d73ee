package models

import (
	"encoding/json"
	"time"
)

// ToolExecution is the immutable record of one tool call inside an agent
// loop: what was asked, what came back, and how long it took. The ordered
// sequence across a turn is returned to the caller for audit and UI display.
type ToolExecution struct {
	Tool       string          `json:"tool"`
	Input      json.RawMessage `json:"input"`
	Result     json.RawMessage `json:"result"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
}

// ConversationMessage is one prior turn of the report conversation as
// supplied by the caller. Only user and assistant roles are expected here;
// tool traffic is internal to the loop.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
