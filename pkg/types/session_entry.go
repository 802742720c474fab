package types

import "time"

// EntryType enumerates the kinds of SessionEntry recorded in a session's
// JSONL journal.
type EntryType string

const (
	EntryUser      EntryType = "user"
	EntryAssistant EntryType = "assistant"
	EntryCommand   EntryType = "command"
	EntryToolUse   EntryType = "tool_use"
	EntryError     EntryType = "error"
)

// EntryMessage is the optional {role, content} payload of a SessionEntry.
type EntryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// EntryMetadata is the optional metadata payload of a SessionEntry.
// All fields are omitted when not applicable to the entry's Type.
type EntryMetadata struct {
	Tokens        int     `json:"tokens,omitempty"`
	CostUSD       float64 `json:"cost,omitempty"`
	DurationMs    int64   `json:"duration_ms,omitempty"`
	Tool          string  `json:"tool,omitempty"`
	Args          any     `json:"args,omitempty"`
	ResultPreview string  `json:"result_preview,omitempty"`
	IsError       bool    `json:"is_error,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// SessionEntry is one line of a session's append-only JSONL journal.
//
// Invariant: within a session the ParentUUID chain forms a total order
// matching append order, and UUID values are unique within the session.
type SessionEntry struct {
	SessionID  string         `json:"sessionId"`
	UUID       string         `json:"uuid"`
	ParentUUID string         `json:"parentUuid,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       EntryType      `json:"type"`
	Message    *EntryMessage  `json:"message,omitempty"`
	Metadata   *EntryMetadata `json:"metadata,omitempty"`
}

// SessionMetadata is the per-session summary persisted alongside the
// journal and returned by Session store's list() operation.
type SessionMetadata struct {
	ID             string    `json:"id"`
	CWD            string    `json:"cwd"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	MessageCount   int       `json:"messageCount"`
	TurnCount      int       `json:"turnCount"`
	TotalCostUSD   float64   `json:"totalCostUsd"`
	LastExitReason string    `json:"lastExitReason,omitempty"`
}
