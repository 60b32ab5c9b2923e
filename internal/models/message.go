package models

import "time"

// Role classifies who produced a message. The set is closed; history
// projections switch exhaustively over it.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleGuardrails marks a turn the safety filter blocked. Content holds
	// the rejection reason, UserMessage the raw rejected input.
	RoleGuardrails Role = "guardrails"
)

// Message is a single immutable row of conversation history. For user turns
// Content carries the full augmented prompt sent to the model while
// UserMessage preserves the original input.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	UserMessage    string    `json:"user_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
