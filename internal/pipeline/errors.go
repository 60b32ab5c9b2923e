package pipeline

import "errors"

var (
	// ErrForbidden means the conversation belongs to a different identity.
	ErrForbidden = errors.New("conversation belongs to another user")
	// ErrConversationDeleted rejects turns against a soft-deleted
	// conversation.
	ErrConversationDeleted = errors.New("conversation is deleted")
	// ErrTurnInFlight means another turn currently holds the conversation's
	// advisory lock.
	ErrTurnInFlight = errors.New("another turn is in progress for this conversation")
	// ErrEmptyMessage rejects blank input before any external call.
	ErrEmptyMessage = errors.New("message cannot be empty")
)
