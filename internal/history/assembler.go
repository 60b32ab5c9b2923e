package history

import (
	"github.com/cloudwego/eino/schema"

	"eloquent/internal/models"
)

// UserMessage is the client-facing projection of a stored message.
type UserMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Assembler projects stored message rows into the two shapes consumers
// need: model input for the completer and display history for clients.
type Assembler struct {
	// ExposeBlockedTurns switches the client projection of guardrails rows
	// from hidden (default) to a reconstructed user/assistant pair.
	ExposeBlockedTurns bool
}

// ModelInput converts history rows into the completer's message sequence.
// Guardrails rows are remapped to the user role; they are terminal in
// practice and should not reach the completer, but a remap is safer than
// leaking an unknown role downstream.
func (a *Assembler) ModelInput(messages []models.Message) []*schema.Message {
	input := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleSystem:
			role = schema.System
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleUser, models.RoleGuardrails:
			role = schema.User
		default:
			role = schema.User
		}
		input = append(input, &schema.Message{Role: role, Content: msg.Content})
	}
	return input
}

// FilterMessages converts history rows into client display form, preserving
// chronological order. System rows are never shown. User rows show the
// original raw input, never the augmented prompt.
func (a *Assembler) FilterMessages(messages []models.Message) []UserMessage {
	filtered := make([]UserMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			continue
		case models.RoleUser:
			filtered = append(filtered, UserMessage{Role: models.RoleUser, Content: msg.UserMessage})
		case models.RoleGuardrails:
			if !a.ExposeBlockedTurns {
				continue
			}
			filtered = append(filtered,
				UserMessage{Role: models.RoleUser, Content: msg.UserMessage},
				UserMessage{Role: models.RoleAssistant, Content: msg.Content},
			)
		case models.RoleAssistant:
			filtered = append(filtered, UserMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return filtered
}
