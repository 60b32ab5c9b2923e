package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eloquent/internal/models"
)

// CreateMessage appends a message row. userMessage is stored only for user
// and guardrails roles; pass the empty string otherwise.
func (s *Store) CreateMessage(ctx context.Context, conversationID int64, role models.Role, content, userMessage string) (*models.Message, error) {
	if conversationID <= 0 {
		return nil, errors.New("conversation_id is required")
	}
	now := time.Now().UTC()
	var raw sql.NullString
	if userMessage != "" {
		raw = sql.NullString{String: userMessage, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, user_message, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, role, content, raw, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		UserMessage:    userMessage,
		CreatedAt:      now,
	}, nil
}

// GetMessages returns a conversation's messages in insertion order.
func (s *Store) GetMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, user_message, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			msg models.Message
			raw sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &raw, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if raw.Valid {
			msg.UserMessage = raw.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessages reports how many rows a conversation holds.
func (s *Store) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
