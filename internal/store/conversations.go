package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eloquent/internal/models"
)

// CreateConversation inserts a conversation. ownerID zero means anonymous.
func (s *Store) CreateConversation(ctx context.Context, ownerID int64) (*models.Conversation, error) {
	now := time.Now().UTC()
	var owner sql.NullInt64
	if ownerID > 0 {
		owner = sql.NullInt64{Int64: ownerID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, created_at, is_deleted) VALUES (?, ?, 0)`,
		owner, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{ID: id, UserID: ownerID, CreatedAt: now}, nil
}

// GetConversation looks up a conversation by id, deleted or not.
func (s *Store) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, is_deleted FROM conversations WHERE id = ?`, id,
	)
	var (
		conv  models.Conversation
		owner sql.NullInt64
	)
	if err := row.Scan(&conv.ID, &owner, &conv.CreatedAt, &conv.IsDeleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if owner.Valid {
		conv.UserID = owner.Int64
	}
	return &conv, nil
}

// MarkDeleted flips is_deleted. The transition is one-way; there is no
// corresponding clear operation anywhere in the codebase.
func (s *Store) MarkDeleted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_deleted = 1 WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("mark conversation deleted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversationsByUser returns the user's conversations in creation order.
func (s *Store) GetConversationsByUser(ctx context.Context, userID int64, excludeDeleted bool) ([]models.Conversation, error) {
	query := `SELECT id, user_id, created_at, is_deleted FROM conversations WHERE user_id = ?`
	if excludeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var (
			conv  models.Conversation
			owner sql.NullInt64
		)
		if err := rows.Scan(&conv.ID, &owner, &conv.CreatedAt, &conv.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if owner.Valid {
			conv.UserID = owner.Int64
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}
