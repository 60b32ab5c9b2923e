package models

import "time"

// Conversation groups an ordered sequence of messages. UserID is zero for
// anonymous conversations. IsDeleted only ever transitions false to true;
// deleted conversations stay readable but reject further turns.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	IsDeleted bool      `json:"is_deleted"`
}

// Owned reports whether the conversation belongs to a registered user.
func (c *Conversation) Owned() bool {
	return c.UserID > 0
}
