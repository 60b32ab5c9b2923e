package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"eloquent/internal/config"
	"eloquent/internal/models"
	"eloquent/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return New(db), db
}

func TestUserLifecycle(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, "  Jane@Example.COM ", "Jane", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Email != "jane@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}

	byEmail, err := st.GetUserByEmail(ctx, "JANE@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Fatalf("expected id %d, got %d", user.ID, byEmail.ID)
	}

	if _, err := st.CreateUser(ctx, "jane@example.com", "Other", "hash2"); err == nil {
		t.Fatalf("expected duplicate email to fail")
	}

	if err := st.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := st.GetUser(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := st.DeleteUser(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestConversationOwnership(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, "owner@example.com", "Owner", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	owned, err := st.CreateConversation(ctx, user.ID)
	if err != nil {
		t.Fatalf("create owned conversation: %v", err)
	}
	if !owned.Owned() {
		t.Fatalf("expected owned conversation")
	}

	anon, err := st.CreateConversation(ctx, 0)
	if err != nil {
		t.Fatalf("create anonymous conversation: %v", err)
	}
	if anon.Owned() {
		t.Fatalf("expected anonymous conversation")
	}

	reloaded, err := st.GetConversation(ctx, anon.ID)
	if err != nil {
		t.Fatalf("get anonymous conversation: %v", err)
	}
	if reloaded.UserID != 0 {
		t.Fatalf("expected zero user id for anonymous, got %d", reloaded.UserID)
	}

	list, err := st.GetConversationsByUser(ctx, user.ID, true)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list) != 1 || list[0].ID != owned.ID {
		t.Fatalf("unexpected conversation list: %+v", list)
	}
}

func TestMarkDeletedIsOneWay(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, 0)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if err := st.MarkDeleted(ctx, conv.ID); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	reloaded, err := st.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("deleted conversation must stay readable: %v", err)
	}
	if !reloaded.IsDeleted {
		t.Fatalf("expected is_deleted set")
	}

	if err := st.MarkDeleted(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing conversation, got %v", err)
	}
}

func TestMessagesOrderedAndRawPreserved(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, 0)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := st.CreateMessage(ctx, conv.ID, models.RoleSystem, "persona", ""); err != nil {
		t.Fatalf("create system message: %v", err)
	}
	if _, err := st.CreateMessage(ctx, conv.ID, models.RoleUser, "augmented", "raw question"); err != nil {
		t.Fatalf("create user message: %v", err)
	}
	if _, err := st.CreateMessage(ctx, conv.ID, models.RoleAssistant, "answer", ""); err != nil {
		t.Fatalf("create assistant message: %v", err)
	}

	messages, err := st.GetMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	roles := []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant}
	for i, role := range roles {
		if messages[i].Role != role {
			t.Fatalf("message %d: expected role %s, got %s", i, role, messages[i].Role)
		}
	}
	if messages[1].UserMessage != "raw question" {
		t.Fatalf("raw user message lost: %q", messages[1].UserMessage)
	}
	if messages[0].UserMessage != "" {
		t.Fatalf("system row must have empty user_message, got %q", messages[0].UserMessage)
	}

	count, err := st.CountMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}
