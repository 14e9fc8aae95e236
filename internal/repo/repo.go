package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"coachline/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// EnsureProfile inserts a profile if missing and returns it.
func (r Repo) EnsureProfile(ctx context.Context, userID, displayName string) (domain.Profile, error) {
	if userID == "" {
		return domain.Profile{}, errors.New("user_id required")
	}
	if displayName == "" {
		displayName = userID
	}
	now := r.timestamp()
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO profiles(user_id,display_name,created_at) VALUES (?,?,?)`,
		userID, displayName, now)
	if err != nil {
		return domain.Profile{}, err
	}
	return r.GetProfile(ctx, userID)
}

func (r Repo) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var p domain.Profile
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,display_name,created_at FROM profiles WHERE user_id=?`, userID).
		Scan(&p.UserID, &p.DisplayName, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) UpdateDisplayName(ctx context.Context, userID, displayName string) error {
	if strings.TrimSpace(displayName) == "" {
		return errors.New("display_name required")
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE profiles SET display_name=? WHERE user_id=?`, displayName, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindLatestConversation returns the most recently touched conversation
// for a user. Concurrent first messages from the same user can race
// this lookup and create two conversations; that is accepted.
func (r Repo) FindLatestConversation(ctx context.Context, userID string) (domain.Conversation, error) {
	var c domain.Conversation
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,title,created_at,updated_at FROM conversations
WHERE user_id=? ORDER BY updated_at DESC, id DESC LIMIT 1`, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,title,created_at,updated_at FROM conversations WHERE id=?`, id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error) {
	if userID == "" {
		return domain.Conversation{}, errors.New("user_id required")
	}
	now := r.timestamp()
	c := domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     conversationTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO conversations(id,user_id,title,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	return c, err
}

func (r Repo) TouchConversation(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE conversations SET updated_at=? WHERE id=?`, r.timestamp(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,title,created_at,updated_at FROM conversations
WHERE user_id=? ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) AppendMessage(ctx context.Context, conversationID, role, content string) (domain.Message, error) {
	if conversationID == "" {
		return domain.Message{}, errors.New("conversation_id required")
	}
	if role != "user" && role != "assistant" {
		return domain.Message{}, errors.New("role must be user or assistant")
	}
	m := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      r.timestamp(),
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO messages(id,conversation_id,role,content,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	return m, err
}

// History returns a conversation's messages oldest first.
func (r Repo) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,conversation_id,role,content,created_at FROM messages
WHERE conversation_id=? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

const maxTitleLen = 60

func conversationTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return "New conversation"
	}
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen]) + "..."
	}
	return title
}
