// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// Conversation is a stored conversation with its messages in order.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	Style     string    `json:"style"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Message is one stored message.
type Message struct {
	ID        int64      `json:"id"`
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

// Summary is the listing view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	Style        string    `json:"style"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // first user message, truncated
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
	ID      string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	if e.ID == "" {
		return e.Message
	}
	return e.Message + ": " + e.ID
}

// Is matches conversation errors with the same message, whatever the id.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func notFound(id string) error {
	return &ConversationError{Message: ErrConversationNotFound.Message, ID: id}
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// CreateConversation inserts an empty conversation and returns its id.
// When more than MaxConversations exist afterwards, the least recently
// updated ones are deleted.
func (s *Store) CreateConversation(ctx context.Context, title, modelID, style string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UnixNano()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, model, style, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, modelID, style, now, now)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	if s.maxItems > 0 {
		s.enforceLimit(ctx)
	}
	return id, nil
}

// enforceLimit removes the oldest conversations beyond maxItems.
func (s *Store) enforceLimit(ctx context.Context) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations
			ORDER BY updated_at DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)`, s.maxItems)
	if err != nil {
		s.log.Warn("pruning conversations failed", zap.Error(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("pruned old conversations", zap.Int64("count", n))
	}
}

// AppendMessage adds a message to the end of a conversation and bumps its
// updated time.
func (s *Store) AppendMessage(ctx context.Context, id string, role model.Role, text string) error {
	now := time.Now().UnixNano()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return notFound(id)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			id, string(role), text, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return err
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// UpdateTitle renames a conversation.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// GetConversation loads a conversation with all its messages.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var (
		conv             Conversation
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, style, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &conv.Model, &conv.Style, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m    Message
			role string
			at   int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &at); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = model.Role(role)
		m.CreatedAt = time.Unix(0, at)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return &conv, nil
}

const summaryColumns = `
	c.id, c.title, c.model, c.style, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
	COALESCE((SELECT content FROM messages m
		WHERE m.conversation_id = c.id AND m.role = 'user'
		ORDER BY m.id LIMIT 1), '')`

// ListConversations returns up to limit conversations, most recently
// updated first. limit <= 0 uses the store's MaxConversations.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Summary, error) {
	return s.querySummaries(ctx, `
		SELECT `+summaryColumns+`
		FROM conversations c
		ORDER BY c.updated_at DESC, c.rowid DESC
		LIMIT ?`, s.limit(limit))
}

// SearchConversations lists conversations whose title or any message
// contains query, case-insensitively for ASCII.
func (s *Store) SearchConversations(ctx context.Context, query string, limit int) ([]Summary, error) {
	if strings.TrimSpace(query) == "" {
		return s.ListConversations(ctx, limit)
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.querySummaries(ctx, `
		SELECT `+summaryColumns+`
		FROM conversations c
		WHERE c.title LIKE ? ESCAPE '\'
		   OR EXISTS (SELECT 1 FROM messages m
		              WHERE m.conversation_id = c.id AND m.content LIKE ? ESCAPE '\')
		ORDER BY c.updated_at DESC, c.rowid DESC
		LIMIT ?`, pattern, pattern, s.limit(limit))
}

func (s *Store) limit(n int) int {
	if n > 0 {
		return n
	}
	if s.maxItems > 0 {
		return s.maxItems
	}
	return -1
}

func (s *Store) querySummaries(ctx context.Context, query string, args ...any) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum              Summary
			created, updated int64
			first            string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Model, &sum.Style,
			&created, &updated, &sum.MessageCount, &first); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created)
		sum.UpdatedAt = time.Unix(0, updated)
		sum.Preview = util.TruncateRunes(util.SingleLine(first), 80)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// CONVERSIONS AND FORMATTING
// =============================================================================

// Turns returns the messages as transcript turns, for resuming a
// conversation.
func (c *Conversation) Turns() []model.Turn {
	turns := make([]model.Turn, 0, len(c.Messages))
	for _, m := range c.Messages {
		t := model.NewTurn(m.Role, m.Content)
		t.ID = strconv.FormatInt(m.ID, 10)
		t.CreatedAt = m.CreatedAt
		t.IsError = m.Role == model.RoleAssistant && strings.HasPrefix(m.Content, "Error: ")
		turns = append(turns, *t)
	}
	return turns
}

// DisplayTitle returns the title, or a placeholder for untitled
// conversations.
func (c *Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "Untitled conversation"
}

// FormatList renders summaries as a plain-text table.
func FormatList(list []Summary) string {
	if len(list) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadWidth("ID", 10) + " " + util.PadWidth("Updated", 17) + " " +
		util.PadWidth("Msgs", 5) + " Title\n")
	sb.WriteString(strings.Repeat("-", 72) + "\n")

	for _, s := range list {
		title := s.Title
		if title == "" {
			title = s.Preview
		}
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		sb.WriteString(util.PadWidth(id, 10) + " " +
			util.PadWidth(s.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			util.PadWidth(strconv.Itoa(s.MessageCount), 5) + " " +
			util.TruncateWidth(title, 38) + "\n")
	}
	return sb.String()
}

// ResolveID expands a unique id prefix, as printed by FormatList, into a
// full conversation id.
func (s *Store) ResolveID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", notFound(prefix)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE id LIKE ? ESCAPE '\' LIMIT 2`, escapeLike(prefix)+"%")
	if err != nil {
		return "", fmt.Errorf("resolve id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", notFound(prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("conversation id %q is ambiguous", prefix)
	}
}
