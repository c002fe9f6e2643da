package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation or entry does not exist
var ErrNotFound = errors.New("not found")

// Store provides conversation persistence. All access goes through a single
// serialized connection (see NewSQLite).
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database connection
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection for sharing with other components
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.db.Close()
}

// now returns the canonical entry timestamp: RFC3339Nano in UTC, so string
// comparison matches chronological order.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CreateConversation inserts a new conversation and returns it
func (s *Store) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)`,
		conv.ID, conv.Title, conv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation loads a conversation by ID
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var compressedUpTo sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, compressed_up_to, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &compressedUpTo, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.CompressedUpTo = compressedUpTo.String
	return &conv, nil
}

// ListConversations returns all conversations, newest first
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, compressed_up_to, created_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var conv Conversation
		var compressedUpTo sql.NullString
		if err := rows.Scan(&conv.ID, &conv.Title, &compressedUpTo, &conv.CreatedAt); err != nil {
			return nil, err
		}
		conv.CompressedUpTo = compressedUpTo.String
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes a conversation and its entries
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// AppendEntry persists one entry. Missing ID and CreatedAt are filled in.
func (s *Store) AppendEntry(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt == "" {
		entry.CreatedAt = now()
	}

	var partsJSON any
	if len(entry.PartsJSON) > 0 {
		partsJSON = string(entry.PartsJSON)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries
			(id, conversation_id, role, content, reasoning_text, parts_json,
			 model_id, tokens_input, tokens_output, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, entry.Role,
		nullable(entry.Content), nullable(entry.ReasoningText), partsJSON,
		nullable(entry.ModelID), nullableInt(entry.TokensInput), nullableInt(entry.TokensOutput),
		nullable(entry.ParentID), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// Entries returns every entry in a conversation ordered by created_at
func (s *Store) Entries(ctx context.Context, conversationID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, reasoning_text, parts_json,
		       model_id, tokens_input, tokens_output, parent_id, created_at
		FROM entries WHERE conversation_id = ? ORDER BY created_at`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SummaryEntry returns the conversation's standing summary entry, or
// ErrNotFound if none exists.
func (s *Store) SummaryEntry(ctx context.Context, conversationID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, role, content, reasoning_text, parts_json,
		       model_id, tokens_input, tokens_output, parent_id, created_at
		FROM entries WHERE conversation_id = ? AND parent_id = ?`,
		conversationID, SummaryParentID,
	)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReplaceSummary atomically swaps in a new summary entry: any previous
// summary row is deleted, the new one inserted, and the conversation's
// compressed_up_to watermark updated.
func (s *Store) ReplaceSummary(ctx context.Context, conversationID, summaryText, compressedUpTo string) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE conversation_id = ? AND parent_id = ?`,
		conversationID, SummaryParentID,
	); err != nil {
		return nil, fmt.Errorf("failed to remove previous summary: %w", err)
	}

	entry := &Entry{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           RoleSystem,
		Content:        summaryText,
		ParentID:       SummaryParentID,
		CreatedAt:      now(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, conversation_id, role, content, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, entry.Role, entry.Content, entry.ParentID, entry.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert summary: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET compressed_up_to = ? WHERE id = ?`,
		compressedUpTo, conversationID,
	); err != nil {
		return nil, fmt.Errorf("failed to update compression watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var entry Entry
	var content, reasoning, parts, modelID, parentID sql.NullString
	var tokensIn, tokensOut sql.NullInt64

	err := row.Scan(&entry.ID, &entry.ConversationID, &entry.Role,
		&content, &reasoning, &parts, &modelID, &tokensIn, &tokensOut,
		&parentID, &entry.CreatedAt)
	if err != nil {
		return entry, err
	}

	entry.Content = content.String
	entry.ReasoningText = reasoning.String
	if parts.Valid && parts.String != "" {
		entry.PartsJSON = json.RawMessage(parts.String)
	}
	entry.ModelID = modelID.String
	entry.TokensInput = int(tokensIn.Int64)
	entry.TokensOutput = int(tokensOut.Int64)
	entry.ParentID = parentID.String
	return entry, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
