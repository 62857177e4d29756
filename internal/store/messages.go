package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

const messageColumns = "id, group_id, sender_id, sender_role, content, embedding, timestamp"

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.GroupID, msg.SenderID, msg.SenderRole, msg.Content, embeddingValue(msg.Embedding), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

// GetMessagesByGroupID returns messages oldest-first.
func (s *SQLiteStore) GetMessagesByGroupID(ctx context.Context, groupID string, limit int, offset int) ([]Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE group_id = ? ORDER BY timestamp ASC, seq ASC LIMIT ? OFFSET ?"
	return s.queryMessages(ctx, query, groupID, limit, offset)
}

// GetLastNMessagesByGroupID returns the n most recent messages newest-first.
func (s *SQLiteStore) GetLastNMessagesByGroupID(ctx context.Context, groupID string, n int) ([]Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE group_id = ?
        ORDER BY timestamp DESC, seq DESC
        LIMIT ?
    `
	return s.queryMessages(ctx, query, groupID, n)
}

// GetEmbeddedMessagesByGroupID returns every message of the group that carries an embedding.
func (s *SQLiteStore) GetEmbeddedMessagesByGroupID(ctx context.Context, groupID string) ([]Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE group_id = ? AND embedding IS NOT NULL ORDER BY timestamp ASC, seq ASC"
	return s.queryMessages(ctx, query, groupID)
}

func (s *SQLiteStore) CountMessagesByGroupID(ctx context.Context, groupID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE group_id = ?", groupID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...interface{}) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var embedding *pgvector.Vector
		if err := rows.Scan(&msg.ID, &msg.GroupID, &msg.SenderID, &msg.SenderRole, &msg.Content, &embedding, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if embedding != nil {
			msg.Embedding = embedding.Slice()
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func embeddingValue(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// Answer methods

// GetAnswerByQuery returns the oldest cached answer for the exact query text.
func (s *SQLiteStore) GetAnswerByQuery(ctx context.Context, query string) (*Answer, error) {
	var a Answer
	err := s.db.QueryRowContext(ctx,
		"SELECT id, query, answers, created_at FROM answers WHERE query = ? ORDER BY id ASC LIMIT 1", query).
		Scan(&a.ID, &a.Query, &a.Answers, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query answer: %w", err)
	}
	return &a, nil
}

// CreateAnswer stores an answer unless one already exists for the same query,
// in which case the existing row wins and inserted is false.
func (s *SQLiteStore) CreateAnswer(ctx context.Context, answer *Answer) (inserted bool, err error) {
	answer.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO answers (query, answers, created_at) VALUES (?, ?, ?) ON CONFLICT (query) DO NOTHING",
		answer.Query, answer.Answers, answer.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to execute answer insert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read answer insert result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if answer.ID, err = res.LastInsertId(); err != nil {
		return true, fmt.Errorf("failed to read answer id: %w", err)
	}
	return true, nil
}
