package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mdthorpe/llm-web-chat/internal/model/chat"
	chatservice "github.com/mdthorpe/llm-web-chat/internal/service/chat"
)

func (s *Store) InsertMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	message, err := chatservice.PrepareMessage(message)
	if err != nil {
		return chat.Message{}, err
	}
	if _, err := s.GetChat(ctx, message.ChatID); err != nil {
		return chat.Message{}, err
	}

	q := s.sql.Insert("messages").
		Columns("id", "chat_id", "role", "content", "summary", "created_at", "seq").
		Values(message.ID, message.ChatID, string(message.Role), message.Content, message.Summary, toUnix(message.CreatedAt), s.nextSeq())
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return chat.Message{}, fmt.Errorf("build insert message query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

// ListMessagesByChat returns the chat history ordered by created_at, ties
// broken by insertion order.
func (s *Store) ListMessagesByChat(ctx context.Context, chatID string) ([]chat.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	q := s.sql.Select("id", "chat_id", "role", "content", "summary", "created_at").
		From("messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC", "seq ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			m         chat.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &m.Summary, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.CreatedAt = fromUnix(createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
