package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/mdthorpe/llm-web-chat/internal/model/chat"
	chatservice "github.com/mdthorpe/llm-web-chat/internal/service/chat"
)

func (s *Store) CreateChat(ctx context.Context, name, modelID string) (chat.Chat, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return chat.Chat{}, chat.ErrModelRequired
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = chatservice.DefaultChatName
	}

	now := time.Now().UTC()
	c := chat.Chat{
		ID:        uuid.NewString(),
		Name:      name,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q := s.sql.Insert("chats").
		Columns("id", "name", "model_id", "created_at", "updated_at").
		Values(c.ID, c.Name, c.ModelID, toUnix(c.CreatedAt), toUnix(c.UpdatedAt))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return chat.Chat{}, fmt.Errorf("build create chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return chat.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return c, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	q := s.sql.Select("id", "name", "model_id", "created_at", "updated_at").
		From("chats").
		Where(sq.Eq{"id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return chat.Chat{}, fmt.Errorf("build get chat query: %w", err)
	}

	var (
		c                  chat.Chat
		createdAt, updated int64
	)
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&c.ID, &c.Name, &c.ModelID, &createdAt, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Chat{}, chat.ErrChatNotFound
		}
		return chat.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	c.CreatedAt = fromUnix(createdAt)
	c.UpdatedAt = fromUnix(updated)
	return c, nil
}

func (s *Store) RenameChat(ctx context.Context, chatID, name string) (chat.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = chatservice.DefaultChatName
	}

	q := s.sql.Update("chats").
		Set("name", name).
		Set("updated_at", toUnix(time.Now())).
		Where(sq.Eq{"id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return chat.Chat{}, fmt.Errorf("build rename chat query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return chat.Chat{}, fmt.Errorf("rename chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.Chat{}, chat.ErrChatNotFound
	}
	return s.GetChat(ctx, chatID)
}

// DeleteChat removes the chat and its messages in one transaction.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chat: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	msgSQL, msgArgs, err := s.sql.Delete("messages").Where(sq.Eq{"chat_id": chatID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete messages query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, msgSQL, msgArgs...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	chatSQL, chatArgs, err := s.sql.Delete("chats").Where(sq.Eq{"id": chatID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete chat query: %w", err)
	}
	res, err := tx.ExecContext(ctx, chatSQL, chatArgs...)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.ErrChatNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	return nil
}
