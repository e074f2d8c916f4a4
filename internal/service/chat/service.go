package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdthorpe/llm-web-chat/internal/model/chat"
)

// DefaultChatName is used when a chat is created without a name.
const DefaultChatName = "New chat"

// Store is the message store used by the REST handlers and the chat turn
// orchestrator. Implementations must be safe for concurrent use.
type Store interface {
	CreateChat(ctx context.Context, name, modelID string) (chat.Chat, error)
	GetChat(ctx context.Context, chatID string) (chat.Chat, error)
	RenameChat(ctx context.Context, chatID, name string) (chat.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	InsertMessage(ctx context.Context, message chat.Message) (chat.Message, error)
	ListMessagesByChat(ctx context.Context, chatID string) ([]chat.Message, error)
}

// Service 是进程内的消息存储，适合本地开发与测试。
type Service struct {
	mu       sync.RWMutex
	chats    map[string]chat.Chat
	messages map[string][]chat.Message
	now      func() time.Time
}

var _ Store = (*Service)(nil)

// NewService bootstraps the in-memory chat store.
func NewService() *Service {
	return &Service{
		chats:    make(map[string]chat.Chat),
		messages: make(map[string][]chat.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateChat provisions a chat bound to a model.
func (s *Service) CreateChat(_ context.Context, name, modelID string) (chat.Chat, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return chat.Chat{}, chat.ErrModelRequired
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultChatName
	}

	now := s.now()
	c := chat.Chat{
		ID:        uuid.NewString(),
		Name:      name,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.chats[c.ID] = c
	s.messages[c.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return c, nil
}

// GetChat retrieves a chat by identifier.
func (s *Service) GetChat(_ context.Context, chatID string) (chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return chat.Chat{}, chat.ErrChatNotFound
	}
	return c, nil
}

// RenameChat updates the chat name and its updatedAt timestamp.
func (s *Service) RenameChat(_ context.Context, chatID, name string) (chat.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultChatName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return chat.Chat{}, chat.ErrChatNotFound
	}
	c.Name = name
	c.UpdatedAt = s.now()
	s.chats[chatID] = c
	return c, nil
}

// DeleteChat removes the chat together with its messages.
func (s *Service) DeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return chat.ErrChatNotFound
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

// InsertMessage appends a message to the chat history, assigning an id and
// timestamp when missing.
func (s *Service) InsertMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	message, err := prepareMessage(message, s.now)
	if err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[message.ChatID]; !ok {
		return chat.Message{}, chat.ErrChatNotFound
	}

	s.messages[message.ChatID] = append(s.messages[message.ChatID], message)
	return message, nil
}

// ListMessagesByChat returns the chat history ordered by creation time, ties
// kept in insertion order.
func (s *Service) ListMessagesByChat(_ context.Context, chatID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[chatID]
	if !ok {
		return nil, chat.ErrChatNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})
	return copied, nil
}

// prepareMessage validates a message and fills in its id and timestamp.
// Shared by every Store implementation.
func prepareMessage(message chat.Message, now func() time.Time) (chat.Message, error) {
	if message.ChatID == "" {
		return chat.Message{}, chat.ErrChatNotFound
	}
	if !message.Role.Valid() {
		return chat.Message{}, chat.ErrInvalidRole
	}
	if strings.TrimSpace(message.Content) == "" {
		return chat.Message{}, chat.ErrContentRequired
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now()
	}
	message.CreatedAt = message.CreatedAt.UTC()
	if message.Role != chat.RoleAssistant {
		message.Summary = ""
	}
	return message, nil
}

// PrepareMessage exposes the shared validation for other Store implementations.
func PrepareMessage(message chat.Message) (chat.Message, error) {
	return prepareMessage(message, func() time.Time { return time.Now().UTC() })
}
