package chat

import (
	"errors"
	"time"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrModelRequired   = errors.New("model id is required")
	ErrContentRequired = errors.New("message content is required")
	ErrInvalidRole     = errors.New("invalid message role")
)

// Chat binds a conversation to the model that answers it.
type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ModelID   string    `json:"modelId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
