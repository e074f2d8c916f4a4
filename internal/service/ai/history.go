package ai

import (
	"github.com/cloudwego/eino/schema"

	"github.com/mdthorpe/llm-web-chat/internal/model/chat"
)

// ToSchemaMessages converts stored chat history into model input, keeping
// order. Messages with an unknown role are skipped.
func ToSchemaMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(msg.Content))
		}
	}

	return history
}
