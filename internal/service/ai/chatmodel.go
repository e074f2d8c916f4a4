package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// ChatModelGenerator adapts an eino ChatModel (Ark in production) to the
// Generator interface through a compiled single-node chain.
type ChatModelGenerator struct {
	chain  compose.Runnable[[]*schema.Message, *schema.Message]
	logger zerolog.Logger
}

// NewChatModelGenerator compiles a chain around chatModel.
func NewChatModelGenerator(ctx context.Context, chatModel model.BaseChatModel, logger zerolog.Logger) (*ChatModelGenerator, error) {
	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChatModelGenerator{
		chain:  runnable,
		logger: logger.With().Str("component", "chat_model").Logger(),
	}, nil
}

func (g *ChatModelGenerator) Generate(ctx context.Context, modelID string, messages []*schema.Message) (string, error) {
	response, err := g.chain.Invoke(ctx, messages, compose.WithChatModelOption(model.WithModel(modelID)))
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	if response == nil {
		return "", fmt.Errorf("chat chain returned no message")
	}

	g.logger.Debug().Str("model", modelID).Int("length", len(response.Content)).Msg("generated response")
	return response.Content, nil
}

func (g *ChatModelGenerator) Stream(ctx context.Context, modelID string, messages []*schema.Message) (*schema.StreamReader[string], error) {
	stream, err := g.chain.Stream(ctx, messages, compose.WithChatModelOption(model.WithModel(modelID)))
	if err != nil {
		return nil, fmt.Errorf("failed to stream chat chain output: %w", err)
	}

	return schema.StreamReaderWithConvert(stream, func(msg *schema.Message) (string, error) {
		if msg == nil || msg.Content == "" {
			return "", schema.ErrNoValue
		}
		return msg.Content, nil
	}), nil
}
