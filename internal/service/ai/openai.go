package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// OpenAIGenerator serves any OpenAI-compatible chat completions API.
type OpenAIGenerator struct {
	client openai.Client
	logger zerolog.Logger
}

func NewOpenAIGenerator(apiKey, baseURL string, logger zerolog.Logger, extra ...option.RequestOption) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		logger: logger.With().Str("component", "openai").Logger(),
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, modelID string, messages []*schema.Message) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion returned no choices")
	}

	g.logger.Debug().Str("model", modelID).Int64("completion_tokens", resp.Usage.CompletionTokens).Msg("generated response")
	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) Stream(ctx context.Context, modelID string, messages []*schema.Message) (*schema.StreamReader[string], error) {
	stream := g.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: toOpenAIMessages(messages),
	})

	sr, sw := schema.Pipe[string](16)
	go func() {
		defer sw.Close()
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if closed := sw.Send(delta, nil); closed {
				return
			}
		}
		if err := stream.Err(); err != nil {
			sw.Send("", fmt.Errorf("openai stream failed: %w", err))
		}
	}()

	return sr, nil
}

func toOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case schema.System:
			params = append(params, openai.SystemMessage(msg.Content))
		case schema.User:
			params = append(params, openai.UserMessage(msg.Content))
		case schema.Assistant:
			assistant := openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)},
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return params
}
