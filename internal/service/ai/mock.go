package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// MockReplyPrefix starts every reply of the mock generator.
const MockReplyPrefix = "[Mock Response]"

// MockSummary is what the mock generator answers to a summarization request.
const MockSummary = "This is a mock summary of the reply."

// MockGenerator is a deterministic offline generator used for local
// development and tests.
type MockGenerator struct {
	// ChunkDelay is slept between streamed fragments.
	ChunkDelay time.Duration
}

func NewMockGenerator(chunkDelay time.Duration) *MockGenerator {
	return &MockGenerator{ChunkDelay: chunkDelay}
}

func (m *MockGenerator) Generate(ctx context.Context, modelID string, messages []*schema.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.reply(modelID, messages), nil
}

func (m *MockGenerator) Stream(ctx context.Context, modelID string, messages []*schema.Message) (*schema.StreamReader[string], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parts := strings.SplitAfter(m.reply(modelID, messages), " ")
	sr, sw := schema.Pipe[string](len(parts))
	go func() {
		defer sw.Close()
		for i, part := range parts {
			if i > 0 && m.ChunkDelay > 0 {
				select {
				case <-time.After(m.ChunkDelay):
				case <-ctx.Done():
					sw.Send("", ctx.Err())
					return
				}
			}
			if closed := sw.Send(part, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *MockGenerator) reply(modelID string, messages []*schema.Message) string {
	if len(messages) > 0 && messages[0].Role == schema.System && strings.HasPrefix(messages[0].Content, "Summarize") {
		return MockSummary
	}

	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == schema.User {
			last = strings.TrimSpace(messages[i].Content)
			break
		}
	}
	return fmt.Sprintf("%s You said %q. This reply was produced by %s for local development.", MockReplyPrefix, last, modelID)
}
