// Package turn runs one chat turn: validate, persist the user message, stream
// the model's answer to the client, summarize it, persist the assistant
// message and report completion.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/guard"
	"github.com/mdthorpe/llm-web-chat/internal/metrics"
	"github.com/mdthorpe/llm-web-chat/internal/model/chat"
	"github.com/mdthorpe/llm-web-chat/internal/model/ws"
	"github.com/mdthorpe/llm-web-chat/internal/service/ai"
	"github.com/mdthorpe/llm-web-chat/internal/service/summary"
)

// Client-facing validation messages.
const (
	MsgMissingFields    = "Missing chatId or content"
	MsgChatNotFound     = "Chat not found"
	MsgUnsupportedModel = "Unsupported model for this chat"
	MsgBusy             = "busy"
	MsgRateLimited      = "Rate limit exceeded"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// ValidationError rejects a turn before anything has been persisted.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return e.Err }

// Store is the slice of the message store a turn needs.
type Store interface {
	GetChat(ctx context.Context, chatID string) (chat.Chat, error)
	InsertMessage(ctx context.Context, message chat.Message) (chat.Message, error)
	ListMessagesByChat(ctx context.Context, chatID string) ([]chat.Message, error)
}

// Catalog reports which model ids can be served.
type Catalog interface {
	Supports(modelID string) bool
}

// Request is one inbound chat frame.
type Request struct {
	ChatID  string
	Content string
}

// Config wires an Orchestrator.
type Config struct {
	Store     Store
	Generator ai.Generator
	Catalog   Catalog
	// Guard is optional; nil admits every turn.
	Guard guard.Guard
	// Streaming selects Stream over Generate for the main answer.
	Streaming bool
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Orchestrator is stateless between turns and safe for concurrent use.
type Orchestrator struct {
	store     Store
	generator ai.Generator
	catalog   Catalog
	guard     guard.Guard
	streaming bool
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(cfg Config) *Orchestrator {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		store:     cfg.Store,
		generator: cfg.Generator,
		catalog:   cfg.Catalog,
		guard:     cfg.Guard,
		streaming: cfg.Streaming,
		logger:    cfg.Logger.With().Str("component", "chat_turn").Logger(),
		metrics:   m,
		now:       now,
	}
}

// Run executes one turn and reports it to out. Exactly one terminal frame is
// sent: complete on success, error otherwise. The returned error mirrors the
// error frame.
func (o *Orchestrator) Run(ctx context.Context, req Request, out ws.Sender) (err error) {
	logger := o.logger.With().Str("chat_id", req.ChatID).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chat turn panicked: %v", r)
			logger.Error().Interface("panic", r).Msg("recovered chat turn panic")
		}

		var verr *ValidationError
		switch {
		case err == nil:
			o.metrics.TurnsTotal.WithLabelValues("completed").Inc()
			logger.Info().Dur("elapsed", time.Since(start)).Msg("chat turn completed")
			return
		case errors.As(err, &verr):
			o.metrics.TurnsTotal.WithLabelValues("rejected").Inc()
			logger.Debug().Str("reason", verr.Msg).Msg("chat turn rejected")
		default:
			o.metrics.TurnsTotal.WithLabelValues("failed").Inc()
			logger.Error().Err(err).Msg("chat turn failed")
		}
		_ = out.Send(ws.Error(err.Error()))
	}()

	done, err := o.run(ctx, req, out, logger)
	if err != nil {
		return err
	}
	// run has released the chat by now, so the next turn is admitted as soon
	// as the client sees complete.
	_ = out.Send(done)
	return nil
}

// run returns the complete frame instead of sending it; the guard is held
// until run returns.
func (o *Orchestrator) run(ctx context.Context, req Request, out ws.Sender, logger zerolog.Logger) (ws.Frame, error) {
	chatID := strings.TrimSpace(req.ChatID)
	content := strings.TrimSpace(req.Content)
	if chatID == "" || content == "" {
		return ws.Frame{}, &ValidationError{Msg: MsgMissingFields}
	}

	c, err := o.store.GetChat(ctx, chatID)
	if errors.Is(err, chat.ErrChatNotFound) {
		return ws.Frame{}, &ValidationError{Msg: MsgChatNotFound, Err: err}
	}
	if err != nil {
		return ws.Frame{}, fmt.Errorf("load chat: %w", err)
	}
	if !o.catalog.Supports(c.ModelID) {
		return ws.Frame{}, &ValidationError{Msg: MsgUnsupportedModel, Err: ai.ErrUnsupportedModel}
	}

	if o.guard != nil {
		release, err := o.guard.Acquire(ctx, chatID)
		switch {
		case errors.Is(err, guard.ErrBusy):
			return ws.Frame{}, &ValidationError{Msg: MsgBusy, Err: err}
		case errors.Is(err, guard.ErrRateLimited):
			return ws.Frame{}, &ValidationError{Msg: MsgRateLimited, Err: err}
		case err != nil:
			return ws.Frame{}, fmt.Errorf("acquire turn: %w", err)
		}
		defer release()
	}

	userMsg, err := o.store.InsertMessage(ctx, chat.Message{
		ChatID:    chatID,
		Role:      chat.RoleUser,
		Content:   content,
		CreatedAt: o.now(),
	})
	if err != nil {
		return ws.Frame{}, fmt.Errorf("persist user message: %w", err)
	}

	history, err := o.store.ListMessagesByChat(ctx, chatID)
	if err != nil {
		return ws.Frame{}, fmt.Errorf("load history: %w", err)
	}

	_ = out.Send(ws.Start(userMsg.ID))

	full, err := o.generate(ctx, c.ModelID, ai.ToSchemaMessages(history), userMsg.ID, out)
	if err != nil {
		return ws.Frame{}, err
	}
	if strings.TrimSpace(full) == "" {
		return ws.Frame{}, ErrEmptyResponse
	}

	sum, err := summary.Summarize(ctx, full, c.ModelID, o.generator)
	if err != nil {
		return ws.Frame{}, err
	}
	o.metrics.Summaries.WithLabelValues(string(sum.Source)).Inc()

	assistantMsg, err := o.store.InsertMessage(ctx, chat.Message{
		ChatID:    chatID,
		Role:      chat.RoleAssistant,
		Content:   full,
		Summary:   sum.Text,
		CreatedAt: o.now(),
	})
	if err != nil {
		return ws.Frame{}, fmt.Errorf("persist assistant message: %w", err)
	}

	logger.Debug().
		Str("message_id", userMsg.ID).
		Str("response_id", assistantMsg.ID).
		Str("summary_source", string(sum.Source)).
		Int("length", len(full)).
		Msg("assistant message persisted")

	return ws.Complete(userMsg.ID, assistantMsg.ID, sum.Text), nil
}

// generate produces the full answer, forwarding every non-empty fragment as a
// chunk frame as soon as it arrives.
func (o *Orchestrator) generate(ctx context.Context, modelID string, history []*schema.Message, messageID string, out ws.Sender) (string, error) {
	if !o.streaming {
		text, err := o.generator.Generate(ctx, modelID, history)
		if err != nil {
			return "", err
		}
		if text != "" {
			_ = out.Send(ws.Chunk(messageID, text))
		}
		return text, nil
	}

	stream, err := o.generator.Stream(ctx, modelID, history)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return "", err
		}
		if fragment == "" {
			continue
		}
		full.WriteString(fragment)
		_ = out.Send(ws.Chunk(messageID, fragment))
	}
}
