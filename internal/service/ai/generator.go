package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// ErrUnsupportedModel is returned when no generator is registered for a model id.
var ErrUnsupportedModel = errors.New("unsupported model")

// Generator 是文本生成后端的能力接口：一个非流式方法和一个流式方法。
//
// Stream returns a lazy sequence of text fragments; the reader ends with
// io.EOF once the model has finished.
type Generator interface {
	Generate(ctx context.Context, modelID string, messages []*schema.Message) (string, error)
	Stream(ctx context.Context, modelID string, messages []*schema.Message) (*schema.StreamReader[string], error)
}

// Registry maps model ids to the generator that serves them. It is itself a
// Generator that routes each call by model id.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Generator)}
}

// Register binds modelID to g, replacing any previous binding.
func (r *Registry) Register(modelID string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[modelID]; !exists {
		r.order = append(r.order, modelID)
	}
	r.byID[modelID] = g
}

// Supports reports whether modelID has a registered generator.
func (r *Registry) Supports(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[modelID]
	return ok
}

// Models returns the registered model ids in registration order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) lookup(modelID string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byID[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, modelID)
	}
	return g, nil
}

func (r *Registry) Generate(ctx context.Context, modelID string, messages []*schema.Message) (string, error) {
	g, err := r.lookup(modelID)
	if err != nil {
		return "", err
	}
	return g.Generate(ctx, modelID, messages)
}

func (r *Registry) Stream(ctx context.Context, modelID string, messages []*schema.Message) (*schema.StreamReader[string], error) {
	g, err := r.lookup(modelID)
	if err != nil {
		return nil, err
	}
	return g.Stream(ctx, modelID, messages)
}
