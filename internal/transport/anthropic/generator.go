// Package anthropic provides an alternative chat generator for setups that
// point the inference side at the Anthropic API instead of the
// OpenAI-compatible enclave. Embeddings still go through the primary provider.
package anthropic

import (
	"context"
	"fmt"
	"io"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Generator is a chat completion provider backed by the Anthropic API.
type Generator struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *zap.Logger
}

// Config holds the Anthropic chat provider settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Logger    *zap.Logger
}

// NewGenerator creates an Anthropic chat completion provider.
func NewGenerator(cfg *Config) *Generator {
	client := anthropic.NewClient(
		anthropicopt.WithAPIKey(cfg.APIKey),
	)

	return &Generator{
		client:    &client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		logger:    cfg.Logger,
	}
}

// Complete implements domain.Generator.
func (g *Generator) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, g.params(system, prompt))
	if err != nil {
		return "", fmt.Errorf("anthropic message: %v: %w", err, domain.ErrInferenceProvider)
	}

	var b strings.Builder
	for _, content := range resp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}

	result := b.String()
	if result == "" {
		return "", fmt.Errorf("empty completion response: %w", domain.ErrInferenceProvider)
	}

	return result, nil
}

// Stream implements domain.Generator with server-side streaming.
func (g *Generator) Stream(ctx context.Context, system, prompt string) (domain.TokenStream, error) {
	stream := g.client.Messages.NewStreaming(ctx, g.params(system, prompt))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %v: %w", err, domain.ErrInferenceProvider)
	}
	return &tokenStream{stream: stream}, nil
}

func (g *Generator) params(system, prompt string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
}

// tokenStream adapts the Anthropic event stream to domain.TokenStream,
// yielding only text deltas.
type tokenStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *tokenStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			return delta.Text, nil
		}
	}

	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("anthropic stream: %v: %w", err, domain.ErrInferenceProvider)
	}
	return "", io.EOF
}

func (s *tokenStream) Close() error {
	return s.stream.Close()
}
