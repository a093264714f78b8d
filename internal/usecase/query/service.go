// Package query answers questions over ingested chat logs by retrieving the
// most similar chunks and feeding them to a chat model.
package query

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/store"
)

const systemPrompt = "You are a helpful assistant analyzing text messages."

// noInfoAnswer is returned when retrieval finds nothing, without touching
// the chat model.
const noInfoAnswer = "I don't have any information about that in the ingested messages."

// Searcher is the retrieval slice of the store contract.
type Searcher interface {
	Nearest(ctx context.Context, vector []float32, k int) ([]store.Result, error)
}

// Excerpt is one retrieved chunk with its similarity score, exposed to
// callers that want to show sources alongside the answer.
type Excerpt struct {
	Text      string
	Score     float64
	StartTime time.Time
	EndTime   time.Time
	Senders   string
}

// Service runs the retrieval-augmented answer pipeline.
type Service struct {
	embedder  domain.Embedder
	searcher  Searcher
	generator domain.Generator
	topK      int
	logger    *zap.Logger
}

// NewService creates a query service retrieving up to topK chunks per
// question.
func NewService(
	embedder domain.Embedder,
	searcher Searcher,
	generator domain.Generator,
	topK int,
	logger *zap.Logger,
) *Service {
	if topK <= 0 {
		topK = 5
	}
	return &Service{
		embedder:  embedder,
		searcher:  searcher,
		generator: generator,
		topK:      topK,
		logger:    logger,
	}
}

// Retrieve embeds the question and returns the closest chunks by cosine
// similarity, best first.
func (s *Service) Retrieve(ctx context.Context, question string) ([]Excerpt, error) {
	res, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := s.searcher.Nearest(ctx, res.Embedding, s.topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	excerpts := make([]Excerpt, len(results))
	for i, r := range results {
		excerpts[i] = Excerpt{
			Text:      r.Content,
			Score:     r.Score,
			StartTime: timeOrZero(r.Metadata.StartTime),
			EndTime:   timeOrZero(r.Metadata.EndTime),
			Senders:   r.Metadata.Senders,
		}
	}

	s.logger.Debug("Retrieved excerpts",
		zap.Int("count", len(excerpts)),
		zap.Int("top_k", s.topK),
	)
	return excerpts, nil
}

// Answer runs retrieval and returns the model's full answer along with the
// excerpts that grounded it. An empty store yields a fixed no-information
// answer and no model call.
func (s *Service) Answer(ctx context.Context, question string) (string, []Excerpt, error) {
	excerpts, err := s.Retrieve(ctx, question)
	if err != nil {
		return "", nil, err
	}
	if len(excerpts) == 0 {
		return noInfoAnswer, nil, nil
	}

	answer, err := s.generator.Complete(ctx, systemPrompt, buildPrompt(question, excerpts))
	if err != nil {
		return "", excerpts, fmt.Errorf("generate answer: %w", err)
	}
	return answer, excerpts, nil
}

// AnswerStream is Answer with an incremental token stream instead of a
// single string.
func (s *Service) AnswerStream(ctx context.Context, question string) (domain.TokenStream, []Excerpt, error) {
	excerpts, err := s.Retrieve(ctx, question)
	if err != nil {
		return nil, nil, err
	}
	if len(excerpts) == 0 {
		return &staticTokenStream{text: noInfoAnswer}, nil, nil
	}

	stream, err := s.generator.Stream(ctx, systemPrompt, buildPrompt(question, excerpts))
	if err != nil {
		return nil, excerpts, fmt.Errorf("generate answer: %w", err)
	}
	return stream, excerpts, nil
}

func buildPrompt(question string, excerpts []Excerpt) string {
	texts := make([]string, len(excerpts))
	for i, ex := range excerpts {
		texts[i] = ex.Text
	}

	var b strings.Builder
	b.WriteString("You are analyzing text messages from the user.\n")
	fmt.Fprintf(&b, "Based on the following excerpts, please answer this question: %s\n\n", question)
	b.WriteString("EXCERPTS:\n")
	b.WriteString(strings.Join(texts, "\n\n"))
	b.WriteString("\n\nPlease provide a concise answer based only on the information in these excerpts.")
	return b.String()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// staticTokenStream yields one fixed fragment then io.EOF.
type staticTokenStream struct {
	text string
	done bool
}

func (s *staticTokenStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

func (s *staticTokenStream) Close() error { return nil }
