// Package ingest drives the ingestion pipeline: parse an export file,
// chunk its messages, embed the chunks and persist them.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	parser "github.com/kailas-cloud/recall/internal/ingest"
	"github.com/kailas-cloud/recall/internal/store"
)

// Stats summarizes one ingestion run.
type Stats struct {
	Messages int
	Chunks   int
	Stored   int
	Elapsed  time.Duration
}

// Options tune chunking and embedding batching.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

// Service wires parser, embedder and store into the ingestion pipeline.
type Service struct {
	embedder domain.Embedder
	store    store.Store
	opts     Options
	logger   *zap.Logger
}

// NewService creates an ingestion service.
func NewService(embedder domain.Embedder, st store.Store, opts Options, logger *zap.Logger) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Service{
		embedder: embedder,
		store:    st,
		opts:     opts,
		logger:   logger,
	}
}

// IngestFile runs the full pipeline for one export file. An empty file is
// not an error; it ingests zero chunks. Re-running on the same file is
// idempotent because chunk IDs are deterministic and the store upserts.
func (s *Service) IngestFile(ctx context.Context, path string, format parser.Format) (Stats, error) {
	start := time.Now()

	messages, err := parser.ParseFile(path, format, s.logger)
	if err != nil {
		return Stats{}, err
	}

	chunks := parser.Chunk(messages, s.opts.ChunkSize, s.opts.ChunkOverlap)

	s.logger.Info("Parsed export file",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("messages", len(messages)),
		zap.Int("chunks", len(chunks)),
	)

	stored, err := s.ingestChunks(ctx, chunks)
	stats := Stats{
		Messages: len(messages),
		Chunks:   len(chunks),
		Stored:   stored,
		Elapsed:  time.Since(start),
	}
	if err != nil {
		return stats, err
	}

	s.logger.Info("Ingestion complete",
		zap.Int("stored", stats.Stored),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return stats, nil
}

func (s *Service) ingestChunks(ctx context.Context, chunks []domain.Chunk) (int, error) {
	stored := 0

	for offset := 0; offset < len(chunks); offset += s.opts.BatchSize {
		end := offset + s.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[offset:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		result, err := s.batchEmbed(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("embed batch at offset %d: %w", offset, err)
		}
		if len(result.Embeddings) != len(batch) {
			return stored, fmt.Errorf("%w: got %d embeddings for %d chunks",
				domain.ErrEmbeddingProvider, len(result.Embeddings), len(batch))
		}

		records := make([]store.Record, len(batch))
		for i, c := range batch {
			records[i] = store.Record{
				ID:        c.ID,
				Content:   c.Text,
				Metadata:  c.Metadata,
				Embedding: result.Embeddings[i],
			}
		}

		if err := s.store.PutBatch(ctx, records); err != nil {
			return stored, fmt.Errorf("store batch at offset %d: %w", offset, err)
		}
		stored += len(records)

		s.logger.Debug("Stored embedding batch",
			zap.Int("offset", offset),
			zap.Int("size", len(batch)),
			zap.Int("total_tokens", result.TotalTokens),
		)
	}

	return stored, nil
}

func (s *Service) batchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := s.embedder.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, s.embedder, texts)
}
