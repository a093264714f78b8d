package domain

import "context"

// Generator produces chat completions from a composed prompt.
type Generator interface {
	// Complete returns the full answer in one call.
	Complete(ctx context.Context, system, prompt string) (string, error)
	// Stream returns the answer incrementally. The caller must Close the
	// stream when done.
	Stream(ctx context.Context, system, prompt string) (TokenStream, error)
}

// TokenStream yields answer text fragments. Recv returns io.EOF once the
// stream is exhausted.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}
