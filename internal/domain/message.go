package domain

import "time"

// Message is a single chat message parsed from an export file.
// Timestamp may be zero when the export did not carry a parseable date.
type Message struct {
	Timestamp time.Time
	Sender    string
	Content   string
}

// Chunk is an embeddable unit built from one or more consecutive messages.
// Chunks are immutable once created and their IDs are deterministic for a
// given input file and chunking configuration.
type Chunk struct {
	ID       string
	Text     string
	Metadata ChunkMetadata
}

// ChunkMetadata describes the message window a chunk was built from.
type ChunkMetadata struct {
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	MessageCount int    `json:"message_count"`
	Senders      string `json:"senders"`
}
