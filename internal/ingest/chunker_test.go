package ingest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/recall/internal/domain"
)

func testMessages(n int) []domain.Message {
	base := time.Date(2024, 1, 2, 17, 0, 0, 0, time.UTC)
	msgs := make([]domain.Message, n)
	for i := range msgs {
		msgs[i] = domain.Message{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Sender:    fmt.Sprintf("sender-%d", i%2),
			Content:   fmt.Sprintf("message %d", i),
		}
	}
	return msgs
}

func TestChunk_OnePerMessage(t *testing.T) {
	msgs := testMessages(5)

	chunks := Chunk(msgs, 1, 0)
	if len(chunks) != len(msgs) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(msgs))
	}
	for i, c := range chunks {
		if !strings.Contains(c.Text, msgs[i].Content) {
			t.Errorf("chunk[%d] text %q missing message content", i, c.Text)
		}
		if c.Metadata.MessageCount != 1 {
			t.Errorf("chunk[%d].MessageCount = %d", i, c.Metadata.MessageCount)
		}
	}
}

func TestChunk_WindowedWithOverlap(t *testing.T) {
	msgs := testMessages(12)

	chunks := Chunk(msgs, 10, 2)
	// Windows start at 0 and 8: [0,10) and [8,12).
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Metadata.MessageCount != 10 {
		t.Errorf("chunk[0].MessageCount = %d", chunks[0].Metadata.MessageCount)
	}
	if chunks[1].Metadata.MessageCount != 4 {
		t.Errorf("chunk[1].MessageCount = %d", chunks[1].Metadata.MessageCount)
	}
	// Overlap: messages 8 and 9 appear in both windows.
	for _, c := range chunks {
		if !strings.Contains(c.Text, "message 8") {
			t.Errorf("chunk %s missing overlapped message", c.ID)
		}
	}
}

func TestChunk_WindowedSkipsTinyTail(t *testing.T) {
	msgs := testMessages(9)

	// Windows start at 0 and 8; the second holds a single message and is dropped.
	chunks := Chunk(msgs, 10, 2)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestChunk_DeterministicIDs(t *testing.T) {
	msgs := testMessages(6)

	a := Chunk(msgs, 3, 1)
	b := Chunk(msgs, 3, 1)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk[%d] IDs differ: %q vs %q", i, a[i].ID, b[i].ID)
		}
	}
}

func TestChunk_Metadata(t *testing.T) {
	msgs := testMessages(3)

	chunks := Chunk(msgs, 3, 0)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	meta := chunks[0].Metadata
	if meta.StartTime != msgs[0].Timestamp.Unix() {
		t.Errorf("StartTime = %d", meta.StartTime)
	}
	if meta.EndTime != msgs[2].Timestamp.Unix() {
		t.Errorf("EndTime = %d", meta.EndTime)
	}
	if meta.Senders != "sender-0,sender-1" {
		t.Errorf("Senders = %q", meta.Senders)
	}
}

func TestChunk_Empty(t *testing.T) {
	if chunks := Chunk(nil, 1, 0); len(chunks) != 0 {
		t.Errorf("got %d chunks for empty input", len(chunks))
	}
}

func TestChunk_ZeroTimestamp(t *testing.T) {
	msgs := []domain.Message{{Sender: "Alice", Content: "hello"}}

	chunks := Chunk(msgs, 1, 0)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "Alice: hello" {
		t.Errorf("Text = %q", chunks[0].Text)
	}
	if chunks[0].Metadata.StartTime != 0 {
		t.Errorf("StartTime = %d, want 0", chunks[0].Metadata.StartTime)
	}
}
