package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/recall/internal/domain"
)

const chunkTimeLayout = "2006-01-02 15:04:05"

// Chunk groups messages into sliding windows of size messages with overlap
// messages shared between adjacent windows. size 1 / overlap 0 yields one
// chunk per message. Chunk IDs are deterministic for a fixed input, so
// re-ingesting the same file upserts the same records.
func Chunk(messages []domain.Message, size, overlap int) []domain.Chunk {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []domain.Chunk

	step := size - overlap
	for i := 0; i < len(messages); i += step {
		end := i + size
		if end > len(messages) {
			end = len(messages)
		}
		window := messages[i:end]

		// Windowed chunking drops trailing windows too small to carry
		// conversational context. Per-message chunking keeps everything.
		if size > 1 && len(window) < 2 {
			continue
		}

		chunks = append(chunks, buildChunk(i, window))
	}

	return chunks
}

func buildChunk(index int, window []domain.Message) domain.Chunk {
	lines := make([]string, 0, len(window))
	senders := map[string]struct{}{}

	for _, msg := range window {
		if msg.Timestamp.IsZero() {
			lines = append(lines, fmt.Sprintf("%s: %s", msg.Sender, msg.Content))
		} else {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s",
				msg.Timestamp.Format(chunkTimeLayout), msg.Sender, msg.Content))
		}
		if msg.Sender != "" {
			senders[msg.Sender] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(senders))
	for s := range senders {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	start := unixOrZero(window[0])
	end := unixOrZero(window[len(window)-1])

	return domain.Chunk{
		ID:   fmt.Sprintf("chunk_%d_%d_%d", index, start, end),
		Text: strings.Join(lines, "\n"),
		Metadata: domain.ChunkMetadata{
			StartTime:    start,
			EndTime:      end,
			MessageCount: len(window),
			Senders:      strings.Join(sorted, ","),
		},
	}
}

func unixOrZero(msg domain.Message) int64 {
	if msg.Timestamp.IsZero() {
		return 0
	}
	return msg.Timestamp.Unix()
}
