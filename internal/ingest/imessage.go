package ingest

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

// imessage-exporter txt layout: blocks separated by blank lines, each block
// is a timestamp line (optionally suffixed with a read receipt), a sender
// line, and one or more body lines.
const imessageTimeLayout = "Jan 2, 2006 3:04:05 PM"

var (
	blockSplitRegex  = regexp.MustCompile(`\n\n+`)
	readReceiptRegex = regexp.MustCompile(`\(Read.*\)$`)
)

func parseIMessage(r io.Reader, logger *zap.Logger) ([]domain.Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}

	var messages []domain.Message

	for _, block := range blockSplitRegex.Split(string(data), -1) {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}

		tsLine := strings.TrimSpace(readReceiptRegex.ReplaceAllString(lines[0], ""))

		// A failed timestamp parse keeps the message with a zero timestamp.
		ts, err := time.Parse(imessageTimeLayout, tsLine)
		if err != nil {
			logger.Warn("Unparseable iMessage timestamp", zap.String("line", tsLine))
			ts = time.Time{}
		}

		messages = append(messages, domain.Message{
			Timestamp: ts,
			Sender:    strings.TrimSpace(lines[1]),
			Content:   strings.TrimSpace(strings.Join(lines[2:], "\n")),
		})
	}

	return messages, nil
}
