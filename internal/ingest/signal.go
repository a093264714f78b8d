package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

// signalLine is one JSON-lines record of a Signal export.
type signalLine struct {
	Date   string `json:"date"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// signalTimeLayouts are tried in order; exports carry ISO 8601 dates with or
// without a zone offset.
var signalTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseSignal(r io.Reader, logger *zap.Logger) ([]domain.Message, error) {
	var messages []domain.Message

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec signalLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			logger.Warn("Skipping malformed Signal line", zap.Error(err))
			continue
		}

		body := strings.TrimSpace(rec.Body)
		if body == "" {
			logger.Warn("Skipping Signal record without a body", zap.String("date", rec.Date))
			continue
		}

		ts, err := parseSignalTime(rec.Date)
		if err != nil {
			logger.Warn("Unparseable Signal timestamp", zap.String("date", rec.Date))
		}

		messages = append(messages, domain.Message{
			Timestamp: ts,
			Sender:    rec.Sender,
			Content:   body,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}

	return messages, nil
}

func parseSignalTime(s string) (time.Time, error) {
	for _, layout := range signalTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
