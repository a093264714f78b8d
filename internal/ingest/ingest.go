// Package ingest parses exported chat logs into messages and groups them
// into embeddable chunks. Export itself is an external pre-processing step;
// this package only consumes its output files.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Format identifies a supported export format.
type Format string

const (
	// FormatTxt is the iMessage plain-text export (blank-line separated blocks).
	FormatTxt Format = "txt"
	// FormatSignal is the Signal JSON-lines export.
	FormatSignal Format = "signal"
)

// ParseFormat validates a format flag value. "imessage" is accepted as an
// alias for the txt export it produces.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "txt", "imessage":
		return FormatTxt, nil
	case "signal":
		return FormatSignal, nil
	default:
		return "", fmt.Errorf("%w: %q (want txt or signal)", domain.ErrUnsupportedFormat, s)
	}
}

// ParseFile reads an export file and returns its messages in file order.
// Malformed entries are skipped with a warning; an empty file yields zero
// messages and no error.
func ParseFile(path string, format Format, logger *zap.Logger) ([]domain.Message, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}
	defer f.Close()

	switch format {
	case FormatTxt:
		return parseIMessage(f, logger)
	case FormatSignal:
		return parseSignal(f, logger)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, string(format))
	}
}
