package extraction

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/lucamihailescu/codescan/pkg/classify"
)

// TextExtractor handles plain text and code files.
type TextExtractor struct{}

// NewTextExtractor creates a new text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Name returns the extractor name.
func (te *TextExtractor) Name() string {
	return "TextExtractor"
}

// CanExtract checks if this is a text file.
func (te *TextExtractor) CanExtract(path string, fileType classify.FileType) bool {
	return fileType == classify.Text
}

// Extract reads and cleans text content.
func (te *TextExtractor) Extract(ctx context.Context, path string) (string, error) {
	contentBytes, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return te.cleanUTF8Content(string(contentBytes)), nil
}

// Priority returns lower priority (1) so specific extractors can override.
func (te *TextExtractor) Priority() int {
	return 1
}

// cleanUTF8Content validates and cleans UTF-8 content.
func (te *TextExtractor) cleanUTF8Content(content string) string {
	if utf8.ValidString(content) {
		return content
	}

	cleaned := strings.ToValidUTF8(content, "")

	// If more than 50% was invalid, reject the file.
	invalidRatio := float64(len(content)-len(cleaned)) / float64(len(content))
	if invalidRatio > 0.5 {
		return ""
	}

	return cleaned
}
