package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"

	"github.com/lucamihailescu/codescan/pkg/classify"
)

// WordExtractor extracts plain text from .docx documents.
type WordExtractor struct{}

// NewWordExtractor creates a new Word extractor.
func NewWordExtractor() *WordExtractor {
	return &WordExtractor{}
}

// Name returns the extractor name.
func (we *WordExtractor) Name() string {
	return "WordExtractor"
}

// CanExtract checks if the file is a modern Word document.
func (we *WordExtractor) CanExtract(path string, fileType classify.FileType) bool {
	return fileType == classify.Word
}

// Extract reads the document body and strips the WordprocessingML markup,
// turning paragraph boundaries into newlines.
func (we *WordExtractor) Extract(ctx context.Context, path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open Word document %s: %w", path, err)
	}
	defer doc.Close()

	return stripDocumentXML(doc.Editable().GetContent()), nil
}

// Priority returns medium priority (5).
func (we *WordExtractor) Priority() int {
	return 5
}

// stripDocumentXML removes XML tags from OOXML body markup, inserting
// newlines at paragraph ends so adjacent runs do not merge into one token.
func stripDocumentXML(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	inTag := false
	var tag strings.Builder
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
		case r == '>' && inTag:
			inTag = false
			name := tag.String()
			if name == "/w:p" || name == "/a:p" || strings.HasPrefix(name, "w:br") {
				b.WriteByte('\n')
			}
		case inTag:
			tag.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(b.String())
}
