// Package extraction turns files into plain text for vectorization. A
// registry of prioritized extractors covers plain text and the structured
// document formats; legacy office formats classify but yield no content.
package extraction

import (
	"context"
	"fmt"
	"sort"

	"github.com/lucamihailescu/codescan/pkg/classify"
)

// ContentExtractor extracts plain text from one family of file formats.
type ContentExtractor interface {
	// Name returns the extractor name for logging and statistics.
	Name() string

	// CanExtract determines if this extractor handles the given file.
	CanExtract(path string, fileType classify.FileType) bool

	// Extract returns the plain-text content of the file.
	Extract(ctx context.Context, path string) (string, error)

	// Priority breaks ties when multiple extractors match (higher wins).
	Priority() int
}

// Registry dispatches extraction to the best matching extractor.
type Registry struct {
	extractors []ContentExtractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make([]ContentExtractor, 0)}
}

// NewDefaultRegistry creates a registry with all built-in extractors.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewTextExtractor())
	r.Register(NewPDFExtractor())
	r.Register(NewWordExtractor())
	r.Register(NewExcelExtractor())
	r.Register(NewPowerPointExtractor())
	return r
}

// Register adds an extractor, keeping the list sorted by priority.
func (r *Registry) Register(extractor ContentExtractor) {
	r.extractors = append(r.extractors, extractor)
	sort.SliceStable(r.extractors, func(i, j int) bool {
		return r.extractors[i].Priority() > r.extractors[j].Priority()
	})
}

// Extractors returns the registered extractors in dispatch order.
func (r *Registry) Extractors() []ContentExtractor {
	return r.extractors
}

// ExtractText classifies path and extracts its text content. Legacy office
// formats and binary files yield the empty string without error; a textual
// classification with no matching extractor is an error. When an extractor
// fails the next matching one is tried.
func (r *Registry) ExtractText(ctx context.Context, path string) (string, error) {
	fileType := classify.Classify(path)

	switch fileType {
	case classify.Binary, classify.WordLegacy, classify.ExcelLegacy, classify.PowerPointLegacy:
		return "", nil
	}

	var lastErr error
	for _, extractor := range r.extractors {
		if !extractor.CanExtract(path, fileType) {
			continue
		}
		content, err := extractor.Extract(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		return content, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("extraction failed for %s: %w", path, lastErr)
	}
	return "", fmt.Errorf("no extractor for file %s (type %s)", path, fileType)
}
