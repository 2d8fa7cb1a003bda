package extraction

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/lucamihailescu/codescan/pkg/classify"
)

// PowerPointExtractor extracts text runs from .pptx slide decks. A deck is
// a zip archive of DrawingML slides; text lives in <a:t> elements.
type PowerPointExtractor struct{}

// NewPowerPointExtractor creates a new PowerPoint extractor.
func NewPowerPointExtractor() *PowerPointExtractor {
	return &PowerPointExtractor{}
}

// Name returns the extractor name.
func (pe *PowerPointExtractor) Name() string {
	return "PowerPointExtractor"
}

// CanExtract checks if the file is a modern PowerPoint deck.
func (pe *PowerPointExtractor) CanExtract(filePath string, fileType classify.FileType) bool {
	return fileType == classify.PowerPoint
}

// Extract reads every slide, ordered by archive entry name (so slide10.xml
// comes before slide2.xml), and concatenates its text runs. Slides that
// fail to parse are skipped.
func (pe *PowerPointExtractor) Extract(ctx context.Context, filePath string) (string, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open deck %s: %w", filePath, err)
	}
	defer archive.Close()

	var slides []*zip.File
	for _, f := range archive.File {
		dir, base := path.Split(f.Name)
		if dir == "ppt/slides/" && strings.HasPrefix(base, "slide") && strings.HasSuffix(base, ".xml") {
			slides = append(slides, f)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].Name < slides[j].Name })

	var parts []string
	for _, slide := range slides {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := slideText(slide)
		if err != nil {
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

// Priority returns medium priority (5).
func (pe *PowerPointExtractor) Priority() int {
	return 5
}

func slideText(slide *zip.File) (string, error) {
	rc, err := slide.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var runs []string
	decoder := xml.NewDecoder(rc)
	inTextRun := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inTextRun = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inTextRun = false
			}
		case xml.CharData:
			if inTextRun {
				runs = append(runs, string(t))
			}
		}
	}

	return strings.TrimSpace(strings.Join(runs, " ")), nil
}
