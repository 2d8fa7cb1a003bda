package extraction

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucamihailescu/codescan/pkg/classify"
)

func TestExtractTextPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Heading\n\nSome confidential body text."), 0o644))

	r := NewDefaultRegistry()
	content, err := r.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, content, "confidential body text")
}

func TestExtractTextLegacyFormatsYieldEmpty(t *testing.T) {
	dir := t.TempDir()
	r := NewDefaultRegistry()

	for _, name := range []string{"old.doc", "old.xls", "old.ppt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte{0xd0, 0xcf, 0x11, 0xe0}, 0o644))

		content, err := r.ExtractText(context.Background(), path)
		require.NoError(t, err)
		assert.Empty(t, content)
	}
}

func TestExtractTextBinaryYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03}, 0o644))

	r := NewDefaultRegistry()
	content, err := r.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestTextExtractorRejectsMostlyInvalidUTF8(t *testing.T) {
	te := NewTextExtractor()
	garbage := string([]byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb, 0xfa, 'a', 'b'})
	assert.Equal(t, "", te.cleanUTF8Content(garbage))

	mostlyValid := "valid text here" + string([]byte{0xff})
	assert.Equal(t, "valid text here", te.cleanUTF8Content(mostlyValid))
}

func TestRegistryPriorityOrder(t *testing.T) {
	r := NewDefaultRegistry()
	extractors := r.Extractors()
	require.NotEmpty(t, extractors)

	for i := 1; i < len(extractors); i++ {
		assert.GreaterOrEqual(t, extractors[i-1].Priority(), extractors[i].Priority())
	}
	// The generic text extractor must come after the document extractors.
	assert.Equal(t, "TextExtractor", extractors[len(extractors)-1].Name())
}

func TestStripDocumentXML(t *testing.T) {
	xml := `<w:document><w:body><w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second</w:t></w:r><w:r><w:t> paragraph.</w:t></w:r></w:p></w:body></w:document>`

	got := stripDocumentXML(xml)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", got)
}

func TestPowerPointExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	writeDeck(t, path, map[string]string{
		"ppt/slides/slide1.xml": `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
			`<p:txBody><a:p><a:r><a:t>Launch plan</a:t></a:r><a:r><a:t>overview</a:t></a:r></a:p></p:txBody></p:sld>`,
		"ppt/slides/slide2.xml": `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
			`<p:txBody><a:p><a:r><a:t>Revenue targets</a:t></a:r></a:p></p:txBody></p:sld>`,
	})

	pe := NewPowerPointExtractor()
	require.True(t, pe.CanExtract(path, classify.PowerPoint))

	content, err := pe.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, content, "Launch plan overview")
	assert.Contains(t, content, "Revenue targets")
}

func writeDeck(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, body := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}
