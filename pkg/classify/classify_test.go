package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyByExtension(t *testing.T) {
	tests := []struct {
		path string
		want FileType
	}{
		{"report.docx", Word},
		{"report.doc", WordLegacy},
		{"paper.pdf", PDF},
		{"sheet.xlsx", Excel},
		{"sheet.xls", ExcelLegacy},
		{"deck.pptx", PowerPoint},
		{"deck.ppt", PowerPointLegacy},
		{"notes.md", Text},
		{"main.go", Text},
		{"script.PY", Text},
		{"data.JSON", Text},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.path))
		})
	}
}

func TestClassifyWellKnownNames(t *testing.T) {
	assert.Equal(t, Text, Classify("/src/project/Dockerfile"))
	assert.Equal(t, Text, Classify("Makefile"))
	assert.Equal(t, Text, Classify("README"))
}

func TestClassifySniffsContent(t *testing.T) {
	dir := t.TempDir()

	textPath := filepath.Join(dir, "noext")
	require.NoError(t, os.WriteFile(textPath, []byte("plain utf-8 content with no extension"), 0o644))
	assert.Equal(t, Text, Classify(textPath))

	binPath := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(binPath, []byte{0x7f, 0x45, 0x4c, 0x46, 0x00, 0x01, 0x02}, 0o644))
	assert.Equal(t, Binary, Classify(binPath))
}

func TestClassifyMissingFileIsBinary(t *testing.T) {
	assert.Equal(t, Binary, Classify(filepath.Join(t.TempDir(), "missing.bin")))
}

func TestIsTextual(t *testing.T) {
	assert.True(t, IsTextual("a.txt"))
	assert.True(t, IsTextual("a.docx"))
	assert.True(t, IsTextual("a.ppt"))
	assert.False(t, IsTextual(filepath.Join(t.TempDir(), "missing.so")))
}
