package classify

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// FileType is the coarse content classification used to route files to the
// right extractor.
type FileType string

const (
	Text             FileType = "text"
	Word             FileType = "word"
	PDF              FileType = "pdf"
	Excel            FileType = "excel"
	PowerPoint       FileType = "powerpoint"
	WordLegacy       FileType = "word_legacy"
	ExcelLegacy      FileType = "excel_legacy"
	PowerPointLegacy FileType = "powerpoint_legacy"
	Binary           FileType = "binary"
)

// documentTypes maps known document-format extensions to their type.
var documentTypes = map[string]FileType{
	".docx": Word,
	".doc":  WordLegacy,
	".pdf":  PDF,
	".xlsx": Excel,
	".xlsm": Excel,
	".xls":  ExcelLegacy,
	".pptx": PowerPoint,
	".ppt":  PowerPointLegacy,
}

// textExtensions lists code and plain-text formats that always classify as
// text regardless of content.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".log": true, ".csv": true, ".tsv": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true,
	".ini": true, ".cfg": true, ".conf": true, ".env": true, ".properties": true,
	".html": true, ".htm": true, ".css": true, ".scss": true, ".less": true,
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true,
	".go": true, ".py": true, ".rb": true, ".rs": true, ".java": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true,
	".cs": true, ".php": true, ".pl": true, ".swift": true, ".kt": true,
	".scala": true, ".lua": true, ".r": true, ".m": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true,
	".bat": true, ".ps1": true, ".sql": true, ".graphql": true, ".proto": true,
	".tex": true, ".bib": true, ".srt": true, ".vtt": true,
}

// wellKnownNames lists extensionless files that are conventionally text.
var wellKnownNames = map[string]bool{
	"dockerfile":  true,
	"makefile":    true,
	"rakefile":    true,
	"gemfile":     true,
	"procfile":    true,
	"vagrantfile": true,
	"license":     true,
	"readme":      true,
	"changelog":   true,
	"authors":     true,
	"notice":      true,
}

// Classify determines the file type of path using its extension, its
// basename, a MIME guess and finally a UTF-8 sniff of the leading bytes.
func Classify(path string) FileType {
	ext := strings.ToLower(filepath.Ext(path))

	if t, ok := documentTypes[ext]; ok {
		return t
	}
	if textExtensions[ext] {
		return Text
	}
	if ext == "" && wellKnownNames[strings.ToLower(filepath.Base(path))] {
		return Text
	}
	if mimeType := mime.TypeByExtension(ext); strings.HasPrefix(mimeType, "text/") {
		return Text
	}
	if sniffUTF8(path) {
		return Text
	}
	return Binary
}

// IsTextual reports whether the file can yield text content, either directly
// or through a document extractor.
func IsTextual(path string) bool {
	return Classify(path) != Binary
}

// sniffUTF8 reads up to 1 KiB of the file and reports whether it decodes as
// UTF-8 without NUL bytes.
func sniffUTF8(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if n == 0 || (err != nil && n <= 0) {
		return false
	}
	buf = buf[:n]

	for _, b := range buf {
		if b == 0 {
			return false
		}
	}

	// A read boundary may split a multi-byte rune; trim up to 3 trailing
	// continuation bytes before validating.
	for i := 0; i < 3 && len(buf) > 0 && !utf8.Valid(buf); i++ {
		buf = buf[:len(buf)-1]
	}
	return utf8.Valid(buf)
}
