package pipeline

import (
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/lucamihailescu/codescan/pkg/ignore"
)

// countFiles walks root once and counts candidate files, applying the
// ignore matcher. Traversal errors are logged as warnings and skipped.
func countFiles(root string, matcher *ignore.Matcher) int {
	count := 0
	walkFiles(root, matcher, func(string) bool {
		count++
		return true
	})
	return count
}

// collectFiles walks root and returns every candidate file path in walk
// order.
func collectFiles(root string, matcher *ignore.Matcher) []string {
	var files []string
	walkFiles(root, matcher, func(path string) bool {
		files = append(files, path)
		return true
	})
	return files
}

// walkFiles visits every non-ignored regular file under root. The visit
// callback returns false to stop the walk early. Directory access errors
// are absorbed: logged and skipped, never fatal.
func walkFiles(root string, matcher *ignore.Matcher, visit func(path string) bool) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("Cannot access path during walk", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matcher != nil && matcher.ShouldIgnore(d.Name()) {
			return nil
		}
		if !visit(path) {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		slog.Warn("Directory walk ended early", "root", root, "error", err)
	}
}
