package ignore

import (
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Matcher decides whether a file should be excluded from indexing and
// scanning based on a configurable list of glob patterns. Matching is
// performed on the basename only, never on the full path.
type Matcher struct {
	mu       sync.RWMutex
	patterns []string
}

// NewMatcher creates a matcher with the given initial patterns.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	m.SetPatterns(patterns)
	return m
}

// Patterns returns a copy of the current pattern list.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// SetPatterns atomically replaces the full pattern list. Empty entries and
// surrounding whitespace are dropped. Concurrent readers observe either the
// prior list or the new list, never a partial mix.
func (m *Matcher) SetPatterns(patterns []string) {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}

	m.mu.Lock()
	m.patterns = cleaned
	m.mu.Unlock()
}

// AddPattern appends a pattern if it is not already present.
func (m *Matcher) AddPattern(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patterns {
		if p == pattern {
			return
		}
	}
	next := make([]string, len(m.patterns), len(m.patterns)+1)
	copy(next, m.patterns)
	m.patterns = append(next, pattern)
}

// RemovePattern removes a pattern from the list.
func (m *Matcher) RemovePattern(pattern string) {
	pattern = strings.TrimSpace(pattern)

	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]string, 0, len(m.patterns))
	for _, p := range m.patterns {
		if p != pattern {
			next = append(next, p)
		}
	}
	m.patterns = next
}

// ShouldIgnore reports whether the basename of name matches any configured
// pattern. Glob matching is case-sensitive; patterns without wildcard
// metacharacters additionally match case-insensitively.
func (m *Matcher) ShouldIgnore(name string) bool {
	m.mu.RLock()
	patterns := m.patterns
	m.mu.RUnlock()

	if len(patterns) == 0 {
		return false
	}

	base := filepath.Base(name)
	for _, pattern := range patterns {
		if matched, err := path.Match(pattern, base); err == nil && matched {
			return true
		}
		if !strings.ContainsAny(pattern, "*?[") && strings.EqualFold(base, pattern) {
			return true
		}
	}
	return false
}
