package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads KEY=VALUE pairs from .env.local and .env in the current
// directory into the process environment. Missing files are not an error.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := LoadEnvFile(file); err != nil {
			return err
		}
	}

	return nil
}

// LoadEnvFile loads one dotfile into the process environment; a missing
// file is not an error. Already-set variables are not overridden.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// GetEnv returns the environment variable value or def when unset.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvBool parses an environment variable as a boolean. Accepts
// true/1/yes/on (case-insensitive) as true.
func GetEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// GetEnvInt parses an environment variable as an int, returning def on
// absence or parse failure.
func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetEnvFloat parses an environment variable as a float64, returning def on
// absence or parse failure.
func GetEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// GetEnvList splits a comma-separated environment variable into a slice,
// trimming whitespace and dropping empty items.
func GetEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PersistEnvVars writes the given variables into the dotfile at path,
// replacing existing lines (commented or not) in place and appending new
// keys at the end. The file is rewritten atomically via a temp file and
// rename, and each key ends up on exactly one line. The process environment
// is updated alongside so subsequent reads observe the new values.
func PersistEnvVars(path string, vars map[string]string) error {
	var content string
	if data, err := os.ReadFile(path); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		line := key + "=" + vars[key]
		pattern := regexp.MustCompile(`(?m)^#?\s*` + regexp.QuoteMeta(key) + `=.*$`)

		matches := pattern.FindAllStringIndex(content, -1)
		if len(matches) > 0 {
			// Replace the first occurrence, drop any duplicates.
			first := true
			content = pattern.ReplaceAllStringFunc(content, func(string) string {
				if first {
					first = false
					return line
				}
				return ""
			})
		} else {
			if content != "" && !strings.HasSuffix(content, "\n") {
				content += "\n"
			}
			content += line + "\n"
		}

		if err := os.Setenv(key, vars[key]); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".env-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
