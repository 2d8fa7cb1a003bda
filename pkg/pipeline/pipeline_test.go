package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucamihailescu/codescan/pkg/config"
	"github.com/lucamihailescu/codescan/pkg/progress"
	"github.com/lucamihailescu/codescan/pkg/similarity"
	"github.com/lucamihailescu/codescan/pkg/storage"
)

func newTestEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()

	db, err := config.ParseDatabaseURL("sqlite:///:memory:")
	require.NoError(t, err)
	db.SetDefaults()

	cfg := &config.Config{
		EnvFile: filepath.Join(t.TempDir(), ".env"),
		Storage: config.StorageConfig{
			Backend:   config.BackendSQL,
			Database:  db,
			Threading: config.ThreadingConfig{MaxWorkers: 4, BatchSize: 50},
		},
		Similarity: config.DefaultSimilarityConfig(),
	}
	if mutate != nil {
		mutate(cfg)
	}

	e := NewDefaultEngine(cfg)
	t.Cleanup(func() { e.Shutdown() })
	return e
}

func protectedSentence() string {
	return strings.Repeat("The quick brown fox jumps over the lazy dog. ", 6)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openBackend(t *testing.T, e *Engine) storage.Backend {
	t.Helper()
	backend, err := e.Store().Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestIndexThenScanExactMatch(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	protected := t.TempDir()
	writeFile(t, protected, "a.txt", protectedSentence())

	require.NoError(t, e.Index(ctx, protected, uuid.NewString()))

	suspect := t.TempDir()
	writeFile(t, suspect, "b.txt", protectedSentence())

	scanID := uuid.NewString()
	require.NoError(t, e.Scan(ctx, suspect, scanID))

	backend := openBackend(t, e)
	results, err := backend.ResultsForScan(ctx, scanID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, string(similarity.MatchExact), results[0].MatchKind)
	assert.Equal(t, 1.0, results[0].Score)
	assert.True(t, strings.HasSuffix(results[0].MatchedFilePath, "a.txt"))

	task, ok := e.Progress().Get(scanID)
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, task.Status)
	assert.Equal(t, 1, task.MatchesFound)
}

func TestScanNearDuplicateRecordsSimilarity(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	protected := t.TempDir()
	writeFile(t, protected, "a.txt", protectedSentence())
	require.NoError(t, e.Index(ctx, protected, uuid.NewString()))

	// Three words substituted with synonyms across the whole file.
	variant := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 5) +
		"The swift brown fox leaps over the idle dog. "
	suspect := t.TempDir()
	writeFile(t, suspect, "b.txt", variant)

	scanID := uuid.NewString()
	require.NoError(t, e.Scan(ctx, suspect, scanID))

	backend := openBackend(t, e)
	results, err := backend.ResultsForScan(ctx, scanID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEqual(t, string(similarity.MatchExact), results[0].MatchKind)
	assert.GreaterOrEqual(t, results[0].Score, 0.65)
	assert.Less(t, results[0].Score, 1.0)
}

func TestScanAgainstEmptyIndex(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	// Index an empty directory, then scan a populated one.
	require.NoError(t, e.Index(ctx, t.TempDir(), uuid.NewString()))

	suspect := t.TempDir()
	writeFile(t, suspect, "b.txt", protectedSentence())

	scanID := uuid.NewString()
	require.NoError(t, e.Scan(ctx, suspect, scanID))

	backend := openBackend(t, e)
	results, err := backend.ResultsForScan(ctx, scanID)
	require.NoError(t, err)
	assert.Empty(t, results)

	task, ok := e.Progress().Get(scanID)
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, task.Status)
	assert.Zero(t, task.MatchesFound)
}

func TestIndexEmptyDirectory(t *testing.T) {
	e := newTestEngine(t, nil)

	taskID := uuid.NewString()
	require.NoError(t, e.Index(context.Background(), t.TempDir(), taskID))

	task, ok := e.Progress().Get(taskID)
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, task.Status)
	assert.Zero(t, task.TotalFiles)
}

func TestIndexHonorsIgnorePatterns(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.Config) {
		cfg.IgnoredPatterns = []string{"*.log", ".DS_Store"}
	})
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, dir, "app.log", protectedSentence())
	writeFile(t, dir, "notes.md", protectedSentence())

	require.NoError(t, e.Index(ctx, dir, uuid.NewString()))

	backend := openBackend(t, e)
	files, err := backend.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "notes.md", files[0].Filename)
}

func TestReindexUnchangedFileIsNoop(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", protectedSentence())

	require.NoError(t, e.Index(ctx, dir, uuid.NewString()))

	backend := openBackend(t, e)
	first, err := backend.GetByPath(ctx, mustCanonical(t, path))
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, first.FeatureVector)

	time.Sleep(10 * time.Millisecond)
	taskID := uuid.NewString()
	require.NoError(t, e.Index(ctx, dir, taskID))

	second, err := backend.GetByPath(ctx, mustCanonical(t, path))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.IndexedAt, second.IndexedAt, "unchanged file must not be rewritten")

	task, _ := e.Progress().Get(taskID)
	assert.Zero(t, task.FilesIndexed)
	assert.Equal(t, 1, task.FilesProcessed)
}

func TestReindexChangedContentRewrites(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", protectedSentence())
	require.NoError(t, e.Index(ctx, dir, uuid.NewString()))

	backend := openBackend(t, e)
	first, err := backend.GetByPath(ctx, mustCanonical(t, path))
	require.NoError(t, err)

	// New content and a bumped mtime force a rewrite.
	other := strings.Repeat("Entirely new confidential material for the second revision. ", 6)
	require.NoError(t, os.WriteFile(path, []byte(other), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	require.NoError(t, e.Index(ctx, dir, uuid.NewString()))

	second, err := backend.GetByPath(ctx, mustCanonical(t, path))
	require.NoError(t, err)
	assert.NotEqual(t, first.ContentDigest, second.ContentDigest)
}

func TestIndexCountsBinaryFilesWithoutVectors(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x7f, 0x45, 0x4c, 0x46}, 0o644))

	require.NoError(t, e.Index(ctx, dir, uuid.NewString()))

	backend := openBackend(t, e)
	files, err := backend.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Nil(t, files[0].FeatureVector)
	assert.NotEmpty(t, files[0].ContentDigest)
}

func TestCancelIndexTransitionsToCancelled(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.Config) {
		cfg.Storage.Threading.Enabled = true
		cfg.Storage.Threading.MaxWorkers = 2
	})
	ctx := context.Background()

	dir := t.TempDir()
	bulk := strings.Repeat("The quick brown fox jumps over the lazy dog and will not stop running. ", 400)
	for i := 0; i < 300; i++ {
		writeFile(t, dir, "file-"+uuid.NewString()+".txt", bulk)
	}

	taskID := uuid.NewString()
	done := make(chan error, 1)
	go func() { done <- e.Index(ctx, dir, taskID) }()

	// Wait until some progress is visible, then cancel.
	deadline := time.After(30 * time.Second)
	for {
		task, ok := e.Progress().Get(taskID)
		if ok && task.FilesProcessed >= 10 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pipeline never made progress")
		case <-time.After(time.Millisecond):
		}
	}
	require.True(t, e.Cancel(taskID))

	require.NoError(t, <-done)
	task, ok := e.Progress().Get(taskID)
	require.True(t, ok)
	assert.Equal(t, progress.StatusCancelled, task.Status)
	assert.LessOrEqual(t, task.FilesIndexed, task.FilesProcessed)
	assert.LessOrEqual(t, task.FilesProcessed, 300)
	assert.False(t, e.Progress().IsCancelled(taskID), "flag must be cleared after drain")
}

func TestParallelIndexMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, dir, uuid.NewString()+".txt", protectedSentence()+uuid.NewString())
	}

	for _, parallel := range []bool{false, true} {
		e := newTestEngine(t, func(cfg *config.Config) {
			cfg.Storage.Threading.Enabled = parallel
		})
		require.NoError(t, e.Index(context.Background(), dir, uuid.NewString()))

		backend := openBackend(t, e)
		count, err := backend.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 20, count)
	}
}

func mustCanonical(t *testing.T, path string) string {
	t.Helper()
	canonical, err := CanonicalizePath(path)
	require.NoError(t, err)
	return canonical
}
