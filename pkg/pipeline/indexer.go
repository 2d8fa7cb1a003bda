package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucamihailescu/codescan/pkg/classify"
	"github.com/lucamihailescu/codescan/pkg/hasher"
	"github.com/lucamihailescu/codescan/pkg/progress"
	"github.com/lucamihailescu/codescan/pkg/storage"
	"github.com/lucamihailescu/codescan/pkg/vectorizer"
)

// Index walks root, fingerprints and vectorizes every candidate file, and
// upserts the results into the store. Progress is published under taskID;
// cancellation is polled between files.
func (e *Engine) Index(ctx context.Context, root, taskID string) error {
	canonical, err := ValidateRoot(root, e.cfg.AllowedScanDirs)
	if err != nil {
		return err
	}

	e.progress.Create(taskID, progress.TaskIndex)
	startedAt := time.Now().UTC()
	slog.Info("Starting index", "task_id", taskID, "root", canonical)

	e.progress.Update(taskID, func(p *progress.TaskProgress) { p.Status = progress.StatusCounting })
	files := collectFiles(canonical, e.matcher)
	e.progress.Update(taskID, func(p *progress.TaskProgress) {
		p.Status = progress.StatusProcessing
		p.TotalFiles = len(files)
	})

	vec := vectorizer.New(vectorizer.Config{
		NFeatures:        e.cfg.Similarity.NFeatures,
		NgramMin:         e.cfg.Similarity.NgramMin,
		NgramMax:         e.cfg.Similarity.NgramMax,
		SublinearTF:      e.cfg.Similarity.SublinearTF,
		MinContentLength: e.cfg.Similarity.MinContentLength,
	})

	var runErr error
	if e.parallel() {
		runErr = e.indexParallel(ctx, files, taskID, vec)
	} else {
		runErr = e.indexSequential(ctx, files, taskID, vec)
	}

	cancelled := e.progress.IsCancelled(taskID)
	if errors.Is(runErr, context.Canceled) {
		cancelled = true
		runErr = nil
	}
	e.progress.ClearCancelled(taskID)

	final, _ := e.progress.Update(taskID, func(p *progress.TaskProgress) {
		p.CompletedAt = time.Now()
		p.CurrentFile = ""
		switch {
		case runErr != nil:
			p.Status = progress.StatusError
			p.ErrorMessage = runErr.Error()
		case cancelled:
			p.Status = progress.StatusCancelled
		default:
			p.Status = progress.StatusCompleted
		}
	})

	e.recordIndexOperation(ctx, canonical, taskID, startedAt, final)

	if runErr != nil {
		slog.Error("Index failed", "task_id", taskID, "error", runErr)
		return runErr
	}
	slog.Info("Index finished",
		"task_id", taskID,
		"status", final.Status,
		"total", final.TotalFiles,
		"indexed", final.FilesIndexed,
		"access_denied", final.AccessDenied)
	return nil
}

func (e *Engine) indexSequential(ctx context.Context, files []string, taskID string, vec *vectorizer.Vectorizer) error {
	backend, err := e.store.Open(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	for _, path := range files {
		if e.progress.IsCancelled(taskID) || ctx.Err() != nil {
			return ctx.Err()
		}
		e.indexFile(ctx, backend, vec, taskID, path)
	}
	return nil
}

func (e *Engine) indexParallel(ctx context.Context, files []string, taskID string, vec *vectorizer.Vectorizer) error {
	workers := e.workerCount()
	slog.Debug("Starting parallel index", "task_id", taskID, "workers", workers)

	feed := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			// Each worker holds its own store handle for its lifetime.
			backend, err := e.store.Open(gctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			for path := range feed {
				e.indexFile(gctx, backend, vec, taskID, path)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(feed)
		for _, path := range files {
			if e.progress.IsCancelled(taskID) {
				return nil
			}
			select {
			case feed <- path:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// indexFile processes one file: stat, change detection, digest, optional
// vectorization, upsert. Per-file errors are absorbed and counted.
func (e *Engine) indexFile(ctx context.Context, backend storage.Backend, vec *vectorizer.Vectorizer, taskID, path string) {
	e.progress.Update(taskID, func(p *progress.TaskProgress) { p.CurrentFile = path })

	info, err := os.Stat(path)
	if err != nil {
		e.countFailure(taskID, path, err)
		return
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9
	textual := classify.IsTextual(path)

	// Unchanged files are skipped: same mtime, and either nothing to
	// vectorize or a vector already stored.
	existing, err := backend.GetByPath(ctx, path)
	if err != nil {
		e.countFailure(taskID, path, err)
		return
	}
	if existing != nil && existing.Mtime == mtime && (!textual || existing.FeatureVector != nil) {
		e.progress.Update(taskID, func(p *progress.TaskProgress) { p.FilesProcessed++ })
		return
	}

	digest, err := hasher.HashFile(path)
	if err != nil {
		if errors.Is(err, hasher.ErrAccessDenied) {
			slog.Warn("Access denied", "path", path)
			e.progress.Update(taskID, func(p *progress.TaskProgress) {
				p.AccessDenied++
				p.FilesProcessed++
			})
			return
		}
		e.countFailure(taskID, path, err)
		return
	}

	var vectorBytes []byte
	if textual {
		content, err := e.extractors.ExtractText(ctx, path)
		if err != nil {
			slog.Warn("Extraction failed, indexing digest only", "path", path, "error", err)
		} else if v := vec.Transform(content); v != nil {
			vectorBytes = v.Serialize()
		}
	}

	if _, err := backend.Upsert(ctx, path, filepath.Base(path), digest, vectorBytes, mtime); err != nil {
		e.countFailure(taskID, path, err)
		return
	}

	e.progress.Update(taskID, func(p *progress.TaskProgress) {
		p.FilesProcessed++
		p.FilesIndexed++
	})
}

func (e *Engine) countFailure(taskID, path string, err error) {
	slog.Warn("Failed to index file", "path", path, "error", err)
	e.progress.Update(taskID, func(p *progress.TaskProgress) { p.FilesProcessed++ })
}

func (e *Engine) recordIndexOperation(ctx context.Context, root, taskID string, startedAt time.Time, final progress.TaskProgress) {
	backend, err := e.store.Open(ctx)
	if err != nil {
		slog.Warn("Cannot record index operation", "task_id", taskID, "error", err)
		return
	}
	defer backend.Close()

	op := &storage.IndexOperation{
		IndexID:       taskID,
		DirectoryPath: root,
		Status:        string(final.Status),
		TotalFiles:    final.TotalFiles,
		FilesIndexed:  final.FilesIndexed,
		FilesSkipped:  final.FilesProcessed - final.FilesIndexed,
		StartedAt:     startedAt,
		CompletedAt:   time.Now().UTC(),
		ErrorMessage:  final.ErrorMessage,
	}
	if err := backend.RecordIndexOperation(ctx, op); err != nil {
		slog.Warn("Cannot record index operation", "task_id", taskID, "error", err)
	}
}
