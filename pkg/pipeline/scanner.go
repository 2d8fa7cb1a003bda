package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucamihailescu/codescan/pkg/classify"
	"github.com/lucamihailescu/codescan/pkg/hasher"
	"github.com/lucamihailescu/codescan/pkg/progress"
	"github.com/lucamihailescu/codescan/pkg/similarity"
	"github.com/lucamihailescu/codescan/pkg/storage"
	"github.com/lucamihailescu/codescan/pkg/vectorizer"
)

// Scan walks root and matches every candidate file against the index:
// first by exact digest, then by cosine similarity of content vectors.
// At most one result is recorded per scanned file; exact matches win.
func (e *Engine) Scan(ctx context.Context, root, scanID string) error {
	canonical, err := ValidateRoot(root, e.cfg.AllowedScanDirs)
	if err != nil {
		return err
	}

	e.progress.Create(scanID, progress.TaskScan)
	slog.Info("Starting scan", "scan_id", scanID, "root", canonical)

	e.progress.Update(scanID, func(p *progress.TaskProgress) { p.Status = progress.StatusCounting })
	files := collectFiles(canonical, e.matcher)

	// The matrix of indexed vectors is assembled once per scan and shared,
	// immutable, across all workers.
	matcher, err := e.loadMatcher(ctx)
	if err != nil {
		e.progress.Update(scanID, func(p *progress.TaskProgress) {
			p.Status = progress.StatusError
			p.ErrorMessage = err.Error()
			p.CompletedAt = time.Now()
		})
		return err
	}

	e.progress.Update(scanID, func(p *progress.TaskProgress) {
		p.Status = progress.StatusProcessing
		p.TotalFiles = len(files)
	})

	var runErr error
	if e.parallel() {
		runErr = e.scanParallel(ctx, files, scanID, matcher)
	} else {
		runErr = e.scanSequential(ctx, files, scanID, matcher)
	}

	cancelled := e.progress.IsCancelled(scanID)
	if errors.Is(runErr, context.Canceled) {
		cancelled = true
		runErr = nil
	}
	e.progress.ClearCancelled(scanID)

	final, _ := e.progress.Update(scanID, func(p *progress.TaskProgress) {
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

	if runErr != nil {
		slog.Error("Scan failed", "scan_id", scanID, "error", runErr)
		return runErr
	}
	slog.Info("Scan finished",
		"scan_id", scanID,
		"status", final.Status,
		"total", final.TotalFiles,
		"matches", final.MatchesFound)
	return nil
}

// loadMatcher pulls every stored vector once and stacks them into the
// similarity matrix. Undecodable vectors are skipped.
func (e *Engine) loadMatcher(ctx context.Context) (*similarity.Matcher, error) {
	backend, err := e.store.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	rows, err := backend.ListWithVectors(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	vectors := make([]*vectorizer.SparseVector, 0, len(rows))
	for _, row := range rows {
		vec, err := vectorizer.Deserialize(row.Vector)
		if err != nil {
			slog.Warn("Skipping undecodable stored vector", "id", row.ID, "error", err)
			continue
		}
		ids = append(ids, row.ID)
		vectors = append(vectors, vec)
	}

	return similarity.NewMatcher(e.cfg.Similarity, ids, vectors), nil
}

func (e *Engine) scanSequential(ctx context.Context, files []string, scanID string, matcher *similarity.Matcher) error {
	backend, err := e.store.Open(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	for _, path := range files {
		if e.progress.IsCancelled(scanID) || ctx.Err() != nil {
			return ctx.Err()
		}
		e.scanFile(ctx, backend, matcher, scanID, path)
	}
	return nil
}

func (e *Engine) scanParallel(ctx context.Context, files []string, scanID string, matcher *similarity.Matcher) error {
	workers := e.workerCount()
	slog.Debug("Starting parallel scan", "scan_id", scanID, "workers", workers)

	feed := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			backend, err := e.store.Open(gctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			for path := range feed {
				e.scanFile(gctx, backend, matcher, scanID, path)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(feed)
		for _, path := range files {
			if e.progress.IsCancelled(scanID) {
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

// scanFile matches one file against the index. Per-file errors are
// absorbed and logged; the scan continues.
func (e *Engine) scanFile(ctx context.Context, backend storage.Backend, matcher *similarity.Matcher, scanID, path string) {
	e.progress.Update(scanID, func(p *progress.TaskProgress) { p.CurrentFile = path })
	defer e.progress.Update(scanID, func(p *progress.TaskProgress) { p.FilesProcessed++ })

	digest, err := hasher.HashFile(path)
	if err != nil {
		if errors.Is(err, hasher.ErrAccessDenied) {
			slog.Warn("Access denied", "path", path)
			e.progress.Update(scanID, func(p *progress.TaskProgress) { p.AccessDenied++ })
		} else {
			slog.Warn("Failed to hash file", "path", path, "error", err)
		}
		return
	}

	exact, err := backend.FindByDigest(ctx, digest)
	if err != nil {
		slog.Warn("Digest lookup failed", "path", path, "error", err)
		return
	}
	if exact != nil {
		if _, err := backend.AddScanResult(ctx, scanID, path, string(similarity.MatchExact), 1.0, exact.ID); err != nil {
			slog.Warn("Failed to record exact match", "path", path, "error", err)
			return
		}
		e.progress.Update(scanID, func(p *progress.TaskProgress) { p.MatchesFound++ })
		slog.Info("Exact match", "path", path, "matched", exact.Path)
		return
	}

	if matcher.Empty() || !classify.IsTextual(path) {
		return
	}

	content, err := e.extractors.ExtractText(ctx, path)
	if err != nil {
		slog.Warn("Extraction failed", "path", path, "error", err)
		return
	}

	matches := matcher.Match(content)
	if len(matches) == 0 {
		return
	}

	top := matches[0]
	if _, err := backend.AddScanResult(ctx, scanID, path, string(top.Kind), top.Score, top.FileID); err != nil {
		slog.Warn("Failed to record similarity match", "path", path, "error", err)
		return
	}
	e.progress.Update(scanID, func(p *progress.TaskProgress) { p.MatchesFound++ })
	slog.Info("Similarity match", "path", path, "kind", top.Kind, "score", top.Score)
}
