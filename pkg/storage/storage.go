// Package storage defines the content-addressed store behind the indexing
// and scanning pipelines, with an embedded relational backend and a remote
// key/value backend with a server-side vector index.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable indicates the backend could not be reached.
var ErrStoreUnavailable = errors.New("storage backend unavailable")

// IndexedFile is one protected file in the index.
type IndexedFile struct {
	// ID is a backend-defined opaque identifier, stable within a backend.
	ID       string
	Path     string // absolute, canonicalized; unique within the store
	Filename string // basename
	// ContentDigest is the hex-encoded SHA-256 of the raw byte stream.
	ContentDigest string
	// FeatureVector is the serialized sparse vector, nil for binary files
	// and for content below the minimum length.
	FeatureVector []byte
	// Mtime is the POSIX modification time in seconds.
	Mtime     float64
	IndexedAt time.Time
}

// ScanResult is one recorded match from a scan.
type ScanResult struct {
	ID          string
	ScanID      string
	ScannedPath string
	MatchKind   string // exact | high_confidence | similarity
	Score       float64
	// MatchedFileID references an IndexedFile; path and name are
	// denormalized for audit convenience.
	MatchedFileID   string
	MatchedFilePath string
	MatchedFileName string
	Timestamp       time.Time
}

// ScanSummary aggregates one scan's results.
type ScanSummary struct {
	ScanID       string
	MatchesCount int
	Timestamp    time.Time
}

// IndexOperation is the historical record of one index run.
type IndexOperation struct {
	ID            string
	IndexID       string
	DirectoryPath string
	Status        string // running | completed | cancelled | error
	TotalFiles    int
	FilesIndexed  int
	FilesSkipped  int
	StartedAt     time.Time
	CompletedAt   time.Time
	ErrorMessage  string
}

// VectorRow pairs an indexed file id with its serialized feature vector.
type VectorRow struct {
	ID     string
	Vector []byte
}

// SimilarMatch is one row from a vector similarity query.
type SimilarMatch struct {
	ID    string
	Score float64
}

// Backend is the storage contract shared by the relational and KV
// implementations. Lookups return nil (not an error) when no row matches.
type Backend interface {
	// Upsert is idempotent on path: an existing row has its digest, vector,
	// mtime and indexed_at replaced; otherwise a row is inserted. Safe under
	// concurrent callers upserting distinct paths.
	Upsert(ctx context.Context, path, filename, digest string, vector []byte, mtime float64) (*IndexedFile, error)

	GetByPath(ctx context.Context, path string) (*IndexedFile, error)
	GetByID(ctx context.Context, id string) (*IndexedFile, error)
	FindByDigest(ctx context.Context, digest string) (*IndexedFile, error)

	ListAll(ctx context.Context) ([]*IndexedFile, error)
	ListWithVectors(ctx context.Context) ([]VectorRow, error)
	Count(ctx context.Context) (int, error)

	DeleteByID(ctx context.Context, id string) (bool, error)
	// DeleteAll removes every indexed file and, to keep referential
	// integrity, every scan result. Returns the number of files deleted.
	DeleteAll(ctx context.Context) (int, error)

	AddScanResult(ctx context.Context, scanID, scannedPath, matchKind string, score float64, matchedFileID string) (*ScanResult, error)
	ResultsForScan(ctx context.Context, scanID string) ([]*ScanResult, error)
	AllResults(ctx context.Context) ([]*ScanResult, error)
	DistinctScanCount(ctx context.Context) (int, error)
	ResultCount(ctx context.Context) (int, error)
	// ScansSummary returns one row per scan, ordered by timestamp descending.
	ScansSummary(ctx context.Context) ([]ScanSummary, error)

	// FindSimilar returns up to k indexed files whose vectors score at or
	// above threshold against the query, sorted by score descending.
	FindSimilar(ctx context.Context, queryVector []byte, threshold float64, k int) ([]SimilarMatch, error)

	RecordIndexOperation(ctx context.Context, op *IndexOperation) error

	// Commit and Rollback are no-ops for non-transactional backends.
	Commit() error
	Rollback() error
	// Close releases the handle back to its pool.
	Close() error
	HealthCheck(ctx context.Context) bool
}
