package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lucamihailescu/codescan/pkg/config"
	"github.com/lucamihailescu/codescan/pkg/vectorizer"
)

// SQLBackend implements Backend over database/sql. Supports SQLite,
// PostgreSQL and MySQL; the pool is owned by the shared config.DBPool, so
// Close releases the handle without tearing the pool down.
type SQLBackend struct {
	db      *sql.DB
	dialect string // "sqlite", "postgres", or "mysql"
}

const createIndexedFilesSQL = `
CREATE TABLE IF NOT EXISTS indexed_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    content_digest VARCHAR(64) NOT NULL,
    feature_vector BLOB,
    mtime REAL NOT NULL,
    indexed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_digest ON indexed_files(content_digest);
CREATE INDEX IF NOT EXISTS idx_files_filename ON indexed_files(filename);
`

const createScanResultsSQL = `
CREATE TABLE IF NOT EXISTS scan_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_id VARCHAR(64) NOT NULL,
    scanned_path TEXT NOT NULL,
    match_kind VARCHAR(32) NOT NULL,
    score REAL NOT NULL,
    matched_file_id INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    FOREIGN KEY (matched_file_id) REFERENCES indexed_files(id)
);

CREATE INDEX IF NOT EXISTS idx_results_scan_id ON scan_results(scan_id);
`

const createIndexOperationsSQL = `
CREATE TABLE IF NOT EXISTS index_operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    index_id VARCHAR(64) NOT NULL UNIQUE,
    directory_path TEXT NOT NULL,
    status VARCHAR(32) NOT NULL,
    total_files INTEGER NOT NULL DEFAULT 0,
    files_indexed INTEGER NOT NULL DEFAULT 0,
    files_skipped INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    error_message TEXT
);
`

// NewSQLBackend opens (or reuses) the pooled connection for cfg and ensures
// the schema exists.
func NewSQLBackend(pool *config.DBPool, cfg *config.DatabaseConfig) (*SQLBackend, error) {
	db, err := pool.Get(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	b := &SQLBackend{db: db, dialect: cfg.Dialect()}
	if err := b.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLBackend) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, ddl := range []string{createIndexedFilesSQL, createScanResultsSQL, createIndexOperationsSQL} {
		if _, err := b.db.ExecContext(ctx, b.adaptDDL(ddl)); err != nil {
			return err
		}
	}
	return nil
}

// adaptDDL rewrites the SQLite-flavored schema for the other dialects.
func (b *SQLBackend) adaptDDL(ddl string) string {
	switch b.dialect {
	case "postgres":
		ddl = strings.ReplaceAll(ddl, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
		ddl = strings.ReplaceAll(ddl, "BLOB", "BYTEA")
		ddl = strings.ReplaceAll(ddl, "REAL", "DOUBLE PRECISION")
	case "mysql":
		ddl = strings.ReplaceAll(ddl, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGINT PRIMARY KEY AUTO_INCREMENT")
		ddl = strings.ReplaceAll(ddl, "BLOB", "LONGBLOB")
		ddl = strings.ReplaceAll(ddl, "REAL", "DOUBLE")
		ddl = strings.ReplaceAll(ddl, "path TEXT NOT NULL UNIQUE", "path VARCHAR(1024) NOT NULL UNIQUE")
	}
	return ddl
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (b *SQLBackend) rebind(query string) string {
	if b.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (b *SQLBackend) scanFile(row *sql.Row) (*IndexedFile, error) {
	var f IndexedFile
	var id int64
	err := row.Scan(&id, &f.Path, &f.Filename, &f.ContentDigest, &f.FeatureVector, &f.Mtime, &f.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.ID = strconv.FormatInt(id, 10)
	return &f, nil
}

const selectFileColumns = "id, path, filename, content_digest, feature_vector, mtime, indexed_at"

// Upsert inserts or replaces the row keyed by path.
func (b *SQLBackend) Upsert(ctx context.Context, path, filename, digest string, vector []byte, mtime float64) (*IndexedFile, error) {
	now := time.Now().UTC()

	existing, err := b.GetByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		query := b.rebind(`UPDATE indexed_files SET filename = ?, content_digest = ?, feature_vector = ?, mtime = ?, indexed_at = ? WHERE path = ?`)
		if _, err := b.db.ExecContext(ctx, query, filename, digest, vector, mtime, now, path); err != nil {
			return nil, fmt.Errorf("failed to update indexed file: %w", err)
		}
		return b.GetByPath(ctx, path)
	}

	if b.dialect == "postgres" {
		var id int64
		err := b.db.QueryRowContext(ctx,
			`INSERT INTO indexed_files (path, filename, content_digest, feature_vector, mtime, indexed_at)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			path, filename, digest, vector, mtime, now).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert indexed file: %w", err)
		}
		return b.GetByID(ctx, strconv.FormatInt(id, 10))
	}

	res, err := b.db.ExecContext(ctx,
		`INSERT INTO indexed_files (path, filename, content_digest, feature_vector, mtime, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		path, filename, digest, vector, mtime, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert indexed file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return b.GetByID(ctx, strconv.FormatInt(id, 10))
}

func (b *SQLBackend) GetByPath(ctx context.Context, path string) (*IndexedFile, error) {
	query := b.rebind(`SELECT ` + selectFileColumns + ` FROM indexed_files WHERE path = ?`)
	return b.scanFile(b.db.QueryRowContext(ctx, query, path))
}

func (b *SQLBackend) GetByID(ctx context.Context, id string) (*IndexedFile, error) {
	numID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	query := b.rebind(`SELECT ` + selectFileColumns + ` FROM indexed_files WHERE id = ?`)
	return b.scanFile(b.db.QueryRowContext(ctx, query, numID))
}

func (b *SQLBackend) FindByDigest(ctx context.Context, digest string) (*IndexedFile, error) {
	query := b.rebind(`SELECT ` + selectFileColumns + ` FROM indexed_files WHERE content_digest = ? LIMIT 1`)
	return b.scanFile(b.db.QueryRowContext(ctx, query, digest))
}

func (b *SQLBackend) ListAll(ctx context.Context) ([]*IndexedFile, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+selectFileColumns+` FROM indexed_files ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*IndexedFile
	for rows.Next() {
		var f IndexedFile
		var id int64
		if err := rows.Scan(&id, &f.Path, &f.Filename, &f.ContentDigest, &f.FeatureVector, &f.Mtime, &f.IndexedAt); err != nil {
			return nil, err
		}
		f.ID = strconv.FormatInt(id, 10)
		files = append(files, &f)
	}
	return files, rows.Err()
}

func (b *SQLBackend) ListWithVectors(ctx context.Context) ([]VectorRow, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, feature_vector FROM indexed_files WHERE feature_vector IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VectorRow
	for rows.Next() {
		var id int64
		var vector []byte
		if err := rows.Scan(&id, &vector); err != nil {
			return nil, err
		}
		if len(vector) > 0 {
			out = append(out, VectorRow{ID: strconv.FormatInt(id, 10), Vector: vector})
		}
	}
	return out, rows.Err()
}

func (b *SQLBackend) Count(ctx context.Context) (int, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexed_files`).Scan(&count)
	return count, err
}

func (b *SQLBackend) DeleteByID(ctx context.Context, id string) (bool, error) {
	numID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, nil
	}
	res, err := b.db.ExecContext(ctx, b.rebind(`DELETE FROM indexed_files WHERE id = ?`), numID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteAll removes scan results first to respect the foreign key.
func (b *SQLBackend) DeleteAll(ctx context.Context) (int, error) {
	count, err := b.Count(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM scan_results`); err != nil {
		return 0, err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM indexed_files`); err != nil {
		return 0, err
	}
	return count, nil
}

func (b *SQLBackend) AddScanResult(ctx context.Context, scanID, scannedPath, matchKind string, score float64, matchedFileID string) (*ScanResult, error) {
	matched, err := b.GetByID(ctx, matchedFileID)
	if err != nil {
		return nil, err
	}
	if matched == nil {
		return nil, fmt.Errorf("matched file %s does not exist", matchedFileID)
	}

	now := time.Now().UTC()
	numID, _ := strconv.ParseInt(matchedFileID, 10, 64)

	var resultID int64
	if b.dialect == "postgres" {
		err = b.db.QueryRowContext(ctx,
			`INSERT INTO scan_results (scan_id, scanned_path, match_kind, score, matched_file_id, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			scanID, scannedPath, matchKind, score, numID, now).Scan(&resultID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert scan result: %w", err)
		}
	} else {
		res, err := b.db.ExecContext(ctx,
			`INSERT INTO scan_results (scan_id, scanned_path, match_kind, score, matched_file_id, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			scanID, scannedPath, matchKind, score, numID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert scan result: %w", err)
		}
		resultID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	}

	return &ScanResult{
		ID:              strconv.FormatInt(resultID, 10),
		ScanID:          scanID,
		ScannedPath:     scannedPath,
		MatchKind:       matchKind,
		Score:           score,
		MatchedFileID:   matchedFileID,
		MatchedFilePath: matched.Path,
		MatchedFileName: matched.Filename,
		Timestamp:       now,
	}, nil
}

const selectResultSQL = `
SELECT r.id, r.scan_id, r.scanned_path, r.match_kind, r.score, r.matched_file_id, r.timestamp,
       COALESCE(f.path, ''), COALESCE(f.filename, '')
FROM scan_results r
LEFT JOIN indexed_files f ON f.id = r.matched_file_id
`

func (b *SQLBackend) queryResults(ctx context.Context, query string, args ...interface{}) ([]*ScanResult, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*ScanResult
	for rows.Next() {
		var r ScanResult
		var id, matchedID int64
		if err := rows.Scan(&id, &r.ScanID, &r.ScannedPath, &r.MatchKind, &r.Score, &matchedID, &r.Timestamp,
			&r.MatchedFilePath, &r.MatchedFileName); err != nil {
			return nil, err
		}
		r.ID = strconv.FormatInt(id, 10)
		r.MatchedFileID = strconv.FormatInt(matchedID, 10)
		results = append(results, &r)
	}
	return results, rows.Err()
}

func (b *SQLBackend) ResultsForScan(ctx context.Context, scanID string) ([]*ScanResult, error) {
	return b.queryResults(ctx, b.rebind(selectResultSQL+`WHERE r.scan_id = ? ORDER BY r.score DESC`), scanID)
}

func (b *SQLBackend) AllResults(ctx context.Context) ([]*ScanResult, error) {
	return b.queryResults(ctx, selectResultSQL+`ORDER BY r.timestamp DESC`)
}

func (b *SQLBackend) DistinctScanCount(ctx context.Context) (int, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT scan_id) FROM scan_results`).Scan(&count)
	return count, err
}

func (b *SQLBackend) ResultCount(ctx context.Context) (int, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_results`).Scan(&count)
	return count, err
}

func (b *SQLBackend) ScansSummary(ctx context.Context) ([]ScanSummary, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT scan_id, COUNT(id), MIN(timestamp) AS started
		 FROM scan_results GROUP BY scan_id ORDER BY started DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ScanSummary
	for rows.Next() {
		var s ScanSummary
		// MIN() drops the column type, so SQLite returns the timestamp as
		// text; drivers that return a time are formatted as RFC 3339 by Scan.
		var started string
		if err := rows.Scan(&s.ScanID, &s.MatchesCount, &started); err != nil {
			return nil, err
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
			if t, err := time.Parse(layout, started); err == nil {
				s.Timestamp = t
				break
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// FindSimilar loads all stored vectors and scores them linearly; the
// relational backend has no ANN index.
func (b *SQLBackend) FindSimilar(ctx context.Context, queryVector []byte, threshold float64, k int) ([]SimilarMatch, error) {
	query, err := vectorizer.Deserialize(queryVector)
	if err != nil {
		return nil, fmt.Errorf("invalid query vector: %w", err)
	}

	rows, err := b.ListWithVectors(ctx)
	if err != nil {
		return nil, err
	}

	var matches []SimilarMatch
	for _, row := range rows {
		vec, err := vectorizer.Deserialize(row.Vector)
		if err != nil {
			slog.Warn("Skipping undecodable stored vector", "id", row.ID, "error", err)
			continue
		}
		if score := query.Dot(vec); score >= threshold {
			matches = append(matches, SimilarMatch{ID: row.ID, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (b *SQLBackend) RecordIndexOperation(ctx context.Context, op *IndexOperation) error {
	var completedAt interface{}
	if !op.CompletedAt.IsZero() {
		completedAt = op.CompletedAt
	}

	query := b.rebind(`INSERT INTO index_operations
		(index_id, directory_path, status, total_files, files_indexed, files_skipped, started_at, completed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := b.db.ExecContext(ctx, query,
		op.IndexID, op.DirectoryPath, op.Status, op.TotalFiles, op.FilesIndexed, op.FilesSkipped,
		op.StartedAt, completedAt, op.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to record index operation: %w", err)
	}
	return nil
}

// Commit is a no-op: writes use the driver's autocommit.
func (b *SQLBackend) Commit() error { return nil }

// Rollback is a no-op for the same reason.
func (b *SQLBackend) Rollback() error { return nil }

// Close releases the handle; the pool owns the underlying connections.
func (b *SQLBackend) Close() error { return nil }

func (b *SQLBackend) HealthCheck(ctx context.Context) bool {
	return b.db.PingContext(ctx) == nil
}
