package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lucamihailescu/codescan/pkg/config"
	"github.com/lucamihailescu/codescan/pkg/vectorizer"
)

// Key prefixes and index names in the KV store.
const (
	filePrefix    = "file:"
	resultPrefix  = "result:"
	indexOpPrefix = "indexop:"

	fileIndex   = "idx:files"
	resultIndex = "idx:results"
)

// redisPools holds the two shared connection pools: one binary-safe client
// used for raw vector payloads and one for search and document commands.
// They are process-scoped and reinitialized when the configuration changes;
// ShutdownRedisPools tears them down at process exit.
type redisPools struct {
	mu      sync.Mutex
	cfg     config.RedisConfig
	vector  *redis.Client
	command *redis.Client
}

var sharedRedisPools redisPools

func (p *redisPools) get(cfg config.RedisConfig) (*redis.Client, *redis.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.vector != nil && p.cfg == cfg {
		return p.vector, p.command
	}

	if p.vector != nil {
		p.vector.Close()
		p.command.Close()
	}

	opts := &redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.Pool.MaxConnections,
		MinIdleConns: cfg.Pool.MinIdleConnections,
		DialTimeout:  cfg.Pool.ConnTimeout,
		ReadTimeout:  cfg.Pool.SocketTimeout,
		WriteTimeout: cfg.Pool.SocketTimeout,
	}
	if !cfg.Pool.RetryOnTimeout {
		opts.MaxRetries = -1
	}

	p.vector = redis.NewClient(opts)
	cmdOpts := *opts
	p.command = redis.NewClient(&cmdOpts)
	p.cfg = cfg
	slog.Debug("Created Redis connection pools", "addr", cfg.Addr(), "max_connections", cfg.Pool.MaxConnections)

	return p.vector, p.command
}

func (p *redisPools) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.vector != nil {
		p.vector.Close()
		p.command.Close()
		p.vector = nil
		p.command = nil
	}
}

// ShutdownRedisPools tears down the shared connection pools. Only called
// during process teardown.
func ShutdownRedisPools() {
	sharedRedisPools.shutdown()
}

// RedisBackend implements Backend over a Redis server with the search and
// JSON modules. Documents are JSON objects; similarity uses a server-side
// HNSW vector index.
type RedisBackend struct {
	cfg     config.RedisConfig
	vector  *redis.Client
	command *redis.Client
}

type fileDoc struct {
	Path         string    `json:"path"`
	Filename     string    `json:"filename"`
	FileHash     string    `json:"file_hash"`
	LastModified float64   `json:"last_modified"`
	IndexedAt    string    `json:"indexed_at"`
	Vector       []float32 `json:"vector,omitempty"`
}

type resultDoc struct {
	ScanID          string  `json:"scan_id"`
	FilePath        string  `json:"file_path"`
	MatchType       string  `json:"match_type"`
	Score           float64 `json:"score"`
	MatchedFileID   string  `json:"matched_file_id"`
	MatchedFilePath string  `json:"matched_file_path,omitempty"`
	MatchedFileName string  `json:"matched_file_name,omitempty"`
	Timestamp       string  `json:"timestamp"`
}

type indexOpDoc struct {
	IndexID       string `json:"index_id"`
	DirectoryPath string `json:"directory_path"`
	Status        string `json:"status"`
	TotalFiles    int    `json:"total_files"`
	FilesIndexed  int    `json:"files_indexed"`
	FilesSkipped  int    `json:"files_skipped"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// NewRedisBackend returns a handle backed by the shared pools, creating the
// search indices on first use.
func NewRedisBackend(ctx context.Context, cfg config.RedisConfig) (*RedisBackend, error) {
	vectorClient, commandClient := sharedRedisPools.get(cfg)
	b := &RedisBackend{cfg: cfg, vector: vectorClient, command: commandClient}

	if err := b.command.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := b.createIndices(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RedisBackend) createIndices(ctx context.Context) error {
	if err := b.command.FTInfo(ctx, fileIndex).Err(); err != nil {
		err = b.command.FTCreate(ctx, fileIndex,
			&redis.FTCreateOptions{OnJSON: true, Prefix: []interface{}{filePrefix}},
			&redis.FieldSchema{FieldName: "$.path", As: "path", FieldType: redis.SearchFieldTypeTag},
			&redis.FieldSchema{FieldName: "$.filename", As: "filename", FieldType: redis.SearchFieldTypeText},
			&redis.FieldSchema{FieldName: "$.file_hash", As: "file_hash", FieldType: redis.SearchFieldTypeTag},
			&redis.FieldSchema{FieldName: "$.last_modified", As: "last_modified", FieldType: redis.SearchFieldTypeNumeric},
			&redis.FieldSchema{FieldName: "$.indexed_at", As: "indexed_at", FieldType: redis.SearchFieldTypeText},
			&redis.FieldSchema{
				FieldName: "$.vector",
				As:        "vector",
				FieldType: redis.SearchFieldTypeVector,
				VectorArgs: &redis.FTVectorArgs{
					HNSWOptions: &redis.FTHNSWOptions{
						Type:                   "FLOAT32",
						Dim:                    b.cfg.VectorDim,
						DistanceMetric:         "COSINE",
						MaxEdgesPerNode:        16,
						MaxAllowedEdgesPerNode: 200,
					},
				},
			},
		).Err()
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create index %s: %w", fileIndex, err)
		}
	}

	if err := b.command.FTInfo(ctx, resultIndex).Err(); err != nil {
		err = b.command.FTCreate(ctx, resultIndex,
			&redis.FTCreateOptions{OnJSON: true, Prefix: []interface{}{resultPrefix}},
			&redis.FieldSchema{FieldName: "$.scan_id", As: "scan_id", FieldType: redis.SearchFieldTypeTag},
			&redis.FieldSchema{FieldName: "$.file_path", As: "file_path", FieldType: redis.SearchFieldTypeText},
			&redis.FieldSchema{FieldName: "$.match_type", As: "match_type", FieldType: redis.SearchFieldTypeTag},
			&redis.FieldSchema{FieldName: "$.score", As: "score", FieldType: redis.SearchFieldTypeNumeric},
			&redis.FieldSchema{FieldName: "$.matched_file_id", As: "matched_file_id", FieldType: redis.SearchFieldTypeTag},
			&redis.FieldSchema{FieldName: "$.timestamp", As: "timestamp", FieldType: redis.SearchFieldTypeText},
		).Err()
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create index %s: %w", resultIndex, err)
		}
	}

	return nil
}

// escapeTag escapes the characters RediSearch treats as syntax inside tag
// queries (hyphens in UUIDs, path separators, dots).
func escapeTag(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';',
			'!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+',
			'=', '~', '|', '/', '\\', ' ':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *RedisBackend) getFileDoc(ctx context.Context, id string) (*fileDoc, error) {
	raw, err := b.command.JSONGet(ctx, filePrefix+id, "$").Result()
	if err == redis.Nil || raw == "" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var docs []fileDoc
	if err := json.Unmarshal([]byte(raw), &docs); err != nil || len(docs) == 0 {
		return nil, fmt.Errorf("undecodable file document %s: %v", id, err)
	}
	return &docs[0], nil
}

func (b *RedisBackend) docToFile(id string, doc *fileDoc) *IndexedFile {
	f := &IndexedFile{
		ID:            id,
		Path:          doc.Path,
		Filename:      doc.Filename,
		ContentDigest: doc.FileHash,
		Mtime:         doc.LastModified,
	}
	if t, err := time.Parse(time.RFC3339Nano, doc.IndexedAt); err == nil {
		f.IndexedAt = t
	}
	if len(doc.Vector) > 0 {
		f.FeatureVector = vectorizer.FromDense(doc.Vector).Serialize()
	}
	return f
}

// findIDByPath resolves a path to its file id via the tag index.
func (b *RedisBackend) findIDByPath(ctx context.Context, path string) (string, error) {
	res, err := b.command.FTSearchWithArgs(ctx, fileIndex,
		fmt.Sprintf("@path:{%s}", escapeTag(path)),
		&redis.FTSearchOptions{NoContent: true, LimitOffset: 0, Limit: 1},
	).Result()
	if err != nil {
		return "", err
	}
	if len(res.Docs) == 0 {
		return "", nil
	}
	return strings.TrimPrefix(res.Docs[0].ID, filePrefix), nil
}

// denseVector expands a serialized sparse vector to the index dimension,
// padding with zeros or truncating.
func (b *RedisBackend) denseVector(serialized []byte) ([]float32, error) {
	vec, err := vectorizer.Deserialize(serialized)
	if err != nil {
		return nil, err
	}
	return vec.Dense(b.cfg.VectorDim), nil
}

func denseToBytes(dense []float32) []byte {
	buf := make([]byte, 4*len(dense))
	for i, v := range dense {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func (b *RedisBackend) Upsert(ctx context.Context, path, filename, digest string, vector []byte, mtime float64) (*IndexedFile, error) {
	id, err := b.findIDByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	doc := fileDoc{
		Path:         path,
		Filename:     filename,
		FileHash:     digest,
		LastModified: mtime,
		IndexedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(vector) > 0 {
		dense, err := b.denseVector(vector)
		if err != nil {
			return nil, fmt.Errorf("invalid feature vector for %s: %w", path, err)
		}
		doc.Vector = dense
	}

	if err := b.vector.JSONSet(ctx, filePrefix+id, "$", doc).Err(); err != nil {
		return nil, fmt.Errorf("failed to store file document: %w", err)
	}

	out := b.docToFile(id, &doc)
	out.FeatureVector = vector
	return out, nil
}

func (b *RedisBackend) GetByPath(ctx context.Context, path string) (*IndexedFile, error) {
	id, err := b.findIDByPath(ctx, path)
	if err != nil || id == "" {
		return nil, err
	}
	return b.GetByID(ctx, id)
}

func (b *RedisBackend) GetByID(ctx context.Context, id string) (*IndexedFile, error) {
	doc, err := b.getFileDoc(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return b.docToFile(id, doc), nil
}

func (b *RedisBackend) FindByDigest(ctx context.Context, digest string) (*IndexedFile, error) {
	res, err := b.command.FTSearchWithArgs(ctx, fileIndex,
		fmt.Sprintf("@file_hash:{%s}", escapeTag(digest)),
		&redis.FTSearchOptions{NoContent: true, LimitOffset: 0, Limit: 1},
	).Result()
	if err != nil {
		return nil, err
	}
	if len(res.Docs) == 0 {
		return nil, nil
	}
	return b.GetByID(ctx, strings.TrimPrefix(res.Docs[0].ID, filePrefix))
}

// scanKeys iterates all keys under a prefix.
func (b *RedisBackend) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := b.command.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (b *RedisBackend) ListAll(ctx context.Context) ([]*IndexedFile, error) {
	keys, err := b.scanKeys(ctx, filePrefix)
	if err != nil {
		return nil, err
	}

	files := make([]*IndexedFile, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, filePrefix)
		doc, err := b.getFileDoc(ctx, id)
		if err != nil || doc == nil {
			continue
		}
		files = append(files, b.docToFile(id, doc))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (b *RedisBackend) ListWithVectors(ctx context.Context) ([]VectorRow, error) {
	keys, err := b.scanKeys(ctx, filePrefix)
	if err != nil {
		return nil, err
	}

	var rows []VectorRow
	for _, key := range keys {
		id := strings.TrimPrefix(key, filePrefix)
		doc, err := b.getFileDoc(ctx, id)
		if err != nil || doc == nil || len(doc.Vector) == 0 {
			continue
		}
		rows = append(rows, VectorRow{ID: id, Vector: vectorizer.FromDense(doc.Vector).Serialize()})
	}
	return rows, nil
}

func (b *RedisBackend) Count(ctx context.Context) (int, error) {
	keys, err := b.scanKeys(ctx, filePrefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *RedisBackend) DeleteByID(ctx context.Context, id string) (bool, error) {
	deleted, err := b.command.Del(ctx, filePrefix+id).Result()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// DeleteAll removes every file document and every scan result, which
// reference the files.
func (b *RedisBackend) DeleteAll(ctx context.Context) (int, error) {
	fileKeys, err := b.scanKeys(ctx, filePrefix)
	if err != nil {
		return 0, err
	}
	resultKeys, err := b.scanKeys(ctx, resultPrefix)
	if err != nil {
		return 0, err
	}

	if len(fileKeys) > 0 {
		if err := b.command.Del(ctx, fileKeys...).Err(); err != nil {
			return 0, err
		}
	}
	if len(resultKeys) > 0 {
		if err := b.command.Del(ctx, resultKeys...).Err(); err != nil {
			return 0, err
		}
	}
	return len(fileKeys), nil
}

func (b *RedisBackend) AddScanResult(ctx context.Context, scanID, scannedPath, matchKind string, score float64, matchedFileID string) (*ScanResult, error) {
	matched, err := b.GetByID(ctx, matchedFileID)
	if err != nil {
		return nil, err
	}
	if matched == nil {
		return nil, fmt.Errorf("matched file %s does not exist", matchedFileID)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	doc := resultDoc{
		ScanID:          scanID,
		FilePath:        scannedPath,
		MatchType:       matchKind,
		Score:           score,
		MatchedFileID:   matchedFileID,
		MatchedFilePath: matched.Path,
		MatchedFileName: matched.Filename,
		Timestamp:       now.Format(time.RFC3339Nano),
	}

	if err := b.command.JSONSet(ctx, resultPrefix+id, "$", doc).Err(); err != nil {
		return nil, fmt.Errorf("failed to store scan result: %w", err)
	}

	return &ScanResult{
		ID:              id,
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

func (b *RedisBackend) getResultDoc(ctx context.Context, id string) (*resultDoc, error) {
	raw, err := b.command.JSONGet(ctx, resultPrefix+id, "$").Result()
	if err == redis.Nil || raw == "" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var docs []resultDoc
	if err := json.Unmarshal([]byte(raw), &docs); err != nil || len(docs) == 0 {
		return nil, fmt.Errorf("undecodable result document %s: %v", id, err)
	}
	return &docs[0], nil
}

func docToResult(id string, doc *resultDoc) *ScanResult {
	r := &ScanResult{
		ID:              id,
		ScanID:          doc.ScanID,
		ScannedPath:     doc.FilePath,
		MatchKind:       doc.MatchType,
		Score:           doc.Score,
		MatchedFileID:   doc.MatchedFileID,
		MatchedFilePath: doc.MatchedFilePath,
		MatchedFileName: doc.MatchedFileName,
	}
	if t, err := time.Parse(time.RFC3339Nano, doc.Timestamp); err == nil {
		r.Timestamp = t
	}
	return r
}

func (b *RedisBackend) resultsForKeys(ctx context.Context, keys []string) []*ScanResult {
	results := make([]*ScanResult, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, resultPrefix)
		doc, err := b.getResultDoc(ctx, id)
		if err != nil || doc == nil {
			continue
		}
		results = append(results, docToResult(id, doc))
	}
	return results
}

func (b *RedisBackend) ResultsForScan(ctx context.Context, scanID string) ([]*ScanResult, error) {
	res, err := b.command.FTSearchWithArgs(ctx, resultIndex,
		fmt.Sprintf("@scan_id:{%s}", escapeTag(scanID)),
		&redis.FTSearchOptions{NoContent: true, LimitOffset: 0, Limit: 10000},
	).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(res.Docs))
	for _, doc := range res.Docs {
		keys = append(keys, doc.ID)
	}
	results := b.resultsForKeys(ctx, keys)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func (b *RedisBackend) AllResults(ctx context.Context) ([]*ScanResult, error) {
	keys, err := b.scanKeys(ctx, resultPrefix)
	if err != nil {
		return nil, err
	}
	results := b.resultsForKeys(ctx, keys)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Timestamp.After(results[j].Timestamp) })
	return results, nil
}

func (b *RedisBackend) DistinctScanCount(ctx context.Context) (int, error) {
	results, err := b.AllResults(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.ScanID] = true
	}
	return len(seen), nil
}

func (b *RedisBackend) ResultCount(ctx context.Context) (int, error) {
	keys, err := b.scanKeys(ctx, resultPrefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *RedisBackend) ScansSummary(ctx context.Context) ([]ScanSummary, error) {
	results, err := b.AllResults(ctx)
	if err != nil {
		return nil, err
	}

	byScan := make(map[string]*ScanSummary)
	for _, r := range results {
		s, ok := byScan[r.ScanID]
		if !ok {
			s = &ScanSummary{ScanID: r.ScanID, Timestamp: r.Timestamp}
			byScan[r.ScanID] = s
		}
		s.MatchesCount++
		if r.Timestamp.Before(s.Timestamp) {
			s.Timestamp = r.Timestamp
		}
	}

	summaries := make([]ScanSummary, 0, len(byScan))
	for _, s := range byScan {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Timestamp.After(summaries[j].Timestamp) })
	return summaries, nil
}

// FindSimilar runs a KNN query against the HNSW index, requesting 2k
// candidates, converting cosine distance to similarity, filtering by the
// threshold and truncating to k.
func (b *RedisBackend) FindSimilar(ctx context.Context, queryVector []byte, threshold float64, k int) ([]SimilarMatch, error) {
	dense, err := b.denseVector(queryVector)
	if err != nil {
		return nil, fmt.Errorf("invalid query vector: %w", err)
	}

	res, err := b.vector.FTSearchWithArgs(ctx, fileIndex,
		fmt.Sprintf("*=>[KNN %d @vector $vec AS score]", 2*k),
		&redis.FTSearchOptions{
			Return:         []redis.FTSearchReturn{{FieldName: "score"}},
			SortBy:         []redis.FTSearchSortBy{{FieldName: "score", Asc: true}},
			LimitOffset:    0,
			Limit:          2 * k,
			Params:         map[string]interface{}{"vec": denseToBytes(dense)},
			DialectVersion: 2,
		},
	).Result()
	if err != nil {
		return nil, fmt.Errorf("vector similarity search failed: %w", err)
	}

	var matches []SimilarMatch
	for _, doc := range res.Docs {
		distance, err := strconv.ParseFloat(doc.Fields["score"], 64)
		if err != nil {
			continue
		}
		similarity := 1 - distance
		if similarity >= threshold {
			matches = append(matches, SimilarMatch{
				ID:    strings.TrimPrefix(doc.ID, filePrefix),
				Score: similarity,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (b *RedisBackend) RecordIndexOperation(ctx context.Context, op *IndexOperation) error {
	doc := indexOpDoc{
		IndexID:       op.IndexID,
		DirectoryPath: op.DirectoryPath,
		Status:        op.Status,
		TotalFiles:    op.TotalFiles,
		FilesIndexed:  op.FilesIndexed,
		FilesSkipped:  op.FilesSkipped,
		StartedAt:     op.StartedAt.UTC().Format(time.RFC3339Nano),
		ErrorMessage:  op.ErrorMessage,
	}
	if !op.CompletedAt.IsZero() {
		doc.CompletedAt = op.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	if err := b.command.JSONSet(ctx, indexOpPrefix+uuid.NewString(), "$", doc).Err(); err != nil {
		return fmt.Errorf("failed to record index operation: %w", err)
	}
	return nil
}

// Commit is a no-op: writes are immediate.
func (b *RedisBackend) Commit() error { return nil }

// Rollback is a no-op: the backend is last-writer-wins per key.
func (b *RedisBackend) Rollback() error { return nil }

// Close releases the handle; the shared pools stay up for other workers.
func (b *RedisBackend) Close() error { return nil }

func (b *RedisBackend) HealthCheck(ctx context.Context) bool {
	return b.command.Ping(ctx).Err() == nil
}
