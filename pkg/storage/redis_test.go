package storage

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucamihailescu/codescan/pkg/config"
	"github.com/lucamihailescu/codescan/pkg/vectorizer"
)

func TestEscapeTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc123", "abc123"},
		{"550e8400-e29b-41d4-a716-446655440000", `550e8400\-e29b\-41d4\-a716\-446655440000`},
		{"/var/data/file.txt", `\/var\/data\/file\.txt`},
		{"a b", `a\ b`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeTag(tt.in))
	}
}

func TestDenseToBytesLittleEndianFloat32(t *testing.T) {
	buf := denseToBytes([]float32{1.5, -2.25})
	require.Len(t, buf, 8)

	assert.Equal(t, float32(1.5), math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])))
	assert.Equal(t, float32(-2.25), math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])))
}

func TestDenseVectorPadsAndTruncates(t *testing.T) {
	b := &RedisBackend{cfg: config.RedisConfig{VectorDim: 8}}

	sparse := &vectorizer.SparseVector{Dim: 4, Indices: []uint32{1, 3}, Values: []float32{0.5, 0.25}}
	dense, err := b.denseVector(sparse.Serialize())
	require.NoError(t, err)
	require.Len(t, dense, 8)
	assert.Equal(t, float32(0.5), dense[1])
	assert.Equal(t, float32(0.25), dense[3])
	assert.Equal(t, float32(0), dense[7])

	_, err = b.denseVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDocToFileRoundTrip(t *testing.T) {
	b := &RedisBackend{cfg: config.RedisConfig{VectorDim: 8}}

	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := &fileDoc{
		Path:         "/docs/a.txt",
		Filename:     "a.txt",
		FileHash:     "abc",
		LastModified: 1234.5,
		IndexedAt:    now.Format(time.RFC3339Nano),
		Vector:       []float32{0, 0.5, 0, 0, 0, 0, 0, 0.25},
	}

	f := b.docToFile("id-1", doc)
	assert.Equal(t, "id-1", f.ID)
	assert.Equal(t, "/docs/a.txt", f.Path)
	assert.Equal(t, "abc", f.ContentDigest)
	assert.Equal(t, 1234.5, f.Mtime)
	assert.Equal(t, now, f.IndexedAt)

	vec, err := vectorizer.Deserialize(f.FeatureVector)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 7}, vec.Indices)
}

func TestDocToResultParsesTimestamp(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := &resultDoc{
		ScanID:        "s1",
		FilePath:      "/p",
		MatchType:     "exact",
		Score:         1.0,
		MatchedFileID: "f1",
		Timestamp:     now.Format(time.RFC3339Nano),
	}

	r := docToResult("r1", doc)
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, "exact", r.MatchKind)
	assert.Equal(t, now, r.Timestamp)
}
