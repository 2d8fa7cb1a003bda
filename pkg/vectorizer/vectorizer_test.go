package vectorizer

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		NFeatures:        8192,
		NgramMin:         1,
		NgramMax:         3,
		SublinearTF:      true,
		MinContentLength: 50,
	}
}

func sampleText() string {
	return strings.Repeat("The quick brown fox jumps over the lazy dog. ", 4)
}

func TestTransformProducesUnitNormVector(t *testing.T) {
	v := New(testConfig())

	vec := v.Transform(sampleText())
	require.NotNil(t, vec)
	assert.Equal(t, 8192, vec.Dim)
	assert.InDelta(t, 1.0, vec.Norm(), 1e-6)
	assert.Greater(t, vec.NNZ(), 0)
}

func TestTransformMinContentLengthBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.MinContentLength = 50
	v := New(cfg)

	atBoundary := strings.Repeat("abcde ", 8) + "fg" // exactly 50 chars
	require.Len(t, atBoundary, 50)
	assert.NotNil(t, v.Transform(atBoundary))
	assert.Nil(t, v.Transform(atBoundary[:49]))
}

func TestTransformStripsWhitespaceBeforeLengthCheck(t *testing.T) {
	cfg := testConfig()
	cfg.MinContentLength = 50
	v := New(cfg)

	// 49 meaningful characters padded with whitespace must not qualify.
	padded := "   " + strings.Repeat("x", 24) + " " + strings.Repeat("y", 24) + "   "
	assert.Nil(t, v.Transform(padded))
}

func TestTransformIsDeterministic(t *testing.T) {
	v := New(testConfig())

	a := v.Transform(sampleText())
	b := v.Transform(sampleText())
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a.Indices, b.Indices)
	assert.Equal(t, a.Values, b.Values)
	assert.InDelta(t, 1.0, a.Dot(b), 1e-6)
}

func TestTransformStopWordsOnly(t *testing.T) {
	cfg := testConfig()
	cfg.MinContentLength = 10
	v := New(cfg)

	assert.Nil(t, v.Transform("the and of with from into would could should"))
}

func TestSimilarTextsScoreHigherThanUnrelated(t *testing.T) {
	v := New(testConfig())

	original := sampleText()
	variant := strings.Repeat("The quick brown fox leaps over the lazy dog. ", 4)
	unrelated := strings.Repeat("Quarterly revenue projections exceeded analyst expectations significantly. ", 4)

	base := v.Transform(original)
	near := v.Transform(variant)
	far := v.Transform(unrelated)
	require.NotNil(t, base)
	require.NotNil(t, near)
	require.NotNil(t, far)

	assert.Greater(t, base.Dot(near), base.Dot(far))
	assert.Greater(t, base.Dot(near), 0.5)
	assert.Less(t, base.Dot(far), 0.2)
}

func TestAccentAndCaseNormalization(t *testing.T) {
	cfg := testConfig()
	cfg.MinContentLength = 10
	v := New(cfg)

	plain := v.Transform("resume cafe naive resume cafe naive documents shared")
	accented := v.Transform("Résumé Café Naïve RÉSUMÉ CAFÉ NAÏVE Documents Shared")
	require.NotNil(t, plain)
	require.NotNil(t, accented)
	assert.InDelta(t, 1.0, plain.Dot(accented), 1e-6)
}

func TestSerializeRoundTrip(t *testing.T) {
	v := New(testConfig())
	vec := v.Transform(sampleText())
	require.NotNil(t, vec)

	decoded, err := Deserialize(vec.Serialize())
	require.NoError(t, err)
	assert.Equal(t, vec.Dim, decoded.Dim)
	assert.Equal(t, vec.Indices, decoded.Indices)
	assert.Equal(t, vec.Values, decoded.Values)
}

func TestDeserializeRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short_header", []byte{1, 2, 3}},
		{"trailing_byte", append((&SparseVector{Dim: 16, Indices: []uint32{1, 2}, Values: []float32{1, 1}}).Serialize(), 0)},
		{"index_out_of_range", (&SparseVector{Dim: 4, Indices: []uint32{9}, Values: []float32{1}}).Serialize()},
		{"unsorted_indices", (&SparseVector{Dim: 16, Indices: []uint32{5, 2}, Values: []float32{1, 1}}).Serialize()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestDenseExpansion(t *testing.T) {
	vec := &SparseVector{Dim: 8, Indices: []uint32{1, 5}, Values: []float32{0.5, 0.25}}

	dense := vec.Dense(8)
	assert.Equal(t, float32(0.5), dense[1])
	assert.Equal(t, float32(0.25), dense[5])

	// Truncation drops out-of-range entries; padding extends with zeros.
	short := vec.Dense(4)
	assert.Len(t, short, 4)
	assert.Equal(t, float32(0.5), short[1])

	long := vec.Dense(16)
	assert.Len(t, long, 16)
	assert.Equal(t, float32(0.25), long[5])
	assert.Equal(t, float32(0), long[15])
}

func TestFromDenseRoundTrip(t *testing.T) {
	dense := []float32{0, 0.5, 0, 0, 0.25, 0, 0, 0}
	vec := FromDense(dense)
	assert.Equal(t, []uint32{1, 4}, vec.Indices)
	assert.Equal(t, []float32{0.5, 0.25}, vec.Values)
	assert.Equal(t, dense, vec.Dense(8))
}

func TestDotOrthogonalAndOverlap(t *testing.T) {
	a := &SparseVector{Dim: 8, Indices: []uint32{0, 2}, Values: []float32{1, 1}}
	b := &SparseVector{Dim: 8, Indices: []uint32{1, 3}, Values: []float32{1, 1}}
	c := &SparseVector{Dim: 8, Indices: []uint32{2, 3}, Values: []float32{2, 3}}

	assert.Equal(t, 0.0, a.Dot(b))
	assert.Equal(t, 2.0, a.Dot(c))
	assert.Equal(t, 3.0, b.Dot(c))
}

func TestNormalizeZeroVectorIsNoop(t *testing.T) {
	v := &SparseVector{Dim: 8}
	v.Normalize()
	assert.Equal(t, 0.0, v.Norm())
}

func TestSublinearTFDampensRepeats(t *testing.T) {
	cfg := Config{NFeatures: 1 << 13, NgramMin: 1, NgramMax: 1, MinContentLength: 10}

	raw := New(cfg)
	cfg.SublinearTF = true
	sub := New(cfg)

	text := "alpha alpha alpha alpha alpha alpha alpha alpha beta"
	rawVec := raw.Transform(text)
	subVec := sub.Transform(text)
	require.NotNil(t, rawVec)
	require.NotNil(t, subVec)

	// With sublinear scaling the dominant term's share of the norm shrinks.
	rawMax := maxValue(rawVec.Values)
	subMax := maxValue(subVec.Values)
	assert.Less(t, float64(subMax), float64(rawMax))
}

func maxValue(vals []float32) float32 {
	var m float32
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

func TestNgramRangeWidensFeatureSet(t *testing.T) {
	uni := New(Config{NFeatures: 1 << 13, NgramMin: 1, NgramMax: 1, MinContentLength: 10})
	tri := New(Config{NFeatures: 1 << 13, NgramMin: 1, NgramMax: 3, MinContentLength: 10})

	text := "confidential quarterly financial report draft version seven"
	uniVec := uni.Transform(text)
	triVec := tri.Transform(text)
	require.NotNil(t, uniVec)
	require.NotNil(t, triVec)
	assert.Greater(t, triVec.NNZ(), uniVec.NNZ())
}

func TestNormIsFinite(t *testing.T) {
	v := New(testConfig())
	vec := v.Transform(sampleText())
	require.NotNil(t, vec)
	for _, val := range vec.Values {
		assert.False(t, math.IsNaN(float64(val)))
		assert.False(t, math.IsInf(float64(val), 0))
	}
}
