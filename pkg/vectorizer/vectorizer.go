// Package vectorizer turns text into sparse, L2-normalized feature vectors
// via feature hashing over word n-grams.
//
// The vectorizer is stateless: no fitted vocabulary and no corpus-level
// document frequencies are consulted when transforming a query, so a vector
// produced today is directly comparable by cosine to one produced from the
// same configuration at any other time.
package vectorizer

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Config parameterizes a Vectorizer.
type Config struct {
	NFeatures        int  // hash buckets; the vector dimensionality
	NgramMin         int  // smallest word n-gram size, >= 1
	NgramMax         int  // largest word n-gram size, >= NgramMin
	SublinearTF      bool // 1 + ln(tf) instead of raw counts
	MinContentLength int  // minimum stripped characters to produce a vector
}

// Vectorizer is a stateless feature-hashing text vectorizer.
type Vectorizer struct {
	cfg Config
}

// New creates a vectorizer for the given configuration.
func New(cfg Config) *Vectorizer {
	if cfg.NgramMin < 1 {
		cfg.NgramMin = 1
	}
	if cfg.NgramMax < cfg.NgramMin {
		cfg.NgramMax = cfg.NgramMin
	}
	return &Vectorizer{cfg: cfg}
}

// Dim returns the vector dimensionality.
func (v *Vectorizer) Dim() int {
	return v.cfg.NFeatures
}

// Transform converts text into a unit-norm sparse vector. It returns nil
// when the stripped content length is below MinContentLength or when no
// features survive tokenization.
func (v *Vectorizer) Transform(text string) *SparseVector {
	if len(strings.TrimSpace(text)) < v.cfg.MinContentLength {
		return nil
	}

	counts := make(map[uint32]float64)
	for _, gram := range v.ngrams(tokenize(text)) {
		bucket := uint32(xxhash.Sum64String(gram) % uint64(v.cfg.NFeatures))
		counts[bucket]++
	}
	if len(counts) == 0 {
		return nil
	}

	vec := &SparseVector{
		Dim:     v.cfg.NFeatures,
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx := range counts {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Slice(vec.Indices, func(i, j int) bool { return vec.Indices[i] < vec.Indices[j] })
	for _, idx := range vec.Indices {
		tf := counts[idx]
		if v.cfg.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		vec.Values = append(vec.Values, float32(tf))
	}

	vec.Normalize()
	return vec
}

// ngrams joins consecutive tokens with single spaces for every n in the
// configured range.
func (v *Vectorizer) ngrams(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	var grams []string
	for n := v.cfg.NgramMin; n <= v.cfg.NgramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			grams = append(grams, strings.Join(tokens[i:i+n], " "))
		}
	}
	return grams
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases and strips combining accent marks.
func normalizeText(text string) string {
	stripped, _, err := transform.String(accentStripper, text)
	if err != nil {
		stripped = text
	}
	return strings.ToLower(stripped)
}

// tokenize splits normalized text into word tokens of at least two
// alphanumeric characters and drops English stop words.
func tokenize(text string) []string {
	text = normalizeText(text)

	var tokens []string
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= 2 {
			tok := text[start:end]
			if !englishStopWords[tok] {
				tokens = append(tokens, tok)
			}
		}
		start = -1
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
	}
	flush(len(text))
	return tokens
}
