// Package similarity scores candidate text against a preloaded matrix of
// indexed feature vectors and classifies matches by a threshold ladder.
package similarity

import (
	"sort"

	"github.com/lucamihailescu/codescan/pkg/config"
	"github.com/lucamihailescu/codescan/pkg/vectorizer"
)

// MatchKind classifies how strong a match is.
type MatchKind string

const (
	MatchExact          MatchKind = "exact"
	MatchHighConfidence MatchKind = "high_confidence"
	MatchSimilarity     MatchKind = "similarity"
)

// Match is one scored candidate from the indexed corpus.
type Match struct {
	FileID string
	Score  float64
	Kind   MatchKind
}

// maxMatches caps how many candidates a single file can report.
const maxMatches = 5

// secondaryMinContentLength gates the cross-validation pass: short texts
// produce too few widened n-grams for the second check to be meaningful.
const secondaryMinContentLength = 200

// Matcher holds the per-scan similarity state: the vectorizers and the
// stacked matrix of indexed vectors. The matrix is immutable after
// construction and may be shared across workers.
type Matcher struct {
	cfg       config.SimilarityConfig
	primary   *vectorizer.Vectorizer
	secondary *vectorizer.Vectorizer // nil when the widened window equals the primary
	ids       []string
	rows      []*vectorizer.SparseVector
}

// NewMatcher builds a matcher over the given indexed vectors. ids and rows
// are parallel; rows must be unit-norm vectors of the configured dimension.
func NewMatcher(cfg config.SimilarityConfig, ids []string, rows []*vectorizer.SparseVector) *Matcher {
	m := &Matcher{
		cfg: cfg,
		primary: vectorizer.New(vectorizer.Config{
			NFeatures:        cfg.NFeatures,
			NgramMin:         cfg.NgramMin,
			NgramMax:         cfg.NgramMax,
			SublinearTF:      cfg.SublinearTF,
			MinContentLength: cfg.MinContentLength,
		}),
		ids:  ids,
		rows: rows,
	}

	secMin, secMax := widenNgramRange(cfg.NgramMin, cfg.NgramMax)
	if secMin != cfg.NgramMin || secMax != cfg.NgramMax {
		m.secondary = vectorizer.New(vectorizer.Config{
			NFeatures:        cfg.NFeatures,
			NgramMin:         secMin,
			NgramMax:         secMax,
			SublinearTF:      cfg.SublinearTF,
			MinContentLength: cfg.MinContentLength,
		})
	}

	return m
}

// widenNgramRange expands the window by one on both sides within [1, 5].
func widenNgramRange(min, max int) (int, int) {
	secMin := min - 1
	if secMin < 1 {
		secMin = 1
	}
	secMax := max + 1
	if secMax > 5 {
		secMax = 5
	}
	return secMin, secMax
}

// Empty reports whether there are no indexed vectors to match against.
func (m *Matcher) Empty() bool {
	return len(m.rows) == 0
}

// Size returns the number of indexed vectors in the matrix.
func (m *Matcher) Size() int {
	return len(m.rows)
}

// KindForScore assigns the match kind by the configured threshold ladder.
func (m *Matcher) KindForScore(score float64) MatchKind {
	switch {
	case score >= m.cfg.ExactMatchThreshold:
		return MatchExact
	case score >= m.cfg.HighConfidenceThreshold:
		return MatchHighConfidence
	default:
		return MatchSimilarity
	}
}

// Match scores content against the matrix. Candidates at or above the
// similarity threshold survive the primary pass; when cross-validation is
// enabled and applicable, each survivor must also score at least 80% of the
// threshold under a widened n-gram window, and its reported score becomes
// the mean of both passes. The result is sorted by score descending and
// capped at five entries.
func (m *Matcher) Match(content string) []Match {
	if m.Empty() {
		return nil
	}

	query := m.primary.Transform(content)
	if query == nil {
		return nil
	}

	type candidate struct {
		row   int
		score float64
	}
	var candidates []candidate
	for i, row := range m.rows {
		if score := query.Dot(row); score >= m.cfg.SimilarityThreshold {
			candidates = append(candidates, candidate{row: i, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	if m.cfg.RequireMultipleMatches && len(content) >= secondaryMinContentLength && m.secondary != nil {
		if secQuery := m.secondary.Transform(content); secQuery != nil {
			validated := candidates[:0]
			for _, c := range candidates {
				secScore := secQuery.Dot(m.rows[c.row])
				if secScore >= m.cfg.SimilarityThreshold*0.8 {
					c.score = (c.score + secScore) / 2
					validated = append(validated, c)
				}
			}
			candidates = validated
		}
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, Match{
			FileID: m.ids[c.row],
			Score:  c.score,
			Kind:   m.KindForScore(c.score),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	return matches
}
