package usecase

import (
	"math"
	"strings"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

const (
	exactQueryBoost   = 0.15
	partialQueryBoost = 0.10
	partialQueryRatio = 0.7
)

// queryMatchFields are checked against the raw query text for name lookups
// that embeddings score low.
var queryMatchFields = []domain.Field{
	domain.FieldCooperator,
	domain.FieldProduct,
	domain.FieldLocation,
	domain.FieldCrop,
}

// RelevanceConfig enables the score threshold stage when MinScore > 0.
// LenientMinScore is tried once when MinScore keeps nothing; it is ignored
// unless it lies strictly between 0 and MinScore.
type RelevanceConfig struct {
	MinScore        float64
	LenientMinScore float64
}

func (c RelevanceConfig) enabled() bool { return c.MinScore > 0 }

func (c RelevanceConfig) lenient() (float64, bool) {
	if c.LenientMinScore > 0 && c.LenientMinScore < c.MinScore {
		return c.LenientMinScore, true
	}
	return 0, false
}

// ApplyRelevance boosts results whose key fields match the query, keeps the
// ones scoring at least cfg.MinScore and falls back to cfg.LenientMinScore
// when nothing passes. Survivors are sorted by descending score, stable.
func ApplyRelevance(results []domain.SearchResult, query string, cfg RelevanceConfig) []domain.SearchResult {
	if !cfg.enabled() || len(results) == 0 {
		return results
	}

	q := strings.ToLower(strings.TrimSpace(query))
	qWords := wordSet(q)
	scored := make([]domain.SearchResult, len(results))
	for i, r := range results {
		if boost := queryBoost(r, q, qWords); boost > 0 {
			r.PreserveOriginalScore()
			r.Score = math.Min(1.0, r.Score+boost)
		}
		scored[i] = r
	}

	kept := aboveScore(scored, cfg.MinScore)
	if len(kept) == 0 {
		if lenient, ok := cfg.lenient(); ok {
			kept = aboveScore(scored, lenient)
		}
	}
	sortByScore(kept)
	return kept
}

// queryBoost is 0.15 when a key field contains the query or is contained in
// it, else 0.10 × ratio for the first field sharing at least 70% of the
// query words. Empty fields never match.
func queryBoost(r domain.SearchResult, query string, queryWords map[string]struct{}) float64 {
	if query == "" {
		return 0
	}
	values := make([]string, 0, len(queryMatchFields))
	for _, f := range queryMatchFields {
		if v := strings.ToLower(strings.TrimSpace(r.PayloadString(string(f)))); v != "" {
			values = append(values, v)
		}
	}
	for _, v := range values {
		if strings.Contains(v, query) || strings.Contains(query, v) {
			return exactQueryBoost
		}
	}
	for _, v := range values {
		if ratio := wordOverlap(queryWords, wordSet(v)); ratio >= partialQueryRatio {
			return partialQueryBoost * ratio
		}
	}
	return 0
}

func aboveScore(results []domain.SearchResult, threshold float64) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}
