package usecase

import (
	"fmt"
	"math"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

// NormalizeScores rescales result scores in place with the requested method.
// The pre-normalization score is kept as the original score unless one is
// already recorded.
func NormalizeScores(results []domain.SearchResult, method domain.NormalizeMethod) error {
	var normalized []float64
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
	}

	switch method {
	case domain.NormalizeNone:
		return nil
	case domain.NormalizeMinMax:
		normalized = minMax(scores)
	case domain.NormalizeZScore:
		normalized = zScore(scores)
	default:
		return &domain.FilterError{Field: "normalize", Reason: fmt.Sprintf("unknown normalization method %q, use min_max or z_score", method)}
	}

	for i := range results {
		results[i].PreserveOriginalScore()
		results[i].Score = normalized[i]
	}
	return nil
}

func minMax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}

	out := make([]float64, len(scores))
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

func zScore(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	out := make([]float64, len(scores))
	if len(scores) < 2 {
		fill(out, 0.5)
		return out
	}

	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	variance := 0.0
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	std := math.Sqrt(variance / float64(len(scores)-1))
	if std == 0 {
		fill(out, 0.5)
		return out
	}

	z := make([]float64, len(scores))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, s := range scores {
		z[i] = (s - mean) / std
		lo = math.Min(lo, z[i])
		hi = math.Max(hi, z[i])
	}
	if hi == lo {
		fill(out, 0.5)
		return out
	}
	for i, v := range z {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

func fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}
