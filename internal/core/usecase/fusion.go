package usecase

import (
	"sort"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

const defaultRRFK = 60

// RankedInput is one retriever's ordered output.
type RankedInput struct {
	Retriever domain.RetrieverType
	Results   []domain.SearchResult
}

type fusedCandidate struct {
	result    domain.SearchResult
	score     float64
	sources   int
	firstSeen int
}

// FuseRRF merges ranked lists with Reciprocal Rank Fusion: every appearance at
// 1-based rank r contributes 1/(k+r). A document seen by more than one
// retriever is tagged hybrid. Ties keep first-seen order.
func FuseRRF(lists []RankedInput, k int) []domain.SearchResult {
	if k <= 0 {
		k = defaultRRFK
	}

	acc := make(map[string]*fusedCandidate)
	order := 0
	for _, list := range lists {
		seen := make(map[string]struct{}, len(list.Results))
		for rank, result := range list.Results {
			key := result.ID
			contribution := 1.0 / float64(k+rank+1)
			candidate, ok := acc[key]
			if !ok {
				candidate = &fusedCandidate{result: result, firstSeen: order}
				candidate.result.RetrieverType = list.Retriever
				acc[key] = candidate
				order++
			}
			candidate.score += contribution
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidate.sources++
			if candidate.sources > 1 {
				candidate.result.RetrieverType = domain.RetrieverHybrid
			}
		}
	}

	fused := make([]*fusedCandidate, 0, len(acc))
	for _, c := range acc {
		fused = append(fused, c)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].firstSeen < fused[j].firstSeen
	})

	out := make([]domain.SearchResult, 0, len(fused))
	for _, c := range fused {
		result := c.result
		result.PreserveOriginalScore()
		result.Score = c.score
		out = append(out, result)
	}
	return out
}

func trimResults(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}
