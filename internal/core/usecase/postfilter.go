package usecase

import (
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

const (
	boostDateExact   = 0.3
	boostDateMonth   = 0.2
	boostDateYear    = 0.1
	boostTextExact   = 0.2
	boostWordsStrong = 0.1
	boostWordsFuzzy  = 0.05

	strongOverlap = 0.8
	fuzzyOverlap  = 0.6
)

// matchFilter compares one filter value with a document value and returns
// whether it matched and the boost it earns.
func matchFilter(field domain.Field, filterValue, docValue string) (bool, float64) {
	filterValue = strings.TrimSpace(filterValue)
	docValue = strings.TrimSpace(docValue)
	if filterValue == "" || docValue == "" {
		return false, 0
	}

	if field.Policy() == domain.MatchDate {
		return matchDate(filterValue, docValue)
	}

	filterNorm := normalizeName(filterValue)
	docNorm := normalizeName(docValue)
	if filterNorm == docNorm {
		return true, boostTextExact
	}
	if field.Policy() == domain.MatchLocation {
		if strings.Contains(docNorm, filterNorm) || strings.Contains(filterNorm, docNorm) {
			return true, boostTextExact
		}
	}

	ratio := wordOverlap(wordSet(filterNorm), wordSet(docNorm))
	switch {
	case ratio >= strongOverlap:
		return true, boostWordsStrong
	case ratio >= fuzzyOverlap:
		return true, boostWordsFuzzy
	default:
		return false, 0
	}
}

func matchDate(filterDate, docDate string) (bool, float64) {
	if filterDate == docDate {
		return true, boostDateExact
	}
	if len(filterDate) == 7 && filterDate[4] == '-' && strings.HasPrefix(docDate, filterDate) {
		return true, boostDateMonth
	}
	if len(filterDate) == 4 && allDigits(filterDate) && strings.HasPrefix(docDate, filterDate) {
		return true, boostDateYear
	}
	return false, 0
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ApplyPostFilter drops every result that fails any filter, boosts the rest
// by the largest per-filter boost (capped at 1.0) and orders boosted results
// ahead of zero-boost ones.
func ApplyPostFilter(results []domain.SearchResult, filters domain.FilterSet) []domain.SearchResult {
	if filters.Empty() {
		return results
	}

	boosted := make([]domain.SearchResult, 0, len(results))
	plain := make([]domain.SearchResult, 0)
	for _, r := range results {
		passed := true
		boost := 0.0
		matches := make(map[domain.Field]bool, filters.Len())
		for _, f := range filters.Filters() {
			ok, b := matchFilter(f.Field, f.Value, r.PayloadString(string(f.Field)))
			if !ok {
				passed = false
				break
			}
			matches[f.Field] = true
			boost = math.Max(boost, b)
		}
		if !passed {
			continue
		}

		r.Matches = matches
		if boost > 0 {
			r.PreserveOriginalScore()
			r.Score = math.Min(1.0, r.Score+boost)
			boosted = append(boosted, r)
			continue
		}
		plain = append(plain, r)
	}

	sortByScore(boosted)
	sortByScore(plain)
	return append(boosted, plain...)
}

func sortByScore(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
