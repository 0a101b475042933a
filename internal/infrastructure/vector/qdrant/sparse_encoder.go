package qdrant

import (
	"cmp"
	"hash/fnv"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

const (
	docBM25K1      = 1.2
	maxSparseTerms = 256
)

// stopwords are dropped before hashing. Reports mix English with Filipino
// connectives, so both sets are listed.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "was": {}, "were": {}, "with": {},
	"ang": {}, "ng": {}, "sa": {}, "mga": {}, "na": {},
}

// SparseEncoder builds hashed BM25-style term vectors. Document and query
// vectors share the hash space so Qdrant's dot product scores lexical overlap.
type SparseEncoder struct {
	maxTerms int
}

func NewSparseEncoder(maxTerms int) *SparseEncoder {
	if maxTerms <= 0 {
		maxTerms = maxSparseTerms
	}
	return &SparseEncoder{maxTerms: maxTerms}
}

// EncodeDocument weights each term by saturated term frequency.
func (e *SparseEncoder) EncodeDocument(text string) domain.SparseVector {
	tf := countTerms(tokenizeAlphaNum(text))
	return toSparse(tf, e.maxTerms, func(freq float64) float64 {
		return (freq * (docBM25K1 + 1.0)) / (freq + docBM25K1)
	})
}

// EncodeQuery marks term presence only; repeating a word in a query does not
// make it count twice.
func (e *SparseEncoder) EncodeQuery(query string) domain.SparseVector {
	tf := countTerms(tokenizeAlphaNum(query))
	return toSparse(tf, e.maxTerms, func(float64) float64 { return 1 })
}

func countTerms(tokens []string) map[uint32]float64 {
	tf := make(map[uint32]float64, len(tokens))
	for _, token := range tokens {
		if _, skip := stopwords[token]; skip {
			continue
		}
		tf[hashToken(token)]++
	}
	return tf
}

// toSparse keeps the maxTerms most frequent terms, ordered by index.
func toSparse(tf map[uint32]float64, maxTerms int, weight func(float64) float64) domain.SparseVector {
	if len(tf) == 0 {
		return domain.SparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	if len(indices) > maxTerms {
		slices.SortFunc(indices, func(a, b uint32) int {
			if c := cmp.Compare(tf[b], tf[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		indices = indices[:maxTerms]
	}
	slices.Sort(indices)

	values := make([]float32, len(indices))
	for i, idx := range indices {
		w := weight(tf[idx])
		if math.IsNaN(w) || math.IsInf(w, 0) {
			w = 0
		}
		values[i] = float32(w)
	}
	return domain.SparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	return 1
}

// tokenizeAlphaNum lower-cases and splits on anything that is not a letter
// or digit, so "FORM_0001" yields "form" and "0001".
func tokenizeAlphaNum(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
