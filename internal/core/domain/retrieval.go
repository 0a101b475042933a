package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type RetrieverType string

const (
	RetrieverDense  RetrieverType = "dense"
	RetrieverSparse RetrieverType = "sparse"
	RetrieverHybrid RetrieverType = "hybrid"
)

type SearchMode string

const (
	ModeDense  SearchMode = "dense"
	ModeHybrid SearchMode = "hybrid"
)

type NormalizeMethod string

const (
	NormalizeNone   NormalizeMethod = ""
	NormalizeMinMax NormalizeMethod = "min_max"
	NormalizeZScore NormalizeMethod = "z_score"
)

// SparseVector is a hashed term-weight vector for lexical retrieval.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

func (v SparseVector) Empty() bool { return len(v.Indices) == 0 }

// VectorQuery is one nearest-neighbour request against the index. Filter is
// exact, case-sensitive equality only.
type VectorQuery struct {
	Collection string
	VectorName string
	Dense      []float32
	Sparse     *SparseVector
	Filter     map[string]string
	Limit      int
}

// ScoredPoint is a raw index hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// SearchResult is a candidate document annotated while it moves through the
// retrieval pipeline.
type SearchResult struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Payload       map[string]any `json:"payload"`
	Score         float64        `json:"score"`
	OriginalScore *float64       `json:"original_score,omitempty"`
	RetrieverType RetrieverType  `json:"retriever_type,omitempty"`
	Matches       map[Field]bool `json:"matches,omitempty"`
}

// PreserveOriginalScore records the current score as the original one unless
// an original score is already present.
func (r *SearchResult) PreserveOriginalScore() {
	if r.OriginalScore != nil {
		return
	}
	s := r.Score
	r.OriginalScore = &s
}

// PayloadString reads a payload value as trimmed text.
func (r SearchResult) PayloadString(key string) string {
	return PayloadString(r.Payload, key)
}

func (r SearchResult) Cooperative() string {
	return r.PayloadString(PayloadCooperative)
}

// SearchRequest is the caller-facing query contract.
type SearchRequest struct {
	Query       string
	Cooperative string
	UserID      string
	TopK        int
	Mode        SearchMode
	Normalize   NormalizeMethod
	Filters     FilterSet
}

// SearchEvent describes one finished search for observers.
type SearchEvent struct {
	Mode        SearchMode
	Outcome     string
	Cooperative string
	UserID      string
	Elapsed     time.Duration
	Results     int
}

// RankedList is the final, tenant-safe answer to a search request.
type RankedList struct {
	Query   string         `json:"query"`
	Mode    SearchMode     `json:"mode"`
	Total   int            `json:"total_results"`
	Results []SearchResult `json:"results"`
}

func PayloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func PayloadFloat(payload map[string]any, key string) float64 {
	switch t := payload[key].(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
