package usecase

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

type encoderFake struct {
	mu     sync.Mutex
	calls  int
	vector []float32
	err    error
}

func (f *encoderFake) Encode(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	vector := f.vector
	if vector == nil {
		vector = []float32{0.1, 0.2, 0.3}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = vector
	}
	return out, nil
}

type sparseEncoderFake struct{}

func (sparseEncoderFake) EncodeDocument(text string) domain.SparseVector {
	return sparseEncoderFake{}.EncodeQuery(text)
}

func (sparseEncoderFake) EncodeQuery(text string) domain.SparseVector {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := domain.SparseVector{}
	for i := range tokens {
		out.Indices = append(out.Indices, uint32(i+1))
		out.Values = append(out.Values, 1)
	}
	return out
}

type indexFake struct {
	mu      sync.Mutex
	dense   []domain.ScoredPoint
	sparse  []domain.ScoredPoint
	queries []domain.VectorQuery
	err     error
	block   bool

	scrollPages []domain.ScrollPage
	scrollCalls int
	deleted     []map[string]string
	upserted    []domain.Point
}

func (f *indexFake) Search(ctx context.Context, query domain.VectorQuery) ([]domain.ScoredPoint, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	points := f.dense
	if query.Sparse != nil {
		points = f.sparse
	}
	if query.Limit > 0 && len(points) > query.Limit {
		points = points[:query.Limit]
	}
	out := make([]domain.ScoredPoint, len(points))
	copy(out, points)
	return out, nil
}

func (f *indexFake) Scroll(_ context.Context, _ string, _ map[string]string, _ string, _ int) (domain.ScrollPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ScrollPage{}, f.err
	}
	if f.scrollCalls >= len(f.scrollPages) {
		return domain.ScrollPage{}, nil
	}
	page := f.scrollPages[f.scrollCalls]
	f.scrollCalls++
	return page, nil
}

func (f *indexFake) Upsert(_ context.Context, _ string, points []domain.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *indexFake) DeleteByFilter(_ context.Context, _ string, filter map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, filter)
	return nil
}

func (f *indexFake) searchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func point(id string, score float64, payload map[string]any) domain.ScoredPoint {
	return domain.ScoredPoint{ID: id, Score: score, Payload: payload}
}

func result(id string, score float64, payload map[string]any) domain.SearchResult {
	return domain.SearchResult{ID: id, Score: score, Payload: payload}
}

func mustFilters(t interface{ Fatalf(string, ...any) }, filters ...domain.Filter) domain.FilterSet {
	set, err := domain.NewFilterSet(filters...)
	if err != nil {
		t.Fatalf("NewFilterSet() error = %v", err)
	}
	return set
}

func ids(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}
