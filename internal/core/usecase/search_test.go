package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

var testTarget = IndexTarget{Collection: "reports", VectorName: "dense", OverFetch: 5}

func newSearch(index *indexFake, enc *encoderFake, cfg SearchConfig, opts ...SearchOption) *SearchUseCase {
	dense := NewDenseRetriever(enc, index, testTarget)
	return NewSearchUseCase(dense, cfg, opts...)
}

func TestSearchLeadsZambalesRoundTrip(t *testing.T) {
	index := &indexFake{dense: []domain.ScoredPoint{
		point("1", 0.61, map[string]any{"cooperative": "Leads Agri", "location": "PI, DIRITA, IBA, ZAMBALES", "content": "rice trial"}),
		point("2", 0.74, map[string]any{"cooperative": "OtherCoop", "location": "Laguna", "content": "corn trial"}),
	}}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig())

	list, err := uc.Search(context.Background(), domain.SearchRequest{
		Query:       "rice yield",
		Cooperative: "Leads",
		Filters:     mustFilters(t, domain.Filter{Field: domain.FieldLocation, Value: "Zambales"}),
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(list.Results) != 1 || list.Results[0].ID != "1" {
		t.Fatalf("expected only id 1, got %v", ids(list.Results))
	}
	got := list.Results[0]
	if !approx(got.Score, 0.81) {
		t.Fatalf("expected raw score boosted by 0.2, got %.3f", got.Score)
	}
	if got.OriginalScore == nil || !approx(*got.OriginalScore, 0.61) {
		t.Fatalf("expected original score 0.61, got %v", got.OriginalScore)
	}
	if !got.Matches[domain.FieldLocation] {
		t.Fatalf("expected location match flag")
	}
	if got.Content != "rice trial" {
		t.Fatalf("expected content from payload, got %q", got.Content)
	}
	if len(index.queries) != 1 || index.queries[0].Limit != 50 {
		t.Fatalf("expected one search with over-fetch limit 50, got %+v", index.queries)
	}
	if index.queries[0].Filter != nil {
		t.Fatalf("expected index query without cooperative filter, got %v", index.queries[0].Filter)
	}
}

func TestSearchRejectsEmptyQueryWithoutIndexCall(t *testing.T) {
	index := &indexFake{}
	enc := &encoderFake{}
	uc := newSearch(index, enc, DefaultSearchConfig())

	for _, q := range []string{"", "   "} {
		list, err := uc.Search(context.Background(), domain.SearchRequest{Query: q, Cooperative: "Leads"})
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("query %q: expected ErrInvalidInput, got %v", q, err)
		}
		if list != nil {
			t.Fatalf("query %q: expected nil result list", q)
		}
	}
	if index.searchCalls() != 0 || enc.calls != 0 {
		t.Fatalf("expected no encoder or index calls, got encoder=%d index=%d", enc.calls, index.searchCalls())
	}
}

func TestSearchRequiresCooperative(t *testing.T) {
	index := &indexFake{}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig())

	_, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if index.searchCalls() != 0 {
		t.Fatalf("expected no index call")
	}
}

func TestSearchTopKDefaultAndClamp(t *testing.T) {
	points := make([]domain.ScoredPoint, 0, 600)
	for i := 0; i < 600; i++ {
		points = append(points, point(fmt.Sprintf("doc-%d", i), 0.5, map[string]any{"cooperative": "Leads"}))
	}
	index := &indexFake{dense: points}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig())

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(list.Results) != 10 {
		t.Fatalf("expected default top_k 10, got %d", len(list.Results))
	}

	list, err = uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", TopK: 1000})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(list.Results) != 100 {
		t.Fatalf("expected clamp to 100, got %d", len(list.Results))
	}

	_, err = uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", TopK: -1})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative top_k, got %v", err)
	}
}

func TestSearchTenantSafeUnderAnyFilters(t *testing.T) {
	index := &indexFake{dense: []domain.ScoredPoint{
		point("own", 0.2, map[string]any{"cooperative": "Sunrise Cooperative", "crop": "rice"}),
		point("foreign", 0.99, map[string]any{"cooperative": "Leads Agri", "crop": "rice"}),
	}}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig())

	for _, filters := range []domain.FilterSet{
		{},
		mustFilters(t, domain.Filter{Field: domain.FieldCrop, Value: "rice"}),
	} {
		for _, topK := range []int{1, 5, 100} {
			list, err := uc.Search(context.Background(), domain.SearchRequest{
				Query: "rice", Cooperative: "Sunrise", TopK: topK, Filters: filters,
			})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			for _, r := range list.Results {
				if r.ID == "foreign" {
					t.Fatalf("foreign tenant document leaked with top_k=%d", topK)
				}
			}
		}
	}
}

func TestSearchPropagatesRetrievalFailure(t *testing.T) {
	index := &indexFake{err: errors.New("connection refused")}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig())

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads"})
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
	if list != nil {
		t.Fatalf("expected no result list on failure")
	}
}

func TestSearchEncoderFailure(t *testing.T) {
	uc := newSearch(&indexFake{}, &encoderFake{err: errors.New("model not loaded")}, DefaultSearchConfig())
	_, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads"})
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}

func TestSearchTimeout(t *testing.T) {
	cfg := DefaultSearchConfig()
	cfg.Timeout = 10 * time.Millisecond
	uc := newSearch(&indexFake{block: true}, &encoderFake{}, cfg)

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads"})
	if !domain.IsKind(err, domain.ErrRetrievalTimeout) {
		t.Fatalf("expected ErrRetrievalTimeout, got %v", err)
	}
	if list != nil {
		t.Fatalf("expected zero results on timeout")
	}
}

func TestSearchHybridFusesBothRetrievers(t *testing.T) {
	index := &indexFake{
		dense: []domain.ScoredPoint{
			point("a", 0.9, map[string]any{"cooperative": "Leads"}),
			point("b", 0.8, map[string]any{"cooperative": "Leads"}),
			point("x", 0.95, map[string]any{"cooperative": "Other"}),
		},
		sparse: []domain.ScoredPoint{
			point("b", 14, map[string]any{"cooperative": "Leads"}),
			point("c", 9, map[string]any{"cooperative": "Leads"}),
		},
	}
	enc := &encoderFake{}
	sparse := NewSparseRetriever(sparseEncoderFake{}, index, IndexTarget{Collection: "reports", VectorName: "sparse", OverFetch: 5})
	uc := newSearch(index, enc, DefaultSearchConfig(), WithSparseRetriever(sparse))

	list, err := uc.Search(context.Background(), domain.SearchRequest{
		Query: "rice yield", Cooperative: "Leads", Mode: domain.ModeHybrid,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if list.Mode != domain.ModeHybrid {
		t.Fatalf("expected hybrid mode, got %s", list.Mode)
	}
	got := ids(list.Results)
	if len(got) != 3 || got[0] != "b" {
		t.Fatalf("expected b first of [a b c], got %v", got)
	}
	if list.Results[0].RetrieverType != domain.RetrieverHybrid {
		t.Fatalf("expected b tagged hybrid, got %s", list.Results[0].RetrieverType)
	}
	if index.searchCalls() != 2 {
		t.Fatalf("expected one dense and one sparse search, got %d", index.searchCalls())
	}
}

func TestSearchHybridFailsWhenEitherRetrieverFails(t *testing.T) {
	index := &indexFake{err: errors.New("sparse vector missing")}
	sparse := NewSparseRetriever(sparseEncoderFake{}, index, testTarget)
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig(), WithSparseRetriever(sparse))

	_, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", Mode: domain.ModeHybrid})
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}

func TestSearchHybridWithoutSparseRetriever(t *testing.T) {
	uc := newSearch(&indexFake{}, &encoderFake{}, DefaultSearchConfig())
	_, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", Mode: domain.ModeHybrid})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSearchNormalizesOnRequest(t *testing.T) {
	index := &indexFake{dense: []domain.ScoredPoint{
		point("a", 0.9, map[string]any{"cooperative": "Leads"}),
		point("b", 0.5, map[string]any{"cooperative": "Leads"}),
	}}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig())

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", Normalize: domain.NormalizeMinMax})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if list.Results[0].Score != 1 || list.Results[1].Score != 0 {
		t.Fatalf("expected min_max scores [1 0], got [%.2f %.2f]", list.Results[0].Score, list.Results[1].Score)
	}

	_, err = uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", Normalize: "softmax"})
	if !domain.IsKind(err, domain.ErrFilterConfig) {
		t.Fatalf("expected ErrFilterConfig for unknown method, got %v", err)
	}
}

func TestSearchRefillWidensOnce(t *testing.T) {
	points := []domain.ScoredPoint{}
	for i := 0; i < 10; i++ {
		points = append(points, point(fmt.Sprintf("foreign-%d", i), 0.9, map[string]any{"cooperative": "Other"}))
	}
	points = append(points, point("own", 0.4, map[string]any{"cooperative": "Leads"}))
	index := &indexFake{dense: points}

	cfg := DefaultSearchConfig()
	cfg.Refill = true
	uc := newSearch(index, &encoderFake{}, cfg)

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", TopK: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(list.Results) != 1 || list.Results[0].ID != "own" {
		t.Fatalf("expected refill to reach own document, got %v", ids(list.Results))
	}
	if index.searchCalls() != 2 || index.queries[1].Limit != 20 {
		t.Fatalf("expected second search with limit 20, got %+v", index.queries)
	}
}

func TestSearchWithoutRefillAcceptsUnderfill(t *testing.T) {
	points := []domain.ScoredPoint{}
	for i := 0; i < 10; i++ {
		points = append(points, point(fmt.Sprintf("foreign-%d", i), 0.9, map[string]any{"cooperative": "Other"}))
	}
	points = append(points, point("own", 0.4, map[string]any{"cooperative": "Leads"}))
	index := &indexFake{dense: points}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig())

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", TopK: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(list.Results) != 0 || index.searchCalls() != 1 {
		t.Fatalf("expected single under-filled search, got results=%v calls=%d", ids(list.Results), index.searchCalls())
	}
}

type runnerFake struct {
	attempts int
	max      int
}

func (r *runnerFake) Run(ctx context.Context, _ string, fn func(context.Context) error) error {
	var err error
	for r.attempts = 0; r.attempts < r.max; {
		r.attempts++
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}

type flakyIndex struct {
	*indexFake
	failures int
}

func (f *flakyIndex) Search(ctx context.Context, q domain.VectorQuery) ([]domain.ScoredPoint, error) {
	if f.failures > 0 {
		f.failures--
		return nil, domain.ErrTemporary
	}
	return f.indexFake.Search(ctx, q)
}

func TestSearchRetriesThroughStepRunner(t *testing.T) {
	index := &flakyIndex{
		indexFake: &indexFake{dense: []domain.ScoredPoint{point("a", 0.5, map[string]any{"cooperative": "Leads"})}},
		failures:  1,
	}
	runner := &runnerFake{max: 2}
	dense := NewDenseRetriever(&encoderFake{}, index, testTarget)
	uc := NewSearchUseCase(dense, DefaultSearchConfig(), WithStepRunner(runner))

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if runner.attempts != 2 || len(list.Results) != 1 {
		t.Fatalf("expected success on second attempt, got attempts=%d results=%d", runner.attempts, len(list.Results))
	}
}

type observerFake struct {
	mu       sync.Mutex
	outcomes []string
	events   []domain.SearchEvent
	dropped  int
}

func (o *observerFake) ObserveSearch(event domain.SearchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, event.Outcome)
	o.events = append(o.events, event)
}

func (o *observerFake) ObserveIsolationDropped(_ domain.RetrieverType, dropped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped += dropped
}

func TestSearchReportsOutcomes(t *testing.T) {
	index := &indexFake{dense: []domain.ScoredPoint{
		point("a", 0.5, map[string]any{"cooperative": "Leads"}),
		point("b", 0.5, map[string]any{"cooperative": "Other"}),
	}}
	obs := &observerFake{}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig(), WithSearchObserver(obs))

	_, _ = uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads"})
	_, _ = uc.Search(context.Background(), domain.SearchRequest{Query: "", Cooperative: "Leads"})

	if len(obs.outcomes) != 2 || obs.outcomes[0] != "ok" || obs.outcomes[1] != "rejected" {
		t.Fatalf("expected [ok rejected], got %v", obs.outcomes)
	}
	if obs.dropped != 1 {
		t.Fatalf("expected 1 isolated document, got %d", obs.dropped)
	}
}

func TestSearchRelevanceFallsBackToLenientThreshold(t *testing.T) {
	index := &indexFake{dense: []domain.ScoredPoint{
		point("a", 0.70, map[string]any{"cooperative": "Leads"}),
		point("b", 0.68, map[string]any{"cooperative": "Leads"}),
		point("c", 0.60, map[string]any{"cooperative": "Leads"}),
		point("x", 0.95, map[string]any{"cooperative": "Other"}),
	}}
	cfg := DefaultSearchConfig()
	cfg.Relevance = RelevanceConfig{MinScore: 0.75, LenientMinScore: 0.65}
	uc := newSearch(index, &encoderFake{}, cfg)

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "soil moisture", Cooperative: "Leads"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := ids(list.Results); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected lenient [a b], got %v", got)
	}
}

func TestSearchRelevanceBoostsQueryNamedField(t *testing.T) {
	index := &indexFake{dense: []domain.ScoredPoint{
		point("a", 0.80, map[string]any{"cooperative": "Leads", "crop": "corn"}),
		point("b", 0.70, map[string]any{"cooperative": "Leads", "crop": "rice"}),
	}}
	cfg := DefaultSearchConfig()
	cfg.Relevance = RelevanceConfig{MinScore: 0.75}
	uc := newSearch(index, &encoderFake{}, cfg)

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := ids(list.Results); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("expected boosted rice first, got %v", got)
	}
}

func TestSearchRelevanceSkipsSparseList(t *testing.T) {
	index := &indexFake{
		dense:  []domain.ScoredPoint{point("d", 0.90, map[string]any{"cooperative": "Leads"})},
		sparse: []domain.ScoredPoint{point("s", 0.20, map[string]any{"cooperative": "Leads"})},
	}
	cfg := DefaultSearchConfig()
	cfg.Relevance = RelevanceConfig{MinScore: 0.75}
	sparse := NewSparseRetriever(sparseEncoderFake{}, index, IndexTarget{Collection: "reports", VectorName: "sparse", OverFetch: 5})
	uc := newSearch(index, &encoderFake{}, cfg, WithSparseRetriever(sparse))

	list, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice yield", Cooperative: "Leads", Mode: domain.ModeHybrid})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(list.Results) != 2 {
		t.Fatalf("expected dense and sparse results fused, got %v", ids(list.Results))
	}
}

func TestSearchEventCarriesTenantAndUser(t *testing.T) {
	index := &indexFake{dense: []domain.ScoredPoint{point("a", 0.5, map[string]any{"cooperative": "Leads"})}}
	first, second := &observerFake{}, &observerFake{}
	uc := newSearch(index, &encoderFake{}, DefaultSearchConfig(), WithSearchObserver(first), WithSearchObserver(second))

	_, err := uc.Search(context.Background(), domain.SearchRequest{Query: "rice", Cooperative: "Leads", UserID: " u-1 "})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, obs := range []*observerFake{first, second} {
		if len(obs.events) != 1 {
			t.Fatalf("expected one event per observer, got %d", len(obs.events))
		}
		ev := obs.events[0]
		if ev.Cooperative != "Leads" || ev.UserID != "u-1" || ev.Mode != domain.ModeDense || ev.Results != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}
