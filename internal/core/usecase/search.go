package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

type SearchConfig struct {
	DefaultTopK   int
	MaxTopK       int
	QueryMaxChars int
	RRFK          int
	Timeout       time.Duration
	DefaultMode   domain.SearchMode
	// Refill re-queries once with a wider limit when the index returned a full
	// page but filtering left fewer than top_k results.
	Refill       bool
	RefillFactor int
	// Relevance thresholds the dense list after post-filtering. Sparse scores
	// are dot products on another scale and skip it.
	Relevance RelevanceConfig
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		DefaultTopK:   10,
		MaxTopK:       100,
		QueryMaxChars: 500,
		RRFK:          defaultRRFK,
		Timeout:       10 * time.Second,
		DefaultMode:   domain.ModeDense,
		RefillFactor:  2,
	}
}

func (c SearchConfig) normalize() SearchConfig {
	out := c
	def := DefaultSearchConfig()
	if out.DefaultTopK <= 0 {
		out.DefaultTopK = def.DefaultTopK
	}
	if out.MaxTopK <= 0 {
		out.MaxTopK = def.MaxTopK
	}
	if out.DefaultTopK > out.MaxTopK {
		out.DefaultTopK = out.MaxTopK
	}
	if out.QueryMaxChars <= 0 {
		out.QueryMaxChars = def.QueryMaxChars
	}
	if out.RRFK <= 0 {
		out.RRFK = def.RRFK
	}
	if out.DefaultMode == "" {
		out.DefaultMode = def.DefaultMode
	}
	if out.RefillFactor < 2 {
		out.RefillFactor = def.RefillFactor
	}
	return out
}

// StepRunner runs a retrieval step, possibly retrying it.
type StepRunner interface {
	Run(ctx context.Context, operation string, fn func(context.Context) error) error
}

// SearchObserver receives per-request search outcomes.
type SearchObserver interface {
	ObserveSearch(event domain.SearchEvent)
	ObserveIsolationDropped(retriever domain.RetrieverType, dropped int)
}

type directRunner struct{}

func (directRunner) Run(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// observers fans events out to every registered observer.
type observers []SearchObserver

func (o observers) ObserveSearch(event domain.SearchEvent) {
	for _, obs := range o {
		obs.ObserveSearch(event)
	}
}

func (o observers) ObserveIsolationDropped(retriever domain.RetrieverType, dropped int) {
	for _, obs := range o {
		obs.ObserveIsolationDropped(retriever, dropped)
	}
}

type SearchUseCase struct {
	dense    Retriever
	sparse   Retriever
	cfg      SearchConfig
	runner   StepRunner
	observer observers
}

type SearchOption func(*SearchUseCase)

func WithSparseRetriever(r Retriever) SearchOption {
	return func(uc *SearchUseCase) { uc.sparse = r }
}

func WithStepRunner(r StepRunner) SearchOption {
	return func(uc *SearchUseCase) {
		if r != nil {
			uc.runner = r
		}
	}
}

// WithSearchObserver adds an observer; it may be given more than once.
func WithSearchObserver(o SearchObserver) SearchOption {
	return func(uc *SearchUseCase) {
		if o != nil {
			uc.observer = append(uc.observer, o)
		}
	}
}

func NewSearchUseCase(dense Retriever, cfg SearchConfig, opts ...SearchOption) *SearchUseCase {
	uc := &SearchUseCase{
		dense:  dense,
		cfg:    cfg.normalize(),
		runner: directRunner{},
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Search runs the full pipeline: retrieve, isolate by cooperative, post-filter,
// fuse in hybrid mode, normalize on request and cap to top_k.
func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) (*domain.RankedList, error) {
	started := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = uc.cfg.DefaultMode
	}

	list, err := uc.search(ctx, req, mode)
	uc.observer.ObserveSearch(domain.SearchEvent{
		Mode:        mode,
		Outcome:     searchOutcome(err),
		Cooperative: req.Cooperative,
		UserID:      strings.TrimSpace(req.UserID),
		Elapsed:     time.Since(started),
		Results:     resultCount(list),
	})
	return list, err
}

func (uc *SearchUseCase) search(ctx context.Context, req domain.SearchRequest, mode domain.SearchMode) (*domain.RankedList, error) {
	query, topK, err := uc.validate(req, mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()

	retrievers := []Retriever{uc.dense}
	if mode == domain.ModeHybrid {
		retrievers = append(retrievers, uc.sparse)
	}

	rreq := RetrievalRequest{
		Query:       query,
		Cooperative: req.Cooperative,
		TopK:        topK,
		Filters:     req.Filters,
	}
	lists := make([]RankedInput, len(retrievers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range retrievers {
		g.Go(func() error {
			results, err := uc.retrieveFiltered(gctx, r, rreq)
			if err != nil {
				return err
			}
			lists[i] = RankedInput{Retriever: r.Kind(), Results: results}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if isDeadline(ctx, err) {
			return nil, domain.WrapError(domain.ErrRetrievalTimeout, "search", err)
		}
		return nil, err
	}

	var results []domain.SearchResult
	if mode == domain.ModeHybrid {
		results = FuseRRF(lists, uc.cfg.RRFK)
	} else {
		results = lists[0].Results
	}

	results = trimResults(results, topK)
	if err := NormalizeScores(results, req.Normalize); err != nil {
		return nil, err
	}

	return &domain.RankedList{
		Query:   query,
		Mode:    mode,
		Total:   len(results),
		Results: results,
	}, nil
}

func (uc *SearchUseCase) validate(req domain.SearchRequest, mode domain.SearchMode) (string, int, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query is empty"))
	}
	if utf8.RuneCountInString(query) > uc.cfg.QueryMaxChars {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("query exceeds %d characters", uc.cfg.QueryMaxChars))
	}
	if strings.TrimSpace(req.Cooperative) == "" || normalizeCooperative(req.Cooperative) == "" {
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("cooperative is required"))
	}

	topK := req.TopK
	switch {
	case topK < 0:
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("top_k must be positive, got %d", topK))
	case topK == 0:
		topK = uc.cfg.DefaultTopK
	case topK > uc.cfg.MaxTopK:
		topK = uc.cfg.MaxTopK
	}

	switch mode {
	case domain.ModeDense:
	case domain.ModeHybrid:
		if uc.sparse == nil {
			return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("hybrid mode is not configured"))
		}
	default:
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("unknown mode %q", mode))
	}

	switch req.Normalize {
	case domain.NormalizeNone, domain.NormalizeMinMax, domain.NormalizeZScore:
	default:
		return "", 0, &domain.FilterError{Field: "normalize", Reason: fmt.Sprintf("unknown normalization method %q, use min_max or z_score", req.Normalize)}
	}
	return query, topK, nil
}

// retrieveFiltered fetches one retriever's candidates and passes them through
// tenant isolation, the field post-filter and, for dense lists, the relevance
// threshold.
func (uc *SearchUseCase) retrieveFiltered(ctx context.Context, r Retriever, req RetrievalRequest) ([]domain.SearchResult, error) {
	filtered, fetched, err := uc.fetchOnce(ctx, r, req)
	if err != nil {
		return nil, err
	}

	limit := r.FetchLimit(req)
	if uc.cfg.Refill && len(filtered) < req.TopK && fetched >= limit {
		wider := req
		wider.Limit = limit * uc.cfg.RefillFactor
		refilled, _, err := uc.fetchOnce(ctx, r, wider)
		if err != nil {
			return nil, err
		}
		filtered = refilled
	}
	if r.Kind() == domain.RetrieverDense {
		filtered = ApplyRelevance(filtered, req.Query, uc.cfg.Relevance)
	}
	return filtered, nil
}

func (uc *SearchUseCase) fetchOnce(ctx context.Context, r Retriever, req RetrievalRequest) ([]domain.SearchResult, int, error) {
	var raw []domain.SearchResult
	err := uc.runner.Run(ctx, "search."+string(r.Kind()), func(ctx context.Context) error {
		var err error
		raw, err = r.Retrieve(ctx, req)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	isolated, dropped, err := IsolateByCooperative(raw, req.Cooperative)
	if err != nil {
		return nil, 0, err
	}
	if dropped > 0 {
		uc.observer.ObserveIsolationDropped(r.Kind(), dropped)
	}
	return ApplyPostFilter(isolated, req.Filters), len(raw), nil
}

func (uc *SearchUseCase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if uc.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, uc.cfg.Timeout)
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func searchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsKind(err, domain.ErrRetrievalTimeout):
		return "timeout"
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrFilterConfig):
		return "rejected"
	default:
		return "error"
	}
}

func resultCount(list *domain.RankedList) int {
	if list == nil {
		return 0
	}
	return list.Total
}
