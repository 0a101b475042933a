package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
)

const defaultOverFetch = 5

// legacyContentKey is where older collections keep the chunk text.
const legacyContentKey = "summary_text"

// RetrievalRequest is what a single retriever needs to fetch candidates.
// Limit overrides the computed fetch size when positive.
type RetrievalRequest struct {
	Query       string
	Cooperative string
	TopK        int
	Filters     domain.FilterSet
	Limit       int
}

func (r RetrievalRequest) postFiltering() bool {
	return strings.TrimSpace(r.Cooperative) != "" || !r.Filters.Empty()
}

// Retriever produces scored candidates for a query. It never applies tenant
// isolation itself.
type Retriever interface {
	Kind() domain.RetrieverType
	FetchLimit(req RetrievalRequest) int
	Retrieve(ctx context.Context, req RetrievalRequest) ([]domain.SearchResult, error)
}

type IndexTarget struct {
	Collection string
	VectorName string
	OverFetch  int
}

func (t IndexTarget) fetchLimit(req RetrievalRequest) int {
	if req.Limit > 0 {
		return req.Limit
	}
	if !req.postFiltering() {
		return req.TopK
	}
	factor := t.OverFetch
	if factor <= 0 {
		factor = defaultOverFetch
	}
	return req.TopK * factor
}

type DenseRetriever struct {
	encoder ports.Encoder
	index   ports.VectorIndex
	target  IndexTarget
}

func NewDenseRetriever(encoder ports.Encoder, index ports.VectorIndex, target IndexTarget) *DenseRetriever {
	return &DenseRetriever{encoder: encoder, index: index, target: target}
}

func (r *DenseRetriever) Kind() domain.RetrieverType { return domain.RetrieverDense }

func (r *DenseRetriever) FetchLimit(req RetrievalRequest) int { return r.target.fetchLimit(req) }

// Retrieve encodes the query and runs one nearest-neighbour search. The index
// is queried without a cooperative constraint.
func (r *DenseRetriever) Retrieve(ctx context.Context, req RetrievalRequest) ([]domain.SearchResult, error) {
	query, err := validateRetrieval(req)
	if err != nil {
		return nil, err
	}

	vectors, err := r.encoder.Encode(ctx, []string{query})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "encode query", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, domain.WrapError(domain.ErrRetrieval, "encode query", fmt.Errorf("expected 1 vector, got %d", len(vectors)))
	}

	points, err := r.index.Search(ctx, domain.VectorQuery{
		Collection: r.target.Collection,
		VectorName: r.target.VectorName,
		Dense:      vectors[0],
		Limit:      r.FetchLimit(req),
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "dense search", err)
	}
	return pointsToResults(points, domain.RetrieverDense), nil
}

func validateRetrieval(req RetrievalRequest) (string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is empty"))
	}
	if req.TopK <= 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("top_k must be positive, got %d", req.TopK))
	}
	return query, nil
}

func pointsToResults(points []domain.ScoredPoint, kind domain.RetrieverType) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(points))
	for _, p := range points {
		content := domain.PayloadString(p.Payload, domain.PayloadContent)
		if content == "" {
			content = domain.PayloadString(p.Payload, legacyContentKey)
		}
		out = append(out, domain.SearchResult{
			ID:            p.ID,
			Content:       content,
			Payload:       p.Payload,
			Score:         p.Score,
			RetrieverType: kind,
		})
	}
	return out
}
