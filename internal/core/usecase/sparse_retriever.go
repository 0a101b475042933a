package usecase

import (
	"context"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
)

// SparseRetriever runs lexical search over the hashed term vectors stored
// beside the dense embedding.
type SparseRetriever struct {
	encoder ports.SparseEncoder
	index   ports.VectorIndex
	target  IndexTarget
}

func NewSparseRetriever(encoder ports.SparseEncoder, index ports.VectorIndex, target IndexTarget) *SparseRetriever {
	return &SparseRetriever{encoder: encoder, index: index, target: target}
}

func (r *SparseRetriever) Kind() domain.RetrieverType { return domain.RetrieverSparse }

func (r *SparseRetriever) FetchLimit(req RetrievalRequest) int { return r.target.fetchLimit(req) }

func (r *SparseRetriever) Retrieve(ctx context.Context, req RetrievalRequest) ([]domain.SearchResult, error) {
	query, err := validateRetrieval(req)
	if err != nil {
		return nil, err
	}

	vector := r.encoder.EncodeQuery(query)
	if vector.Empty() {
		return []domain.SearchResult{}, nil
	}

	points, err := r.index.Search(ctx, domain.VectorQuery{
		Collection: r.target.Collection,
		VectorName: r.target.VectorName,
		Sparse:     &vector,
		Limit:      r.FetchLimit(req),
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "sparse search", err)
	}
	return pointsToResults(points, domain.RetrieverSparse), nil
}
