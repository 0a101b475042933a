package qdrant

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/infrastructure/resilience"
)

type pointsAPI interface {
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

type Options struct {
	DenseVectorName    string
	SparseVectorName   string
	ResilienceExecutor *resilience.Executor
}

// Client is the Qdrant gRPC adapter for report chunks.
type Client struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	dense       string
	sparse      string
	executor    *resilience.Executor

	ensureMu sync.Mutex
	ensured  map[string]int
}

func New(addr string, options Options) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	c := newClient(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), options)
	c.conn = conn
	return c, nil
}

func newClient(points pointsAPI, collections collectionsAPI, options Options) *Client {
	dense := options.DenseVectorName
	if dense == "" {
		dense = "dense"
	}
	sparse := options.SparseVectorName
	if sparse == "" {
		sparse = "sparse"
	}
	return &Client{
		points:      points,
		collections: collections,
		dense:       dense,
		sparse:      sparse,
		executor:    options.ResilienceExecutor,
		ensured:     make(map[string]int),
	}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Search runs a nearest-neighbour query against the dense or sparse named
// vector depending on which one the query carries.
func (c *Client) Search(ctx context.Context, query domain.VectorQuery) ([]domain.ScoredPoint, error) {
	req := &pb.SearchPoints{
		CollectionName: query.Collection,
		Filter:         buildFilter(query.Filter),
		Limit:          uint64(max(query.Limit, 1)),
		WithPayload:    enablePayload(),
	}
	switch {
	case query.Sparse != nil:
		name := vectorName(query.VectorName, c.sparse)
		req.Vector = query.Sparse.Values
		req.SparseIndices = &pb.SparseIndices{Data: query.Sparse.Indices}
		req.VectorName = &name
	default:
		name := vectorName(query.VectorName, c.dense)
		req.Vector = query.Dense
		req.VectorName = &name
	}

	var resp *pb.SearchResponse
	err := c.execute(ctx, "qdrant.search", func(ctx context.Context) error {
		var err error
		resp, err = c.points.Search(ctx, req)
		return err
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded("qdrant search", err)
	}

	out := make([]domain.ScoredPoint, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		out = append(out, domain.ScoredPoint{
			ID:      pointIDString(r.GetId()),
			Score:   float64(r.GetScore()),
			Payload: fromPayload(r.GetPayload()),
		})
	}
	return out, nil
}

func (c *Client) Scroll(ctx context.Context, collection string, filter map[string]string, offset string, limit int) (domain.ScrollPage, error) {
	pageSize := uint32(max(limit, 1))
	req := &pb.ScrollPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
		Limit:          &pageSize,
		WithPayload:    enablePayload(),
	}
	if offset != "" {
		req.Offset = parsePointID(offset)
	}

	var resp *pb.ScrollResponse
	err := c.execute(ctx, "qdrant.scroll", func(ctx context.Context) error {
		var err error
		resp, err = c.points.Scroll(ctx, req)
		return err
	})
	if err != nil {
		return domain.ScrollPage{}, wrapTemporaryIfNeeded("qdrant scroll", err)
	}

	page := domain.ScrollPage{Points: make([]domain.ScoredPoint, 0, len(resp.GetResult()))}
	for _, r := range resp.GetResult() {
		page.Points = append(page.Points, domain.ScoredPoint{
			ID:      pointIDString(r.GetId()),
			Payload: fromPayload(r.GetPayload()),
		})
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.Next = pointIDString(next)
	}
	return page, nil
}

func (c *Client) Upsert(ctx context.Context, collection string, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, collection, len(points[0].Dense)); err != nil {
		return err
	}

	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Dense) == 0 {
			return fmt.Errorf("point %s has no dense vector", p.ID)
		}
		vectors := map[string]*pb.Vector{c.dense: {Data: p.Dense}}
		if p.Sparse != nil && !p.Sparse.Empty() {
			vectors[c.sparse] = &pb.Vector{
				Data:    p.Sparse.Values,
				Indices: &pb.SparseIndices{Data: p.Sparse.Indices},
			}
		}
		structs = append(structs, &pb.PointStruct{
			Id: parsePointID(p.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vectors{Vectors: &pb.NamedVectors{Vectors: vectors}},
			},
			Payload: toPayload(p.Payload),
		})
	}

	wait := true
	err := c.execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         structs,
		})
		return err
	})
	if err != nil {
		return wrapTemporaryIfNeeded("qdrant upsert", fmt.Errorf("upsert %d points: %w", len(structs), err))
	}
	return nil
}

func (c *Client) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	if len(filter) == 0 {
		return fmt.Errorf("refusing to delete without a filter")
	}
	wait := true
	err := c.execute(ctx, "qdrant.delete", func(ctx context.Context) error {
		_, err := c.points.Delete(ctx, &pb.DeletePoints{
			CollectionName: collection,
			Wait:           &wait,
			Points: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: buildFilter(filter)},
			},
		})
		return err
	})
	if err != nil {
		return wrapTemporaryIfNeeded("qdrant delete", err)
	}
	return nil
}

// EnsureCollection prepares the collection up front when the embedding size is known.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dims int) error {
	return c.ensureCollection(ctx, collection, dims)
}

// ensureCollection creates the collection with a named dense vector and a
// named sparse vector the first time a vector size is seen.
func (c *Client) ensureCollection(ctx context.Context, collection string, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid vector size %d", dims)
	}

	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if size, ok := c.ensured[collection]; ok && size == dims {
		return nil
	}

	list, err := c.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return wrapTemporaryIfNeeded("qdrant list collections", err)
	}
	for _, existing := range list.GetCollections() {
		if existing.GetName() == collection {
			c.ensured[collection] = dims
			return nil
		}
	}

	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{
					Map: map[string]*pb.VectorParams{
						c.dense: {Size: uint64(dims), Distance: pb.Distance_Cosine},
					},
				},
			},
		},
		SparseVectorsConfig: &pb.SparseVectorConfig{
			Map: map[string]*pb.SparseVectorParams{c.sparse: {}},
		},
	})
	if err != nil {
		return wrapTemporaryIfNeeded("qdrant create collection", fmt.Errorf("create collection %s: %w", collection, err))
	}
	c.ensured[collection] = dims
	return nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyQdrantError)
}

func vectorName(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func enablePayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func buildFilter(filter map[string]string) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, fieldMatch(k, v))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
