package qdrant

import (
	"context"
	"errors"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/infrastructure/resilience"
)

type pointsFake struct {
	searchReqs []*pb.SearchPoints
	scrollReqs []*pb.ScrollPoints
	upserts    []*pb.UpsertPoints
	deletes    []*pb.DeletePoints
	searchResp *pb.SearchResponse
	scrollResp []*pb.ScrollResponse
	searchErrs []error
	upsertErr  error
}

func (f *pointsFake) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.searchReqs = append(f.searchReqs, in)
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.searchResp == nil {
		return &pb.SearchResponse{}, nil
	}
	return f.searchResp, nil
}

func (f *pointsFake) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	f.scrollReqs = append(f.scrollReqs, in)
	if len(f.scrollResp) == 0 {
		return &pb.ScrollResponse{}, nil
	}
	resp := f.scrollResp[0]
	f.scrollResp = f.scrollResp[1:]
	return resp, nil
}

func (f *pointsFake) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *pointsFake) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.deletes = append(f.deletes, in)
	return &pb.PointsOperationResponse{}, nil
}

type collectionsFake struct {
	existing []string
	created  []*pb.CreateCollection
	lists    int
}

func (f *collectionsFake) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	f.lists++
	resp := &pb.ListCollectionsResponse{}
	for _, name := range f.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: name})
	}
	return resp, nil
}

func (f *collectionsFake) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = append(f.created, in)
	f.existing = append(f.existing, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func strValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func TestSearchDenseUsesNamedVectorAndMapsPayload(t *testing.T) {
	points := &pointsFake{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 7}},
		Score: 0.61,
		Payload: map[string]*pb.Value{
			"cooperative": strValue("Leads Agri"),
			"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: 2}},
		},
	}}}}
	client := newClient(points, &collectionsFake{}, Options{})

	got, err := client.Search(context.Background(), domain.VectorQuery{
		Collection: "reports",
		Dense:      []float32{0.1, 0.2},
		Limit:      50,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "7" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if got[0].Score < 0.6099 || got[0].Score > 0.6101 {
		t.Fatalf("expected score 0.61, got %f", got[0].Score)
	}
	if got[0].Payload["cooperative"] != "Leads Agri" || got[0].Payload["chunk_index"] != int64(2) {
		t.Fatalf("unexpected payload: %+v", got[0].Payload)
	}

	req := points.searchReqs[0]
	if req.GetVectorName() != "dense" || req.GetLimit() != 50 || req.GetFilter() != nil {
		t.Fatalf("unexpected request: name=%s limit=%d filter=%v", req.GetVectorName(), req.GetLimit(), req.GetFilter())
	}
	if req.GetSparseIndices() != nil {
		t.Fatalf("dense search must not carry sparse indices")
	}
}

func TestSearchSparseSetsIndices(t *testing.T) {
	points := &pointsFake{}
	client := newClient(points, &collectionsFake{}, Options{SparseVectorName: "bm25"})

	_, err := client.Search(context.Background(), domain.VectorQuery{
		Collection: "reports",
		Sparse:     &domain.SparseVector{Indices: []uint32{3, 9}, Values: []float32{1, 0.5}},
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	req := points.searchReqs[0]
	if req.GetVectorName() != "bm25" {
		t.Fatalf("expected sparse vector name, got %s", req.GetVectorName())
	}
	if len(req.GetSparseIndices().GetData()) != 2 || len(req.GetVector()) != 2 {
		t.Fatalf("expected sparse indices and values, got %+v", req)
	}
}

func TestSearchRetriesUnavailableThenWrapsTemporary(t *testing.T) {
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
	})
	unavailable := status.Error(codes.Unavailable, "connection refused")

	points := &pointsFake{searchErrs: []error{unavailable, nil}}
	client := newClient(points, &collectionsFake{}, Options{ResilienceExecutor: exec})
	if _, err := client.Search(context.Background(), domain.VectorQuery{Collection: "reports", Dense: []float32{1}, Limit: 1}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if len(points.searchReqs) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(points.searchReqs))
	}

	points = &pointsFake{searchErrs: []error{unavailable, unavailable}}
	client = newClient(points, &collectionsFake{}, Options{ResilienceExecutor: exec})
	_, err := client.Search(context.Background(), domain.VectorQuery{Collection: "reports", Dense: []float32{1}, Limit: 1})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestSearchDoesNotRetryInvalidArgument(t *testing.T) {
	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	points := &pointsFake{searchErrs: []error{status.Error(codes.InvalidArgument, "bad vector size")}}
	client := newClient(points, &collectionsFake{}, Options{ResilienceExecutor: exec})

	_, err := client.Search(context.Background(), domain.VectorQuery{Collection: "reports", Dense: []float32{1}, Limit: 1})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if len(points.searchReqs) != 1 {
		t.Fatalf("expected single attempt, got %d", len(points.searchReqs))
	}
}

func TestScrollPassesOffsetAndFilter(t *testing.T) {
	next := &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "5c56c793-69f3-4fbf-87e6-c4bf54c28c26"}}
	points := &pointsFake{scrollResp: []*pb.ScrollResponse{{
		Result:         []*pb.RetrievedPoint{{Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 1}}, Payload: map[string]*pb.Value{"form_id": strValue("r-1")}}},
		NextPageOffset: next,
	}}}
	client := newClient(points, &collectionsFake{}, Options{})

	page, err := client.Scroll(context.Background(), "reports", map[string]string{"form_id": "r-1"}, "42", 100)
	if err != nil {
		t.Fatalf("Scroll() error = %v", err)
	}
	if page.Next != next.GetUuid() || len(page.Points) != 1 || page.Points[0].Payload["form_id"] != "r-1" {
		t.Fatalf("unexpected page: %+v", page)
	}
	req := points.scrollReqs[0]
	if req.GetOffset().GetNum() != 42 || req.GetLimit() != 100 {
		t.Fatalf("unexpected scroll request: %+v", req)
	}
	must := req.GetFilter().GetMust()
	if len(must) != 1 || must[0].GetField().GetKey() != "form_id" || must[0].GetField().GetMatch().GetKeyword() != "r-1" {
		t.Fatalf("unexpected filter: %+v", req.GetFilter())
	}
}

func TestUpsertCreatesCollectionOnceAndBuildsNamedVectors(t *testing.T) {
	points := &pointsFake{}
	collections := &collectionsFake{}
	client := newClient(points, collections, Options{})

	batch := []domain.Point{{
		ID:      "5c56c793-69f3-4fbf-87e6-c4bf54c28c26",
		Dense:   []float32{0.1, 0.2, 0.3},
		Sparse:  &domain.SparseVector{Indices: []uint32{4}, Values: []float32{1}},
		Payload: map[string]any{"cooperative": "Leads", "chunk_index": int64(0), "yield_treated": 5.2},
	}}
	for i := 0; i < 2; i++ {
		if err := client.Upsert(context.Background(), "reports", batch); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	if len(collections.created) != 1 || collections.lists != 1 {
		t.Fatalf("expected collection created once, got created=%d lists=%d", len(collections.created), collections.lists)
	}
	params := collections.created[0].GetVectorsConfig().GetParamsMap().GetMap()["dense"]
	if params.GetSize() != 3 || params.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("unexpected dense params: %+v", params)
	}
	if _, ok := collections.created[0].GetSparseVectorsConfig().GetMap()["sparse"]; !ok {
		t.Fatalf("expected sparse vector config")
	}

	up := points.upserts[0]
	if !up.GetWait() || len(up.GetPoints()) != 1 {
		t.Fatalf("unexpected upsert: %+v", up)
	}
	vectors := up.GetPoints()[0].GetVectors().GetVectors().GetVectors()
	if len(vectors["dense"].GetData()) != 3 || len(vectors["sparse"].GetIndices().GetData()) != 1 {
		t.Fatalf("expected dense and sparse named vectors, got %+v", vectors)
	}
	payload := up.GetPoints()[0].GetPayload()
	if payload["chunk_index"].GetIntegerValue() != 0 || payload["yield_treated"].GetDoubleValue() != 5.2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestUpsertRejectsMissingDenseVector(t *testing.T) {
	client := newClient(&pointsFake{}, &collectionsFake{}, Options{})
	err := client.Upsert(context.Background(), "reports", []domain.Point{{ID: "1"}})
	if err == nil {
		t.Fatalf("expected error for empty dense vector")
	}
}

func TestDeleteByFilterRequiresFilter(t *testing.T) {
	points := &pointsFake{}
	client := newClient(points, &collectionsFake{}, Options{})

	if err := client.DeleteByFilter(context.Background(), "reports", nil); err == nil {
		t.Fatalf("expected error for empty filter")
	}
	if err := client.DeleteByFilter(context.Background(), "reports", map[string]string{"form_id": "r-1"}); err != nil {
		t.Fatalf("DeleteByFilter() error = %v", err)
	}
	if len(points.deletes) != 1 || points.deletes[0].GetPoints().GetFilter() == nil {
		t.Fatalf("expected filter delete, got %+v", points.deletes)
	}
}

func TestParsePointIDStable(t *testing.T) {
	a := parsePointID("form-1:0")
	b := parsePointID("form-1:0")
	if a.GetUuid() == "" || a.GetUuid() != b.GetUuid() {
		t.Fatalf("expected stable derived uuid, got %q and %q", a.GetUuid(), b.GetUuid())
	}
	if parsePointID("12").GetNum() != 12 {
		t.Fatalf("expected numeric id")
	}
}

func TestClassifyQdrantError(t *testing.T) {
	if !classifyQdrantError(status.Error(codes.ResourceExhausted, "busy")).Retryable {
		t.Fatalf("expected resource exhausted to be retryable")
	}
	if classifyQdrantError(context.Canceled).RecordFailure {
		t.Fatalf("expected cancellation not to record failure")
	}
	if classifyQdrantError(errors.New("boom")).Retryable {
		t.Fatalf("expected unknown error to be terminal")
	}
}
