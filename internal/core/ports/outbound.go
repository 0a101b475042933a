package ports

import (
	"context"
	"io"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

// Encoder turns texts into dense vectors. Empty input yields empty output.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// SparseEncoder builds lexical term vectors for documents and queries.
type SparseEncoder interface {
	EncodeDocument(text string) domain.SparseVector
	EncodeQuery(text string) domain.SparseVector
}

// VectorIndex is the ANN store holding report chunks.
type VectorIndex interface {
	Search(ctx context.Context, query domain.VectorQuery) ([]domain.ScoredPoint, error)
	Scroll(ctx context.Context, collection string, filter map[string]string, offset string, limit int) (domain.ScrollPage, error)
	Upsert(ctx context.Context, collection string, points []domain.Point) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error
}

// UploadRepository persists upload processing state.
type UploadRepository interface {
	Create(ctx context.Context, upload *domain.Upload) error
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	UpdateStatus(ctx context.Context, id string, status domain.UploadStatus, errMessage string) error
	SaveChunkCount(ctx context.Context, id string, chunks int) error
	DeleteByID(ctx context.Context, id string) error
}

// ObjectStorage stores source report files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishReportUploaded(ctx context.Context, reportID string) error
	SubscribeReportUploaded(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored report file.
type TextExtractor interface {
	Extract(ctx context.Context, upload *domain.Upload) (string, error)
}

// FieldParser reads labelled report fields from extracted text.
type FieldParser interface {
	Parse(text string) domain.ReportFields
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}

// ReportExporter renders report summaries into a downloadable document.
type ReportExporter interface {
	ContentType() string
	Export(w io.Writer, reports []domain.ReportSummary) error
}
