package ports

import (
	"context"
	"io"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

// UploadRequest carries one report file submitted by a cooperative member.
type UploadRequest struct {
	Cooperative string
	UserID      string
	Filename    string
	MimeType    string
	Body        io.Reader
}

// ReportIngestor is the inbound contract for report upload orchestration.
type ReportIngestor interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.Upload, error)
}

// UploadReader is the inbound read model for upload state.
type UploadReader interface {
	GetUpload(ctx context.Context, cooperative, id string) (*domain.Upload, error)
}

// ReportProcessor is the inbound contract for asynchronous report processing.
type ReportProcessor interface {
	ProcessByID(ctx context.Context, reportID string) error
}

// SearchService answers tenant-scoped retrieval queries.
type SearchService interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.RankedList, error)
}

// ReportCatalog lists, exports and deletes a cooperative's indexed reports.
type ReportCatalog interface {
	ListReports(ctx context.Context, cooperative string) ([]domain.ReportSummary, error)
	DeleteReport(ctx context.Context, cooperative, userID, formID string) error
	ExportReports(ctx context.Context, cooperative string, w io.Writer) (string, error)
	Stats(ctx context.Context, cooperative string) (domain.ReportStats, error)
}
