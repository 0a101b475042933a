package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
)

const scrollPageSize = 100

type ReportCatalogUseCase struct {
	index      ports.VectorIndex
	collection string
	uploads    ports.UploadRepository
	storage    ports.ObjectStorage
	exporter   ports.ReportExporter
}

func NewReportCatalogUseCase(
	index ports.VectorIndex,
	collection string,
	uploads ports.UploadRepository,
	storage ports.ObjectStorage,
	exporter ports.ReportExporter,
) *ReportCatalogUseCase {
	return &ReportCatalogUseCase{
		index:      index,
		collection: collection,
		uploads:    uploads,
		storage:    storage,
		exporter:   exporter,
	}
}

// ListReports scans the collection and returns one summary per report owned
// by the cooperative, newest first.
func (uc *ReportCatalogUseCase) ListReports(ctx context.Context, cooperative string) ([]domain.ReportSummary, error) {
	points, err := uc.scrollAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	owned, err := IsolatePoints(points, cooperative)
	if err != nil {
		return nil, err
	}
	return summarize(owned), nil
}

// Stats counts the cooperative's indexed chunks and distinct reports.
func (uc *ReportCatalogUseCase) Stats(ctx context.Context, cooperative string) (domain.ReportStats, error) {
	points, err := uc.scrollAll(ctx, nil)
	if err != nil {
		return domain.ReportStats{}, err
	}
	owned, err := IsolatePoints(points, cooperative)
	if err != nil {
		return domain.ReportStats{}, err
	}

	forms := make(map[string]struct{}, len(owned))
	for _, p := range owned {
		if formID := domain.PayloadString(p.Payload, domain.PayloadFormID); formID != "" {
			forms[formID] = struct{}{}
		}
	}
	return domain.ReportStats{
		Cooperative: strings.TrimSpace(cooperative),
		Collection:  uc.collection,
		Reports:     len(forms),
		Points:      len(owned),
	}, nil
}

// DeleteReport removes every chunk of a report. A report the caller cannot
// see is reported as not found.
func (uc *ReportCatalogUseCase) DeleteReport(ctx context.Context, cooperative, userID, formID string) error {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete report", errors.New("form id is required"))
	}

	filter := map[string]string{domain.PayloadFormID: formID}
	if userID = strings.TrimSpace(userID); userID != "" {
		filter[domain.PayloadUserID] = userID
	}

	points, err := uc.scrollAll(ctx, filter)
	if err != nil {
		return err
	}
	owned, err := IsolatePoints(points, cooperative)
	if err != nil {
		return err
	}
	if len(points) == 0 || len(owned) != len(points) {
		return domain.WrapError(domain.ErrNotFound, "delete report", fmt.Errorf("report %s", formID))
	}

	if err := uc.index.DeleteByFilter(ctx, uc.collection, filter); err != nil {
		return domain.WrapError(domain.ErrRetrieval, "delete report points", err)
	}
	return uc.dropUpload(ctx, formID)
}

// ExportReports writes the cooperative's report list and returns its content type.
func (uc *ReportCatalogUseCase) ExportReports(ctx context.Context, cooperative string, w io.Writer) (string, error) {
	reports, err := uc.ListReports(ctx, cooperative)
	if err != nil {
		return "", err
	}
	if err := uc.exporter.Export(w, reports); err != nil {
		return "", fmt.Errorf("export reports: %w", err)
	}
	return uc.exporter.ContentType(), nil
}

// GetUpload returns an upload record if it belongs to the cooperative.
func (uc *ReportCatalogUseCase) GetUpload(ctx context.Context, cooperative, id string) (*domain.Upload, error) {
	callerNorm := normalizeCooperative(cooperative)
	if callerNorm == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get upload", errors.New("cooperative is required"))
	}
	upload, err := uc.uploads.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cooperativeMatches(callerNorm, upload.Cooperative) {
		return nil, domain.WrapError(domain.ErrNotFound, "get upload", fmt.Errorf("upload %s", id))
	}
	return upload, nil
}

func (uc *ReportCatalogUseCase) scrollAll(ctx context.Context, filter map[string]string) ([]domain.ScoredPoint, error) {
	var (
		all    []domain.ScoredPoint
		offset string
	)
	for {
		page, err := uc.index.Scroll(ctx, uc.collection, filter, offset, scrollPageSize)
		if err != nil {
			return nil, domain.WrapError(domain.ErrRetrieval, "scroll reports", err)
		}
		if len(page.Points) == 0 {
			break
		}
		all = append(all, page.Points...)
		if page.Next == "" {
			break
		}
		offset = page.Next
	}
	return all, nil
}

func (uc *ReportCatalogUseCase) dropUpload(ctx context.Context, formID string) error {
	upload, err := uc.uploads.GetByID(ctx, formID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load upload record: %w", err)
	}
	if upload.StoragePath != "" {
		if err := uc.storage.Delete(ctx, upload.StoragePath); err != nil {
			return fmt.Errorf("delete stored file: %w", err)
		}
	}
	if err := uc.uploads.DeleteByID(ctx, formID); err != nil {
		return fmt.Errorf("delete upload record: %w", err)
	}
	return nil
}

func summarize(points []domain.ScoredPoint) []domain.ReportSummary {
	byForm := make(map[string]*domain.ReportSummary)
	order := make([]string, 0)
	for _, p := range points {
		formID := domain.PayloadString(p.Payload, domain.PayloadFormID)
		if formID == "" {
			formID = p.ID
		}
		summary, ok := byForm[formID]
		if !ok {
			summary = newSummary(formID, p.Payload)
			byForm[formID] = summary
			order = append(order, formID)
		}
		summary.Chunks++
	}

	out := make([]domain.ReportSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byForm[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IndexedAt > out[j].IndexedAt
	})
	return out
}

func newSummary(formID string, payload map[string]any) *domain.ReportSummary {
	summary := &domain.ReportSummary{
		FormID:      formID,
		Cooperative: domain.PayloadString(payload, domain.PayloadCooperative),
		UserID:      domain.PayloadString(payload, domain.PayloadUserID),
		Filename:    domain.PayloadString(payload, domain.PayloadFilename),
		IndexedAt:   domain.PayloadString(payload, domain.PayloadIndexedAt),
		Fields:      make(map[domain.Field]string),
	}
	for _, f := range domain.Fields {
		if v := domain.PayloadString(payload, string(f)); v != "" {
			summary.Fields[f] = v
		}
	}
	for _, key := range domain.MetricKeys {
		if _, ok := payload[key]; !ok {
			continue
		}
		if summary.Metrics == nil {
			summary.Metrics = make(map[string]float64)
		}
		summary.Metrics[key] = domain.PayloadFloat(payload, key)
	}
	return summary
}
