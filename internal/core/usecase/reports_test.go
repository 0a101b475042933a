package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

type exporterFake struct {
	reports []domain.ReportSummary
	err     error
}

func (f *exporterFake) ContentType() string { return "text/csv" }

func (f *exporterFake) Export(w io.Writer, reports []domain.ReportSummary) error {
	if f.err != nil {
		return f.err
	}
	f.reports = reports
	_, err := w.Write([]byte("ok"))
	return err
}

func chunkPoint(id, formID, coop, indexedAt string) domain.ScoredPoint {
	return point(id, 0, map[string]any{
		"form_id":             formID,
		"cooperative":         coop,
		"crop":                "rice",
		"indexed_at":          indexedAt,
		"improvement_percent": 8.5,
	})
}

func TestListReportsGroupsOwnAcrossPages(t *testing.T) {
	index := &indexFake{scrollPages: []domain.ScrollPage{
		{Points: []domain.ScoredPoint{
			chunkPoint("p1", "r-old", "Leads Agri", "2025-01-01T00:00:00Z"),
			chunkPoint("p2", "r-foreign", "OtherCoop", "2025-03-01T00:00:00Z"),
		}, Next: "p3"},
		{Points: []domain.ScoredPoint{
			chunkPoint("p3", "r-old", "Leads Agri", "2025-01-01T00:00:00Z"),
			chunkPoint("p4", "r-new", "LEADS", "2025-02-01T00:00:00Z"),
		}},
	}}
	uc := NewReportCatalogUseCase(index, "reports", &uploadRepoFake{}, &storageFake{}, &exporterFake{})

	reports, err := uc.ListReports(context.Background(), "Leads")
	if err != nil {
		t.Fatalf("ListReports() error = %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 own reports, got %+v", reports)
	}
	if reports[0].FormID != "r-new" || reports[1].FormID != "r-old" {
		t.Fatalf("expected newest first, got %s, %s", reports[0].FormID, reports[1].FormID)
	}
	if reports[1].Chunks != 2 {
		t.Fatalf("expected 2 chunks for r-old, got %d", reports[1].Chunks)
	}
	if reports[0].Fields[domain.FieldCrop] != "rice" || reports[0].Metrics["improvement_percent"] != 8.5 {
		t.Fatalf("expected fields and metrics in summary, got %+v", reports[0])
	}
	if index.scrollCalls != 2 {
		t.Fatalf("expected 2 scroll pages, got %d", index.scrollCalls)
	}
}

func TestListReportsRequiresCooperative(t *testing.T) {
	uc := NewReportCatalogUseCase(&indexFake{}, "reports", &uploadRepoFake{}, &storageFake{}, &exporterFake{})
	if _, err := uc.ListReports(context.Background(), ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteReportOwnReport(t *testing.T) {
	index := &indexFake{scrollPages: []domain.ScrollPage{{Points: []domain.ScoredPoint{
		chunkPoint("p1", "r-1", "Leads Agri", ""),
	}}}}
	repo := &uploadRepoFake{upload: &domain.Upload{ID: "r-1", StoragePath: "leads/r-1_a.pdf"}}
	storage := &storageFake{}
	uc := NewReportCatalogUseCase(index, "reports", repo, storage, &exporterFake{})

	if err := uc.DeleteReport(context.Background(), "Leads", "u-1", "r-1"); err != nil {
		t.Fatalf("DeleteReport() error = %v", err)
	}
	if len(index.deleted) != 1 || index.deleted[0]["form_id"] != "r-1" || index.deleted[0]["user_id"] != "u-1" {
		t.Fatalf("expected delete by form and user, got %+v", index.deleted)
	}
	if storage.deletedKey != "leads/r-1_a.pdf" || repo.deletedID != "r-1" {
		t.Fatalf("expected stored file and record removed, got key=%s id=%s", storage.deletedKey, repo.deletedID)
	}
}

func TestDeleteReportForeignIsNotFound(t *testing.T) {
	index := &indexFake{scrollPages: []domain.ScrollPage{{Points: []domain.ScoredPoint{
		chunkPoint("p1", "r-1", "OtherCoop", ""),
	}}}}
	uc := NewReportCatalogUseCase(index, "reports", &uploadRepoFake{}, &storageFake{}, &exporterFake{})

	err := uc.DeleteReport(context.Background(), "Leads", "", "r-1")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(index.deleted) != 0 {
		t.Fatalf("expected no deletion")
	}
}

func TestDeleteReportMissingIsNotFound(t *testing.T) {
	uc := NewReportCatalogUseCase(&indexFake{}, "reports", &uploadRepoFake{}, &storageFake{}, &exporterFake{})
	if err := uc.DeleteReport(context.Background(), "Leads", "", "r-404"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExportReports(t *testing.T) {
	index := &indexFake{scrollPages: []domain.ScrollPage{{Points: []domain.ScoredPoint{
		chunkPoint("p1", "r-1", "Leads", ""),
	}}}}
	exporter := &exporterFake{}
	uc := NewReportCatalogUseCase(index, "reports", &uploadRepoFake{}, &storageFake{}, exporter)

	var buf bytes.Buffer
	contentType, err := uc.ExportReports(context.Background(), "Leads", &buf)
	if err != nil {
		t.Fatalf("ExportReports() error = %v", err)
	}
	if contentType != "text/csv" || buf.String() != "ok" || len(exporter.reports) != 1 {
		t.Fatalf("unexpected export: type=%s body=%q reports=%d", contentType, buf.String(), len(exporter.reports))
	}

	exporter.err = errors.New("disk full")
	index.scrollCalls = 0
	if _, err := uc.ExportReports(context.Background(), "Leads", &buf); err == nil {
		t.Fatalf("expected exporter error")
	}
}

func TestGetUploadHidesForeignRecords(t *testing.T) {
	repo := &uploadRepoFake{upload: &domain.Upload{ID: "u-1", Cooperative: "OtherCoop"}}
	uc := NewReportCatalogUseCase(&indexFake{}, "reports", repo, &storageFake{}, &exporterFake{})

	if _, err := uc.GetUpload(context.Background(), "Leads", "u-1"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	repo.upload.Cooperative = "Leads Agri"
	if _, err := uc.GetUpload(context.Background(), "Leads", "u-1"); err != nil {
		t.Fatalf("expected own upload, got %v", err)
	}
}

func TestStatsCountsOwnPointsAndReports(t *testing.T) {
	index := &indexFake{scrollPages: []domain.ScrollPage{
		{Points: []domain.ScoredPoint{
			chunkPoint("p1", "r-1", "Leads Agri", ""),
			chunkPoint("p2", "r-1", "Leads Agri", ""),
			chunkPoint("p3", "r-x", "OtherCoop", ""),
		}, Next: "p4"},
		{Points: []domain.ScoredPoint{
			chunkPoint("p4", "r-2", "LEADS", ""),
		}},
	}}
	uc := NewReportCatalogUseCase(index, "reports", &uploadRepoFake{}, &storageFake{}, &exporterFake{})

	stats, err := uc.Stats(context.Background(), " Leads ")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Points != 3 || stats.Reports != 2 {
		t.Fatalf("expected 3 points in 2 reports, got %+v", stats)
	}
	if stats.Cooperative != "Leads" || stats.Collection != "reports" {
		t.Fatalf("unexpected stats identity %+v", stats)
	}
}

func TestStatsRequiresCooperative(t *testing.T) {
	uc := NewReportCatalogUseCase(&indexFake{}, "reports", &uploadRepoFake{}, &storageFake{}, &exporterFake{})
	if _, err := uc.Stats(context.Background(), "  "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
