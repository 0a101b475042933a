package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
)

const defaultMaxUploadBytes = 20 << 20

var allowedUploadTypes = map[string]string{
	".pdf": "application/pdf",
	".txt": "text/plain",
	".md":  "text/markdown",
}

type IngestReportUseCase struct {
	repo     ports.UploadRepository
	storage  ports.ObjectStorage
	queue    ports.MessageQueue
	maxBytes int64
}

func NewIngestReportUseCase(
	repo ports.UploadRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	maxBytes int64,
) *IngestReportUseCase {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	return &IngestReportUseCase{
		repo:     repo,
		storage:  storage,
		queue:    queue,
		maxBytes: maxBytes,
	}
}

func (uc *IngestReportUseCase) Upload(ctx context.Context, req ports.UploadRequest) (*domain.Upload, error) {
	cooperative := strings.TrimSpace(req.Cooperative)
	if normalizeCooperative(cooperative) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload report", errors.New("cooperative is required"))
	}
	mimeType, err := resolveUploadType(req.Filename, req.MimeType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(req.Body, uc.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if n == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload report", errors.New("file is empty"))
	}
	if n > uc.maxBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload report", fmt.Errorf("file exceeds %d bytes", uc.maxBytes))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s/%s_%s", storageSegment(cooperative), id, sanitizeFilename(req.Filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, &buf); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	upload := &domain.Upload{
		ID:          id,
		Cooperative: cooperative,
		UserID:      strings.TrimSpace(req.UserID),
		Filename:    req.Filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		SizeBytes:   n,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("create upload record: %w", err)
	}

	if err := uc.queue.PublishReportUploaded(ctx, upload.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	return upload, nil
}

func resolveUploadType(filename, mimeType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	canonical, ok := allowedUploadTypes[ext]
	if !ok {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload report", fmt.Errorf("unsupported file type %q", ext))
	}
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		return canonical, nil
	}
	return mimeType, nil
}

// storageSegment turns a cooperative name into a stable directory name.
func storageSegment(cooperative string) string {
	norm := normalizeCooperative(cooperative)
	seg := sanitizeFilename(strings.ReplaceAll(norm, " ", "-"))
	if seg == "" || seg == "document.bin" {
		return "shared"
	}
	return seg
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
