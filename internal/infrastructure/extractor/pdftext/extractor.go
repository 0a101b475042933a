package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
)

var pdfMagic = []byte("%PDF-")

// Extractor pulls plain text out of stored uploads: PDFs page by page,
// UTF-8 text files as-is.
type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, upload *domain.Upload) (string, error) {
	reader, err := e.storage.Open(ctx, upload.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source report: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read source report: %w", err)
	}

	if isPDF(upload, raw) {
		return extractPDF(raw)
	}
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("unsupported binary format: %s", upload.Filename))
	}
	return strings.TrimSpace(string(raw)), nil
}

func isPDF(upload *domain.Upload, raw []byte) bool {
	if bytes.HasPrefix(raw, pdfMagic) {
		return true
	}
	return upload.MimeType == "application/pdf" || strings.EqualFold(filepath.Ext(upload.Filename), ".pdf")
}

func extractPDF(raw []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = domain.WrapError(domain.ErrInvalidInput, "extract pdf", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract pdf", err)
	}
	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	text = strings.TrimSpace(buf.String())
	if text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract pdf", errors.New("pdf has no extractable text"))
	}
	return text, nil
}
