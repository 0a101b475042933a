package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
)

// pointNamespace derives stable point ids so reprocessing a report overwrites
// its previous chunks.
var pointNamespace = uuid.MustParse("6f1c1f9e-5a0b-4a8e-9a59-2b8f0d3c7e11")

type ProcessReportUseCase struct {
	repo       ports.UploadRepository
	extractor  ports.TextExtractor
	parser     ports.FieldParser
	chunker    ports.Chunker
	encoder    ports.Encoder
	sparse     ports.SparseEncoder
	index      ports.VectorIndex
	collection string
	now        func() time.Time
}

func NewProcessReportUseCase(
	repo ports.UploadRepository,
	extractor ports.TextExtractor,
	parser ports.FieldParser,
	chunker ports.Chunker,
	encoder ports.Encoder,
	sparse ports.SparseEncoder,
	index ports.VectorIndex,
	collection string,
) *ProcessReportUseCase {
	return &ProcessReportUseCase{
		repo:       repo,
		extractor:  extractor,
		parser:     parser,
		chunker:    chunker,
		encoder:    encoder,
		sparse:     sparse,
		index:      index,
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ProcessReportUseCase) ProcessByID(ctx context.Context, reportID string) error {
	if err := uc.markStatus(ctx, reportID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	chunks, err := uc.processPipeline(ctx, reportID)
	if err != nil {
		if failErr := uc.markFailed(ctx, reportID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SaveChunkCount(ctx, reportID, chunks); err != nil {
		if failErr := uc.markFailed(ctx, reportID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return fmt.Errorf("save chunk count: %w", err)
	}

	if err := uc.markStatus(ctx, reportID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}

	return nil
}

func (uc *ProcessReportUseCase) processPipeline(ctx context.Context, reportID string) (int, error) {
	upload, err := uc.loadUpload(ctx, reportID)
	if err != nil {
		return 0, err
	}

	text, err := uc.extractText(ctx, upload)
	if err != nil {
		return 0, err
	}

	fields := uc.parseFields(text)

	chunks, err := uc.chunk(text)
	if err != nil {
		return 0, err
	}

	vectors, err := uc.encode(ctx, chunks)
	if err != nil {
		return 0, err
	}

	points := uc.buildPoints(upload, fields, chunks, vectors)
	if err := uc.index.Upsert(ctx, uc.collection, points); err != nil {
		return 0, fmt.Errorf("index chunks in vector db: %w", err)
	}

	return len(points), nil
}

func (uc *ProcessReportUseCase) loadUpload(ctx context.Context, reportID string) (*domain.Upload, error) {
	upload, err := uc.repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("fetch upload by id: %w", err)
	}
	return upload, nil
}

func (uc *ProcessReportUseCase) extractText(ctx context.Context, upload *domain.Upload) (string, error) {
	text, err := uc.extractor.Extract(ctx, upload)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

func (uc *ProcessReportUseCase) parseFields(text string) domain.ReportFields {
	fields := uc.parser.Parse(text)
	if fields.Values == nil {
		fields.Values = make(map[domain.Field]string)
	}
	if fields.Values[domain.FieldSeason] == "" {
		if season := detectSeason(fields.Values[domain.FieldPlantingDate]); season != "" {
			fields.Values[domain.FieldSeason] = season
		}
	}
	return fields
}

func (uc *ProcessReportUseCase) chunk(text string) ([]string, error) {
	chunks := uc.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk report", errors.New("chunking produced zero chunks"))
	}
	return chunks, nil
}

func (uc *ProcessReportUseCase) encode(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors, err := uc.encoder.Encode(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("encode chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"encode chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}

func (uc *ProcessReportUseCase) buildPoints(upload *domain.Upload, fields domain.ReportFields, chunks []string, vectors [][]float32) []domain.Point {
	indexedAt := uc.now().Format(time.RFC3339)
	points := make([]domain.Point, 0, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]any{
			domain.PayloadCooperative: upload.Cooperative,
			domain.PayloadFormID:      upload.ID,
			domain.PayloadContent:     chunk,
			domain.PayloadChunkIndex:  int64(i),
			domain.PayloadFilename:    upload.Filename,
			domain.PayloadIndexedAt:   indexedAt,
		}
		if upload.UserID != "" {
			payload[domain.PayloadUserID] = upload.UserID
		}
		for field, value := range fields.Values {
			if value != "" {
				payload[string(field)] = value
			}
		}
		for key, value := range fields.Metrics {
			payload[key] = value
		}

		point := domain.Point{
			ID:      uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", upload.ID, i))).String(),
			Dense:   vectors[i],
			Payload: payload,
		}
		if uc.sparse != nil {
			if sv := uc.sparse.EncodeDocument(chunk); !sv.Empty() {
				point.Sparse = &sv
			}
		}
		points = append(points, point)
	}
	return points
}

func (uc *ProcessReportUseCase) markStatus(ctx context.Context, reportID string, status domain.UploadStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, reportID, status, errMessage)
}

func (uc *ProcessReportUseCase) markFailed(ctx context.Context, reportID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, reportID, domain.StatusFailed, processErr.Error())
}
