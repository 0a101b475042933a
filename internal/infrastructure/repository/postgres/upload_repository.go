package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

// schemaLockKey serializes bootstrap DDL across api and worker startups.
const schemaLockKey int64 = 2026101401

type UploadRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *UploadRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS report_uploads (
	id TEXT PRIMARY KEY,
	cooperative TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	chunks INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_report_uploads_cooperative ON report_uploads(cooperative);
CREATE INDEX IF NOT EXISTS idx_report_uploads_status ON report_uploads(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *UploadRepository) Create(ctx context.Context, upload *domain.Upload) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO report_uploads (
	id, cooperative, user_id, filename, mime_type, storage_path, size_bytes, status, chunks, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		upload.ID, upload.Cooperative, upload.UserID, upload.Filename, upload.MimeType, upload.StoragePath,
		upload.SizeBytes, string(upload.Status), upload.Chunks, upload.Error, upload.CreatedAt, upload.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (r *UploadRepository) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, cooperative, user_id, filename, mime_type, storage_path, size_bytes, status, chunks, error_message, created_at, updated_at
FROM report_uploads
WHERE id = $1
`, id)

	var upload domain.Upload
	var status string
	err := row.Scan(
		&upload.ID, &upload.Cooperative, &upload.UserID, &upload.Filename, &upload.MimeType, &upload.StoragePath,
		&upload.SizeBytes, &status, &upload.Chunks, &upload.Error, &upload.CreatedAt, &upload.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get upload", fmt.Errorf("upload %s", id))
		}
		return nil, fmt.Errorf("scan upload: %w", err)
	}
	upload.Status = domain.UploadStatus(status)
	return &upload, nil
}

func (r *UploadRepository) UpdateStatus(ctx context.Context, id string, status domain.UploadStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE report_uploads
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, r.now())
	if err != nil {
		return fmt.Errorf("update upload status: %w", err)
	}
	return requireAffected(result, "update upload status", id)
}

func (r *UploadRepository) SaveChunkCount(ctx context.Context, id string, chunks int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE report_uploads
SET chunks = $2, updated_at = $3
WHERE id = $1
`, id, chunks, r.now())
	if err != nil {
		return fmt.Errorf("save chunk count: %w", err)
	}
	return requireAffected(result, "save chunk count", id)
}

func (r *UploadRepository) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM report_uploads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return requireAffected(result, "delete upload", id)
}

func requireAffected(result sql.Result, operation, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("upload %s", id))
	}
	return nil
}
