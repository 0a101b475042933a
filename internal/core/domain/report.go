package domain

import "time"

type UploadStatus string

const (
	StatusUploaded   UploadStatus = "uploaded"
	StatusProcessing UploadStatus = "processing"
	StatusReady      UploadStatus = "ready"
	StatusFailed     UploadStatus = "failed"
)

// Payload keys written for every indexed chunk beside the filterable fields.
const (
	PayloadUserID     = "user_id"
	PayloadFormID     = "form_id"
	PayloadContent    = "content"
	PayloadChunkIndex = "chunk_index"
	PayloadFilename   = "filename"
	PayloadIndexedAt  = "indexed_at"
)

// Upload is the processing record of one submitted report file.
type Upload struct {
	ID          string       `json:"id"`
	Cooperative string       `json:"cooperative"`
	UserID      string       `json:"user_id,omitempty"`
	Filename    string       `json:"filename"`
	MimeType    string       `json:"mime_type"`
	StoragePath string       `json:"storage_path"`
	SizeBytes   int64        `json:"size_bytes"`
	Status      UploadStatus `json:"status"`
	Chunks      int          `json:"chunks"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ReportFields holds the labelled values parsed out of a report's text.
type ReportFields struct {
	Values  map[Field]string   `json:"values"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func (f ReportFields) Get(field Field) string {
	if f.Values == nil {
		return ""
	}
	return f.Values[field]
}

// Point is one chunk prepared for indexing.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  *SparseVector
	Payload map[string]any
}

// ReportSummary describes one indexed report as seen by its cooperative.
type ReportSummary struct {
	FormID      string             `json:"form_id"`
	Cooperative string             `json:"cooperative"`
	UserID      string             `json:"user_id,omitempty"`
	Filename    string             `json:"filename,omitempty"`
	Fields      map[Field]string   `json:"fields"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Chunks      int                `json:"chunks"`
	IndexedAt   string             `json:"indexed_at,omitempty"`
}

// ReportStats counts what a cooperative has indexed.
type ReportStats struct {
	Cooperative string `json:"cooperative"`
	Collection  string `json:"collection_name"`
	Reports     int    `json:"total_reports"`
	Points      int    `json:"total_points"`
}

// ScrollPage is one page of a full collection scan.
type ScrollPage struct {
	Points []ScoredPoint
	Next   string
}

// MetricKeys lists the free-form numeric payload keys carried into summaries.
var MetricKeys = []string{
	"improvement_percent",
	"data_quality_score",
	"yield_control",
	"yield_treated",
}
