package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
)

const (
	defaultMaxUploadBytes = 25 << 20
	multipartOverhead     = 1 << 20
	maxSearchBodyBytes    = 64 << 10
)

// Metrics is the optional instrumentation attached to the router.
type Metrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
	RecordRateLimited()
}

type Options struct {
	Metrics        Metrics
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	MaxUploadBytes int64
	// Breakers reports upstream circuit breaker states on /healthz.
	Breakers func() map[string]string
}

type Router struct {
	search  ports.SearchService
	ingest  ports.ReportIngestor
	catalog ports.ReportCatalog
	uploads ports.UploadReader
	opts    Options
	limiter *tenantLimiter
}

func NewRouter(
	search ports.SearchService,
	ingest ports.ReportIngestor,
	catalog ports.ReportCatalog,
	uploads ports.UploadReader,
	opts Options,
) *Router {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = 50 * time.Millisecond
	}
	return &Router{
		search:  search,
		ingest:  ingest,
		catalog: catalog,
		uploads: uploads,
		opts:    opts,
		limiter: newTenantLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/search", rt.searchReports)
	api.HandleFunc("GET /v1/reports", rt.listReports)
	api.HandleFunc("POST /v1/reports", rt.uploadReport)
	api.HandleFunc("GET /v1/reports/export", rt.exportReports)
	api.HandleFunc("GET /v1/reports/stats", rt.reportStats)
	api.HandleFunc("DELETE /v1/reports/{id}", rt.deleteReport)
	api.HandleFunc("GET /v1/uploads/{id}", rt.getUpload)

	var onLimited func()
	if rt.opts.Metrics != nil {
		onLimited = rt.opts.Metrics.RecordRateLimited
	}
	guarded := rateLimitMiddleware(api, rt.limiter, onLimited)
	guarded = backpressureMiddleware(guarded, rt.opts.MaxInFlight, rt.opts.QueueWait)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.opts.Metrics != nil {
		mux.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(handler)
	}
	return otelhttp.NewHandler(requestIDMiddleware(accessLogMiddleware(handler)), "agrirag-api",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" && r.URL.Path != "/metrics" }),
	)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if rt.opts.Breakers != nil {
		states := rt.opts.Breakers()
		for _, state := range states {
			if state == "open" {
				body["status"] = "degraded"
				break
			}
		}
		body["breakers"] = states
	}
	writeJSON(w, http.StatusOK, body)
}

type searchRequestBody struct {
	Query     string            `json:"query"`
	TopK      int               `json:"top_k"`
	Mode      string            `json:"mode"`
	Normalize string            `json:"normalize"`
	Filters   map[string]string `json:"filters"`
}

func (rt *Router) searchReports(w http.ResponseWriter, r *http.Request) {
	cooperative, ok := requireCooperative(w, r)
	if !ok {
		return
	}

	var body searchRequestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSearchBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	filters, err := domain.ParseFilterSet(body.Filters)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	list, err := rt.search.Search(r.Context(), domain.SearchRequest{
		Query:       body.Query,
		Cooperative: cooperative,
		UserID:      strings.TrimSpace(r.Header.Get(userIDHeader)),
		TopK:        body.TopK,
		Mode:        domain.SearchMode(strings.ToLower(strings.TrimSpace(body.Mode))),
		Normalize:   parseNormalize(body.Normalize),
		Filters:     filters,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (rt *Router) uploadReport(w http.ResponseWriter, r *http.Request) {
	cooperative, ok := requireCooperative(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes+multipartOverhead)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	upload, err := rt.ingest.Upload(r.Context(), ports.UploadRequest{
		Cooperative: cooperative,
		UserID:      strings.TrimSpace(r.Header.Get(userIDHeader)),
		Filename:    fileHeader.Filename,
		MimeType:    fileHeader.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, upload)
}

func (rt *Router) getUpload(w http.ResponseWriter, r *http.Request) {
	cooperative, ok := requireCooperative(w, r)
	if !ok {
		return
	}
	upload, err := rt.uploads.GetUpload(r.Context(), cooperative, r.PathValue("id"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func (rt *Router) listReports(w http.ResponseWriter, r *http.Request) {
	cooperative, ok := requireCooperative(w, r)
	if !ok {
		return
	}
	reports, err := rt.catalog.ListReports(r.Context(), cooperative)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cooperative": cooperative,
		"total":       len(reports),
		"reports":     reports,
	})
}

func (rt *Router) reportStats(w http.ResponseWriter, r *http.Request) {
	cooperative, ok := requireCooperative(w, r)
	if !ok {
		return
	}
	stats, err := rt.catalog.Stats(r.Context(), cooperative)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"cooperative":     stats.Cooperative,
		"collection_name": stats.Collection,
		"total_reports":   stats.Reports,
		"total_points":    stats.Points,
	})
}

func (rt *Router) deleteReport(w http.ResponseWriter, r *http.Request) {
	cooperative, ok := requireCooperative(w, r)
	if !ok {
		return
	}
	formID := r.PathValue("id")
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if err := rt.catalog.DeleteReport(r.Context(), cooperative, userID, formID); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) exportReports(w http.ResponseWriter, r *http.Request) {
	cooperative, ok := requireCooperative(w, r)
	if !ok {
		return
	}

	// Rendered in memory so a failed export still gets a JSON error response.
	var buf bytes.Buffer
	contentType, err := rt.catalog.ExportReports(r.Context(), cooperative, &buf)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "reports"+exportExtension(contentType)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, publicErrorMessage(status, err))
}

func requireCooperative(w http.ResponseWriter, r *http.Request) (string, bool) {
	cooperative := strings.TrimSpace(r.Header.Get(cooperativeHeader))
	if cooperative == "" {
		writeError(w, http.StatusBadRequest, "header "+cooperativeHeader+" is required")
		return "", false
	}
	return cooperative, true
}

func parseNormalize(raw string) domain.NormalizeMethod {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "none" {
		return domain.NormalizeNone
	}
	return domain.NormalizeMethod(v)
}

func exportExtension(contentType string) string {
	switch {
	case strings.Contains(contentType, "spreadsheetml"):
		return ".xlsx"
	case strings.HasPrefix(contentType, "text/csv"):
		return ".csv"
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
