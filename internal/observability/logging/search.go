package logging

import (
	"context"
	"log/slog"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

// SearchLogger writes one event per finished search.
type SearchLogger struct {
	logger *slog.Logger
}

func NewSearchLogger(logger *slog.Logger) *SearchLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchLogger{logger: logger}
}

func (l *SearchLogger) ObserveSearch(event domain.SearchEvent) {
	attrs := []any{
		"mode", string(event.Mode),
		"outcome", event.Outcome,
		"cooperative", event.Cooperative,
		"results", event.Results,
		"duration_ms", float64(event.Elapsed.Microseconds()) / 1000.0,
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	level := slog.LevelInfo
	if event.Outcome != "ok" && event.Outcome != "rejected" {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "search_completed", attrs...)
}

func (l *SearchLogger) ObserveIsolationDropped(retriever domain.RetrieverType, dropped int) {
	if dropped > 0 {
		l.logger.Debug("isolation_dropped", "retriever", string(retriever), "dropped", dropped)
	}
}
