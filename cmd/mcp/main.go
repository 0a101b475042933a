package main

import (
	"context"
	"log/slog"
	"os"

	mcpadapter "github.com/kirillkom/agrirag/internal/adapters/mcp"
	"github.com/kirillkom/agrirag/internal/bootstrap"
	"github.com/kirillkom/agrirag/internal/config"
	"github.com/kirillkom/agrirag/internal/observability/logging"
)

const (
	serviceName = "agrirag-mcp"
	version     = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel))

	if cfg.MCPCooperative == "" {
		slog.Error("mcp_cooperative_missing", "hint", "set MCP_COOPERATIVE")
		os.Exit(1)
	}

	app, err := bootstrap.NewSearchOnly(context.Background(), cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	slog.Info("mcp_serving", "cooperative", cfg.MCPCooperative, "collection", cfg.QdrantCollection)
	if err := mcpadapter.NewServer(app.SearchUC, cfg.MCPCooperative, cfg.MCPUserID, version).ServeStdio(); err != nil {
		slog.Error("mcp_server_failed", "error", err)
	}
}
