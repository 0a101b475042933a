package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/agrirag/internal/core/domain"
	"github.com/kirillkom/agrirag/internal/core/ports"
)

const searchToolName = "search_reports"

// Server exposes report search as an MCP tool. The cooperative is fixed per
// process so a tool caller can never pick another tenant.
type Server struct {
	search      ports.SearchService
	cooperative string
	userID      string
	mcp         *server.MCPServer
}

func NewServer(search ports.SearchService, cooperative, userID, version string) *Server {
	s := &Server{
		search:      search,
		cooperative: strings.TrimSpace(cooperative),
		userID:      strings.TrimSpace(userID),
	}
	s.mcp = server.NewMCPServer("agrirag", version, server.WithToolCapabilities(false))
	s.mcp.AddTool(searchTool(), s.handleSearch)
	return s
}

// ServeStdio blocks serving the tool over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func searchTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Search this cooperative's indexed agricultural trial reports."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text question or keywords")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of results")),
		mcp.WithString("mode", mcp.Description("dense or hybrid"), mcp.Enum(string(domain.ModeDense), string(domain.ModeHybrid))),
		mcp.WithString("normalize", mcp.Description("Optional score normalization: min_max or z_score")),
	}
	for _, field := range domain.Fields {
		opts = append(opts, mcp.WithString(string(field), mcp.Description("Optional "+strings.ReplaceAll(string(field), "_", " ")+" filter")))
	}
	return mcp.NewTool(searchToolName, opts...)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw := make(map[string]string, len(domain.Fields))
	for _, field := range domain.Fields {
		if v := req.GetString(string(field), ""); v != "" {
			raw[string(field)] = v
		}
	}
	filters, err := domain.ParseFilterSet(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	list, err := s.search.Search(ctx, domain.SearchRequest{
		Query:       query,
		Cooperative: s.cooperative,
		UserID:      s.userID,
		TopK:        req.GetInt("top_k", 0),
		Mode:        domain.SearchMode(strings.ToLower(req.GetString("mode", ""))),
		Normalize:   domain.NormalizeMethod(strings.ToLower(req.GetString("normalize", ""))),
		Filters:     filters,
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrFilterConfig) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		slog.Error("mcp_search_failed", "error", err)
		return mcp.NewToolResultError("search failed, retry later"), nil
	}

	body, err := json.Marshal(toolResponse(list))
	if err != nil {
		return nil, fmt.Errorf("marshal search result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

type toolHit struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Content  string  `json:"content"`
	FormID   string  `json:"form_id,omitempty"`
	Filename string  `json:"filename,omitempty"`
}

type toolResult struct {
	Query   string    `json:"query"`
	Mode    string    `json:"mode"`
	Total   int       `json:"total_results"`
	Results []toolHit `json:"results"`
}

// toolResponse trims payloads down to what a model needs to cite a hit.
func toolResponse(list *domain.RankedList) toolResult {
	out := toolResult{Query: list.Query, Mode: string(list.Mode), Total: list.Total, Results: make([]toolHit, 0, len(list.Results))}
	for _, r := range list.Results {
		out.Results = append(out.Results, toolHit{
			ID:       r.ID,
			Score:    r.Score,
			Content:  r.Content,
			FormID:   r.PayloadString(domain.PayloadFormID),
			Filename: r.PayloadString(domain.PayloadFilename),
		})
	}
	return out
}
