// Package mcpadapter exposes analysis reports and history as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/ports"
)

const (
	toolGetReport   = "get_analysis_report"
	toolListRecent  = "list_recent_analyses"
	defaultMaxLimit = 100
)

type Server struct {
	reports ports.ReportReader
	history ports.HistoryReader
	logger  *slog.Logger
}

func New(reports ports.ReportReader, history ports.HistoryReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{reports: reports, history: history, logger: logger}
}

// MCPServer registers the tools on a new server. History is optional.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("docverify", version, server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool(toolGetReport,
		mcp.WithDescription("Fetch the normalized authenticity report for an analysis, with recommendations. Returns the pending state while the analysis runs."),
		mcp.WithString("analysis_id", mcp.Required(), mcp.Description("Analysis identifier returned when the analysis was started.")),
	), s.getAnalysisReport)

	if s.history != nil {
		srv.AddTool(mcp.NewTool(toolListRecent,
			mcp.WithDescription("List a user's most recent analyses, newest first."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User whose analyses to list.")),
			mcp.WithNumber("limit", mcp.Min(1), mcp.Max(defaultMaxLimit), mcp.Description("Maximum number of analyses, default 10.")),
		), s.listRecentAnalyses)
	}
	return srv
}

func (s *Server) getAnalysisReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	analysisID, err := request.RequireString("analysis_id")
	if err != nil || strings.TrimSpace(analysisID) == "" {
		return mcp.NewToolResultError("analysis_id is required"), nil
	}

	result, err := s.reports.Fetch(ctx, analysisID)
	if err != nil {
		s.logger.Warn("mcp_tool_failed", "tool", toolGetReport, "analysis_id", analysisID, "error", err.Error())
		return mcp.NewToolResultError(domain.UserMessage(err)), nil
	}
	return jsonResult(result)
}

func (s *Server) listRecentAnalyses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := request.GetInt("limit", 0)

	records, err := s.history.ListRecent(ctx, domain.Session{UserID: userID}, limit)
	if err != nil {
		s.logger.Warn("mcp_tool_failed", "tool", toolListRecent, "user_id", userID, "error", err.Error())
		return mcp.NewToolResultError(domain.UserMessage(err)), nil
	}
	if records == nil {
		records = []domain.AnalysisRecord{}
	}
	return jsonResult(map[string]any{"analyses": records})
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}
