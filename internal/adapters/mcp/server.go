// Package mcpadapter exposes the hybrid router as MCP tools for agent clients.
// Every call runs under one fixed role chosen at startup.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

const (
	serverName    = "rbac-assistant"
	serverVersion = "1.0.0"

	toolAskCorpus  = "ask_corpus"
	toolListTables = "list_tables"
)

type Router interface {
	Route(ctx context.Context, req domain.ChatRequest) (*domain.ChatResult, error)
	AvailableTables(role string) ([]domain.TableDescriptor, error)
}

type Server struct {
	router Router
	role   string
	logger *slog.Logger
}

func NewServer(router Router, role string, logger *slog.Logger) (*Server, error) {
	role = domain.NormalizeRole(role)
	if role == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new mcp server", fmt.Errorf("role is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{router: router, role: role, logger: logger}, nil
}

// MCPServer builds the tool server.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool(toolAskCorpus,
		mcp.WithDescription("Answer a question from company documents and tables visible to the "+s.role+" role."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Natural language question or a SELECT over listed tables.")),
		mcp.WithNumber("top_k", mcp.Description("Number of passages to retrieve, 1-8. Defaults to 4.")),
	), s.askCorpus)

	srv.AddTool(mcp.NewTool(toolListTables,
		mcp.WithDescription("List structured tables and their columns visible to the "+s.role+" role."),
	), s.listTables)

	return srv
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.MCPServer())
}

func (s *Server) askCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.router.Route(ctx, domain.ChatRequest{
		Role:    s.role,
		Message: question,
		TopK:    request.GetInt("top_k", 0),
	})
	if err != nil {
		s.logger.Warn("mcp_tool_failed", "tool", toolAskCorpus, "role", s.role, "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	return mcp.NewToolResultText(renderAnswer(result)), nil
}

func (s *Server) listTables(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tables, err := s.router.AvailableTables(s.role)
	if err != nil {
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	type tableInfo struct {
		Name       string   `json:"name"`
		Department string   `json:"department"`
		Columns    []string `json:"columns"`
	}
	out := make([]tableInfo, 0, len(tables))
	for _, t := range tables {
		out = append(out, tableInfo{Name: t.Name, Department: t.Department, Columns: t.Columns})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal tables: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func renderAnswer(result *domain.ChatResult) string {
	var b strings.Builder
	b.WriteString(result.Answer)
	if len(result.References) == 0 {
		return b.String()
	}
	b.WriteString("\n\nSources:")
	for _, ref := range result.References {
		b.WriteString("\n- ")
		b.WriteString(ref.Source)
		b.WriteString(" (")
		b.WriteString(ref.Department)
		b.WriteString(")")
	}
	return b.String()
}

func toolErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrAuthorizationEmpty):
		return "role is not authorized for any departments"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return err.Error()
	case domain.IsKind(err, domain.ErrTemporary):
		return "answer generation is temporarily unavailable"
	default:
		return "internal error"
	}
}
