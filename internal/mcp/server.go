package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"tenant-lifecycle/backend/internal/api"
	"tenant-lifecycle/backend/internal/auth"
	"tenant-lifecycle/backend/internal/logging"
	"tenant-lifecycle/backend/internal/services"
)

// Server exposes the lifecycle operations as MCP tools so operators can drive
// them from an assistant.
type Server struct {
	mcpServer *server.MCPServer
	svc       api.Lifecycle
	logger    *logging.Logger
}

func NewServer(svc api.Lifecycle, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Tenant Lifecycle",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		svc:    svc,
		logger: logger,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	tenantID := mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant UUID"))
	performedBy := mcp.WithString("performed_by", mcp.Description("Operator recorded in the audit log; ignored when the caller is authenticated"))
	reason := mcp.WithString("reason", mcp.Description("Free-text justification stored with the audit entry"))

	s.mcpServer.AddTool(
		mcp.NewTool(
			"soft_delete_tenant",
			mcp.WithDescription("Soft delete a tenant and schedule its permanent deletion after the retention period"),
			tenantID, performedBy, reason,
			mcp.WithNumber("retention_days", mcp.Description("Override the tenant's retention period in days")),
		),
		s.write(s.handleSoftDelete),
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"reactivate_tenant",
			mcp.WithDescription("Restore a soft deleted tenant and cancel its scheduled hard delete"),
			tenantID, performedBy, reason,
		),
		s.write(s.handleReactivate),
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"hard_delete_tenant",
			mcp.WithDescription("Permanently purge a soft deleted tenant's data. Irreversible."),
			mcp.WithDestructiveHintAnnotation(true),
			tenantID, performedBy, reason,
		),
		s.write(s.handleHardDelete),
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"update_retention_period",
			mcp.WithDescription("Change the retention period of a soft deleted tenant, moving its hard delete deadline"),
			tenantID, performedBy,
			mcp.WithNumber("retention_days", mcp.Required(), mcp.Description("New retention period in days, counted from the soft delete")),
		),
		s.write(s.handleUpdateRetention),
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_tenant_status",
			mcp.WithDescription("Get a tenant's lifecycle status and deletion schedule"),
			mcp.WithReadOnlyHintAnnotation(true),
			tenantID,
		),
		s.read(s.handleGetStatus),
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_audit_log",
			mcp.WithDescription("List a tenant's lifecycle audit entries, oldest first"),
			mcp.WithReadOnlyHintAnnotation(true),
			tenantID,
		),
		s.read(s.handleGetAuditLog),
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_pending_deletions",
			mcp.WithDescription("List soft deleted tenants, earliest hard delete deadline first"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithNumber("limit", mcp.Description("Maximum number of tenants to return (default 100)")),
		),
		s.read(s.handleListPending),
	)
}

// read and write enforce token scopes when the request was authenticated.
func (s *Server) read(h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return requireScope(auth.ScopeLifecycleRead, h)
}

func (s *Server) write(h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return requireScope(auth.ScopeLifecycleWrite, h)
}

func requireScope(scope string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if p, ok := auth.PrincipalFromContext(ctx); ok && !p.HasScope(scope) {
			return mcp.NewToolResultError(fmt.Sprintf("Missing scope %s", scope)), nil
		}
		return h(ctx, request)
	}
}

// actor prefers the authenticated caller over the performed_by argument.
func actor(ctx context.Context, request mcp.CallToolRequest) (string, bool) {
	if a := auth.ActorFromContext(ctx); a != "" {
		return a, true
	}
	a := request.GetString("performed_by", "")
	return a, a != ""
}

func (s *Server) handleSoftDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	performedBy, ok := actor(ctx, request)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: performed_by"), nil
	}
	days := request.GetInt("retention_days", 0)
	if _, set := request.GetArguments()["retention_days"]; set && days <= 0 {
		return mcp.NewToolResultError("retention_days must be positive"), nil
	}

	tenant, err := s.svc.SoftDelete(ctx, id, performedBy, request.GetString("reason", ""), days)
	return s.result("soft_delete_tenant", tenant, err)
}

func (s *Server) handleReactivate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	performedBy, ok := actor(ctx, request)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: performed_by"), nil
	}

	tenant, err := s.svc.Reactivate(ctx, id, performedBy, request.GetString("reason", ""))
	return s.result("reactivate_tenant", tenant, err)
}

func (s *Server) handleHardDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	performedBy, ok := actor(ctx, request)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: performed_by"), nil
	}

	tenant, err := s.svc.HardDelete(ctx, id, performedBy, request.GetString("reason", ""))
	return s.result("hard_delete_tenant", tenant, err)
}

func (s *Server) handleUpdateRetention(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	performedBy, ok := actor(ctx, request)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: performed_by"), nil
	}
	days, err := request.RequireInt("retention_days")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: retention_days"), nil
	}

	tenant, err := s.svc.UpdateRetentionPeriod(ctx, id, performedBy, days)
	return s.result("update_retention_period", tenant, err)
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	tenant, err := s.svc.GetStatus(ctx, id)
	return s.result("get_tenant_status", tenant, err)
}

func (s *Server) handleGetAuditLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	entries, err := s.svc.GetAuditLog(ctx, id)
	return s.result("get_audit_log", entries, err)
}

func (s *Server) handleListPending(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenants, err := s.svc.ListPendingDeletions(ctx, request.GetInt("limit", 0))
	return s.result("list_pending_deletions", tenants, err)
}

// result renders v as JSON text, or err as a tool error. Persistence details
// stay in the server log.
func (s *Server) result(tool string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		if errors.Is(err, services.ErrPersistence) {
			s.logger.Error("MCP tool failed", "tool", tool, "error", err)
			return mcp.NewToolResultError("Transient failure; the change was not committed, retry the call"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", tool, err)), nil
	}
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", tool, err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
