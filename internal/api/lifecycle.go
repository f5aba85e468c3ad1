// Package api contains the HTTP handlers for the tenant lifecycle service
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"tenant-lifecycle/backend/internal/auth"
	"tenant-lifecycle/backend/internal/services"
	"tenant-lifecycle/backend/pkg/models"
)

// Lifecycle is the service surface the handlers call.
type Lifecycle interface {
	SoftDelete(ctx context.Context, tenantID, performedBy, reason string, retentionDays int) (*models.Tenant, error)
	Reactivate(ctx context.Context, tenantID, performedBy, reason string) (*models.Tenant, error)
	HardDelete(ctx context.Context, tenantID, performedBy, reason string) (*models.Tenant, error)
	UpdateRetentionPeriod(ctx context.Context, tenantID, performedBy string, days int) (*models.Tenant, error)
	GetStatus(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetAuditLog(ctx context.Context, tenantID string) ([]*models.LifecycleAuditEntry, error)
	ListPendingDeletions(ctx context.Context, limit int) ([]*models.Tenant, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	svc Lifecycle
}

// NewServer creates a new Server.
func NewServer(svc Lifecycle) *Server {
	return &Server{svc: svc}
}

// SoftDeleteRequest is the body of POST /tenants/{id}/soft-delete.
type SoftDeleteRequest struct {
	Reason        string `json:"reason"`
	RetentionDays *int   `json:"retentionDays"`
}

// ReasonRequest is the body of reactivate and hard-delete.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// RetentionPeriodRequest is the body of PATCH /tenants/{id}/retention-period.
type RetentionPeriodRequest struct {
	RetentionPeriodDays *int `json:"retentionPeriodDays"`
}

// RegisterHandlers mounts the lifecycle routes on g. Mutating routes need the
// write scope, reads the read scope.
func RegisterHandlers(g *echo.Group, s *Server) {
	read := echo.WrapMiddleware(auth.RequireScope(auth.ScopeLifecycleRead))
	write := echo.WrapMiddleware(auth.RequireScope(auth.ScopeLifecycleWrite))

	g.GET("/tenants/pending-deletions", s.ListPendingDeletions, read)
	g.GET("/tenants/:id", s.GetTenant, read)
	g.GET("/tenants/:id/audit-log", s.GetAuditLog, read)
	g.POST("/tenants/:id/soft-delete", s.SoftDelete, write)
	g.POST("/tenants/:id/reactivate", s.Reactivate, write)
	g.POST("/tenants/:id/hard-delete", s.HardDelete, write)
	g.PATCH("/tenants/:id/retention-period", s.UpdateRetentionPeriod, write)
}

// tenantID binds the {id} path parameter. Malformed ids are left to the
// service, which reports them as not found.
func tenantID(c echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", c.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false})
	if err != nil || id == "" {
		return "", fmt.Errorf("%w: invalid format for parameter id", services.ErrInvalidInput)
	}
	return id, nil
}

func actor(c echo.Context) (string, error) {
	a := auth.ActorFromContext(c.Request().Context())
	if a == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}
	return a, nil
}

func bindBody(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", services.ErrInvalidInput)
	}
	return nil
}

// SoftDelete marks a tenant soft deleted
// (POST /api/v1/tenants/{id}/soft-delete)
func (s *Server) SoftDelete(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	performedBy, err := actor(c)
	if err != nil {
		return err
	}
	var req SoftDeleteRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	days := 0
	if req.RetentionDays != nil {
		if *req.RetentionDays <= 0 {
			return fmt.Errorf("%w: retentionDays must be positive", services.ErrInvalidInput)
		}
		days = *req.RetentionDays
	}

	tenant, err := s.svc.SoftDelete(c.Request().Context(), id, performedBy, req.Reason, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

// Reactivate restores a soft deleted tenant
// (POST /api/v1/tenants/{id}/reactivate)
func (s *Server) Reactivate(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	performedBy, err := actor(c)
	if err != nil {
		return err
	}
	var req ReasonRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	tenant, err := s.svc.Reactivate(c.Request().Context(), id, performedBy, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

// HardDelete purges a soft deleted tenant
// (POST /api/v1/tenants/{id}/hard-delete)
func (s *Server) HardDelete(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	performedBy, err := actor(c)
	if err != nil {
		return err
	}
	var req ReasonRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	tenant, err := s.svc.HardDelete(c.Request().Context(), id, performedBy, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

// UpdateRetentionPeriod moves a soft deleted tenant's deadline
// (PATCH /api/v1/tenants/{id}/retention-period)
func (s *Server) UpdateRetentionPeriod(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	performedBy, err := actor(c)
	if err != nil {
		return err
	}
	var req RetentionPeriodRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if req.RetentionPeriodDays == nil {
		return fmt.Errorf("%w: retentionPeriodDays is required", services.ErrInvalidInput)
	}

	tenant, err := s.svc.UpdateRetentionPeriod(c.Request().Context(), id, performedBy, *req.RetentionPeriodDays)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

// GetTenant returns the current tenant record
// (GET /api/v1/tenants/{id})
func (s *Server) GetTenant(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	tenant, err := s.svc.GetStatus(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

// GetAuditLog returns the tenant's audit entries oldest first, as JSON or,
// with ?format=xlsx, as a workbook
// (GET /api/v1/tenants/{id}/audit-log)
func (s *Server) GetAuditLog(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	var format string
	if err := runtime.BindQueryParameter("form", true, false, "format", c.QueryParams(), &format); err != nil {
		return fmt.Errorf("%w: invalid format for parameter format", services.ErrInvalidInput)
	}

	ctx := c.Request().Context()
	entries, err := s.svc.GetAuditLog(ctx, id)
	if err != nil {
		return err
	}

	switch format {
	case "", "json":
		return c.JSON(http.StatusOK, entries)
	case "xlsx":
		tenant, err := s.svc.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		data, err := GenerateAuditLogExport(tenant, entries)
		if err != nil {
			return err
		}
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf(`attachment; filename="tenant-%s-audit-log.xlsx"`, id))
		return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
	default:
		return fmt.Errorf("%w: format must be json or xlsx", services.ErrInvalidInput)
	}
}

// ListPendingDeletions lists soft deleted tenants, earliest deadline first
// (GET /api/v1/tenants/pending-deletions)
func (s *Server) ListPendingDeletions(c echo.Context) error {
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", c.QueryParams(), &limit); err != nil {
		return fmt.Errorf("%w: invalid format for parameter limit", services.ErrInvalidInput)
	}
	tenants, err := s.svc.ListPendingDeletions(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenants)
}
