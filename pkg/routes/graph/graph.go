package graph

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/context"
	"github.com/labstack/echo/v4"

	graphpkg "github.com/Ramsey-B/aster/pkg/graph"
)

// Handler handles graph query API endpoints
type Handler struct {
	queryService *graphpkg.QueryService
	logger       ectologger.Logger
}

// NewHandler creates a new graph handler
func NewHandler(queryService *graphpkg.QueryService, logger ectologger.Logger) *Handler {
	return &Handler{
		queryService: queryService,
		logger:       logger,
	}
}

// Register registers the graph routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/query", h.ExecuteQuery)
	g.GET("/dependencies/:id", h.DependencyChain)
	g.GET("/dependents/:id", h.DependentChain)
}

func (h *Handler) requireQueryService(c echo.Context) (*graphpkg.QueryService, error) {
	// Prefer explicitly provided service (useful for tests), but fall back to
	// DI-from-context, which is the standard pattern used elsewhere.
	if h != nil && h.queryService != nil {
		return h.queryService, nil
	}

	ctx := c.Request().Context()
	_, svc, err := ectoinject.GetContext[*graphpkg.QueryService](ctx)
	if err != nil || svc == nil {
		// 503 because this is an optional dependency (graph DB can be disabled).
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "graph query service unavailable")
	}
	return svc, nil
}

// QueryRequest is the request body for executing a Cypher query
type QueryRequest struct {
	Query  string         `json:"query" validate:"required"`
	Params map[string]any `json:"params,omitempty"`
}

// ExecuteQuery executes a read-only Cypher query
func (h *Handler) ExecuteQuery(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	qs, err := h.requireQueryService(c)
	if err != nil {
		return err
	}

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Query == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	// Execute the query
	result, err := qs.ExecuteQuery(ctx, tenantID, req.Query, req.Params)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// DependencyChain returns the drafts a draft transitively depends on
func (h *Handler) DependencyChain(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	qs, err := h.requireQueryService(c)
	if err != nil {
		return err
	}

	draftID := c.Param("id")
	if draftID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "draft id is required")
	}

	depth := 5
	if depthStr := c.QueryParam("depth"); depthStr != "" {
		var parsed int
		if err := echo.QueryParamsBinder(c).Int("depth", &parsed).BindError(); err == nil && parsed > 0 {
			depth = parsed
		}
	}

	result, err := qs.DependencyChain(ctx, tenantID, draftID, depth)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// DependentChain returns the drafts that transitively depend on a draft
func (h *Handler) DependentChain(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	qs, err := h.requireQueryService(c)
	if err != nil {
		return err
	}

	draftID := c.Param("id")
	if draftID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "draft id is required")
	}

	depth := 5
	if depthStr := c.QueryParam("depth"); depthStr != "" {
		var parsed int
		if err := echo.QueryParamsBinder(c).Int("depth", &parsed).BindError(); err == nil && parsed > 0 {
			depth = parsed
		}
	}

	result, err := qs.DependentChain(ctx, tenantID, draftID, depth)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
