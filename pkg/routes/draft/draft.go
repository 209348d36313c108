package draft

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	ctxmiddleware "github.com/Ramsey-B/aster/pkg/context"
	"github.com/Ramsey-B/aster/pkg/drafts"
	"github.com/Ramsey-B/aster/pkg/lineage"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/routes/apierror"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// Register registers draft routes
func Register(g *echo.Group) {
	g.GET("", Query)
	g.POST("", Create)
	g.GET("/:id", Get)
	g.PATCH("/:id", Mutate)
	g.GET("/:id/history", History)
	g.GET("/:id/lineage", Lineage)
}

// actorFromContext builds the acting user from request context
func actorFromContext(c echo.Context) (models.Actor, error) {
	ctx := c.Request().Context()
	userID := ctxmiddleware.GetUserID(ctx)
	if userID == "" {
		return models.Actor{}, httperror.NewHTTPError(http.StatusUnauthorized, "user_id is required")
	}
	role := ctxmiddleware.GetUserRole(ctx)
	if role == "" {
		role = models.RoleStaff
	}
	return models.Actor{ID: userID, Role: role}, nil
}

// Create opens a new draft
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "draft_handler.Create")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}

	var req models.CreateDraftRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*drafts.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get draft service")
	}

	result, err := svc.Create(ctx, tenantID, actor, req)
	if err != nil {
		return apierror.Map(err, "failed to create draft")
	}

	return c.JSON(http.StatusCreated, result)
}

// Get returns a single draft by ID
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "draft_handler.Get")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, svc, err := ectoinject.GetContext[*drafts.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get draft service")
	}

	result, err := svc.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return apierror.Map(err, "failed to get draft")
	}

	return c.JSON(http.StatusOK, result)
}

// Mutate merges field updates into a draft's payload
func Mutate(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "draft_handler.Mutate")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}

	var req models.MutateDraftRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Updates) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "updates are required")
	}

	ctx, svc, err := ectoinject.GetContext[*drafts.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get draft service")
	}

	result, err := svc.Mutate(ctx, tenantID, c.Param("id"), actor, req.Updates)
	if err != nil {
		return apierror.Map(err, "failed to update draft")
	}

	return c.JSON(http.StatusOK, result)
}

// Query returns drafts matching the given filters
func Query(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "draft_handler.Query")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	filters := models.DraftQuery{Search: c.QueryParam("search")}
	filters.Page, _ = strconv.Atoi(c.QueryParam("page"))
	filters.PageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	if v := c.QueryParam("target_type"); v != "" {
		filters.TargetType = &v
	}
	if v := c.QueryParam("target_id"); v != "" {
		filters.TargetID = &v
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.DraftStatus(v)
		filters.Status = &status
	}
	if v := c.QueryParam("action"); v != "" {
		action := models.DraftAction(v)
		filters.Action = &action
	}
	if v := c.QueryParam("author"); v != "" {
		filters.Author = &v
	}

	ctx, svc, err := ectoinject.GetContext[*drafts.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get draft service")
	}

	result, err := svc.Query(ctx, tenantID, filters)
	if err != nil {
		return apierror.Map(err, "failed to query drafts")
	}

	return c.JSON(http.StatusOK, result)
}

// History returns a draft's approval log
func History(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "draft_handler.History")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, svc, err := ectoinject.GetContext[*drafts.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get draft service")
	}

	entries, err := svc.History(ctx, tenantID, c.Param("id"))
	if err != nil {
		return apierror.Map(err, "failed to get draft history")
	}

	return c.JSON(http.StatusOK, models.ApprovalLogListResponse{Items: entries})
}

// Lineage returns the drafts this draft depends on and the drafts depending
// on it
func Lineage(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "draft_handler.Lineage")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, resolver, err := ectoinject.GetContext[*lineage.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lineage resolver")
	}

	result, err := resolver.Resolve(ctx, tenantID, c.Param("id"))
	if err != nil {
		return apierror.Map(err, "failed to resolve draft lineage")
	}

	return c.JSON(http.StatusOK, result)
}
