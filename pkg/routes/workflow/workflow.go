package workflow

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	ctxmiddleware "github.com/Ramsey-B/aster/pkg/context"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/routes/apierror"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/Ramsey-B/aster/pkg/workflow"
	"github.com/labstack/echo/v4"
)

// Register registers workflow transition routes under the drafts group
func Register(g *echo.Group) {
	g.POST("/:id/submit", Submit)
	g.POST("/:id/claim", Claim)
	g.POST("/:id/review", Review)
	g.POST("/:id/reject", Reject)
	g.POST("/:id/unclaim", Unclaim)
	g.POST("/:id/publish", Publish)
	g.POST("/:id/trash", Trash)
	g.POST("/:id/untrash", Untrash)
}

type transitionFunc func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, notes string) (*models.TransitionResult, error)

// handle runs one transition handler: resolve tenant and actor, bind the
// optional notes body, call the engine, and return the transition result.
// Denied transitions come back 200 with success=false; the caller reads the
// message, not the status code.
func handle(c echo.Context, name string, fn transitionFunc) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "workflow_handler."+name)
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	userID := ctxmiddleware.GetUserID(ctx)
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user_id is required")
	}
	role := ctxmiddleware.GetUserRole(ctx)
	if role == "" {
		role = models.RoleStaff
	}
	actor := models.Actor{ID: userID, Role: role}

	var req models.TransitionRequest
	if err := c.Bind(&req); err != nil && err != echo.ErrUnsupportedMediaType {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, svc, err := ectoinject.GetContext[*workflow.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get workflow service")
	}

	result, err := fn(ctx, svc, tenantID, c.Param("id"), actor, req.Notes)
	if err != nil {
		return apierror.Map(err, "failed to apply transition")
	}

	return c.JSON(http.StatusOK, result)
}

// Submit moves a draft into the review queue
func Submit(c echo.Context) error {
	return handle(c, "Submit", func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, _ string) (*models.TransitionResult, error) {
		return svc.Submit(ctx, tenantID, draftID, actor)
	})
}

// Claim takes a draft out of a review queue
func Claim(c echo.Context) error {
	return handle(c, "Claim", func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, _ string) (*models.TransitionResult, error) {
		return svc.Claim(ctx, tenantID, draftID, actor)
	})
}

// Review approves a claimed draft into the admin review queue
func Review(c echo.Context) error {
	return handle(c, "Review", func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, _ string) (*models.TransitionResult, error) {
		return svc.Review(ctx, tenantID, draftID, actor)
	})
}

// Reject sends a claimed draft back to its author
func Reject(c echo.Context) error {
	return handle(c, "Reject", func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, notes string) (*models.TransitionResult, error) {
		return svc.Reject(ctx, tenantID, draftID, actor, notes)
	})
}

// Unclaim returns a claimed draft to its review queue
func Unclaim(c echo.Context) error {
	return handle(c, "Unclaim", func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, _ string) (*models.TransitionResult, error) {
		return svc.Unclaim(ctx, tenantID, draftID, actor)
	})
}

// Publish materializes the draft onto the canonical store
func Publish(c echo.Context) error {
	return handle(c, "Publish", func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, _ string) (*models.TransitionResult, error) {
		return svc.Publish(ctx, tenantID, draftID, actor)
	})
}

// Trash soft-deletes a draft
func Trash(c echo.Context) error {
	return handle(c, "Trash", func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, notes string) (*models.TransitionResult, error) {
		return svc.Trash(ctx, tenantID, draftID, actor, notes)
	})
}

// Untrash restores a trashed draft
func Untrash(c echo.Context) error {
	return handle(c, "Untrash", func(ctx context.Context, svc *workflow.Service, tenantID, draftID string, actor models.Actor, _ string) (*models.TransitionResult, error) {
		return svc.Untrash(ctx, tenantID, draftID, actor)
	})
}
