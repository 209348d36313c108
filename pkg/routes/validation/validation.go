package validation

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	ctxmiddleware "github.com/Ramsey-B/aster/pkg/context"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/schema"
	"github.com/labstack/echo/v4"
)

// ValidateRequest represents a validation request. Action controls whether
// required fields are enforced: CREATE payloads are validated in full, UPDATE
// and DELETE payloads are sparse.
type ValidateRequest struct {
	TargetType string             `json:"target_type" validate:"required"`
	Payload    map[string]any     `json:"payload" validate:"required"`
	Action     models.DraftAction `json:"action,omitempty"`
}

// ValidateResponse represents a validation response
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Register registers validation routes
func Register(g *echo.Group) {
	g.POST("/validate", ValidatePayload)
}

// ValidatePayload checks a payload against its target type's schema without
// opening a draft, so clients can surface validation errors while editing
func ValidatePayload(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.TargetType == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "target_type is required")
	}
	if req.Payload == nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "payload is required")
	}
	if req.Action == "" {
		req.Action = models.ActionCreate
	}

	ctx, service, err := ectoinject.GetContext[*schema.ValidationService](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "validation service not available")
	}

	result, err := service.ValidatePayload(ctx, tenantID, req.TargetType, req.Payload, req.Action)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if !result.Valid {
		// Convert ValidationError slice to string slice
		errorStrings := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			errorStrings[i] = e.Field + ": " + e.Message
		}
		return c.JSON(http.StatusOK, ValidateResponse{
			Valid:  false,
			Errors: errorStrings,
		})
	}

	return c.JSON(http.StatusOK, ValidateResponse{
		Valid: true,
	})
}
