// Package apierror maps domain errors onto HTTP errors
package apierror

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/aster/pkg/models"
)

// Map converts a domain error into an HTTP error. Errors that already carry
// a status pass through; unrecognized errors become a 500 with the fallback
// message.
func Map(err error, fallback string) error {
	if httperror.IsHTTPError(err) {
		return err
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		return httperror.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTarget):
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrConflictingDraft):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrTargetMissing):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, fallback)
}
