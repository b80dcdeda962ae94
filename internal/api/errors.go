package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/flowpbx/tenantpbx/internal/provision"
)

// writeProvisionError maps a provisioning error to a status code. Storage
// failures are logged and reported without detail.
func writeProvisionError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, provision.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provision.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, provision.ErrDuplicateTenant),
		errors.Is(err, provision.ErrDuplicateExtension):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error(op+": failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
