package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func init() {
	for _, m := range []struct {
		target error
		status int
		code   string
	}{
		{drifterr.ErrNotFound, http.StatusNotFound, "not_found"},
		{drifterr.ErrMissingTenant, http.StatusBadRequest, "missing_tenant"},
		{drifterr.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
		{drifterr.ErrValidationFailed, http.StatusUnprocessableEntity, "validation_failed"},
		{drifterr.ErrRegistryConflict, http.StatusConflict, "registry_conflict"},
		{drifterr.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
		{drifterr.ErrNotApprovable, http.StatusUnprocessableEntity, "not_approvable"},
		{drifterr.ErrNotRepairable, http.StatusUnprocessableEntity, "not_repairable"},
		{drifterr.ErrFingerprintUnavailable, http.StatusServiceUnavailable, "source_unavailable"},
	} {
		apierr.Register(m.target, m.status, m.code)
	}
}

// RespondErr maps an error from the service layer onto a status and code.
// Server-side failures are attached to the gin context for the request log.
func RespondErr(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	ae := apierr.From(err)
	details := ae.Details
	var ve *drifterr.ValidationError
	if details == nil && errors.As(err, &ve) {
		details = ve.Violations
	}
	if ae.Status >= 500 {
		_ = c.Error(err)
	}
	c.JSON(ae.Status, ErrorEnvelope{Error: APIError{Message: ae.Error(), Code: ae.Code, Details: details}})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
