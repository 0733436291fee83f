package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yawlcore/engine/internal/engineerr"
	"github.com/yawlcore/engine/internal/spec"
)

// respondError maps the engine's error taxonomy (internal/engineerr) onto
// HTTP status codes, the same switch-on-error-kind shape the teacher's
// handlers use for their own domain errors (cmd/orchestrator/handlers).
func respondError(ctx echo.Context, err error) error {
	e, ok := engineerr.Of(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusInternalServerError
	switch e.Kind {
	case engineerr.KindValidation:
		status = http.StatusUnprocessableEntity
	case engineerr.KindAuth:
		status = http.StatusForbidden
	case engineerr.KindConflict:
		status = http.StatusConflict
	case engineerr.KindNotFound:
		status = http.StatusNotFound
	case engineerr.KindBusy:
		status = http.StatusServiceUnavailable
	case engineerr.KindLog:
		status = http.StatusServiceUnavailable
	case engineerr.KindNetSemantic:
		status = http.StatusInternalServerError
	case engineerr.KindExceptionHandler:
		status = http.StatusBadGateway
	}
	return ctx.JSON(status, map[string]interface{}{
		"error":       e.Message,
		"kind":        e.Kind.String(),
		"diagnostics": e.Diagnostics,
	})
}

func respondDiagnostics(ctx echo.Context, status int, diags []spec.Diagnostic, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ctx.JSON(status, map[string]interface{}{
		"error":       msg,
		"diagnostics": diags,
	})
}
