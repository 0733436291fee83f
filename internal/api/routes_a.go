package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yawlcore/engine/internal/spec"
)

// RegisterInterfaceA wires spec.md §6's design-time surface: load, unload,
// and list specifications. Grounded on the teacher's
// cmd/orchestrator/routes package (one Register* function per resource).
func RegisterInterfaceA(e *echo.Echo, c *Container) {
	g := e.Group("/a", RequireSession(c.Sessions))

	g.POST("/specifications", loadSpecification(c), RequireScope(ScopeDesigner))
	g.DELETE("/specifications/:id", unloadSpecification(c), RequireScope(ScopeDesigner))
	g.GET("/specifications", listSpecifications(c), RequireScope(ScopeMonitor))
}

func loadSpecification(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		body, err := io.ReadAll(ctx.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
		}

		id, diags, err := c.Specs.Load(body)
		if err != nil {
			return respondDiagnostics(ctx, http.StatusUnprocessableEntity, diags, err)
		}
		return ctx.JSON(http.StatusCreated, map[string]interface{}{
			"spec_id":     id.Identifier,
			"version":     id.Version,
			"uri":         id.URI,
			"diagnostics": diags,
		})
	}
}

func unloadSpecification(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id := specIDFromParam(ctx)
		if err := c.Specs.Unload(id, c.Registry.HasActiveCaseForSpec); err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func listSpecifications(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]interface{}{"specifications": c.Specs.List()})
	}
}

// specIDFromParam reads the spec-id triple off the request, the :id path
// param carrying the identifier and version/uri as query parameters —
// spec.md §3's SpecID is a (identifier, version, uri) triple, wider than a
// single path segment can express cleanly.
func specIDFromParam(ctx echo.Context) spec.SpecID {
	return spec.SpecID{
		Identifier: ctx.Param("id"),
		Version:    ctx.QueryParam("version"),
		URI:        ctx.QueryParam("uri"),
	}
}
