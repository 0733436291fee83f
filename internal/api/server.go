package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewRouter builds the single echo.Echo that serves Interfaces A, B, and E
// out of one process (spec.md §2/§5: one engine process). Grounded on the
// teacher's setupEcho/setupMiddleware/setupHealthCheck/registerRoutes split
// (cmd/orchestrator/main.go); RequestID/Logger/Recover/CORS are kept
// verbatim since nothing about this engine's domain changes what a request
// log line or a panic recovery needs to do.
func NewRouter(c *Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", healthHandler(c))

	RegisterInterfaceA(e, c)
	RegisterInterfaceB(e, c)
	RegisterInterfaceE(e, c)

	return e
}

func healthHandler(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if err := c.Components.Health(ctx.Request().Context()); err != nil {
			return ctx.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return ctx.JSON(200, map[string]interface{}{
			"status":  "ok",
			"service": "engine",
			"cases":   c.Registry.Count(),
		})
	}
}
