package api

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/yawlcore/engine/internal/netrunner"
	"github.com/yawlcore/engine/internal/registry"
	"github.com/yawlcore/engine/internal/spec"
	"github.com/yawlcore/engine/internal/workitem"
)

// RegisterInterfaceB wires spec.md §6's runtime client surface. Grounded on
// the teacher's cmd/orchestrator/routes package's one-Register-function-
// per-resource shape, generalized to the case/workitem resources this
// engine exposes instead of the teacher's workflow/run resources.
func RegisterInterfaceB(e *echo.Echo, c *Container) {
	e.POST("/b/connect", connect(c))

	g := e.Group("/b", RequireSession(c.Sessions), c.Limiter.Middleware())

	g.POST("/cases", createCase(c), RequireScope(ScopeOperator, ScopeAgent))
	g.GET("/cases/:id", getCase(c), RequireScope(ScopeMonitor, ScopeOperator, ScopeAgent))
	g.DELETE("/cases/:id", cancelCase(c), RequireScope(ScopeOperator))
	g.POST("/cases/:id/suspend", suspendCase(c), RequireScope(ScopeOperator))
	g.POST("/cases/:id/resume", resumeCase(c), RequireScope(ScopeOperator))

	g.GET("/workitems", listWorkItems(c), RequireScope(ScopeOperator, ScopeAgent, ScopeMonitor))
	g.POST("/workitems/:id/checkout", checkoutWorkItem(c), RequireScope(ScopeOperator, ScopeAgent))
	g.POST("/workitems/:id/checkin", checkinWorkItem(c), RequireScope(ScopeOperator, ScopeAgent))
	g.POST("/workitems/:id/skip", skipWorkItem(c), RequireScope(ScopeOperator, ScopeAgent))
	g.POST("/workitems/:id/fail", failWorkItem(c), RequireScope(ScopeOperator, ScopeAgent))
}

type connectRequest struct {
	Principal     string   `json:"principal"`
	Scope         Scope    `json:"scope"`
	AssignedTasks []string `json:"assigned_tasks,omitempty"`
}

// connect mints a session handle (spec.md §6: "Session handle obtained via
// POST /b/connect with principal credentials"). This engine has no
// separate credential directory to check a password against — the caller
// names the principal and the scope it is entitled to, and anything
// downstream of this call trusts the minted session exactly as far as its
// scope allows, the same trust boundary the teacher's gateway draws at its
// own X-User-ID header. An agent-scoped connect must additionally name the
// task(s) it is entitled to act on; AllowedForTask enforces that list on
// every work-item route afterward.
func connect(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var req connectRequest
		if err := ctx.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed connect request")
		}
		if req.Principal == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "principal is required")
		}
		switch req.Scope {
		case ScopeDesigner, ScopeOperator, ScopeAgent, ScopeMonitor, ScopeAdmin:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "unknown scope")
		}
		if req.Scope == ScopeAgent && len(req.AssignedTasks) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "agent scope requires at least one assigned task name")
		}

		token, err := c.Sessions.Connect(ctx.Request().Context(), req.Principal, req.Scope, req.AssignedTasks)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return ctx.JSON(http.StatusOK, map[string]string{"session_token": token})
	}
}

type createCaseRequest struct {
	SpecIdentifier string                 `json:"spec_identifier"`
	SpecVersion    string                 `json:"spec_version"`
	SpecURI        string                 `json:"spec_uri"`
	InitialData    map[string]interface{} `json:"initial_data"`
}

func createCase(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var req createCaseRequest
		if err := ctx.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed case request")
		}
		specID := spec.SpecID{Identifier: req.SpecIdentifier, Version: req.SpecVersion, URI: req.SpecURI}

		caseID, _, err := c.Registry.Admit(ctx.Request().Context(), specID, req.InitialData)
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.JSON(http.StatusCreated, map[string]string{"case_id": caseID})
	}
}

func getCase(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		snap, ok := c.Registry.Case(ctx.Param("id"))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		}
		return ctx.JSON(http.StatusOK, map[string]interface{}{
			"case_id": snap.CaseID,
			"spec_id": snap.SpecID.String(),
			"status":  snap.Status.String(),
			"marking": snap.Marking,
		})
	}
}

func cancelCase(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		caseID := ctx.Param("id")
		_, err := c.Registry.Route(ctx.Request().Context(), caseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			return run.Cancel(ctx, tx)
		})
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func suspendCase(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		caseID := ctx.Param("id")
		_, err := c.Registry.Route(ctx.Request().Context(), caseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			return &netrunner.KickResult{}, run.SuspendCase(ctx, tx)
		})
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func resumeCase(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		caseID := ctx.Param("id")
		_, err := c.Registry.Route(ctx.Request().Context(), caseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			return run.ResumeCase(ctx, tx)
		})
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func listWorkItems(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		filter := registry.WorkItemFilter{
			CaseID: ctx.QueryParam("case_id"),
			TaskID: ctx.QueryParam("task_id"),
			Owner:  ctx.QueryParam("owner"),
		}
		if raw := ctx.QueryParam("status"); raw != "" {
			st := parseStatus(raw)
			filter.Status = &st
		}

		items := c.Registry.ListWorkItems(filter)
		out := make([]map[string]interface{}, 0, len(items))
		for _, it := range items {
			out = append(out, map[string]interface{}{
				"work_item_id": it.ID.String(),
				"status":       it.Status.String(),
				"owner":        it.Owner,
			})
		}
		return ctx.JSON(http.StatusOK, map[string]interface{}{"work_items": out})
	}
}

func checkoutWorkItem(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := workitem.ParseID(ctx.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if !AllowedForTask(ctx, id.TaskID) {
			return echo.NewHTTPError(http.StatusForbidden, "agent session is not assigned to task "+id.TaskID)
		}
		owner := Principal(ctx)
		_, err = c.Registry.Route(ctx.Request().Context(), id.CaseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			return &netrunner.KickResult{}, run.Checkout(ctx, tx, id, owner)
		})
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

type checkinRequest struct {
	Output map[string]interface{} `json:"output"`
}

func checkinWorkItem(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := workitem.ParseID(ctx.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if !AllowedForTask(ctx, id.TaskID) {
			return echo.NewHTTPError(http.StatusForbidden, "agent session is not assigned to task "+id.TaskID)
		}
		var req checkinRequest
		if err := ctx.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed checkin request")
		}

		_, err = c.Registry.Route(ctx.Request().Context(), id.CaseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			return run.Checkin(ctx, tx, id, req.Output)
		})
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func skipWorkItem(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := workitem.ParseID(ctx.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if !AllowedForTask(ctx, id.TaskID) {
			return echo.NewHTTPError(http.StatusForbidden, "agent session is not assigned to task "+id.TaskID)
		}
		_, err = c.Registry.Route(ctx.Request().Context(), id.CaseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			return run.Skip(ctx, tx, id, "")
		})
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

type failRequest struct {
	Reason string `json:"reason"`
}

// failWorkItem implements spec.md §6's POST /b/workitems/{id}/fail: mark
// the item Failed, then synchronously drive it through Interface X's
// failure callback exactly once, applying whatever decision comes back.
// The outbound HTTP call deliberately happens between two separate Route
// calls rather than inside one, the same shape internal/api/slasweep.go
// uses for its own exception calls — a case's lock must never be held
// across a call to another process.
func failWorkItem(c *Container) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := workitem.ParseID(ctx.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if !AllowedForTask(ctx, id.TaskID) {
			return echo.NewHTTPError(http.StatusForbidden, "agent session is not assigned to task "+id.TaskID)
		}
		var req failRequest
		_ = ctx.Bind(&req)

		var handlerURL string
		_, err = c.Registry.Route(ctx.Request().Context(), id.CaseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			if err := run.Fail(ctx, tx, id, req.Reason); err != nil {
				return nil, err
			}
			if d := run.Decomposition(id.TaskID); d != nil {
				handlerURL = d.HandlerURL
			}
			return &netrunner.KickResult{}, nil
		})
		if err != nil {
			return respondError(ctx, err)
		}

		if handlerURL == "" {
			handlerURL = c.Components.Config.Engine.DefaultExceptionHandlerURL
		}
		decision := c.Exceptions.Failure(ctx.Request().Context(), handlerURL, id.CaseID, id, req.Reason)

		_, err = c.Registry.Route(ctx.Request().Context(), id.CaseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			res, _, err := run.HandleExceptionDecision(ctx, tx, id, decision)
			return res, err
		})
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func parseStatus(raw string) workitem.Status {
	for s := workitem.Enabled; s <= workitem.Withdrawn; s++ {
		if s.String() == raw {
			return s
		}
	}
	return workitem.Enabled
}
