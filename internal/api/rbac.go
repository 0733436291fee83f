package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey namespaces values this package stores on an echo.Context,
// the same pattern the teacher's auth middleware uses for its own
// username key (cmd/orchestrator/middleware/auth.go's ContextKey).
type ContextKey string

const (
	PrincipalKey     ContextKey = "principal"
	ScopeKey         ContextKey = "scope"
	AssignedTasksKey ContextKey = "assigned_tasks"
)

// RequireSession is Interface B's auth middleware: it resolves the
// Authorization: Bearer <token> header through the session store and, on
// success, stores the principal and scope on the request context for
// handlers and RequireScope to read. Generalizes the teacher's
// ExtractUsernameStrict (X-User-ID header, no real session) into a real
// Bearer-session lookup — Interface B's session handles are minted by
// POST /b/connect, not passed in on every request by the caller.
func RequireSession(sessions *SessionStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get("Authorization"))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer session token")
			}
			principal, scope, assignedTasks, ok := sessions.Lookup(c.Request().Context(), token)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "session expired or unknown")
			}
			c.Set(string(PrincipalKey), principal)
			c.Set(string(ScopeKey), scope)
			c.Set(string(AssignedTasksKey), assignedTasks)
			return next(c)
		}
	}
}

// RequireScope gates a route to one of the named scopes. ScopeAdmin passes
// every gate, agent-only gates included; any other scope passes only if it
// is one of allowed. An agent's restriction to its own assigned task names
// is a narrower, task-level check this coarse scope gate cannot express;
// AllowedForTask makes it.
func RequireScope(allowed ...Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scope, _ := c.Get(string(ScopeKey)).(Scope)
			if scope == ScopeAdmin {
				return next(c)
			}
			for _, s := range allowed {
				if scope == s {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "session scope "+string(scope)+" cannot call this route")
		}
	}
}

// AllowedForTask enforces spec.md §6's agent restriction: a session
// connected at ScopeAgent may only act on work items whose task name is in
// the list it declared at connect time. Every other scope is unrestricted
// at the task level (RequireScope already gated it to an allowed scope);
// an agent session with no declared tasks is allowed none, not all, since
// a missing allow-list is not the same thing as an unrestricted one.
func AllowedForTask(c echo.Context, taskID string) bool {
	scope, _ := c.Get(string(ScopeKey)).(Scope)
	if scope != ScopeAgent {
		return true
	}
	tasks, _ := c.Get(string(AssignedTasksKey)).([]string)
	for _, t := range tasks {
		if t == taskID {
			return true
		}
	}
	return false
}

func Principal(c echo.Context) string {
	p, _ := c.Get(string(PrincipalKey)).(string)
	return p
}

func SessionScope(c echo.Context) Scope {
	s, _ := c.Get(string(ScopeKey)).(Scope)
	return s
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}
