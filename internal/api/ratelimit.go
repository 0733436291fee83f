package api

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/labstack/echo/v4"
)

// RateLimiter keeps the teacher's tiered-bucket shape
// (common/ratelimit/limiter.go's CheckGlobalLimit/CheckUserLimit/
// CheckWorkflowLimit: one bucket for the whole service, one per caller,
// one per named resource) but backs each bucket with an in-process
// golang.org/x/time/rate.Limiter instead of a Redis-plus-Lua script.
// Interface B has exactly one engine process to coordinate (spec.md §2/§5:
// no second engine instance shares this registry), so there is nothing
// for a distributed counter to synchronise against — see DESIGN.md for
// why common/ratelimit/limiter.go itself is not ported.
type RateLimiter struct {
	mu       sync.Mutex
	global   *rate.Limiter
	sessions map[string]*rate.Limiter
	tasks    map[string]*rate.Limiter

	perSessionRate  rate.Limit
	perSessionBurst int
	perTaskRate     rate.Limit
	perTaskBurst    int
}

func NewRateLimiter(globalRate rate.Limit, globalBurst int, perSessionRate rate.Limit, perSessionBurst int, perTaskRate rate.Limit, perTaskBurst int) *RateLimiter {
	return &RateLimiter{
		global:          rate.NewLimiter(globalRate, globalBurst),
		sessions:        map[string]*rate.Limiter{},
		tasks:           map[string]*rate.Limiter{},
		perSessionRate:  perSessionRate,
		perSessionBurst: perSessionBurst,
		perTaskRate:     perTaskRate,
		perTaskBurst:    perTaskBurst,
	}
}

// Allow checks the global bucket plus the bucket for principal, and (when
// taskName is non-empty) the bucket for that task name — mirroring
// CheckTieredLimit's "separate counters... to prevent simple workflows
// from being blocked by heavy ones", generalized from workflow tiers to
// task names since this engine has no tier concept.
func (l *RateLimiter) Allow(principal, taskName string) bool {
	if !l.global.Allow() {
		return false
	}
	if !l.bucketFor(principal, l.perSessionRate, l.perSessionBurst, &l.sessions).Allow() {
		return false
	}
	if taskName == "" {
		return true
	}
	return l.bucketFor(taskName, l.perTaskRate, l.perTaskBurst, &l.tasks).Allow()
}

func (l *RateLimiter) bucketFor(key string, r rate.Limit, burst int, set *map[string]*rate.Limiter) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := (*set)[key]
	if !ok {
		lim = rate.NewLimiter(r, burst)
		(*set)[key] = lim
	}
	return lim
}

// Middleware rejects a request with 429 when the caller's session has
// exhausted its bucket. Applied after RequireSession so Principal(c) is
// populated; taskName is left empty here (route-level path-parameter
// limits, where relevant, call Allow directly instead).
func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(Principal(c), "") {
				return echo.NewHTTPError(429, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
