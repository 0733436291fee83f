// Package api implements C8: the HTTP/JSON surface (Interfaces A, B, E)
// and the outbound Interface X caller, on top of the kernel packages
// (spec, casedata, predicate, eventlog, netrunner, workitem, registry,
// announcer). Grounded on the teacher's container-plus-routes split
// (cmd/orchestrator/container, cmd/orchestrator/routes,
// cmd/orchestrator/handlers) and its echo/v4 middleware stack
// (cmd/orchestrator/main.go).
package api

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/yawlcore/engine/common/bootstrap"
	engineredis "github.com/yawlcore/engine/common/redis"
	"github.com/yawlcore/engine/internal/announcer"
	"github.com/yawlcore/engine/internal/engineerr"
	"github.com/yawlcore/engine/internal/eventlog"
	"github.com/yawlcore/engine/internal/netrunner"
	"github.com/yawlcore/engine/internal/predicate"
	"github.com/yawlcore/engine/internal/registry"
)

// Container holds every service this process needs once, constructed
// bottom-up the way the teacher's container.NewContainer builds
// repositories before the services layered on top of them.
type Container struct {
	Components *bootstrap.Components

	Specs      *SpecStore
	Sessions   *SessionStore
	Log        *eventlog.Log
	Evaluator  *predicate.Evaluator
	Hub        *announcer.Hub
	Registry   *registry.Registry
	Limiter    *RateLimiter
	Exceptions *ExceptionClient
	SLA        *SLASweeper
}

// Logger is C8's own copy of the narrow logging surface repeated across
// every package in this module (netrunner.Logger, announcer.Logger) so
// that api, too, never imports common/logger directly. *logger.Logger
// satisfies it structurally.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// NewContainer wires every C8 dependency against already-bootstrapped
// components (DB, Redis, logger). The netrunner/registry/announcer
// kernel never imports this package; Container is the only place that
// imports all of them at once, the same role cmd/orchestrator/container
// plays for the teacher's service layer.
func NewContainer(components *bootstrap.Components) (*Container, error) {
	evaluator, err := predicate.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("api: could not construct predicate evaluator: %w", err)
	}

	log := eventlog.New(components.DB)
	hub := announcer.NewHub(components.Config.Engine.AnnouncerBacklogSize, components.Logger)
	specs := NewSpecStore()

	reg := registry.New(
		specs,
		log,
		hub,
		components.Logger,
		evaluator,
		components.Config.Engine.CaseLockTimeout,
		components.Config.Engine.CaseRetireGrace,
	)

	var sessionRedis *engineredis.Client
	if components.Redis != nil {
		sessionRedis = components.Redis
	}
	if sessionRedis == nil {
		return nil, engineerr.New(engineerr.KindValidation, "api: session store requires Redis; bootstrap.WithoutRedis() was used")
	}
	sessions := NewSessionStore(sessionRedis, components.Config.Engine.SessionTTL)

	limiter := NewRateLimiter(
		rate.Limit(200), 400,
		rate.Limit(20), 40,
		rate.Limit(10), 20,
	)

	exceptions := NewExceptionClient(components.Config.Engine.ExceptionCallbackTimeout)
	sla := NewSLASweeper(
		reg,
		exceptions,
		components.Config.Engine.DefaultExceptionHandlerURL,
		components.Config.Engine.SLATimeoutSweepInterval,
		components.Logger,
	)

	return &Container{
		Components: components,
		Specs:      specs,
		Sessions:   sessions,
		Log:        log,
		Evaluator:  evaluator,
		Hub:        hub,
		Registry:   reg,
		Limiter:    limiter,
		Exceptions: exceptions,
		SLA:        sla,
	}, nil
}

// _ documents, in one place, which concrete type satisfies the kernel's
// narrow Notifier interface by structural typing; never constructed.
var _ netrunner.Notifier = (*announcer.Hub)(nil)
