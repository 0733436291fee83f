package api

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yawlcore/engine/internal/netrunner"
	"github.com/yawlcore/engine/internal/registry"
)

// SLASweeper periodically asks the registry for Started work items past
// their declared SLA and drives each one through Interface X's timeout
// callback, exactly the ticker-driven checkHangingWorkflows loop the
// teacher's TimeoutDetector runs (cmd/workflow-runner/supervisor/
// timeout.go's Start), generalized from "mark the whole run failed" to
// "ask the configured handler what to do" since this engine's exception
// model is retry/reroute/escalate, not a single terminal outcome.
type SLASweeper struct {
	reg            *registry.Registry
	exceptions     *ExceptionClient
	defaultHandler string
	interval       time.Duration
	logger         Logger
}

func NewSLASweeper(reg *registry.Registry, exceptions *ExceptionClient, defaultHandler string, interval time.Duration, logger Logger) *SLASweeper {
	return &SLASweeper{reg: reg, exceptions: exceptions, defaultHandler: defaultHandler, interval: interval, logger: logger}
}

func (s *SLASweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepOnce(ctx, now)
		}
	}
}

func (s *SLASweeper) sweepOnce(ctx context.Context, now time.Time) {
	overdue := s.reg.Sweep(now)
	for _, item := range overdue {
		handlerURL := item.Decomposition.HandlerURL
		if handlerURL == "" {
			handlerURL = s.defaultHandler
		}
		if handlerURL == "" {
			if s.logger != nil {
				s.logger.Warn("sla timeout with no configured exception handler, escalating", "case_id", item.CaseID, "work_item_id", item.ItemID.String())
			}
		}

		decision := s.exceptions.Timeout(ctx, handlerURL, item.CaseID, item.ItemID)

		_, err := s.reg.Route(ctx, item.CaseID, func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error) {
			res, ignored, err := run.HandleExceptionDecision(ctx, tx, item.ItemID, decision)
			if ignored && s.logger != nil {
				s.logger.Warn("sla timeout decision ignored", "case_id", item.CaseID, "work_item_id", item.ItemID.String())
			}
			return res, err
		})
		if err != nil && s.logger != nil {
			s.logger.Error("sla timeout handling failed", "case_id", item.CaseID, "work_item_id", item.ItemID.String(), "error", err)
		}
	}
}
