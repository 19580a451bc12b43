// Package inmem provides an in-process Engine implementation for the
// experiment scheduler: suitable for local development, tests, and
// single-process deployments. It is not durable or replay-safe.
package inmem

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/clinicflow/workflow-engine/internal/scheduler"
)

// Engine runs a cohort's patients strictly sequentially, in the order given,
// on the calling goroutine (spec §5: "for each patient in the cohort, in
// order"). Limiter, if non-nil, is a token bucket that experiments running
// in the same process may share; RunCohort waits on it before starting each
// patient, so it paces patient starts, not each LLM call within a patient.
type Engine struct {
	Limiter *rate.Limiter
}

// New returns an Engine with no rate limiter.
func New() *Engine {
	return &Engine{}
}

// NewRateLimited returns an Engine that waits on limiter before starting
// each patient, limiting the rate at which patients start across every
// experiment that shares limiter.
func NewRateLimited(limiter *rate.Limiter) *Engine {
	return &Engine{Limiter: limiter}
}

// RunCohort implements scheduler.Engine.
func (e *Engine) RunCohort(ctx context.Context, experimentName string, mrns []string, process scheduler.PatientProcessor, sink scheduler.OutcomeSink) error {
	for _, mrn := range mrns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Limiter != nil {
			if err := e.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		outcome, err := process(ctx, mrn)
		sink(mrn, outcome, err)
	}
	return nil
}
