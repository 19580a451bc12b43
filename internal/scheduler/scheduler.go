package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/clinicflow/workflow-engine/internal/exec"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/telemetry"
	"github.com/clinicflow/workflow-engine/internal/toolerrors"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// Persister saves an experiment's three on-disk artifacts (spec §6.2:
// metadata.json, status.json, results.json). Implementations are expected to
// write atomically enough that a reader never observes a half-written file;
// the FS-backed implementation in internal/store does this via write-to-temp
// then rename.
type Persister interface {
	SaveMetadata(experimentName string, m Metadata) error
	SaveStatus(experimentName string, s StatusRecord) error
	SaveResults(experimentName string, r Results) error
}

// Scheduler is the Experiment Scheduler (component I). It validates a
// workflow's shape against a cohort, then fans the workflow out to each
// patient via Engine, persisting progress incrementally through Persist.
type Scheduler struct {
	Engine   Engine
	Record   record.Store
	Executor *exec.Executor
	Persist  Persister
	Shape    ShapeValidator
	// Metrics records per-experiment processed/failed counters. Defaults to
	// telemetry.NoopMetrics when nil.
	Metrics telemetry.Metrics
	// Tracer starts the span wrapping a cohort run. Defaults to
	// telemetry.NoopTracer when nil.
	Tracer telemetry.Tracer
}

func (s *Scheduler) metrics() telemetry.Metrics {
	if s.Metrics == nil {
		return telemetry.NoopMetrics{}
	}
	return s.Metrics
}

func (s *Scheduler) tracer() telemetry.Tracer {
	if s.Tracer == nil {
		return telemetry.NoopTracer{}
	}
	return s.Tracer
}

// Submit validates the workflow's shape and cohort, persists the initial
// pending state, and launches the fanout as a background job (spec §4.6:
// the submitting HTTP call returns 202 before the run completes).
func (s *Scheduler) Submit(ctx context.Context, name, workflowName string, w workflow.Workflow, mrns []string) error {
	if err := s.validate(name, w, mrns); err != nil {
		return err
	}

	now := time.Now().UTC()
	meta := Metadata{
		Name:             name,
		WorkflowName:     workflowName,
		CreatedDate:      now,
		LastModifiedDate: now,
		TotalPatients:    len(mrns),
	}
	status := StatusRecord{Status: StatusPending, Progress: Progress{TotalPatients: len(mrns)}}

	if s.Persist != nil {
		if err := s.Persist.SaveMetadata(name, meta); err != nil {
			return &toolerrors.SchedulerError{Experiment: name, Reason: err.Error()}
		}
		if err := s.Persist.SaveStatus(name, status); err != nil {
			return &toolerrors.SchedulerError{Experiment: name, Reason: err.Error()}
		}
		if err := s.Persist.SaveResults(name, Results{}); err != nil {
			return &toolerrors.SchedulerError{Experiment: name, Reason: err.Error()}
		}
	}

	go func() {
		// The submitting request has already returned; a background failure
		// here is recorded in the persisted status, not propagated to a caller.
		_ = s.Run(context.Background(), name, w, mrns)
	}()
	return nil
}

func (s *Scheduler) validate(name string, w workflow.Workflow, mrns []string) error {
	if len(mrns) == 0 {
		return &toolerrors.SchedulerError{Experiment: name, Reason: "cohort is empty"}
	}
	if s.Shape != nil {
		if err := s.Shape(w); err != nil {
			return &toolerrors.SchedulerError{Experiment: name, Reason: err.Error()}
		}
	}
	return nil
}

// Run executes the cohort fanout synchronously to completion, updating
// status and results as each patient finishes (spec §4.6 steps 2-4). It is
// exported separately from Submit so tests can drive a run deterministically
// without racing a background goroutine.
func (s *Scheduler) Run(ctx context.Context, name string, w workflow.Workflow, mrns []string) error {
	ctx, span := s.tracer().Start(ctx, "scheduler.Run")
	defer span.End()

	var mu sync.Mutex
	status := StatusRecord{Status: StatusRunning, Progress: Progress{TotalPatients: len(mrns)}}
	started := time.Now().UTC()
	status.StartedAt = &started
	s.saveStatus(name, status)

	results := Results{}

	process := func(ctx context.Context, mrn string) (PatientOutcome, error) {
		enc, ok := s.Record.FirstEncounter(mrn)
		if !ok {
			return PatientOutcome{MRN: mrn}, toolerrors.Errorf("no encounters found")
		}
		res, err := s.Executor.Run(ctx, w, map[string]any{"mrn": mrn, "csn": enc.CSN})
		if err != nil {
			return PatientOutcome{MRN: mrn}, err
		}
		return PatientOutcome{MRN: mrn, Result: res}, nil
	}

	sink := func(mrn string, outcome PatientOutcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		status.Progress.CurrentPatientMRN = mrn
		if err != nil {
			status.Progress.FailedCount++
			status.Errors = append(status.Errors, ErrorRecord{PatientMRN: mrn, Reason: err.Error()})
			s.metrics().IncCounter("experiment_patients_failed", 1, "experiment", name)
		} else {
			status.Progress.ProcessedCount++
			results.appendOutputDefinitions(outcome.Result.OutputDefinitions)
			results.OutputValues = append(results.OutputValues, outcome.Result.OutputValues...)
			status.TotalFlagsDetected = countDetectedFlags(results.OutputValues)
			s.metrics().IncCounter("experiment_patients_processed", 1, "experiment", name)
		}
		s.saveStatus(name, status)
		s.saveResults(name, results)
	}

	runErr := s.Engine.RunCohort(ctx, name, mrns, process, sink)

	mu.Lock()
	defer mu.Unlock()
	completed := time.Now().UTC()
	status.CompletedAt = &completed
	status.Progress.CurrentPatientMRN = ""
	switch {
	case runErr != nil:
		status.Status = StatusFailed
		status.Errors = append(status.Errors, ErrorRecord{PatientMRN: "", Reason: runErr.Error()})
	case status.Progress.ProcessedCount == 0:
		status.Status = StatusFailed
	case status.Progress.FailedCount == 0:
		status.Status = StatusCompleted
	default:
		status.Status = StatusPartialComplete
	}
	s.saveStatus(name, status)
	return runErr
}

func (s *Scheduler) saveStatus(name string, status StatusRecord) {
	if s.Persist == nil {
		return
	}
	_ = s.Persist.SaveStatus(name, status)
}

func (s *Scheduler) saveResults(name string, results Results) {
	if s.Persist == nil {
		return
	}
	_ = s.Persist.SaveResults(name, results)
}
