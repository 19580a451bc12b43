package scheduler

import (
	"context"

	"github.com/clinicflow/workflow-engine/internal/exec"
)

// PatientOutcome is what a PatientProcessor reports for one patient (spec
// §4.6 step 2: execute the workflow over the first encounter and return its
// result envelope).
type PatientOutcome struct {
	MRN    string
	Result exec.Result
}

// PatientProcessor executes a workflow against a single patient's first
// encounter. A per-patient error is isolated by the caller, never aborting
// the cohort (spec §4.6: "a per-patient failure is isolated; the run
// continues").
type PatientProcessor func(ctx context.Context, mrn string) (PatientOutcome, error)

// OutcomeSink receives one callback per patient, in cohort order, so the
// scheduler can persist results and progress incrementally (spec §4.6 step
// 2: "incrementally append").
type OutcomeSink func(mrn string, outcome PatientOutcome, err error)

// Engine fans a workflow across a patient cohort (component I's durable
// execution seam). engine/inmem is the default/test implementation;
// engine/temporal models the same contract as a durable Temporal workflow.
type Engine interface {
	RunCohort(ctx context.Context, experimentName string, mrns []string, process PatientProcessor, sink OutcomeSink) error
}
