// Package temporal provides a durable Engine implementation for the
// experiment scheduler backed by Temporal: ExperimentWorkflow fans a cohort
// out to ProcessPatientActivity one patient at a time, in cohort order,
// matching the deterministic single-threaded execution Temporal workflow
// code already gives for free (spec §5: "sequential, in order").
package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/clinicflow/workflow-engine/internal/scheduler"
)

// WorkflowName is the Temporal workflow type registered for experiment
// fanouts.
const WorkflowName = "ExperimentCohortWorkflow"

// ActivityName is the Temporal activity type that processes a single
// patient.
const ActivityName = "ProcessPatientActivity"

// CohortInput is ExperimentWorkflow's input.
type CohortInput struct {
	ExperimentName string
	MRNs           []string
}

// PatientActivityInput is ProcessPatientActivity's input.
type PatientActivityInput struct {
	ExperimentName string
	MRN            string
}

// PatientActivityOutput is ProcessPatientActivity's output: the outcome
// serialized across the activity boundary. It has no error field; an
// activity failure reaches ExperimentWorkflow only as the activity's
// returned error.
type PatientActivityOutput struct {
	Outcome scheduler.PatientOutcome
}

// ExperimentWorkflow is the Temporal workflow definition for a cohort
// fanout. It calls ProcessPatientActivity once per MRN, strictly in order:
// Temporal workflow code runs single-threaded and deterministically, so
// issuing activities one at a time in a plain for loop already satisfies
// the ordering requirement without extra synchronization.
func ExperimentWorkflow(ctx workflow.Context, in CohortInput) ([]PatientActivityOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		// One attempt per patient: a failed patient is recorded and the
		// cohort moves on rather than retrying it.
		RetryPolicy: &sdktemporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	results := make([]PatientActivityOutput, 0, len(in.MRNs))
	for _, mrn := range in.MRNs {
		var out PatientActivityOutput
		err := workflow.ExecuteActivity(ctx, ActivityName, PatientActivityInput{
			ExperimentName: in.ExperimentName,
			MRN:            mrn,
		}).Get(ctx, &out)
		if err != nil {
			out = PatientActivityOutput{Outcome: scheduler.PatientOutcome{MRN: mrn}}
		}
		results = append(results, out)
	}
	return results, nil
}

// Engine adapts a Temporal client into scheduler.Engine. Activities must be
// registered with RegisterWith(w, process) by the worker process
// before RunCohort is called; the Engine itself only starts and awaits
// workflow executions.
type Engine struct {
	Client    client.Client
	TaskQueue string
}

// New builds an Engine against an already-connected Temporal client.
func New(c client.Client, taskQueue string) *Engine {
	return &Engine{Client: c, TaskQueue: taskQueue}
}

// RunCohort implements scheduler.Engine by starting ExperimentWorkflow and
// blocking for its result, then replaying each patient outcome through sink
// in the order Temporal returns them (which is cohort order, since
// ExperimentWorkflow issues activities sequentially).
func (e *Engine) RunCohort(ctx context.Context, experimentName string, mrns []string, process scheduler.PatientProcessor, sink scheduler.OutcomeSink) error {
	run, err := e.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "experiment-" + experimentName,
		TaskQueue: e.TaskQueue,
	}, WorkflowName, CohortInput{ExperimentName: experimentName, MRNs: mrns})
	if err != nil {
		return err
	}

	var results []PatientActivityOutput
	if err := run.Get(ctx, &results); err != nil {
		return err
	}
	for i, res := range results {
		mrn := ""
		if i < len(mrns) {
			mrn = mrns[i]
		}
		sink(mrn, res.Outcome, nil)
	}
	return nil
}

// RegisterWith registers ExperimentWorkflow and ProcessPatientActivity
// (backed by process) onto w.
func RegisterWith(w worker.Worker, process scheduler.PatientProcessor) {
	w.RegisterWorkflowWithOptions(ExperimentWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(func(ctx context.Context, in PatientActivityInput) (PatientActivityOutput, error) {
		activity.RecordHeartbeat(ctx, in.MRN)
		outcome, err := process(ctx, in.MRN)
		if err != nil {
			return PatientActivityOutput{Outcome: outcome}, err
		}
		return PatientActivityOutput{Outcome: outcome}, nil
	}, activity.RegisterOptions{Name: ActivityName})
}

// NewClientOptions builds Temporal client.Options instrumented with OTEL
// tracing, matching the instrumentation the rest of this codebase applies
// to every outbound call (spec's ambient observability stack).
func NewClientOptions(hostPort, namespace string) (client.Options, error) {
	tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
	if err != nil {
		return client.Options{}, err
	}
	return client.Options{
		HostPort:     hostPort,
		Namespace:    namespace,
		Interceptors: []interceptor.ClientInterceptor{tracer},
	}, nil
}
