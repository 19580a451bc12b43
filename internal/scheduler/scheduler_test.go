package scheduler_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinicflow/workflow-engine/internal/catalog"
	"github.com/clinicflow/workflow-engine/internal/exec"
	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/scheduler"
	"github.com/clinicflow/workflow-engine/internal/scheduler/engine/inmem"
	"github.com/clinicflow/workflow-engine/internal/telemetry"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

type stubLLM struct{}

func (stubLLM) Call(ctx context.Context, req llm.CallRequest) (llm.CallResponse, error) {
	return llm.CallResponse{Text: "ok", Meta: llm.CallMeta{Provider: "stub", Model: "stub-1"}}, nil
}

func (stubLLM) StructuredCall(ctx context.Context, req llm.StructuredRequest) (llm.StructuredResponse, error) {
	body := json.RawMessage(`{"answer":"yes, clearly present","span":"reports low mood","reason":"explicit statement"}`)
	return llm.StructuredResponse{JSON: body, Meta: llm.CallMeta{Provider: "stub", Model: "stub-1"}}, nil
}

func (stubLLM) ToolCall(ctx context.Context, req llm.ToolCallRequest) (llm.ToolCallResponse, error) {
	return llm.ToolCallResponse{}, nil
}

type memPersister struct {
	mu       sync.Mutex
	metadata scheduler.Metadata
	status   scheduler.StatusRecord
	results  scheduler.Results
}

func (p *memPersister) SaveMetadata(name string, m scheduler.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata = m
	return nil
}

func (p *memPersister) SaveStatus(name string, s scheduler.StatusRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
	return nil
}

func (p *memPersister) SaveResults(name string, r scheduler.Results) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = r
	return nil
}

func (p *memPersister) snapshot() (scheduler.StatusRecord, scheduler.Results) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.results
}

func cohortStore() record.Store {
	return record.NewInMemoryStore([]record.Patient{
		{
			MRN: "mrn1",
			Encounters: []record.Encounter{
				{
					CSN:       "csn1",
					AdmitTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
					Notes:     []record.Note{{ID: "n1", Type: "progress", Text: "patient reports low mood"}},
				},
			},
		},
		{
			MRN: "mrn2",
			Encounters: []record.Encounter{
				{
					CSN:       "csn2",
					AdmitTime: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
					Notes:     []record.Note{{ID: "n2", Type: "progress", Text: "patient reports low mood"}},
				},
			},
		},
		{
			MRN:        "mrn3",
			Encounters: nil,
		},
	})
}

func flagWorkflow() workflow.Workflow {
	return workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{
				ID:   "check_mood",
				Tool: "analyze_note_with_span_and_reason",
				Inputs: map[string]any{
					"note_text": "patient reports low mood",
					"question":  "Does the note mention low mood?",
				},
				Output: "mood_flag",
			},
		},
		OutputMappings: []workflow.OutputMapping{
			{OutputDefinitionID: "out_check_mood", SourceVariable: "mood_flag"},
		},
	}
}

// TestRunCohortPartialFailureIsolatesAndAggregates implements the concrete
// scenario: a cohort of 3 patients, one with no encounters, ends terminal
// with status=partial_complete, processed_count=2, failed_count=1, one error
// entry naming the encounter-less patient, and total_flags_detected equal to
// the number of appended output_values whose detected field is true.
func TestRunCohortPartialFailureIsolatesAndAggregates(t *testing.T) {
	store := cohortStore()
	cat, err := catalog.NewBuiltin(stubLLM{})
	require.NoError(t, err)
	executor := exec.New(cat, store, stubLLM{}, telemetry.NoopTracer{})

	persist := &memPersister{}
	sched := &scheduler.Scheduler{
		Engine:   inmem.New(),
		Record:   store,
		Executor: executor,
		Persist:  persist,
		Shape:    scheduler.RequireToolStepCount("analyze_note_with_span_and_reason", 1),
	}

	err = sched.Run(context.Background(), "sdoh-cohort", flagWorkflow(), []string{"mrn1", "mrn2", "mrn3"})
	require.NoError(t, err)

	status, results := persist.snapshot()
	require.Equal(t, scheduler.StatusPartialComplete, status.Status)
	require.Equal(t, 2, status.Progress.ProcessedCount)
	require.Equal(t, 1, status.Progress.FailedCount)
	require.Len(t, status.Errors, 1)
	require.Equal(t, "mrn3", status.Errors[0].PatientMRN)
	require.Contains(t, status.Errors[0].Reason, "no encounters")

	detected := 0
	for _, v := range results.OutputValues {
		m, ok := v.Values.(map[string]any)
		require.True(t, ok)
		if d, _ := m["detected"].(bool); d {
			detected++
		}
	}
	require.Equal(t, detected, status.TotalFlagsDetected)
	require.Equal(t, 2, status.TotalFlagsDetected)
}

func TestSubmitRejectsEmptyCohort(t *testing.T) {
	store := cohortStore()
	cat, err := catalog.NewBuiltin(stubLLM{})
	require.NoError(t, err)
	executor := exec.New(cat, store, stubLLM{}, telemetry.NoopTracer{})

	sched := &scheduler.Scheduler{Engine: inmem.New(), Record: store, Executor: executor}
	err = sched.Submit(context.Background(), "empty-cohort", "flag-workflow", flagWorkflow(), nil)
	require.Error(t, err)
}

func TestSubmitRejectsWorkflowThatFailsShapeValidation(t *testing.T) {
	store := cohortStore()
	cat, err := catalog.NewBuiltin(stubLLM{})
	require.NoError(t, err)
	executor := exec.New(cat, store, stubLLM{}, telemetry.NoopTracer{})

	sched := &scheduler.Scheduler{
		Engine:   inmem.New(),
		Record:   store,
		Executor: executor,
		Shape:    scheduler.RequireToolStepCount("analyze_note_with_span_and_reason", 9),
	}
	err = sched.Submit(context.Background(), "wrong-shape", "flag-workflow", flagWorkflow(), []string{"mrn1"})
	require.Error(t, err)
}
