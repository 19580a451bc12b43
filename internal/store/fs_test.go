package store_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinicflow/workflow-engine/internal/exec"
	"github.com/clinicflow/workflow-engine/internal/orchestrator"
	"github.com/clinicflow/workflow-engine/internal/scheduler"
	"github.com/clinicflow/workflow-engine/internal/store"
	"github.com/clinicflow/workflow-engine/internal/trace"
	"github.com/clinicflow/workflow-engine/internal/workflow"
	"github.com/clinicflow/workflow-engine/pkg/clock"
)

func TestExperimentArtifactsRoundTrip(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	created := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	meta := scheduler.Metadata{
		Name:             "exp1",
		ProjectName:      "sdoh",
		WorkflowName:     "wf1",
		DatasetName:      "cohort-a",
		CreatedDate:      created,
		LastModifiedDate: created,
		TotalPatients:    3,
	}
	require.NoError(t, fs.SaveMetadata("exp1", meta))

	started := created.Add(time.Minute)
	status := scheduler.StatusRecord{
		Status:    scheduler.StatusRunning,
		Progress:  scheduler.Progress{TotalPatients: 3, ProcessedCount: 1, CurrentPatientMRN: "mrn2"},
		StartedAt: &started,
	}
	require.NoError(t, fs.SaveStatus("exp1", status))

	results := scheduler.Results{
		OutputDefinitions: []workflow.OutputDefinition{
			{ID: "out_analyze", Name: "analyze", Label: "Analyze note", ToolName: "analyze_note_with_span_and_reason"},
		},
		OutputValues: []exec.OutputValue{
			{
				ID:                 "out_analyze",
				OutputDefinitionID: "out_analyze",
				Values:             map[string]any{"detected": true},
				Metadata:           map[string]any{"patient_id": "mrn1", "encounter_id": "csn1"},
			},
		},
	}
	require.NoError(t, fs.SaveResults("exp1", results))

	gotMeta, err := fs.LoadMetadata("exp1")
	require.NoError(t, err)
	require.Equal(t, meta, gotMeta)

	gotStatus, err := fs.LoadStatus("exp1")
	require.NoError(t, err)
	require.Equal(t, status.Status, gotStatus.Status)
	require.Equal(t, status.Progress, gotStatus.Progress)

	gotResults, err := fs.LoadResults("exp1")
	require.NoError(t, err)
	require.Equal(t, results.OutputDefinitions, gotResults.OutputDefinitions)
	require.Len(t, gotResults.OutputValues, 1)

	// Layout matches the fixed on-disk shape.
	for _, name := range []string{"metadata.json", "status.json", "results.json"} {
		_, err := os.Stat(filepath.Join(fs.Root, "experiments", "exp1", name))
		require.NoError(t, err)
	}
}

func TestSaveTraceWritesJSONLines(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	rec := trace.New("conv1", 7, &clock.Stepped{At: time.Unix(1700000000, 0), Step: 5 * time.Millisecond})
	require.NoError(t, rec.RecordTurnStart(map[string]any{"message": "hello"}))
	require.NoError(t, rec.RecordDecision(map[string]any{"action": "call_generator"}))
	require.NoError(t, rec.Finalize(0.25, 100, 50))

	require.NoError(t, fs.SaveTrace("conv1", rec))

	path := filepath.Join(fs.Root, "conversations", "conv1", "traces", "turn_007.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var kinds []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var ev struct {
			EventType    string `json:"event_type"`
			TsRelativeMs int64  `json:"ts_relative_ms"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		kinds = append(kinds, ev.EventType)
	}
	require.Equal(t, []string{"turn_start", "decision", "final"}, kinds)
}

func TestConversationRoundTripKeyedByConversationID(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	state := orchestrator.NewAgentState("mrn1", "csn1")
	require.NotEmpty(t, state.ConversationID)
	state.Conversation = append(state.Conversation, orchestrator.ConversationTurn{Role: "user", Content: "flag depression"})

	require.NoError(t, fs.SaveConversation(state.ConversationID, *state))

	_, err = os.Stat(filepath.Join(fs.Root, "conversations", state.ConversationID, "conversation.json"))
	require.NoError(t, err)

	got, err := fs.LoadConversation(state.ConversationID)
	require.NoError(t, err)
	require.Equal(t, state.ConversationID, got.ConversationID)
	require.Equal(t, state.Conversation, got.Conversation)
	require.Equal(t, "mrn1", got.MRN)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.SaveStatus("exp1", scheduler.StatusRecord{Status: scheduler.StatusPending}))

	entries, err := os.ReadDir(filepath.Join(fs.Root, "experiments", "exp1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "status.json", entries[0].Name())
}
