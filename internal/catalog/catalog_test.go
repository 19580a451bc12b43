package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinicflow/workflow-engine/internal/catalog"
	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/toolerrors"
)

type noopLLM struct{}

func (noopLLM) Call(ctx context.Context, req llm.CallRequest) (llm.CallResponse, error) {
	return llm.CallResponse{}, nil
}

func (noopLLM) StructuredCall(ctx context.Context, req llm.StructuredRequest) (llm.StructuredResponse, error) {
	return llm.StructuredResponse{JSON: []byte(`{}`)}, nil
}

func (noopLLM) ToolCall(ctx context.Context, req llm.ToolCallRequest) (llm.ToolCallResponse, error) {
	return llm.ToolCallResponse{}, nil
}

func testEnv() catalog.EnvData {
	store := record.NewInMemoryStore([]record.Patient{
		{
			MRN: "mrn1",
			Encounters: []record.Encounter{
				{
					CSN:       "csn1",
					AdmitTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
					Notes: []record.Note{
						{ID: "n1", Type: "progress", Text: "stable overnight"},
					},
					Medications: []record.Medication{
						{Order: "ord1", Name: "metoprolol", Dose: "25 mg", Route: "oral"},
					},
				},
			},
		},
	})
	return catalog.EnvData{Record: store, LLM: noopLLM{}, MRN: "mrn1", CSN: "csn1"}
}

func TestGetUnknownToolFails(t *testing.T) {
	cat, err := catalog.NewBuiltin(noopLLM{})
	require.NoError(t, err)

	_, err = cat.Get("no_such_tool")
	require.ErrorIs(t, err, toolerrors.ErrUnknownTool)
}

func TestInvokeRejectsInputsFailingSchema(t *testing.T) {
	cat, err := catalog.NewBuiltin(noopLLM{})
	require.NoError(t, err)

	// read_patient_note requires note_id; an unrelated key fails validation
	// before the handler ever runs.
	_, _, err = cat.Invoke(context.Background(), "read_patient_note", map[string]any{"unexpected": "x"}, testEnv())
	require.ErrorIs(t, err, toolerrors.ErrValidation)
	var ve *toolerrors.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "read_patient_note", ve.Tool)
}

func TestInvokeReaderReturnsRecordData(t *testing.T) {
	cat, err := catalog.NewBuiltin(noopLLM{})
	require.NoError(t, err)

	out, meta, err := cat.Invoke(context.Background(), "get_patient_notes_ids", map[string]any{}, testEnv())
	require.NoError(t, err)
	require.Equal(t, llm.CallMeta{}, meta, "reader tools carry zero call accounting")
	require.Equal(t, []string{"n1"}, out)
}

func TestInvokeWriterProducesStoreOp(t *testing.T) {
	cat, err := catalog.NewBuiltin(noopLLM{})
	require.NoError(t, err)

	out, _, err := cat.Invoke(context.Background(), "init_store", map[string]any{"store": "findings", "type": "list"}, testEnv())
	require.NoError(t, err)
	op, ok := out.(catalog.StoreOp)
	require.True(t, ok)
	require.Equal(t, catalog.OpInitStore, op.Op)
	require.Equal(t, "findings", op.Store)
	require.Equal(t, "list", op.Kind)
}

func TestInvokeWrapsHandlerFailureAsToolError(t *testing.T) {
	cat, err := catalog.NewBuiltin(noopLLM{})
	require.NoError(t, err)

	env := testEnv()
	env.CSN = "no_such_csn"
	_, _, err = cat.Invoke(context.Background(), "get_medications", map[string]any{}, env)
	require.Error(t, err)
	require.ErrorIs(t, err, toolerrors.ErrUnknownEntity)
	var te *toolerrors.ToolError
	require.True(t, errors.As(err, &te))
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	cat, err := catalog.NewBuiltin(noopLLM{})
	require.NoError(t, err)

	first := cat.List()
	second := cat.List()
	require.NotEmpty(t, first)
	names := func(infos []catalog.ToolInfo) []string {
		out := make([]string, len(infos))
		for i, info := range infos {
			out[i] = info.Name
		}
		return out
	}
	require.Equal(t, names(first), names(second))
	require.Equal(t, "get_patient_notes_ids", first[0].Name)
}

func TestDataItemExtractorMapsArguments(t *testing.T) {
	cat, err := catalog.NewBuiltin(noopLLM{})
	require.NoError(t, err)

	ev, ok := cat.DataItem("read_patient_note", map[string]any{"note_id": "n1"})
	require.True(t, ok)
	require.Equal(t, catalog.DataItemEvent{ResourceType: "note", ResourceID: "n1", Status: "read"}, ev)

	_, ok = cat.DataItem("init_store", map[string]any{})
	require.False(t, ok, "writer tools declare no data-item mapping")
}
