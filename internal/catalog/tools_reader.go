package catalog

import (
	"context"
	"encoding/json"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/toolerrors"
)

// ReaderTools returns the catalog's reader-role tools: pure accessors over
// the patient record store (component A). None of them call an LLM.
func ReaderTools() []Tool {
	return []Tool{
		getPatientNotesIDsTool(),
		readPatientNoteTool(),
		getMedicationsTool(),
		getDiagnosesTool(),
		getFlowsheetInstancesTool(),
	}
}

func getPatientNotesIDsTool() Tool {
	return Tool{
		Name:        "get_patient_notes_ids",
		Role:        RoleReader,
		Category:    "notes",
		Description: "List the note IDs available for the current patient's encounter.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			enc, ok := env.Record.Encounter(env.MRN, env.CSN)
			if !ok {
				return nil, llm.CallMeta{}, toolerrors.ErrUnknownEntity
			}
			ids := make([]string, 0, len(enc.Notes))
			for _, n := range enc.Notes {
				ids = append(ids, n.ID)
			}
			return ids, llm.CallMeta{}, nil
		},
		DataItemExtractor: func(inputs map[string]any) (DataItemEvent, bool) {
			return DataItemEvent{ResourceType: "note_list", Status: "read"}, true
		},
	}
}

func readPatientNoteTool() Tool {
	return Tool{
		Name:        "read_patient_note",
		Role:        RoleReader,
		Category:    "notes",
		Description: "Fetch a single note's full text and metadata by ID.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"note_id":{"type":"string"}},"required":["note_id"],"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			noteID, _ := inputs["note_id"].(string)
			enc, ok := env.Record.Encounter(env.MRN, env.CSN)
			if !ok {
				return nil, llm.CallMeta{}, toolerrors.ErrUnknownEntity
			}
			for _, n := range enc.Notes {
				if n.ID == noteID {
					return n, llm.CallMeta{}, nil
				}
			}
			return nil, llm.CallMeta{}, toolerrors.ErrUnknownEntity
		},
		DataItemExtractor: func(inputs map[string]any) (DataItemEvent, bool) {
			id, _ := inputs["note_id"].(string)
			return DataItemEvent{ResourceType: "note", ResourceID: id, Status: "read"}, true
		},
	}
}

func getMedicationsTool() Tool {
	return Tool{
		Name:        "get_medications",
		Role:        RoleReader,
		Category:    "medications",
		Description: "List the medications recorded for the current encounter.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			enc, ok := env.Record.Encounter(env.MRN, env.CSN)
			if !ok {
				return nil, llm.CallMeta{}, toolerrors.ErrUnknownEntity
			}
			return enc.Medications, llm.CallMeta{}, nil
		},
		DataItemExtractor: func(inputs map[string]any) (DataItemEvent, bool) {
			return DataItemEvent{ResourceType: "medication_list", Status: "read"}, true
		},
	}
}

func getDiagnosesTool() Tool {
	return Tool{
		Name:        "get_diagnoses",
		Role:        RoleReader,
		Category:    "diagnoses",
		Description: "List the diagnoses recorded for the current encounter.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			enc, ok := env.Record.Encounter(env.MRN, env.CSN)
			if !ok {
				return nil, llm.CallMeta{}, toolerrors.ErrUnknownEntity
			}
			return enc.Diagnoses, llm.CallMeta{}, nil
		},
		DataItemExtractor: func(inputs map[string]any) (DataItemEvent, bool) {
			return DataItemEvent{ResourceType: "diagnosis_list", Status: "read"}, true
		},
	}
}

func getFlowsheetInstancesTool() Tool {
	return Tool{
		Name:        "get_flowsheet_instances",
		Role:        RoleReader,
		Category:    "flowsheets",
		Description: "List the flowsheet rows recorded for the current encounter, trusting the stored instances as-is.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"flowsheet_name":{"type":"string"}},"required":["flowsheet_name"],"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			name, _ := inputs["flowsheet_name"].(string)
			enc, ok := env.Record.Encounter(env.MRN, env.CSN)
			if !ok {
				return nil, llm.CallMeta{}, toolerrors.ErrUnknownEntity
			}
			instances := make([]record.Flowsheet, 0)
			for _, fs := range enc.Flowsheets {
				if fs.DisplayName == name {
					instances = append(instances, fs)
				}
			}
			return instances, llm.CallMeta{}, nil
		},
		DataItemExtractor: func(inputs map[string]any) (DataItemEvent, bool) {
			name, _ := inputs["flowsheet_name"].(string)
			return DataItemEvent{ResourceType: "flowsheet", ResourceID: name, Status: "read"}, true
		},
	}
}
