package catalog

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/clinicflow/workflow-engine/internal/llm"
)

// isAffirmative normalizes a free-text "answer" field (e.g. "yes", "Yes,
// clearly present") into the boolean flag-detection semantics the original
// SDOH flag tool exposed as "detected" (see run_workflow_sdoh.py).
func isAffirmative(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return strings.HasPrefix(a, "yes") || a == "true" || a == "detected" || a == "present"
}

// ComputeTools returns the catalog's compute-role tools: they derive a value
// from inputs, usually via an LLM structured call, and always report
// CallMeta so the executor can attribute cost.
func ComputeTools(client llm.Client) []Tool {
	return []Tool{
		analyzeNoteTool(client),
		filterMedicationTool(client),
		summarizeNoteTool(client),
	}
}

var spanAndReasonSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"answer": {"type": "string"},
		"span": {"type": "string"},
		"reason": {"type": "string"}
	},
	"required": ["answer", "span", "reason"],
	"additionalProperties": false
}`)

func analyzeNoteTool(client llm.Client) Tool {
	return Tool{
		Name:         "analyze_note_with_span_and_reason",
		Role:         RoleCompute,
		Category:     "analysis",
		Description:  "Ask a clinical question about a note's text and return an answer with a supporting text span and a short reason.",
		InputSchema:  json.RawMessage(`{"type":"object","properties":{"note_text":{"type":"string"},"question":{"type":"string"}},"required":["note_text","question"],"additionalProperties":false}`),
		OutputSchema: spanAndReasonSchema,
		UsesLLM:      true,
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			noteText, _ := inputs["note_text"].(string)
			question, _ := inputs["question"].(string)
			var out struct {
				Answer string `json:"answer"`
				Span   string `json:"span"`
				Reason string `json:"reason"`
			}
			meta, err := llm.StructuredInto(ctx, env.LLM, llm.StructuredRequest{
				System: "You are a careful clinical note reviewer. Quote the exact supporting span verbatim from the note.",
				Messages: []llm.Message{
					{Role: llm.RoleUser, Content: "Note:\n" + noteText + "\n\nQuestion: " + question},
				},
				Schema:     spanAndReasonSchema,
				SchemaName: "span_and_reason",
			}, &out)
			if err != nil {
				return nil, meta, err
			}
			return map[string]any{
				"answer":   out.Answer,
				"span":     out.Span,
				"reason":   out.Reason,
				"detected": isAffirmative(out.Answer),
			}, meta, nil
		},
		DataItemExtractor: func(inputs map[string]any) (DataItemEvent, bool) {
			return DataItemEvent{ResourceType: "note_analysis", Status: "computed"}, true
		},
	}
}

func filterMedicationTool(client llm.Client) Tool {
	return Tool{
		Name:        "filter_medication",
		Role:        RoleCompute,
		Category:    "analysis",
		Description: "Decide, via an LLM judgment, whether a single medication satisfies a natural-language criterion.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"medication_name":{"type":"string"},"dose":{"type":"string"},"criterion":{"type":"string"}},"required":["medication_name","criterion"],"additionalProperties":false}`),
		OutputSchema: json.RawMessage(`{"type":"object","properties":{"matches":{"type":"boolean"},"reason":{"type":"string"}},"required":["matches","reason"]}`),
		UsesLLM:     true,
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			name, _ := inputs["medication_name"].(string)
			dose, _ := inputs["dose"].(string)
			criterion, _ := inputs["criterion"].(string)
			schema := json.RawMessage(`{"type":"object","properties":{"matches":{"type":"boolean"},"reason":{"type":"string"}},"required":["matches","reason"],"additionalProperties":false}`)
			var out struct {
				Matches bool   `json:"matches"`
				Reason  string `json:"reason"`
			}
			meta, err := llm.StructuredInto(ctx, env.LLM, llm.StructuredRequest{
				System: "You decide whether a medication order matches a clinical filter criterion.",
				Messages: []llm.Message{
					{Role: llm.RoleUser, Content: "Medication: " + name + " " + dose + "\nCriterion: " + criterion},
				},
				Schema:     schema,
				SchemaName: "medication_filter",
			}, &out)
			if err != nil {
				return nil, meta, err
			}
			return map[string]any{"matches": out.Matches, "reason": out.Reason}, meta, nil
		},
		DataItemExtractor: func(inputs map[string]any) (DataItemEvent, bool) {
			name, _ := inputs["medication_name"].(string)
			return DataItemEvent{ResourceType: "medication", ResourceID: name, Status: "filtered"}, true
		},
	}
}

func summarizeNoteTool(client llm.Client) Tool {
	return Tool{
		Name:        "summarize_note",
		Role:        RoleCompute,
		Category:    "analysis",
		Description: "Produce a short clinical summary of a note's text.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"note_text":{"type":"string"},"max_sentences":{"type":"integer"}},"required":["note_text"],"additionalProperties":false}`),
		UsesLLM:     true,
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			noteText, _ := inputs["note_text"].(string)
			resp, err := env.LLM.Call(ctx, llm.CallRequest{
				System:   "Summarize the clinical note in at most 3 sentences, preserving clinically significant findings.",
				Messages: []llm.Message{{Role: llm.RoleUser, Content: noteText}},
			})
			if err != nil {
				return nil, resp.Meta, err
			}
			return resp.Text, resp.Meta, nil
		},
		DataItemExtractor: func(inputs map[string]any) (DataItemEvent, bool) {
			return DataItemEvent{ResourceType: "note_summary", Status: "computed"}, true
		},
	}
}
