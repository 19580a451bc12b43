package catalog

import "github.com/clinicflow/workflow-engine/internal/llm"

// NewBuiltin assembles the catalog's default tool set: every reader and
// writer tool, plus the compute tools bound to client.
func NewBuiltin(client llm.Client) (*Catalog, error) {
	tools := make([]Tool, 0, 12)
	tools = append(tools, ReaderTools()...)
	tools = append(tools, ComputeTools(client)...)
	tools = append(tools, WriterTools()...)
	return New(tools...)
}
