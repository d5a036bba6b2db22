// ABOUTME: Extract handler: asks the extraction backend for JSON matching the node's schema.
// ABOUTME: Responses are checked against the schema with jsonschema-go; mismatches are only logged.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/spyglass-search/talos/workflow"
)

// ExtractHandler runs Extract nodes.
type ExtractHandler struct {
	Asker  Asker
	Logger *slog.Logger
}

// Kind returns KindExtract.
func (h *ExtractHandler) Kind() workflow.NodeKind { return workflow.KindExtract }

// Execute sends the query, input text and schema to the Asker.
func (h *ExtractHandler) Execute(ctx context.Context, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error) {
	data := node.Extract()
	if data == nil || data.Query == "" {
		return workflow.Errorf(workflow.ErrConfiguration, "Please enter a query for the extraction"), nil
	}
	if len(data.Schema) == 0 {
		return workflow.Errorf(workflow.ErrConfiguration, "Please define the fields to extract"), nil
	}
	if input == nil || input.Data == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "Extract node has no text to read"), nil
	}
	if h.Asker == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "no extraction backend is configured"), nil
	}

	answer, err := h.Asker.Ask(ctx, AskRequest{
		Query:      data.Query,
		Text:       workflow.Text(input.Data),
		JSONSchema: data.Schema,
	})
	if err != nil {
		return failure(ctx, err), nil
	}
	h.check(node, data.Schema, answer)
	return workflow.OK(workflow.ExtractResult{ExtractedData: answer, Schema: data.Schema}), nil
}

func (h *ExtractHandler) check(node *workflow.Node, raw map[string]any, answer any) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := workflow.ParseSchema(raw)
	if err != nil {
		logger.Warn("extract schema unreadable", "node", node.ID, "error", err)
		return
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		logger.Warn("extract schema unresolvable", "node", node.ID, "error", err)
		return
	}
	if err := resolved.Validate(answer); err != nil {
		logger.Warn("extract response does not match schema", "node", node.ID, "error", err)
	}
}
