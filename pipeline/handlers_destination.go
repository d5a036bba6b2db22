// ABOUTME: DataDestination handler: turns the input value into rows and writes them through a connector.
// ABOUTME: Inside a loop a single object becomes one row tagged with the current row id.
package pipeline

import (
	"context"
	"fmt"

	"github.com/spyglass-search/talos/connector"
	"github.com/spyglass-search/talos/workflow"
)

// DestinationHandler runs DataDestination nodes.
type DestinationHandler struct {
	Connector connector.Connector
	Tokens    TokenProvider
}

// Kind returns KindDataDestination.
func (h *DestinationHandler) Kind() workflow.NodeKind { return workflow.KindDataDestination }

// Execute writes the input rows and reports how many were written.
func (h *DestinationHandler) Execute(ctx context.Context, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error) {
	dest := node.Destination()
	if dest == nil || !connector.DestinationConfigured(dest.Connection) {
		return workflow.Errorf(workflow.ErrConfiguration, "Please select a connection and destination sheet before running"), nil
	}
	if input == nil || input.Data == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "Destination node has no input to write"), nil
	}
	if h.Connector == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "no connector is configured"), nil
	}

	rows := rowsFor(input.Data, rc.Loop)
	req, err := connector.WriteRequest(dest.Connection, rows)
	if err != nil {
		return workflow.Errorf(workflow.ErrConfiguration, "%s", err.Error()), nil
	}
	tok, err := token(ctx, h.Tokens)
	if err != nil {
		return failure(ctx, err), nil
	}
	if _, err := h.Connector.Execute(ctx, dest.Connection, req, tok); err != nil {
		return failure(ctx, err), nil
	}

	verb := "Updated"
	if req.Action == connector.ActionAppendRows {
		verb = "Added"
	}
	return workflow.OK(workflow.StringContent{Content: fmt.Sprintf("%s %d rows", verb, len(rows))}), nil
}

// rowsFor resolves the value to write into rows: tables keep their rows, a
// list becomes one row per element, and a bare object is a single row.
// Null entries are dropped.
func rowsFor(p workflow.Payload, loop LoopContext) []workflow.Row {
	if t, ok := p.(workflow.TableResult); ok {
		rows := make([]workflow.Row, 0, len(t.Rows))
		for _, r := range t.Rows {
			if r != nil {
				rows = append(rows, cellRow(r))
			}
		}
		return rows
	}
	var rows []workflow.Row
	switch v := workflow.Value(p).(type) {
	case []any:
		for _, item := range v {
			if row := rowOf(item); row != nil {
				rows = append(rows, row)
			}
		}
	default:
		if obj, ok := workflow.ObjectView(p); ok {
			v = obj
		}
		row := rowOf(v)
		if row == nil {
			return nil
		}
		if loop.IsInLoop && loop.RowID != nil {
			if _, tagged := row[workflow.RowIDField]; !tagged {
				row[workflow.RowIDField] = loop.RowID
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func rowOf(v any) workflow.Row {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return cellRow(t)
	case workflow.Row:
		return cellRow(t)
	case workflow.Payload:
		if obj, ok := workflow.ObjectView(t); ok {
			return cellRow(obj)
		}
		return rowOf(workflow.Value(t))
	default:
		return workflow.Row{"value": cellValue(t)}
	}
}

func cellRow(m map[string]any) workflow.Row {
	row := make(workflow.Row, len(m))
	for k, v := range m {
		row[k] = cellValue(v)
	}
	return row
}

// cellValue flattens string content to its text so sheet cells hold plain
// strings.
func cellValue(v any) any {
	switch t := v.(type) {
	case workflow.StringContent:
		return t.Content
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cellValue(item)
		}
		return out
	case map[string]any:
		return cellRow(t)
	default:
		return workflow.Plain(v)
	}
}
