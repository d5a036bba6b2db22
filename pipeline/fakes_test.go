// ABOUTME: Hand-written fakes and node builders shared by the pipeline tests.
// ABOUTME: The sheet connector serves rows from memory and counts header probes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spyglass-search/talos/connector"
	"github.com/spyglass-search/talos/workflow"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSheets is an in-memory spreadsheet connector.
type fakeSheets struct {
	mu       sync.Mutex
	header   workflow.Row
	rows     []workflow.Row
	probes   int
	probeErr error
	requests []connector.Request
	tokens   []string
}

func (f *fakeSheets) Execute(ctx context.Context, conn *workflow.ConnectionData, req connector.Request, token string) (*connector.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.tokens = append(f.tokens, token)
	switch req.Action {
	case connector.ActionReadRows:
		rows := make([]workflow.Row, len(f.rows))
		copy(rows, f.rows)
		return &connector.Response{Rows: rows, Header: f.header}, nil
	case connector.ActionAppendRows, connector.ActionUpdateRows:
		f.rows = append(f.rows, req.Rows...)
		return &connector.Response{}, nil
	}
	return nil, fmt.Errorf("unsupported action %s", req.Action)
}

func (f *fakeSheets) ProbeHeader(ctx context.Context, conn *workflow.ConnectionData, token string) (workflow.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.header, nil
}

func (f *fakeSheets) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

// nameSheet returns a three-row sheet with a Name column.
func nameSheet() *fakeSheets {
	return &fakeSheets{
		header: workflow.Row{"Name": "Name", workflow.RowIDField: int64(1)},
		rows: []workflow.Row{
			{"Name": "Ada", workflow.RowIDField: int64(2)},
			{"Name": "Grace", workflow.RowIDField: int64(3)},
			{"Name": "Linus", workflow.RowIDField: int64(4)},
		},
	}
}

type fakeAsker struct {
	answer any
	err    error
	calls  []AskRequest
}

func (f *fakeAsker) Ask(ctx context.Context, req AskRequest) (any, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) FetchURL(ctx context.Context, url string) (string, error) {
	page, ok := f.pages[url]
	if !ok {
		return "", errors.New("404 not found")
	}
	return page, nil
}

// fakeTasks returns the scripted statuses in order, repeating the last.
type fakeTasks struct {
	mu        sync.Mutex
	submitted []string
	statuses  []TaskStatus
	polls     int
}

func (f *fakeTasks) Submit(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return "task-1", nil
}

func (f *fakeTasks) Poll(ctx context.Context, taskID string) (TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.polls++
	return f.statuses[i], nil
}

// countingHandler wraps a handler and counts its invocations.
type countingHandler struct {
	NodeHandler
	mu     sync.Mutex
	calls  int
	before func(node *workflow.Node)
}

func (c *countingHandler) Execute(ctx context.Context, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.before != nil {
		c.before(node)
	}
	return c.NodeHandler.Execute(ctx, input, node, rc)
}

func (c *countingHandler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// funcHandler adapts a function to NodeHandler.
type funcHandler struct {
	kind workflow.NodeKind
	fn   func(ctx context.Context, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error)
}

func (f funcHandler) Kind() workflow.NodeKind { return f.kind }

func (f funcHandler) Execute(ctx context.Context, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error) {
	return f.fn(ctx, input, node, rc)
}

func textNode(id, content string) *workflow.Node {
	return &workflow.Node{ID: id, Kind: workflow.KindDataSource, Data: &workflow.SourceData{Type: workflow.SourceText, Content: content}}
}

func sheetConn() *workflow.ConnectionData {
	return &workflow.ConnectionData{ConnectionID: 1, ConnectionType: workflow.ConnectionGSheets, SpreadsheetID: "ss", SheetID: "Sheet1"}
}

func sheetNode(id string) *workflow.Node {
	return &workflow.Node{ID: id, Kind: workflow.KindDataSource, Data: &workflow.SourceData{Type: workflow.SourceConnection, Connection: sheetConn()}}
}

func templateNode(id, tpl string) *workflow.Node {
	return &workflow.Node{ID: id, Kind: workflow.KindTemplate, Data: &workflow.TemplateData{Template: tpl, VarMapping: map[string]string{}}}
}

func extractNode(id string) *workflow.Node {
	return &workflow.Node{ID: id, Kind: workflow.KindExtract, Data: &workflow.ExtractData{
		Query: "find people",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
				"age":  map[string]any{"type": "integer"},
			},
		},
	}}
}

func summarizeNode(id string) *workflow.Node {
	return &workflow.Node{ID: id, Kind: workflow.KindSummarize, Data: &workflow.SummarizeData{}}
}

func destinationNode(id string, action string) *workflow.Node {
	conn := sheetConn()
	conn.Action = action
	return &workflow.Node{ID: id, Kind: workflow.KindDataDestination, Data: &workflow.DestinationData{Connection: conn}}
}

func loopNode(id string, mapping []workflow.Mapping, children ...*workflow.Node) *workflow.Node {
	return &workflow.Node{ID: id, Kind: workflow.KindLoop, IsContainer: true, Data: &workflow.LoopData{Actions: children}, Mapping: mapping}
}

func rename(from, to string) workflow.Mapping {
	return workflow.Mapping{From: from, To: to, Conversion: workflow.Conversion{Type: workflow.ConversionRename}}
}
