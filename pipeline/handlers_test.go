// ABOUTME: Tests for the kind-specific node handlers against fake collaborators.
// ABOUTME: Covers source variants, destination row shaping, templates, extraction and summarize polling.
package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spyglass-search/talos/connector"
	"github.com/spyglass-search/talos/workflow"
)

func TestSourceHandler(t *testing.T) {
	h := &SourceHandler{
		Fetcher:   &fakeFetcher{pages: map[string]string{"https://example.com": "page text"}},
		Connector: nameSheet(),
	}
	urlNode := func(url string) *workflow.Node {
		return &workflow.Node{ID: "u", Kind: workflow.KindDataSource, Data: &workflow.SourceData{Type: workflow.SourceURL, URL: url}}
	}
	fileNode := &workflow.Node{ID: "f", Kind: workflow.KindDataSource, Data: &workflow.SourceData{Type: workflow.SourceFile, File: "notes.pdf"}}

	tests := []struct {
		name string
		node *workflow.Node
		want *workflow.NodeResult
	}{
		{"text", textNode("t", "hello"), workflow.OK(workflow.StringContent{Content: "hello"})},
		{"url", urlNode("https://example.com"), workflow.OK(workflow.StringContent{Content: "page text"})},
		{"url transport failure", urlNode("https://missing.example"), workflow.Errorf(workflow.ErrTransport, "404 not found")},
		{"url missing", urlNode(""), workflow.Errorf(workflow.ErrConfiguration, "Please enter a URL to fetch")},
		{"no parser", fileNode, workflow.Errorf(workflow.ErrConfiguration, "no file parser is configured")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Execute(context.Background(), nil, tt.node, RunContext{})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("connection", func(t *testing.T) {
		got, err := h.Execute(context.Background(), nil, sheetNode("s"), RunContext{})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		table, ok := got.Data.(workflow.TableResult)
		if !ok || len(table.Rows) != 3 {
			t.Fatalf("expected a 3-row table, got %#v", got.Data)
		}
	})
}

func TestSourceHandlerCRMObject(t *testing.T) {
	crm := &objectConnector{object: map[string]any{"id": "42", "email": "ada@example.com"}}
	h := &SourceHandler{Connector: crm}
	node := &workflow.Node{ID: "c", Kind: workflow.KindDataSource, Data: &workflow.SourceData{
		Type: workflow.SourceConnection,
		Connection: &workflow.ConnectionData{
			ConnectionType: workflow.ConnectionHubspot,
			ObjectType:     "contacts",
			ObjectID:       "42",
			Action:         workflow.CRMSingleObject,
		},
	}}
	got, err := h.Execute(context.Background(), nil, node, RunContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if diff := cmp.Diff(workflow.OK(workflow.Object(crm.object)), got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if crm.req.Action != connector.ActionGetObject || crm.req.ObjectID != "42" {
		t.Errorf("unexpected request %+v", crm.req)
	}
}

type objectConnector struct {
	object map[string]any
	req    connector.Request
}

func (o *objectConnector) Execute(ctx context.Context, conn *workflow.ConnectionData, req connector.Request, token string) (*connector.Response, error) {
	o.req = req
	return &connector.Response{Object: o.object}, nil
}

func (o *objectConnector) ProbeHeader(context.Context, *workflow.ConnectionData, string) (workflow.Row, error) {
	return nil, errors.New("not a sheet")
}

func TestDestinationHandler(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		input    workflow.Payload
		loop     LoopContext
		wantRows []workflow.Row
		wantMsg  string
	}{
		{
			name:     "object outside loop",
			action:   workflow.ActionAppend,
			input:    workflow.Object{"name": "Ada"},
			wantRows: []workflow.Row{{"name": "Ada"}},
			wantMsg:  "Added 1 rows",
		},
		{
			name:     "object in loop is tagged with the row id",
			action:   workflow.ActionUpdate,
			input:    workflow.ExtractResult{ExtractedData: map[string]any{"name": "Ada"}},
			loop:     LoopContext{IsInLoop: true, LoopIndex: 0, RowID: int64(7)},
			wantRows: []workflow.Row{{"name": "Ada", workflow.RowIDField: int64(7)}},
			wantMsg:  "Updated 1 rows",
		},
		{
			name:   "list drops nulls and flattens string content",
			action: workflow.ActionAppend,
			input: workflow.List{
				map[string]any{"tags": []any{workflow.StringContent{Content: "a"}}},
				nil,
				map[string]any{"tags": "b"},
			},
			wantRows: []workflow.Row{{"tags": []any{"a"}}, {"tags": "b"}},
			wantMsg:  "Added 2 rows",
		},
		{
			name:     "loop result writes each iteration's value",
			action:   workflow.ActionAppend,
			input:    workflow.LoopResult{LoopResults: []workflow.MultiNodeResult{{workflow.OK(workflow.StringContent{Content: "x"})}}},
			wantRows: []workflow.Row{{"value": "x"}},
			wantMsg:  "Added 1 rows",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sheets := &fakeSheets{}
			h := &DestinationHandler{Connector: sheets}
			got, err := h.Execute(context.Background(), workflow.OK(tt.input), destinationNode("d", tt.action), RunContext{Loop: tt.loop})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if diff := cmp.Diff(workflow.OK(workflow.StringContent{Content: tt.wantMsg}), got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantRows, sheets.requests[0].Rows); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDestinationHandlerNeedsConfiguration(t *testing.T) {
	h := &DestinationHandler{Connector: &fakeSheets{}}
	node := &workflow.Node{ID: "d", Kind: workflow.KindDataDestination, Data: &workflow.DestinationData{}}
	got, _ := h.Execute(context.Background(), workflow.OK(workflow.Object{"a": 1}), node, RunContext{})
	if got.ErrorKind != workflow.ErrConfiguration || got.Error != "Please select a connection and destination sheet before running" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestTemplateHandler(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		varMapping map[string]string
		input      *workflow.NodeResult
		want       *workflow.NodeResult
	}{
		{
			name:     "string input binds to every variable",
			template: "{{content}}!",
			input:    workflow.OK(workflow.StringContent{Content: "hello"}),
			want:     workflow.OK(workflow.StringContent{Content: "hello!"}),
		},
		{
			name:       "var mapping selects another field",
			template:   "Dear {{who}}",
			varMapping: map[string]string{"who": "first_name"},
			input:      workflow.OK(workflow.Object{"first_name": "Ada"}),
			want:       workflow.OK(workflow.StringContent{Content: "Dear Ada"}),
		},
		{
			name:     "summary fields",
			template: "{{summary}} / {{bulletSummary}}",
			input:    workflow.OK(workflow.SummaryResult{Summary: "s", BulletSummary: "- b"}),
			want:     workflow.OK(workflow.StringContent{Content: "s / - b"}),
		},
		{
			name:     "each block over a list field",
			template: "{{#each people}}{{this}},{{/each}}",
			input:    workflow.OK(workflow.Object{"people": []any{"a", workflow.StringContent{Content: "b"}}}),
			want:     workflow.OK(workflow.StringContent{Content: "a,b,"}),
		},
		{
			name:     "nil input",
			template: "{{x}}",
			want:     workflow.Errorf(workflow.ErrConfiguration, "Invalid template node input"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &workflow.Node{ID: "t", Kind: workflow.KindTemplate, Data: &workflow.TemplateData{Template: tt.template, VarMapping: tt.varMapping}}
			got, err := (&TemplateHandler{}).Execute(context.Background(), tt.input, node, RunContext{})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTemplateVariables(t *testing.T) {
	tests := []struct {
		template string
		want     []string
	}{
		{"Hello {{name}}", []string{"name"}},
		{"{{a}} {{b.c}} {{a}}", []string{"a", "b"}},
		{"{{#if vip}}{{greeting}}{{else}}{{fallback}}{{/if}}", []string{"fallback", "greeting", "vip"}},
		{"{{#each items}}{{title}}{{@index}}{{/each}}", []string{"items"}},
		{"no variables", []string{}},
	}
	for _, tt := range tests {
		got, err := TemplateVariables(tt.template)
		if err != nil {
			t.Fatalf("TemplateVariables(%q): %v", tt.template, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("TemplateVariables(%q) mismatch (-want +got):\n%s", tt.template, diff)
		}
	}
	if _, err := TemplateVariables("{{#if x}}"); err == nil {
		t.Error("expected a parse error for an unclosed block")
	}
}

func TestExtractHandler(t *testing.T) {
	asker := &fakeAsker{answer: map[string]any{"name": "Ada", "age": 36.0}}
	h := &ExtractHandler{Asker: asker, Logger: quietLogger()}
	node := extractNode("e")

	got, err := h.Execute(context.Background(), workflow.OK(workflow.Object{"bio": "Ada, 36"}), node, RunContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := workflow.OK(workflow.ExtractResult{ExtractedData: asker.answer, Schema: node.Extract().Schema})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	req := asker.calls[0]
	if req.Query != "find people" || req.Text != `{"bio":"Ada, 36"}` {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestExtractHandlerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &ExtractHandler{Asker: &fakeAsker{err: context.Canceled}}
	got, err := h.Execute(ctx, workflow.OK(workflow.StringContent{Content: "x"}), extractNode("e"), RunContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !got.IsCanceled() {
		t.Errorf("expected canceled result, got %+v", got)
	}
}

func TestSummarizeHandlerPollsUntilComplete(t *testing.T) {
	tasks := &fakeTasks{statuses: []TaskStatus{
		{Status: TaskQueued},
		{Status: TaskRunning},
		{Status: "Complete: done", Summary: "short", BulletSummary: "- one"},
	}}
	h := &SummarizeHandler{Tasks: tasks, PollInterval: time.Millisecond}
	got, err := h.Execute(context.Background(), workflow.OK(workflow.StringContent{Content: "long text"}), summarizeNode("s"), RunContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := workflow.OK(workflow.SummaryResult{Summary: "short", BulletSummary: "- one"})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if tasks.polls != 3 || tasks.submitted[0] != "long text" {
		t.Errorf("polls=%d submitted=%v", tasks.polls, tasks.submitted)
	}
}

func TestSummarizeHandlerFailedTask(t *testing.T) {
	tasks := &fakeTasks{statuses: []TaskStatus{{Status: TaskFailed, Error: "text too long"}}}
	h := &SummarizeHandler{Tasks: tasks, PollInterval: time.Millisecond}
	got, _ := h.Execute(context.Background(), workflow.OK(workflow.StringContent{Content: "x"}), summarizeNode("s"), RunContext{})
	if diff := cmp.Diff(workflow.Errorf(workflow.ErrTransport, "text too long"), got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeHandlerStopsOnCancel(t *testing.T) {
	tasks := &fakeTasks{statuses: []TaskStatus{{Status: TaskRunning}}}
	h := &SummarizeHandler{Tasks: tasks, PollInterval: time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, _ := h.Execute(ctx, workflow.OK(workflow.StringContent{Content: "x"}), summarizeNode("s"), RunContext{})
	if !got.IsCanceled() {
		t.Errorf("expected canceled result, got %+v", got)
	}
}
