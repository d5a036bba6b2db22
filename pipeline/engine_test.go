// ABOUTME: Tests for the execution engine: ordering, memoization, loops, cancellation and fail-fast behavior.
// ABOUTME: Handlers are the real defaults wrapped in counters, backed by in-memory fakes.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spyglass-search/talos/workflow"
)

type harness struct {
	sheets    *fakeSheets
	asker     *fakeAsker
	registry  *HandlerRegistry
	source    *countingHandler
	extract   *countingHandler
	template  *countingHandler
	engine    *Engine
	eventsMu  sync.Mutex
	eventList []EngineEvent
}

func newHarness(sheets *fakeSheets, asker *fakeAsker) *harness {
	if sheets == nil {
		sheets = nameSheet()
	}
	if asker == nil {
		asker = &fakeAsker{answer: map[string]any{"name": "Ada", "age": 36}}
	}
	h := &harness{sheets: sheets, asker: asker}
	reg := DefaultHandlerRegistry(Collaborators{Connector: sheets, Asker: asker, Tokens: StaticToken("tok"), Logger: quietLogger()})
	h.source = &countingHandler{NodeHandler: reg.Get(workflow.KindDataSource)}
	h.extract = &countingHandler{NodeHandler: reg.Get(workflow.KindExtract)}
	h.template = &countingHandler{NodeHandler: reg.Get(workflow.KindTemplate)}
	reg.Register(h.source)
	reg.Register(h.extract)
	reg.Register(h.template)
	h.registry = reg
	h.engine = NewEngine(EngineConfig{
		Handlers: reg,
		Inferrer: NewInferrer(sheets, StaticToken("tok"), nil, quietLogger()),
		EventHandler: func(evt EngineEvent) {
			h.eventsMu.Lock()
			defer h.eventsMu.Unlock()
			h.eventList = append(h.eventList, evt)
		},
		Logger: quietLogger(),
	})
	return h
}

func (h *harness) eventTypes() []EngineEventType {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	out := make([]EngineEventType, len(h.eventList))
	for i, e := range h.eventList {
		out[i] = e.Type
	}
	return out
}

func TestRunTextThenTemplate(t *testing.T) {
	h := newHarness(nil, nil)
	inst := h.engine.NewInstance([]*workflow.Node{
		textNode("src", "hello"),
		templateNode("tpl", "{{content}}"),
	}, Observer{})

	result, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := workflow.OK(workflow.StringContent{Content: "hello"})
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("terminal result mismatch (-want +got):\n%s", diff)
	}
	results := inst.Results()
	for _, id := range []string{"src", "tpl"} {
		got, ok := results[id]
		if !ok {
			t.Fatalf("no stored result for %s", id)
		}
		if diff := cmp.Diff(want, got.Result); diff != "" {
			t.Errorf("%s result mismatch (-want +got):\n%s", id, diff)
		}
		if got.FinishedAt.Before(got.StartedAt) {
			t.Errorf("%s finished before it started", id)
		}
	}
	if inst.RunID() == "" {
		t.Error("expected a run id")
	}

	wantEvents := []EngineEventType{
		EventRunStarted,
		EventNodeStarted, EventNodeCompleted,
		EventNodeStarted, EventNodeCompleted,
		EventRunCompleted,
	}
	if diff := cmp.Diff(wantEvents, h.eventTypes()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRunEmptyWorkflow(t *testing.T) {
	h := newHarness(nil, nil)
	result, err := h.engine.NewInstance(nil, Observer{}).Run(context.Background())
	if err != nil || result != nil {
		t.Fatalf("expected nil result and error, got %v, %v", result, err)
	}
}

func TestNodesRunInOrderAfterRecording(t *testing.T) {
	h := newHarness(nil, nil)
	var running []string
	var inst *Instance
	h.template.before = func(node *workflow.Node) {
		if _, ok := inst.Results()["ext"]; !ok {
			t.Errorf("template ran before the extract result was recorded")
		}
	}
	inst = h.engine.NewInstance([]*workflow.Node{
		textNode("src", "Ada is 36"),
		extractNode("ext"),
		templateNode("tpl", "{{name}} is {{age}}"),
	}, Observer{RunningNodeChanged: func(id string) { running = append(running, id) }})

	result, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(workflow.StringContent{Content: "Ada is 36"}, result.Data); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"src", "ext", "tpl", ""}, running); diff != "" {
		t.Errorf("running node sequence mismatch (-want +got):\n%s", diff)
	}
	if got := h.asker.calls[0].Text; got != "Ada is 36" {
		t.Errorf("extract received %q", got)
	}
}

func TestLoopOverSheetRows(t *testing.T) {
	h := newHarness(nil, nil)
	inst := h.engine.NewInstance([]*workflow.Node{
		sheetNode("src"),
		loopNode("loop", []workflow.Mapping{rename("Name", "name")}, templateNode("tpl", "{{name}}")),
	}, Observer{})

	result, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failed() {
		t.Fatalf("run failed: %s", result.Error)
	}
	loop, ok := result.Data.(workflow.LoopResult)
	if !ok {
		t.Fatalf("expected LoopResult, got %T", result.Data)
	}
	if len(loop.LoopResults) != 3 {
		t.Fatalf("expected 3 iterations, got %d", len(loop.LoopResults))
	}
	for i, name := range []string{"Ada", "Grace", "Linus"} {
		iteration := loop.LoopResults[i]
		last := iteration[len(iteration)-1]
		if diff := cmp.Diff(workflow.StringContent{Content: name}, last.Data); diff != "" {
			t.Errorf("iteration %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if diff := cmp.Diff([]any{"Ada", "Grace", "Linus"}, workflow.Value(result.Data)); diff != "" {
		t.Errorf("loop value mismatch (-want +got):\n%s", diff)
	}
	if _, ok := inst.Results()["tpl"]; ok {
		t.Error("loop children must not be stored in the top-level result map")
	}
	if got := h.sheets.tokens[0]; got != "tok" {
		t.Errorf("connector received token %q", got)
	}
}

func TestLoopWritesRowsWithRowIDs(t *testing.T) {
	sheets := nameSheet()
	h := newHarness(sheets, nil)
	inst := h.engine.NewInstance([]*workflow.Node{
		sheetNode("src"),
		loopNode("loop", nil, destinationNode("dst", workflow.ActionUpdate)),
	}, Observer{})

	result, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failed() {
		t.Fatalf("run failed: %s", result.Error)
	}
	var writes [][]workflow.Row
	for _, req := range sheets.requests[1:] {
		writes = append(writes, req.Rows)
	}
	want := [][]workflow.Row{
		{{"Name": "Ada", workflow.RowIDField: int64(2)}},
		{{"Name": "Grace", workflow.RowIDField: int64(3)}},
		{{"Name": "Linus", workflow.RowIDField: int64(4)}},
	}
	if diff := cmp.Diff(want, writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyLoop(t *testing.T) {
	sheets := nameSheet()
	sheets.rows = nil
	h := newHarness(sheets, nil)
	inst := h.engine.NewInstance([]*workflow.Node{
		sheetNode("src"),
		loopNode("loop", nil, templateNode("tpl", "{{Name}}")),
	}, Observer{})

	result, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := workflow.OK(workflow.LoopResult{LoopResults: []workflow.MultiNodeResult{}})
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if h.template.count() != 0 {
		t.Errorf("template ran %d times over an empty list", h.template.count())
	}
}

func TestMemoizationReRunsOnlyLastNode(t *testing.T) {
	h := newHarness(nil, nil)
	inst := h.engine.NewInstance([]*workflow.Node{
		textNode("src", "Ada is 36"),
		extractNode("ext"),
		templateNode("tpl", "{{name}}"),
	}, Observer{})

	first, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-run changed the terminal result (-first +second):\n%s", diff)
	}
	if got := h.source.count(); got != 1 {
		t.Errorf("source ran %d times, want 1", got)
	}
	if got := len(h.asker.calls); got != 1 {
		t.Errorf("extract backend called %d times, want 1", got)
	}
	if got := h.template.count(); got != 2 {
		t.Errorf("template ran %d times, want 2", got)
	}
	memoized := 0
	for _, typ := range h.eventTypes() {
		if typ == EventNodeMemoized {
			memoized++
		}
	}
	if memoized != 2 {
		t.Errorf("expected 2 memoized events, got %d", memoized)
	}
}

func TestMemoizationRerunsEditedNodeAndLater(t *testing.T) {
	h := newHarness(nil, nil)
	inst := h.engine.NewInstance([]*workflow.Node{
		textNode("src", "Ada is 36"),
		extractNode("ext"),
		templateNode("tpl", "{{name}}"),
	}, Observer{})
	if _, err := inst.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	edited := extractNode("ext")
	edited.Data.(*workflow.ExtractData).Query = "find the person"
	nodes := inst.Nodes()
	inst.SetNodes([]*workflow.Node{nodes[0], edited, nodes[2]})
	if _, err := inst.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := h.source.count(); got != 1 {
		t.Errorf("source ran %d times, want 1", got)
	}
	if got := len(h.asker.calls); got != 2 {
		t.Errorf("extract backend called %d times, want 2", got)
	}
}

func TestFailedNodeIsNotMemoized(t *testing.T) {
	asker := &fakeAsker{err: errors.New("model unavailable")}
	h := newHarness(nil, asker)
	inst := h.engine.NewInstance([]*workflow.Node{
		textNode("src", "Ada is 36"),
		extractNode("ext"),
		templateNode("tpl", "{{name}}"),
	}, Observer{})

	result, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Failed() || result.ErrorKind != workflow.ErrTransport || result.Error != "model unavailable" {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.template.count() != 0 {
		t.Error("template ran after a failed node")
	}
	results := inst.Results()
	if _, ok := results["tpl"]; ok {
		t.Error("unexpected result for node after the failure")
	}
	if got := results["ext"].Result; !got.Failed() {
		t.Errorf("failed result not recorded: %+v", got)
	}

	asker.err = nil
	asker.answer = map[string]any{"name": "Ada"}
	result, err = inst.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if diff := cmp.Diff(workflow.StringContent{Content: "Ada"}, result.Data); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if got := h.source.count(); got != 1 {
		t.Errorf("source ran %d times, want 1", got)
	}
	if got := len(asker.calls); got != 2 {
		t.Errorf("extract backend called %d times, want 2", got)
	}
}

func TestCancelMidLoop(t *testing.T) {
	h := newHarness(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst := h.engine.NewInstance([]*workflow.Node{
		sheetNode("src"),
		loopNode("loop", nil, templateNode("tpl", "{{Name}}")),
	}, Observer{Event: func(evt EngineEvent) {
		if evt.Type == EventLoopIteration && evt.Data["index"] == 2 {
			cancel()
		}
	}})

	result, err := inst.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsCanceled() || result.Error != workflow.CanceledMessage {
		t.Fatalf("expected canceled result, got %+v", result)
	}
	loop, ok := result.Data.(workflow.LoopResult)
	if !ok {
		t.Fatalf("expected partial LoopResult, got %T", result.Data)
	}
	if len(loop.LoopResults) != 2 {
		t.Errorf("expected 2 completed iterations, got %d", len(loop.LoopResults))
	}
	if _, ok := inst.Results()["loop"]; ok {
		t.Error("canceled loop must not be stored")
	}
	types := h.eventTypes()
	if types[len(types)-1] != EventRunCanceled {
		t.Errorf("expected run.canceled last, got %v", types)
	}
}

func TestCanceledBeforeFirstNode(t *testing.T) {
	h := newHarness(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := h.engine.NewInstance([]*workflow.Node{textNode("src", "x")}, Observer{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsCanceled() {
		t.Errorf("expected canceled result, got %+v", result)
	}
	if h.source.count() != 0 {
		t.Error("source ran after cancellation")
	}
}

func TestLoopChildFailureKeepsPartialResults(t *testing.T) {
	asker := &fakeAsker{err: errors.New("quota exceeded")}
	h := newHarness(nil, asker)
	inst := h.engine.NewInstance([]*workflow.Node{
		sheetNode("src"),
		loopNode("loop", nil, extractNode("ext"), templateNode("tpl", "{{name}}")),
		templateNode("after", "{{content}}"),
	}, Observer{})

	result, err := inst.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Failed() || result.Error != "quota exceeded" {
		t.Fatalf("unexpected result %+v", result)
	}
	loop, ok := result.Data.(workflow.LoopResult)
	if !ok || len(loop.LoopResults) != 1 || len(loop.LoopResults[0]) != 1 {
		t.Fatalf("expected one iteration with one result, got %#v", result.Data)
	}
	if h.template.count() != 0 {
		t.Error("nodes after the failing child ran")
	}
	if _, ok := inst.Results()["loop"]; !ok {
		t.Error("failed loop result should be stored")
	}
}

func TestValidationFailureBlocksRun(t *testing.T) {
	h := newHarness(nil, nil)
	inst := h.engine.NewInstance([]*workflow.Node{extractNode("ext")}, Observer{})

	result, err := inst.Run(context.Background())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if result == nil || result.ErrorKind != workflow.ErrValidation {
		t.Fatalf("expected validation result, got %+v", result)
	}
	if !strings.Contains(result.Error, MsgInvalidStart) {
		t.Errorf("error %q does not mention the invalid start", result.Error)
	}
	if h.extract.count() != 0 {
		t.Error("handler ran despite validation failure")
	}
	if diff := cmp.Diff([]EngineEventType{EventValidationFailed}, h.eventTypes()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestValidationIsCachedPerWorkflow(t *testing.T) {
	h := newHarness(nil, nil)
	inst := h.engine.NewInstance([]*workflow.Node{
		sheetNode("src"),
		loopNode("loop", nil, templateNode("tpl", "{{Name}}")),
	}, Observer{})
	for i := 0; i < 2; i++ {
		if _, err := inst.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	if got := h.sheets.probeCount(); got != 1 {
		t.Errorf("header probed %d times, want 1", got)
	}
}

func TestHandlerPanicBecomesError(t *testing.T) {
	h := newHarness(nil, nil)
	h.registry.Register(funcHandler{kind: workflow.KindTemplate, fn: func(context.Context, *workflow.NodeResult, *workflow.Node, RunContext) (*workflow.NodeResult, error) {
		panic("boom")
	}})
	result, err := h.engine.NewInstance([]*workflow.Node{
		textNode("src", "x"),
		templateNode("tpl", "{{content}}"),
	}, Observer{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Failed() || !strings.Contains(result.Error, "panic") {
		t.Errorf("expected panic error result, got %+v", result)
	}
}

func TestRunInProgress(t *testing.T) {
	h := newHarness(nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	h.registry.Register(funcHandler{kind: workflow.KindTemplate, fn: func(context.Context, *workflow.NodeResult, *workflow.Node, RunContext) (*workflow.NodeResult, error) {
		close(started)
		<-release
		return workflow.OK(workflow.StringContent{Content: "done"}), nil
	}})
	inst := h.engine.NewInstance([]*workflow.Node{
		textNode("src", "x"),
		templateNode("tpl", "{{content}}"),
	}, Observer{})

	done := make(chan error, 1)
	go func() {
		_, err := inst.Run(context.Background())
		done <- err
	}()
	<-started
	if _, err := inst.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if inst.Running() {
		t.Error("instance still marked running")
	}
}

func TestResultsChangedReceivesCopies(t *testing.T) {
	h := newHarness(nil, nil)
	var snapshots []map[string]TimestampedResult
	inst := h.engine.NewInstance([]*workflow.Node{
		textNode("src", "x"),
		templateNode("tpl", "{{content}}"),
	}, Observer{ResultsChanged: func(m map[string]TimestampedResult) {
		snapshots = append(snapshots, m)
	}})
	if _, err := inst.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(snapshots))
	}
	if len(snapshots[0]) != 1 || len(snapshots[1]) != 2 {
		t.Errorf("unexpected snapshot sizes %d, %d", len(snapshots[0]), len(snapshots[1]))
	}
}
