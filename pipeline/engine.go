// ABOUTME: Execution engine: validates a workflow, then steps through its nodes in order, fail-fast.
// ABOUTME: An Instance keeps results across runs so earlier successful nodes can be reused on re-run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spyglass-search/talos/workflow"
)

// ErrRunInProgress is returned when Run is called on an instance that is
// already running.
var ErrRunInProgress = errors.New("workflow run already in progress")

// EngineConfig holds configuration for the pipeline engine.
type EngineConfig struct {
	Handlers     *HandlerRegistry  // nil = DefaultHandlerRegistry with no collaborators
	Inferrer     *Inferrer         // nil = an inferrer without connector or cache
	EventHandler func(EngineEvent) // optional event callback for every instance
	Logger       *slog.Logger      // nil = slog.Default()
}

// Engine creates workflow instances that share one handler set.
type Engine struct {
	config EngineConfig
	logger *slog.Logger
}

// NewEngine creates a new pipeline engine with the given configuration.
func NewEngine(config EngineConfig) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Handlers == nil {
		config.Handlers = DefaultHandlerRegistry(Collaborators{Logger: logger})
	}
	if config.Inferrer == nil {
		config.Inferrer = NewInferrer(nil, nil, nil, logger)
	}
	return &Engine{config: config, logger: logger.With("component", "engine")}
}

// Inferrer returns the engine's shape inferrer.
func (e *Engine) Inferrer() *Inferrer { return e.config.Inferrer }

// Check infers shapes for nodes and validates them.
func (e *Engine) Check(ctx context.Context, nodes []*workflow.Node) ([]IODefinition, ValidationResult) {
	defs := e.config.Inferrer.Infer(ctx, nodes)
	return defs, Validate(defs)
}

// Instance is one workflow being edited and run. Results persist across
// runs of the same instance.
type Instance struct {
	engine   *Engine
	observer Observer

	mu           sync.Mutex
	running      bool
	nodes        []*workflow.Node
	results      map[string]TimestampedResult
	runKeys      map[string]string
	validatedKey string
	runID        string
	loop         LoopContext
}

// NewInstance creates an instance for nodes.
func (e *Engine) NewInstance(nodes []*workflow.Node, obs Observer) *Instance {
	return &Instance{
		engine:   e,
		observer: obs,
		nodes:    nodes,
		results:  make(map[string]TimestampedResult),
		runKeys:  make(map[string]string),
	}
}

// Nodes returns the instance's node list.
func (in *Instance) Nodes() []*workflow.Node {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.nodes
}

// SetNodes replaces the node list after an edit. Stored results are kept;
// nodes whose fingerprint changed are re-run on the next Run.
func (in *Instance) SetNodes(nodes []*workflow.Node) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.nodes = nodes
}

// Results returns a copy of the stored top-level results.
func (in *Instance) Results() map[string]TimestampedResult {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.snapshotLocked()
}

// RunID returns the id of the current or most recent run.
func (in *Instance) RunID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.runID
}

// Running reports whether a run is in progress.
func (in *Instance) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.running
}

func (in *Instance) snapshotLocked() map[string]TimestampedResult {
	out := make(map[string]TimestampedResult, len(in.results))
	for k, v := range in.results {
		out[k] = v
	}
	return out
}

func (in *Instance) notifyResults(snapshot map[string]TimestampedResult) {
	if in.observer.ResultsChanged != nil {
		in.observer.ResultsChanged(snapshot)
	}
}

func (in *Instance) notifyRunning(nodeID string) {
	if in.observer.RunningNodeChanged != nil {
		in.observer.RunningNodeChanged(nodeID)
	}
}

func (in *Instance) emitEvent(evt EngineEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.RunID == "" {
		evt.RunID = in.RunID()
	}
	if in.engine.config.EventHandler != nil {
		in.engine.config.EventHandler(evt)
	}
	if in.observer.Event != nil {
		in.observer.Event(evt)
	}
}

// Run executes the workflow. It returns the terminal result (the last
// node's output or the first failure), which is nil for an empty workflow.
// A workflow that fails validation returns an error result of kind
// validation together with a *ValidationError.
func (in *Instance) Run(ctx context.Context) (*workflow.NodeResult, error) {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return nil, ErrRunInProgress
	}
	in.running = true
	in.runID = ulid.Make().String()
	nodes := in.nodes
	validated := in.validatedKey
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		in.running = false
		in.loop = LoopContext{}
		in.mu.Unlock()
		in.notifyRunning("")
	}()

	if err := workflow.Check(nodes); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	logger := in.engine.logger.With("run", in.RunID())
	key := workflowKey(nodes)
	if key == "" || key != validated {
		_, vr := in.engine.Check(ctx, nodes)
		if !vr.OK() {
			verr := vr.Err()
			logger.Warn("workflow failed validation", "errors", len(vr.Errors))
			in.emitEvent(EngineEvent{Type: EventValidationFailed, Data: map[string]any{"errors": vr.Errors}})
			return workflow.Errorf(workflow.ErrValidation, "%s", verr.Error()), verr
		}
		in.mu.Lock()
		in.validatedKey = key
		in.mu.Unlock()
	}

	logger.Info("run started", "nodes", len(nodes))
	in.emitEvent(EngineEvent{Type: EventRunStarted, Data: map[string]any{"nodes": len(nodes)}})

	result := in.runSequence(ctx, nodes, nil, &ReplaceSink{inst: in}, true)

	switch {
	case result.IsCanceled():
		logger.Info("run canceled")
		in.emitEvent(EngineEvent{Type: EventRunCanceled})
	case result.Failed():
		logger.Warn("run failed", "error", result.Error)
		in.emitEvent(EngineEvent{Type: EventRunFailed, Data: map[string]any{"error": result.Error}})
	default:
		logger.Info("run completed")
		in.emitEvent(EngineEvent{Type: EventRunCompleted})
	}
	return result, nil
}

// runSequence steps through nodes carrying the previous result forward.
// Only the top-level sequence may reuse results from earlier runs.
func (in *Instance) runSequence(ctx context.Context, nodes []*workflow.Node, input *workflow.NodeResult, sink ResultSink, topLevel bool) *workflow.NodeResult {
	previous := input
	reusable := topLevel
	for i, node := range nodes {
		in.notifyRunning(node.ID)

		if reusable && i < len(nodes)-1 {
			if stored, ok := in.reusableResult(node); ok {
				in.emitEvent(EngineEvent{Type: EventNodeMemoized, NodeID: node.ID})
				previous = stored
				if node.Kind != workflow.KindLoop {
					previous = workflow.ApplyMapping(node, stored)
				}
				continue
			}
		}
		reusable = false

		if ctx.Err() != nil {
			return workflow.Canceled(nil)
		}

		sink.Begin(node)
		startedAt := time.Now()
		in.emitEvent(EngineEvent{Type: EventNodeStarted, NodeID: node.ID, Data: map[string]any{"kind": string(node.Kind)}})

		result := in.dispatch(ctx, node, previous)
		if result.IsCanceled() {
			return result
		}
		sink.Record(node, startedAt, result)

		if result.Failed() {
			in.emitEvent(EngineEvent{Type: EventNodeFailed, NodeID: node.ID, Data: map[string]any{"error": result.Error, "errorKind": string(result.ErrorKind)}})
			return result
		}
		in.emitEvent(EngineEvent{Type: EventNodeCompleted, NodeID: node.ID, Data: map[string]any{"duration_ms": time.Since(startedAt).Milliseconds()}})

		if node.Kind != workflow.KindLoop {
			result = workflow.ApplyMapping(node, result)
		}
		previous = result
	}
	return previous
}

// reusableResult returns the stored result of node when it succeeded and
// the node has not changed since.
func (in *Instance) reusableResult(node *workflow.Node) (*workflow.NodeResult, bool) {
	in.mu.Lock()
	stored, ok := in.results[node.ID]
	storedKey := in.runKeys[node.ID]
	in.mu.Unlock()
	if !ok || stored.Result == nil || stored.Result.Failed() {
		return nil, false
	}
	key := runKey(node)
	if key == "" || key != storedKey {
		return nil, false
	}
	return stored.Result, true
}

// dispatch runs one node and normalizes its outcome into a result.
func (in *Instance) dispatch(ctx context.Context, node *workflow.Node, input *workflow.NodeResult) *workflow.NodeResult {
	if node.Kind == workflow.KindLoop {
		return in.runLoop(ctx, node, input)
	}
	h := in.engine.config.Handlers.Get(node.Kind)
	if h == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "no handler registered for node kind %q", node.Kind)
	}
	rc := RunContext{
		RunID:  in.RunID(),
		Loop:   in.loopContext(),
		Logger: in.engine.logger.With("node", node.ID, "kind", string(node.Kind)),
	}
	result, err := safeExecute(ctx, h, input, node, rc)
	switch {
	case err != nil:
		in.engine.logger.Error("handler error", "node", node.ID, "error", err)
		return failure(ctx, err)
	case result == nil:
		return workflow.Errorf(workflow.ErrTransport, "node %q produced no result", node.ID)
	case result.Failed() && !result.IsCanceled() && ctx.Err() != nil:
		return workflow.Canceled(result.Data)
	}
	return result
}

func (in *Instance) loopContext() LoopContext {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.loop
}

func (in *Instance) setLoopContext(lc LoopContext) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.loop = lc
}
