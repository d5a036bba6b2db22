// ABOUTME: Node handler interface, registry and the panic-safe dispatch used by the engine.
// ABOUTME: Handlers return failures as NodeResult values; Go errors are reserved for unexpected faults.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/spyglass-search/talos/connector"
	"github.com/spyglass-search/talos/workflow"
)

// LoopContext tells handlers they are writing one row of a batch.
type LoopContext struct {
	IsInLoop  bool
	LoopIndex int
	// RowID is the row identity of the current item, or nil.
	RowID any
}

// RunContext is the per-call context handed to handlers.
type RunContext struct {
	RunID  string
	Loop   LoopContext
	Logger *slog.Logger
}

// NodeHandler executes one node kind.
type NodeHandler interface {
	// Kind returns the node kind this handler serves.
	Kind() workflow.NodeKind

	// Execute runs the node against the previous node's (mapped) result,
	// which is nil for the first node. Expected failures are returned as
	// error results; a non-nil error means the handler itself broke.
	Execute(ctx context.Context, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error)
}

// HandlerRegistry maps node kinds to handlers.
type HandlerRegistry struct {
	handlers map[workflow.NodeKind]NodeHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[workflow.NodeKind]NodeHandler)}
}

// Register adds a handler keyed by its Kind, replacing any previous one.
func (r *HandlerRegistry) Register(h NodeHandler) {
	r.handlers[h.Kind()] = h
}

// Get returns the handler for kind, or nil.
func (r *HandlerRegistry) Get(kind workflow.NodeKind) NodeHandler {
	return r.handlers[kind]
}

// Collaborators wires external services into the default handlers. Nil
// collaborators make the corresponding node kinds fail with a configuration
// error when they run.
type Collaborators struct {
	Fetcher      Fetcher
	Parser       FileParser
	Asker        Asker
	Summaries    SummaryTasks
	Connector    connector.Connector
	Tokens       TokenProvider
	PollInterval time.Duration
	Logger       *slog.Logger
}

// DefaultPollInterval is how often summarize tasks are polled.
const DefaultPollInterval = time.Second

// DefaultHandlerRegistry registers a handler for every non-Loop node kind.
// Loop nodes are driven by the engine itself.
func DefaultHandlerRegistry(c Collaborators) *HandlerRegistry {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := c.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	reg := NewHandlerRegistry()
	reg.Register(&SourceHandler{Fetcher: c.Fetcher, Parser: c.Parser, Connector: c.Connector, Tokens: c.Tokens})
	reg.Register(&DestinationHandler{Connector: c.Connector, Tokens: c.Tokens})
	reg.Register(&ExtractHandler{Asker: c.Asker, Logger: logger})
	reg.Register(&SummarizeHandler{Tasks: c.Summaries, PollInterval: poll})
	reg.Register(&TemplateHandler{})
	return reg
}

// safeExecute runs a handler, converting panics into errors.
func safeExecute(ctx context.Context, h NodeHandler, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (result *workflow.NodeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic in node %q: %v\n%s", node.ID, r, debug.Stack())
			result = nil
		}
	}()
	return h.Execute(ctx, input, node, rc)
}

// failure classifies a collaborator error, reporting cancellation distinctly.
func failure(ctx context.Context, err error) *workflow.NodeResult {
	if ctx.Err() != nil {
		return workflow.Canceled(nil)
	}
	return workflow.Errorf(workflow.ErrTransport, "%s", err.Error())
}
