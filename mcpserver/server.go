// ABOUTME: MCP server exposing workflow validation, shape inference and execution as tools.
// ABOUTME: Workflows are passed inline (JSON or YAML) or as a file path and run on a fresh instance.

package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spyglass-search/talos/pipeline"
	"github.com/spyglass-search/talos/workflow"
)

// Server wraps the MCP SDK server. Tools are registered by NewServer; run it
// with s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{}).
type Server struct {
	MCPServer *sdkmcp.Server
	engine    *pipeline.Engine
	logger    *slog.Logger
}

// NewServer creates the talos MCP server around engine.
func NewServer(engine *pipeline.Engine, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "talos", Version: version}, nil),
		engine:    engine,
		logger:    logger.With("component", "mcp"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "validate_workflow",
		Description: "Check that a workflow is fully configured and that every node accepts the output of the node before it.",
	}, s.handleValidate)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "infer_shapes",
		Description: "Predict the input and output type of every node in a workflow without running it.",
	}, s.handleInferShapes)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_workflow",
		Description: "Run a workflow to completion and return each node's outcome and the final output.",
	}, s.handleRun)
}

// --- Tool input/output types ---

type workflowInput struct {
	Workflow string `json:"workflow,omitempty" jsonschema:"workflow node list as JSON or YAML text"`
	Path     string `json:"path,omitempty" jsonschema:"path to a workflow file (.json, .yaml or .yml)"`
}

type validateOutput struct {
	Status string               `json:"status"`
	Errors []pipeline.NodeError `json:"errors"`
}

type shape struct {
	NodeID     string `json:"node_id"`
	ParentID   string `json:"parent_id,omitempty"`
	InputType  string `json:"input_type,omitempty"`
	OutputType string `json:"output_type,omitempty"`
	Output     string `json:"output,omitempty"`
	Mapped     string `json:"mapped_output,omitempty"`
}

type inferShapesOutput struct {
	Shapes []shape `json:"shapes"`
}

type nodeOutcome struct {
	NodeID string `json:"node_id"`
	Label  string `json:"label,omitempty"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

type runOutput struct {
	RunID  string        `json:"run_id"`
	Status string        `json:"status"`
	Output string        `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
	Nodes  []nodeOutcome `json:"nodes"`
}

// --- Tool handlers ---

func (s *Server) handleValidate(ctx context.Context, _ *sdkmcp.CallToolRequest, input workflowInput) (*sdkmcp.CallToolResult, validateOutput, error) {
	nodes, err := input.load()
	if err != nil {
		return nil, validateOutput{}, err
	}
	_, vr := s.engine.Check(ctx, nodes)
	return nil, validateOutput{Status: string(vr.Status), Errors: vr.Errors}, nil
}

func (s *Server) handleInferShapes(ctx context.Context, _ *sdkmcp.CallToolRequest, input workflowInput) (*sdkmcp.CallToolResult, inferShapesOutput, error) {
	nodes, err := input.load()
	if err != nil {
		return nil, inferShapesOutput{}, err
	}
	defs := s.engine.Inferrer().Infer(ctx, nodes)
	out := inferShapesOutput{Shapes: make([]shape, len(defs))}
	for i, d := range defs {
		out.Shapes[i] = shape{
			NodeID:     d.NodeID,
			ParentID:   d.ParentID,
			InputType:  string(d.InputType),
			OutputType: string(d.OutputType),
		}
		if d.OutputSchema != nil {
			out.Shapes[i].Output = d.OutputSchema.String()
		}
		if d.OutputSchemaWithMapping != nil {
			out.Shapes[i].Mapped = d.OutputSchemaWithMapping.String()
		}
	}
	return nil, out, nil
}

func (s *Server) handleRun(ctx context.Context, _ *sdkmcp.CallToolRequest, input workflowInput) (*sdkmcp.CallToolResult, runOutput, error) {
	nodes, err := input.load()
	if err != nil {
		return nil, runOutput{}, err
	}
	inst := s.engine.NewInstance(nodes, pipeline.Observer{})
	result, err := inst.Run(ctx)
	if err != nil {
		return nil, runOutput{}, err
	}
	s.logger.Info("workflow run via mcp", "run", inst.RunID(), "nodes", len(nodes))

	out := runOutput{RunID: inst.RunID(), Status: "completed", Nodes: []nodeOutcome{}}
	switch {
	case result == nil:
	case result.IsCanceled():
		out.Status = "canceled"
		out.Error = result.Error
	case result.Failed():
		out.Status = "failed"
		out.Error = result.Error
	default:
		out.Output = workflow.Text(result.Data)
	}

	results := inst.Results()
	for _, n := range nodes {
		tr, ok := results[n.ID]
		if !ok {
			out.Nodes = append(out.Nodes, nodeOutcome{NodeID: n.ID, Label: n.Label, Status: "not run"})
			continue
		}
		o := nodeOutcome{NodeID: n.ID, Label: n.Label, Status: string(tr.Result.Status), Error: tr.Result.Error}
		if !tr.Result.Failed() {
			o.Output = workflow.Text(tr.Result.Data)
		}
		out.Nodes = append(out.Nodes, o)
	}
	return nil, out, nil
}

// load parses the inline workflow or reads Path.
func (in workflowInput) load() ([]*workflow.Node, error) {
	switch {
	case in.Path != "":
		return workflow.LoadFile(in.Path)
	case strings.TrimSpace(in.Workflow) == "":
		return nil, fmt.Errorf("either workflow or path is required")
	case strings.HasPrefix(strings.TrimSpace(in.Workflow), "["):
		return workflow.Decode([]byte(in.Workflow))
	default:
		return workflow.DecodeYAML([]byte(in.Workflow))
	}
}
