// ABOUTME: Static shape inference: predicts each node's input requirement and output schema before a run.
// ABOUTME: Connection sources are probed for their header row; results are cached per node in a ShapeCache.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/spyglass-search/talos/connector"
	"github.com/spyglass-search/talos/workflow"
)

// ValueType names the coarse kind of value a node consumes or produces.
type ValueType string

const (
	TypeNone          ValueType = "None"
	TypeStringContent ValueType = "StringContent"
	TypeIterable      ValueType = "Iterable"
	TypeObject        ValueType = "Object"
	TypeExtractResult ValueType = "ExtractResult"
	TypeLoopResult    ValueType = "LoopResult"
	TypeSummaryResult ValueType = "SummaryResult"
	TypeTableResult   ValueType = "TableResult"
)

// IODefinition is the predicted shape of one node.
type IODefinition struct {
	NodeID string `json:"nodeId"`
	// ParentID is the owning Loop node's id for loop children.
	ParentID   string    `json:"parentId,omitempty"`
	InputType  ValueType `json:"inputType,omitempty"`
	OutputType ValueType `json:"outputType,omitempty"`
	// OutputSchema is the raw output shape. For a Loop it is the item type
	// handed to its children.
	OutputSchema *workflow.PropertyDef `json:"outputSchema,omitempty"`
	// OutputSchemaWithMapping is OutputSchema after the node's mapping; nil
	// when the mapping cannot be applied.
	OutputSchemaWithMapping *workflow.PropertyDef `json:"outputSchemaWithMapping,omitempty"`
	// AggregateSchema is, for a Loop, the list of its last child's output as
	// seen by the node after the loop.
	AggregateSchema *workflow.PropertyDef `json:"aggregateSchema,omitempty"`
}

func (d IODefinition) clone() IODefinition {
	d.OutputSchema = d.OutputSchema.Clone()
	d.OutputSchemaWithMapping = d.OutputSchemaWithMapping.Clone()
	d.AggregateSchema = d.AggregateSchema.Clone()
	return d
}

// feedSchema is the shape the next node receives from d: a Loop hands its
// item type to its first child and its aggregate to the following sibling.
func (d *IODefinition) feedSchema(toChild bool) *workflow.PropertyDef {
	if d == nil {
		return nil
	}
	if d.OutputType == TypeLoopResult && !toChild {
		return d.AggregateSchema
	}
	return d.OutputSchemaWithMapping
}

// Inferrer computes IODefinitions for workflows.
type Inferrer struct {
	connector connector.Connector
	tokens    TokenProvider
	cache     *ShapeCache
	logger    *slog.Logger
}

// NewInferrer returns an Inferrer. A nil cache disables caching; a nil
// connector leaves connection schemas unknown.
func NewInferrer(conn connector.Connector, tokens TokenProvider, cache *ShapeCache, logger *slog.Logger) *Inferrer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inferrer{connector: conn, tokens: tokens, cache: cache, logger: logger.With("component", "infer")}
}

// Cache returns the inferrer's shape cache, which may be nil.
func (in *Inferrer) Cache() *ShapeCache { return in.cache }

// Infer returns one definition per node in execution order, with each Loop's
// children listed right after the Loop.
func (in *Inferrer) Infer(ctx context.Context, nodes []*workflow.Node) []IODefinition {
	var defs []IODefinition
	in.walk(ctx, nodes, "", nil, false, &defs)
	return defs
}

// walk infers list, fed by feed, and returns the definition of the last
// node in list.
func (in *Inferrer) walk(ctx context.Context, list []*workflow.Node, parentID string, feed *IODefinition, feedIsParent bool, out *[]IODefinition) *IODefinition {
	var last *IODefinition
	for _, n := range list {
		def := in.define(ctx, n, feed.feedSchema(feedIsParent))
		def.ParentID = parentID
		at := len(*out)
		*out = append(*out, def)
		if n.Kind == workflow.KindLoop {
			loopDef := def
			child := in.walk(ctx, n.Children(), n.ID, &loopDef, true, out)
			if child != nil && child.OutputSchemaWithMapping != nil {
				def.AggregateSchema = workflow.ArrayOf(child.OutputSchemaWithMapping.Clone())
			}
			(*out)[at] = def
		}
		d := def
		last = &d
		feed, feedIsParent = last, false
	}
	return last
}

// define infers one node. feed is the mapped schema of whatever feeds it.
func (in *Inferrer) define(ctx context.Context, n *workflow.Node, feed *workflow.PropertyDef) IODefinition {
	if n.Kind == workflow.KindLoop {
		def := IODefinition{NodeID: n.ID, InputType: TypeIterable, OutputType: TypeLoopResult}
		if feed.IsArray() {
			def.OutputSchema = feed.Item.Clone()
			def.OutputSchemaWithMapping = workflow.ApplySchemaMapping(def.OutputSchema, n.Mapping)
		}
		return def
	}

	key := shapeKey(n)
	if in.cache != nil {
		if def, ok := in.cache.Get(n.ID, key); ok {
			return def
		}
	}
	def, cacheable := in.compute(ctx, n)
	def.OutputSchemaWithMapping = workflow.ApplySchemaMapping(def.OutputSchema, n.Mapping)
	if cacheable && in.cache != nil {
		in.cache.Put(n.ID, key, def)
	}
	return def
}

// compute derives a non-Loop definition. cacheable is false when a remote
// probe failed, so the next pass retries it.
func (in *Inferrer) compute(ctx context.Context, n *workflow.Node) (IODefinition, bool) {
	def := IODefinition{NodeID: n.ID}
	switch n.Kind {
	case workflow.KindDataSource:
		def.InputType = TypeNone
		src := n.Source()
		if src == nil || src.Type != workflow.SourceConnection {
			def.OutputType = TypeStringContent
			return def, true
		}
		def.OutputType = TypeTableResult
		schema, ok := in.connectionSchema(ctx, n, src.Connection)
		def.OutputSchema = schema
		return def, ok

	case workflow.KindExtract:
		def.InputType = TypeStringContent
		def.OutputType = TypeExtractResult
		if data := n.Extract(); data != nil && len(data.Schema) > 0 {
			schema, err := workflow.ParseSchema(data.Schema)
			if err != nil {
				in.logger.Warn("extract schema unreadable", "node", n.ID, "error", err)
				return def, true
			}
			def.OutputSchema = workflow.DefFromSchema(schema)
		}
		return def, true

	case workflow.KindSummarize:
		def.InputType = TypeStringContent
		def.OutputType = TypeSummaryResult
		def.OutputSchema = workflow.FlatObject("summary", "bulletSummary")
		return def, true

	case workflow.KindTemplate:
		def.InputType = TypeObject
		def.OutputType = TypeStringContent
		return def, true

	case workflow.KindDataDestination:
		def.InputType = TypeObject
		def.OutputType = TypeStringContent
		return def, true
	}
	return def, false
}

// connectionSchema returns the row schema of a connection source. CRM
// connections use the static schema table; spreadsheets are probed for
// their header row.
func (in *Inferrer) connectionSchema(ctx context.Context, n *workflow.Node, conn *workflow.ConnectionData) (*workflow.PropertyDef, bool) {
	if conn == nil {
		return nil, true
	}
	switch conn.ConnectionType {
	case workflow.ConnectionHubspot:
		return connector.CRMSchema(conn.ObjectType, conn.Action), true
	case workflow.ConnectionGSheets:
		if conn.SpreadsheetID == "" || conn.SheetID == "" {
			return nil, true
		}
	default:
		return nil, true
	}
	if in.connector == nil {
		in.logger.Warn("no connector configured for header probe", "node", n.ID)
		return nil, false
	}
	tok, err := token(ctx, in.tokens)
	if err != nil {
		in.logger.Warn("token unavailable for header probe", "node", n.ID, "error", err)
		return nil, false
	}
	header, err := in.connector.ProbeHeader(ctx, conn, tok)
	if err != nil {
		in.logger.Warn("header probe failed", "node", n.ID, "error", err)
		return nil, false
	}
	fields := make([]string, 0, len(header))
	for k := range header {
		if k != workflow.RowIDField {
			fields = append(fields, k)
		}
	}
	in.logger.Debug("probed connection header", "node", n.ID, "fields", len(fields))
	return workflow.ArrayOf(workflow.FlatObject(fields...)), true
}
