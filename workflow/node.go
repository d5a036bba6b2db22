// ABOUTME: Node model for talos workflows: node kinds, per-kind data payloads, and connection settings.
// ABOUTME: Node.Data is a sealed tagged union decoded by nodeType so saved workflows round-trip as plain JSON.
package workflow

import (
	"encoding/json"
	"fmt"
)

// NodeKind identifies what a pipeline step does.
type NodeKind string

const (
	KindDataSource      NodeKind = "DataSource"
	KindDataDestination NodeKind = "DataDestination"
	KindExtract         NodeKind = "Extract"
	KindSummarize       NodeKind = "Summarize"
	KindTemplate        NodeKind = "Template"
	KindLoop            NodeKind = "Loop"
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindDataSource, KindDataDestination, KindExtract, KindSummarize, KindTemplate, KindLoop:
		return true
	}
	return false
}

// SourceType is the sub-kind of a DataSource node.
type SourceType string

const (
	SourceText       SourceType = "Text"
	SourceURL        SourceType = "Url"
	SourceFile       SourceType = "File"
	SourceConnection SourceType = "Connection"
)

// ConnectionType identifies the connector family behind a connection.
type ConnectionType string

const (
	// ConnectionGSheets is the spreadsheet-like family.
	ConnectionGSheets ConnectionType = "GSheets"
	// ConnectionHubspot is the CRM-object-like family.
	ConnectionHubspot ConnectionType = "Hubspot"
)

// Destination write modes.
const (
	ActionUpdate = "update"
	ActionAppend = "append"
)

// CRM read actions.
const (
	CRMSingleObject   = "singleObject"
	CRMRelatedObjects = "relatedObjects"
	CRMAll            = "all"
)

// NodeData is the kind-specific configuration of a node. The interface is
// sealed; every implementation lives in this package.
type NodeData interface {
	nodeKind() NodeKind
}

// ConnectionData describes which external connection a node reads from or
// writes to.
type ConnectionData struct {
	ConnectionID   int64          `json:"connectionId,omitempty"`
	ConnectionType ConnectionType `json:"connectionType,omitempty"`
	SpreadsheetID  string         `json:"spreadsheetId,omitempty"`
	SheetID        string         `json:"sheetId,omitempty"`
	ObjectType     string         `json:"objectType,omitempty"`
	ObjectID       string         `json:"objectId,omitempty"`
	Action         string         `json:"action,omitempty"`
}

// SourceData configures a DataSource node.
type SourceData struct {
	Type       SourceType      `json:"type"`
	Content    string          `json:"content,omitempty"`
	URL        string          `json:"url,omitempty"`
	File       string          `json:"file,omitempty"`
	Connection *ConnectionData `json:"connectionData,omitempty"`
}

// DestinationData configures a DataDestination node.
type DestinationData struct {
	Connection *ConnectionData `json:"connectionData,omitempty"`
}

// ExtractData configures an Extract node. Schema is a JSON-schema-like object
// describing the structure the extraction backend should produce.
type ExtractData struct {
	Query  string         `json:"query"`
	Schema map[string]any `json:"schema"`
}

// SummarizeData configures a Summarize node. It carries no settings.
type SummarizeData struct{}

// TemplateData configures a Template node. VarMapping maps template variable
// names to fields of the input object.
type TemplateData struct {
	Template   string            `json:"template"`
	VarMapping map[string]string `json:"varMapping"`
}

// LoopData holds the nested pipeline replayed for each item of a Loop node's input.
type LoopData struct {
	Actions []*Node `json:"actions"`
}

func (*SourceData) nodeKind() NodeKind      { return KindDataSource }
func (*DestinationData) nodeKind() NodeKind { return KindDataDestination }
func (*ExtractData) nodeKind() NodeKind     { return KindExtract }
func (*SummarizeData) nodeKind() NodeKind   { return KindSummarize }
func (*TemplateData) nodeKind() NodeKind    { return KindTemplate }
func (*LoopData) nodeKind() NodeKind        { return KindLoop }

// Node is one pipeline step.
type Node struct {
	ID          string
	Label       string
	Kind        NodeKind
	Data        NodeData
	IsContainer bool
	Mapping     []Mapping
}

// wireNode is the persisted JSON layout of a Node.
type wireNode struct {
	ID          string          `json:"uuid"`
	Label       string          `json:"label"`
	Kind        NodeKind        `json:"nodeType"`
	Data        json.RawMessage `json:"data"`
	IsContainer bool            `json:"parentNode"`
	Mapping     []Mapping       `json:"mapping,omitempty"`
}

// MarshalJSON encodes the node in the persisted workflow layout.
func (n Node) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return nil, fmt.Errorf("encode data of node %q: %w", n.ID, err)
	}
	return json.Marshal(wireNode{
		ID:          n.ID,
		Label:       n.Label,
		Kind:        n.Kind,
		Data:        data,
		IsContainer: n.Kind == KindLoop,
		Mapping:     n.Mapping,
	})
}

// UnmarshalJSON decodes a node, picking the data type from nodeType.
func (n *Node) UnmarshalJSON(b []byte) error {
	var w wireNode
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	data, err := newData(w.Kind)
	if err != nil {
		return fmt.Errorf("node %q: %w", w.ID, err)
	}
	if len(w.Data) > 0 && string(w.Data) != "null" {
		if err := json.Unmarshal(w.Data, data); err != nil {
			return fmt.Errorf("node %q: decode %s data: %w", w.ID, w.Kind, err)
		}
	}
	*n = Node{
		ID:          w.ID,
		Label:       w.Label,
		Kind:        w.Kind,
		Data:        data,
		IsContainer: w.Kind == KindLoop,
		Mapping:     w.Mapping,
	}
	return nil
}

// newData returns an empty data value for the given kind.
func newData(kind NodeKind) (NodeData, error) {
	switch kind {
	case KindDataSource:
		return &SourceData{}, nil
	case KindDataDestination:
		return &DestinationData{}, nil
	case KindExtract:
		return &ExtractData{}, nil
	case KindSummarize:
		return &SummarizeData{}, nil
	case KindTemplate:
		return &TemplateData{}, nil
	case KindLoop:
		return &LoopData{}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", kind)
	}
}

// Source returns the node's DataSource settings, or nil for other kinds.
func (n *Node) Source() *SourceData {
	d, _ := n.Data.(*SourceData)
	return d
}

// Destination returns the node's DataDestination settings, or nil.
func (n *Node) Destination() *DestinationData {
	d, _ := n.Data.(*DestinationData)
	return d
}

// Extract returns the node's Extract settings, or nil.
func (n *Node) Extract() *ExtractData {
	d, _ := n.Data.(*ExtractData)
	return d
}

// Template returns the node's Template settings, or nil.
func (n *Node) Template() *TemplateData {
	d, _ := n.Data.(*TemplateData)
	return d
}

// Children returns the nested pipeline of a Loop node, or nil.
func (n *Node) Children() []*Node {
	if d, ok := n.Data.(*LoopData); ok {
		return d.Actions
	}
	return nil
}

// Check verifies the structural invariants of a node list: known kinds, data
// matching the kind, non-empty unique ids, and container flags only on loops.
func Check(nodes []*Node) error {
	seen := make(map[string]bool)
	var walk func(list []*Node) error
	walk = func(list []*Node) error {
		for i, n := range list {
			if n == nil {
				return fmt.Errorf("node at index %d is nil", i)
			}
			if n.ID == "" {
				return fmt.Errorf("node at index %d has no id", i)
			}
			if seen[n.ID] {
				return fmt.Errorf("duplicate node id %q", n.ID)
			}
			seen[n.ID] = true
			if !n.Kind.Valid() {
				return fmt.Errorf("node %q: unknown node type %q", n.ID, n.Kind)
			}
			if n.Data == nil || n.Data.nodeKind() != n.Kind {
				return fmt.Errorf("node %q: data does not match node type %s", n.ID, n.Kind)
			}
			if n.IsContainer != (n.Kind == KindLoop) {
				return fmt.Errorf("node %q: only Loop nodes may be containers", n.ID)
			}
			if n.Kind == KindLoop {
				if err := walk(n.Children()); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(nodes)
}
