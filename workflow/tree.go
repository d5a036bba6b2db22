// ABOUTME: Helpers for locating, inserting and removing nodes in a workflow with loop children.
// ABOUTME: Loop children are addressed by id exactly like top-level nodes.
package workflow

import "github.com/google/uuid"

// Position locates a node: Parent is nil for top-level nodes, otherwise the
// Loop node owning it; Index is the position within that list.
type Position struct {
	Node   *Node
	Parent *Node
	Index  int
}

// Find returns the position of the node with the given id.
func Find(nodes []*Node, id string) (Position, bool) {
	for i, n := range nodes {
		if n.ID == id {
			return Position{Node: n, Index: i}, true
		}
		if n.Kind != KindLoop {
			continue
		}
		if pos, ok := Find(n.Children(), id); ok {
			if pos.Parent == nil {
				pos.Parent = n
			}
			return pos, true
		}
	}
	return Position{}, false
}

// IsLastNode reports whether id is the final node executed: the last top-level
// node, or the last child of a trailing Loop.
func IsLastNode(nodes []*Node, id string) bool {
	if len(nodes) == 0 {
		return false
	}
	last := nodes[len(nodes)-1]
	if last.ID == id {
		return true
	}
	if children := last.Children(); len(children) > 0 {
		return IsLastNode(children, id)
	}
	return false
}

// IsInLoop reports whether id belongs to some Loop's children.
func IsInLoop(nodes []*Node, id string) bool {
	pos, ok := Find(nodes, id)
	return ok && pos.Parent != nil
}

// PreviousID returns the id of the node feeding id: the preceding sibling, or
// the owning Loop for a loop's first child. ok is false for the first
// top-level node and for unknown ids.
func PreviousID(nodes []*Node, id string) (string, bool) {
	pos, found := Find(nodes, id)
	if !found {
		return "", false
	}
	siblings := nodes
	if pos.Parent != nil {
		siblings = pos.Parent.Children()
	}
	if pos.Index > 0 {
		return siblings[pos.Index-1].ID, true
	}
	if pos.Parent != nil {
		return pos.Parent.ID, true
	}
	return "", false
}

// ComesAfter reports whether second immediately follows first in the same list.
func ComesAfter(nodes []*Node, first, second string) bool {
	pos, ok := Find(nodes, first)
	if !ok {
		return false
	}
	siblings := nodes
	if pos.Parent != nil {
		siblings = pos.Parent.Children()
	}
	return pos.Index+1 < len(siblings) && siblings[pos.Index+1].ID == second
}

// Remove deletes the node with the given id and returns the updated list and
// the removed node.
func Remove(nodes []*Node, id string) ([]*Node, *Node) {
	pos, ok := Find(nodes, id)
	if !ok {
		return nodes, nil
	}
	if pos.Parent == nil {
		return append(nodes[:pos.Index:pos.Index], nodes[pos.Index+1:]...), pos.Node
	}
	loop := pos.Parent.Data.(*LoopData)
	loop.Actions = append(loop.Actions[:pos.Index:pos.Index], loop.Actions[pos.Index+1:]...)
	return nodes, pos.Node
}

// Insert places n before or after the node with the given id, in whichever
// list that node lives. An unknown id leaves nodes unchanged and returns false.
func Insert(nodes []*Node, id string, after bool, n *Node) ([]*Node, bool) {
	pos, ok := Find(nodes, id)
	if !ok {
		return nodes, false
	}
	at := pos.Index
	if after {
		at++
	}
	if pos.Parent == nil {
		return insertAt(nodes, at, n), true
	}
	loop := pos.Parent.Data.(*LoopData)
	loop.Actions = insertAt(loop.Actions, at, n)
	return nodes, true
}

func insertAt(list []*Node, at int, n *Node) []*Node {
	out := make([]*Node, 0, len(list)+1)
	out = append(out, list[:at]...)
	out = append(out, n)
	return append(out, list[at:]...)
}

// Walk calls fn for every node in execution order, descending into loops.
func Walk(nodes []*Node, fn func(n *Node, parent *Node)) {
	var walk func(list []*Node, parent *Node)
	walk = func(list []*Node, parent *Node) {
		for _, n := range list {
			fn(n, parent)
			if n.Kind == KindLoop {
				walk(n.Children(), n)
			}
		}
	}
	walk(nodes, nil)
}

// NewNode returns a node of the given kind with empty data, a fresh id and
// the default label. sourceType is used only for DataSource nodes.
func NewNode(kind NodeKind, sourceType SourceType) *Node {
	n := &Node{
		ID:          uuid.NewString(),
		Label:       DefaultLabel(kind, sourceType),
		Kind:        kind,
		IsContainer: kind == KindLoop,
	}
	switch kind {
	case KindDataSource:
		n.Data = &SourceData{Type: sourceType}
	case KindDataDestination:
		n.Data = &DestinationData{Connection: &ConnectionData{Action: ActionUpdate}}
	case KindExtract:
		n.Data = &ExtractData{Schema: map[string]any{}}
	case KindSummarize:
		n.Data = &SummarizeData{}
	case KindTemplate:
		n.Data = &TemplateData{VarMapping: map[string]string{}}
	case KindLoop:
		n.Data = &LoopData{Actions: []*Node{}}
	}
	return n
}

// DefaultLabel returns the label a freshly added node gets.
func DefaultLabel(kind NodeKind, sourceType SourceType) string {
	switch kind {
	case KindDataSource:
		switch sourceType {
		case SourceFile:
			return "Extract Text From File"
		case SourceText:
			return "Text Input"
		case SourceURL:
			return "Extract Text From URL"
		case SourceConnection:
			return "Pull Content From Connection"
		}
	case KindDataDestination:
		return "Push Content To Connection"
	case KindExtract:
		return "Extract Structured Data From Text"
	case KindSummarize:
		return "Summarize"
	case KindTemplate:
		return "Expand Template"
	case KindLoop:
		return "Loop Over Each Value"
	}
	return "Untitled Step"
}
