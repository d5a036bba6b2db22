// ABOUTME: SHA-256 fingerprints of nodes and workflows used as cache and memoization keys.
// ABOUTME: Shape keys ignore labels and connection ids; run keys cover everything that affects execution.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/spyglass-search/talos/workflow"
)

func digest(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// An empty key never matches a cache entry.
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// shapeKey fingerprints the parts of a node that determine its inferred
// shape: kind, data and mapping. Switching a node to another connection that
// points at the same spreadsheet and sheet keeps the key.
func shapeKey(n *workflow.Node) string {
	data := n.Data
	switch d := n.Data.(type) {
	case *workflow.SourceData:
		if d.Connection != nil {
			cp := *d
			conn := *d.Connection
			conn.ConnectionID = 0
			cp.Connection = &conn
			data = &cp
		}
	case *workflow.DestinationData:
		if d.Connection != nil {
			conn := *d.Connection
			conn.ConnectionID = 0
			data = &workflow.DestinationData{Connection: &conn}
		}
	}
	return digest(struct {
		Kind    workflow.NodeKind  `json:"k"`
		Data    workflow.NodeData  `json:"d"`
		Mapping []workflow.Mapping `json:"m"`
	}{n.Kind, data, n.Mapping})
}

// runKey fingerprints everything about a node that affects its result.
func runKey(n *workflow.Node) string {
	return digest(n)
}

// workflowKey fingerprints a whole node list.
func workflowKey(nodes []*workflow.Node) string {
	return digest(nodes)
}
