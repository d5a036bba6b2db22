// ABOUTME: Workflow serialization: the saved form is the bare node list as JSON, no envelope.
// ABOUTME: YAML is accepted for hand-written workflows and normalized through the JSON decoder.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decode parses a JSON node list and checks its structure.
func Decode(data []byte) ([]*Node, error) {
	var nodes []*Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	if err := Check(nodes); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	return nodes, nil
}

// Encode renders nodes the way saved workflows are written: indented by two
// spaces.
func Encode(nodes []*Node) ([]byte, error) {
	if nodes == nil {
		nodes = []*Node{}
	}
	b, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	return b, nil
}

// DecodeYAML parses a YAML node list using the same field names as JSON.
func DecodeYAML(data []byte) ([]*Node, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode workflow yaml: %w", err)
	}
	b, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("convert workflow yaml: %w", err)
	}
	return Decode(b)
}

// normalizeYAML turns map[any]any produced for non-string keys into
// map[string]any so the value can be marshaled as JSON.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}

// LoadFile reads a workflow, choosing the decoder by file extension.
func LoadFile(path string) ([]*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return Decode(data)
	}
}

// SaveFile writes nodes as JSON.
func SaveFile(path string, nodes []*Node) error {
	b, err := Encode(nodes)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write workflow: %w", err)
	}
	return nil
}
