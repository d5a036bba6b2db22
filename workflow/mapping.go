// ABOUTME: Field-level output mappings (rename, drop, extract one field, split string to list).
// ABOUTME: ApplyMapping reshapes results at run time; ApplySchemaMapping reshapes predicted schemas.
package workflow

import "strings"

// Conversion types.
const (
	ConversionRename       = "Rename"
	ConversionStringToList = "StringToListConversion"
)

// Conversion describes how a mapped field's value is transformed.
type Conversion struct {
	Type      string `json:"type"`
	Delimiter string `json:"delimiter,omitempty"`
}

// Mapping is one per-field transform applied to a node's output.
type Mapping struct {
	From       string     `json:"from"`
	To         string     `json:"to,omitempty"`
	Skip       bool       `json:"skip,omitempty"`
	Extract    bool       `json:"extract,omitempty"`
	Conversion Conversion `json:"conversion"`
}

func (m Mapping) splits() bool { return m.Conversion.Type == ConversionStringToList }

func (m Mapping) target() string {
	if m.To != "" {
		return m.To
	}
	return m.From
}

// extractEntry returns the first extract entry, if any.
func extractEntry(mapping []Mapping) (Mapping, bool) {
	for _, m := range mapping {
		if m.Extract {
			return m, true
		}
	}
	return Mapping{}, false
}

func index(mapping []Mapping) map[string]Mapping {
	byFrom := make(map[string]Mapping, len(mapping))
	for _, m := range mapping {
		if _, dup := byFrom[m.From]; !dup {
			byFrom[m.From] = m
		}
	}
	return byFrom
}

// ApplyMapping applies the node's mapping to a result. Failed results, nil
// results and nodes without mappings are returned unchanged.
func ApplyMapping(n *Node, r *NodeResult) *NodeResult {
	if n == nil {
		return r
	}
	return MapResult(n.Mapping, r)
}

// MapResult applies mapping to r and returns a new result.
func MapResult(mapping []Mapping, r *NodeResult) *NodeResult {
	if len(mapping) == 0 || r == nil || r.Status == StatusError {
		return r
	}
	out := *r
	out.Data = MapPayload(mapping, r.Data)
	return &out
}

// MapPayload applies mapping to a payload. Object views are reshaped
// directly; tables and lists of objects are reshaped element-wise; anything
// else passes through.
func MapPayload(mapping []Mapping, p Payload) Payload {
	if len(mapping) == 0 || p == nil {
		return p
	}
	if t, ok := p.(TableResult); ok {
		return mapTable(mapping, t)
	}
	if obj, ok := ObjectView(p); ok {
		return PayloadOf(mapObject(mapping, obj))
	}
	if items, ok := Value(p).([]any); ok {
		out := make(List, len(items))
		for i, item := range items {
			if obj, ok := objectOf(item); ok {
				out[i] = mapObject(mapping, obj)
			} else {
				out[i] = item
			}
		}
		return out
	}
	return p
}

func mapTable(mapping []Mapping, t TableResult) Payload {
	if _, ok := extractEntry(mapping); ok {
		out := make(List, len(t.Rows))
		for i, row := range t.Rows {
			out[i] = mapObject(mapping, row)
		}
		return out
	}
	rows := make([]Row, len(t.Rows))
	for i, row := range t.Rows {
		mapped, _ := mapObject(mapping, row).(map[string]any)
		rows[i] = carryRowID(row, mapped)
	}
	var header Row
	if t.HeaderRow != nil {
		mapped, _ := mapObject(mapping, t.HeaderRow).(map[string]any)
		header = mapped
	}
	return TableResult{Rows: rows, HeaderRow: header}
}

// carryRowID keeps a row's identity field through a mapping that did not
// mention it.
func carryRowID(src, dst Row) Row {
	if id, ok := src[RowIDField]; ok {
		if _, kept := dst[RowIDField]; !kept {
			dst[RowIDField] = id
		}
	}
	return dst
}

func objectOf(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Row:
		return t, true
	case Object:
		return t, true
	}
	return nil, false
}

// mapObject reshapes a single object. With an extract entry it returns the
// named field's value and ignores every other entry.
func mapObject(mapping []Mapping, obj map[string]any) any {
	if m, ok := extractEntry(mapping); ok {
		return obj[m.From]
	}
	byFrom := index(mapping)
	out := make(map[string]any, len(obj))
	for _, key := range SortedKeys(obj) {
		val := obj[key]
		m, ok := byFrom[key]
		if !ok {
			out[key] = val
			continue
		}
		if m.Skip {
			continue
		}
		if m.splits() {
			if s, isString := val.(string); isString {
				val = splitToList(s, m.Conversion.Delimiter)
			}
		}
		out[m.target()] = val
	}
	return out
}

func splitToList(s, delim string) []any {
	parts := strings.Split(s, delim)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = StringContent{Content: p}
	}
	return out
}

// ApplySchemaMapping predicts the schema produced by applying mapping to a
// value of shape def. It returns nil when the mapping cannot produce a valid
// shape: unknown fields, splitting a non-string, colliding names or an empty
// object.
func ApplySchemaMapping(def *PropertyDef, mapping []Mapping) *PropertyDef {
	if def == nil {
		return nil
	}
	if len(mapping) == 0 {
		return def.Clone()
	}
	switch def.Type {
	case PropArray:
		item := ApplySchemaMapping(def.Item, mapping)
		if item == nil {
			return nil
		}
		return ArrayOf(item)
	case PropObject:
		return mapObjectDef(def, mapping)
	default:
		return nil
	}
}

func mapObjectDef(def *PropertyDef, mapping []Mapping) *PropertyDef {
	if m, ok := extractEntry(mapping); ok {
		sub, found := def.Properties[m.From]
		if !found {
			return nil
		}
		return sub.Clone()
	}
	for _, m := range mapping {
		if _, found := def.Properties[m.From]; !found {
			return nil
		}
	}
	byFrom := index(mapping)
	out := make(map[string]*PropertyDef, len(def.Properties))
	for _, key := range SortedKeys(def.Properties) {
		prop := def.Properties[key]
		m, ok := byFrom[key]
		if !ok {
			if _, taken := out[key]; taken {
				return nil
			}
			out[key] = prop.Clone()
			continue
		}
		if m.Skip {
			continue
		}
		mapped := prop.Clone()
		if m.splits() {
			if prop.Type != PropString {
				return nil
			}
			mapped = ArrayOf(StringDef())
		}
		if _, taken := out[m.target()]; taken {
			return nil
		}
		out[m.target()] = mapped
	}
	if len(out) == 0 {
		return nil
	}
	return ObjectOf(out)
}

// InverseRenames returns the mapping that undoes the plain renames in
// mapping. Entries that skip, extract or convert are left out.
func InverseRenames(mapping []Mapping) []Mapping {
	var out []Mapping
	for _, m := range mapping {
		if m.Skip || m.Extract || m.splits() || m.To == "" {
			continue
		}
		out = append(out, Mapping{From: m.To, To: m.From, Conversion: Conversion{Type: ConversionRename}})
	}
	return out
}
