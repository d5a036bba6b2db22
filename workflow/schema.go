// ABOUTME: PropertyDef, the recursive shape description used by type inference and validation.
// ABOUTME: Extract node schemas are decoded with jsonschema-go and converted into PropertyDefs.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// PropertyType is the discriminant of a PropertyDef.
type PropertyType string

const (
	PropString  PropertyType = "string"
	PropNumber  PropertyType = "number"
	PropBoolean PropertyType = "boolean"
	PropArray   PropertyType = "array"
	PropObject  PropertyType = "object"
	PropEnum    PropertyType = "enum"
)

// PropertyDef describes the shape of a value. Item is set for arrays,
// Properties for objects and Values for enums.
type PropertyDef struct {
	Type        PropertyType            `json:"type"`
	Item        *PropertyDef            `json:"items,omitempty"`
	Properties  map[string]*PropertyDef `json:"properties,omitempty"`
	Values      []string                `json:"values,omitempty"`
	Description string                  `json:"description,omitempty"`
}

// StringDef returns a String definition.
func StringDef() *PropertyDef { return &PropertyDef{Type: PropString} }

// ArrayOf returns an Array definition with the given item type.
func ArrayOf(item *PropertyDef) *PropertyDef {
	return &PropertyDef{Type: PropArray, Item: item}
}

// ObjectOf returns an Object definition with the given properties.
func ObjectOf(props map[string]*PropertyDef) *PropertyDef {
	return &PropertyDef{Type: PropObject, Properties: props}
}

// FlatObject returns an Object whose fields are all String.
func FlatObject(fields ...string) *PropertyDef {
	props := make(map[string]*PropertyDef, len(fields))
	for _, f := range fields {
		props[f] = StringDef()
	}
	return ObjectOf(props)
}

// IsArray reports whether d describes an array.
func (d *PropertyDef) IsArray() bool { return d != nil && d.Type == PropArray }

// IsObject reports whether d describes an object.
func (d *PropertyDef) IsObject() bool { return d != nil && d.Type == PropObject }

// Clone returns a deep copy of d.
func (d *PropertyDef) Clone() *PropertyDef {
	if d == nil {
		return nil
	}
	out := &PropertyDef{Type: d.Type, Item: d.Item.Clone(), Description: d.Description}
	if d.Properties != nil {
		out.Properties = make(map[string]*PropertyDef, len(d.Properties))
		for k, v := range d.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	if d.Values != nil {
		out.Values = append([]string(nil), d.Values...)
	}
	return out
}

// String renders a compact form such as Array<Object{name:String}>.
func (d *PropertyDef) String() string {
	if d == nil {
		return "<none>"
	}
	switch d.Type {
	case PropArray:
		return "Array<" + d.Item.String() + ">"
	case PropObject:
		parts := make([]string, 0, len(d.Properties))
		for _, k := range SortedKeys(d.Properties) {
			parts = append(parts, k+":"+d.Properties[k].String())
		}
		return "Object{" + strings.Join(parts, ",") + "}"
	case PropEnum:
		return "Enum(" + strings.Join(d.Values, "|") + ")"
	default:
		s := string(d.Type)
		if s == "" {
			return "<none>"
		}
		return strings.ToUpper(s[:1]) + s[1:]
	}
}

// ParseSchema decodes a JSON-schema-like object as stored on Extract nodes.
func ParseSchema(raw map[string]any) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return &s, nil
}

// DefFromSchema converts a JSON schema into a PropertyDef. Missing types
// default to String, matching how the extraction backend treats untyped fields.
func DefFromSchema(s *jsonschema.Schema) *PropertyDef {
	if s == nil {
		return StringDef()
	}
	d := &PropertyDef{Description: s.Description}
	if len(s.Enum) > 0 {
		d.Type = PropEnum
		for _, v := range s.Enum {
			d.Values = append(d.Values, fmt.Sprint(v))
		}
		return d
	}
	typ := s.Type
	if typ == "" {
		for _, t := range s.Types {
			if t != "null" {
				typ = t
				break
			}
		}
	}
	if typ == "" && s.Properties != nil {
		typ = "object"
	}
	switch typ {
	case "object":
		d.Type = PropObject
		d.Properties = make(map[string]*PropertyDef, len(s.Properties))
		for name, sub := range s.Properties {
			d.Properties[name] = DefFromSchema(sub)
		}
	case "array":
		d.Type = PropArray
		d.Item = DefFromSchema(s.Items)
	case "number", "integer":
		d.Type = PropNumber
	case "boolean":
		d.Type = PropBoolean
	default:
		d.Type = PropString
	}
	return d
}
