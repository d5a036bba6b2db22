// ABOUTME: Node results and the closed set of result payload variants produced by handlers.
// ABOUTME: Value and Plain are the normalization points every downstream consumer relies on.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Status is the terminal status of a node result.
type Status string

const (
	StatusOK    Status = "Ok"
	StatusError Status = "Error"
)

// ErrorKind classifies a failed result so callers can tell user-actionable
// configuration problems from remote failures and cancellation.
type ErrorKind string

const (
	ErrConfiguration ErrorKind = "configuration"
	ErrTransport     ErrorKind = "transport"
	ErrValidation    ErrorKind = "validation"
	ErrCanceled      ErrorKind = "canceled"
)

// CanceledMessage is the error text of a user-canceled result.
const CanceledMessage = "User Canceled"

// NodeResult is the outcome of running one node. For StatusOK only Data is
// meaningful; for StatusError, Error is set. A failed Loop node additionally
// carries the partial LoopResult accumulated before it stopped.
type NodeResult struct {
	Status    Status    `json:"status"`
	Data      Payload   `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
}

// MultiNodeResult is the ordered list of results produced by one iteration
// through a loop body.
type MultiNodeResult []*NodeResult

// OK wraps a payload in a successful result.
func OK(p Payload) *NodeResult {
	return &NodeResult{Status: StatusOK, Data: p}
}

// Errorf builds a failed result of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *NodeResult {
	return &NodeResult{Status: StatusError, Error: fmt.Sprintf(format, args...), ErrorKind: kind}
}

// Canceled builds the result of a run or loop stopped by the user. partial may
// be nil.
func Canceled(partial Payload) *NodeResult {
	return &NodeResult{Status: StatusError, Data: partial, Error: CanceledMessage, ErrorKind: ErrCanceled}
}

// Failed reports whether the result is an error result.
func (r *NodeResult) Failed() bool {
	return r != nil && r.Status == StatusError
}

// IsCanceled reports whether the result came from user cancellation.
func (r *NodeResult) IsCanceled() bool {
	return r != nil && r.Status == StatusError && r.ErrorKind == ErrCanceled
}

// PayloadKind discriminates result payload variants.
type PayloadKind string

const (
	PayloadString  PayloadKind = "string"
	PayloadExtract PayloadKind = "extract"
	PayloadSummary PayloadKind = "summary"
	PayloadTable   PayloadKind = "table"
	PayloadLoop    PayloadKind = "loop"
	PayloadObject  PayloadKind = "object"
	PayloadList    PayloadKind = "list"
	PayloadScalar  PayloadKind = "scalar"
)

// Payload is the data carried by a successful result. The set of variants is
// closed; every implementation lives in this package.
type Payload interface {
	Kind() PayloadKind
}

// Row is one record of a table result. Spreadsheet rows carry their position
// in the RowIDField field.
type Row map[string]any

// RowIDField identifies a table row for update-in-place writes.
const RowIDField = "_idx"

// StringContent is plain text.
type StringContent struct {
	Content string
}

// ExtractResult is structured data extracted against a schema.
type ExtractResult struct {
	ExtractedData any            `json:"extractedData"`
	Schema        map[string]any `json:"schema,omitempty"`
}

// SummaryResult is a paragraph summary plus a bullet summary.
type SummaryResult struct {
	Summary       string `json:"summary"`
	BulletSummary string `json:"bulletSummary"`
}

// TableResult is a rectangular result read from a connector.
type TableResult struct {
	Rows      []Row `json:"rows"`
	HeaderRow Row   `json:"headerRow"`
}

// LoopResult collects the per-iteration results of a Loop node.
type LoopResult struct {
	LoopResults []MultiNodeResult `json:"loopResults"`
}

// Object is a bare JSON object.
type Object map[string]any

// List is a bare JSON array.
type List []any

// Scalar is a bare number, boolean or null.
type Scalar struct {
	Value any
}

func (StringContent) Kind() PayloadKind { return PayloadString }
func (ExtractResult) Kind() PayloadKind { return PayloadExtract }
func (SummaryResult) Kind() PayloadKind { return PayloadSummary }
func (TableResult) Kind() PayloadKind   { return PayloadTable }
func (LoopResult) Kind() PayloadKind    { return PayloadLoop }
func (Object) Kind() PayloadKind        { return PayloadObject }
func (List) Kind() PayloadKind          { return PayloadList }
func (Scalar) Kind() PayloadKind        { return PayloadScalar }

// MarshalJSON emits the {content, type:"string"} layout.
func (s StringContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.asMap())
}

func (s StringContent) asMap() map[string]any {
	return map[string]any{"content": s.Content, "type": "string"}
}

// MarshalJSON emits the bare value.
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}

// PayloadOf classifies a raw value into a payload variant. Payload values are
// returned unchanged.
func PayloadOf(v any) Payload {
	switch t := v.(type) {
	case Payload:
		return t
	case string:
		return StringContent{Content: t}
	case map[string]any:
		return Object(t)
	case Row:
		return Object(t)
	case []any:
		return List(t)
	case []Row:
		items := make(List, len(t))
		for i, r := range t {
			items[i] = map[string]any(r)
		}
		return items
	default:
		return Scalar{Value: v}
	}
}

// Value unwraps a payload into its primary scalar or collection form: the
// text of string content, the extracted data of an extraction, the list of
// each iteration's last value for a loop, and the payload itself otherwise.
func Value(p Payload) any {
	switch t := p.(type) {
	case nil:
		return nil
	case StringContent:
		return t.Content
	case ExtractResult:
		return t.ExtractedData
	case LoopResult:
		out := make([]any, 0, len(t.LoopResults))
		for _, iteration := range t.LoopResults {
			if len(iteration) == 0 {
				continue
			}
			last := iteration[len(iteration)-1]
			if last == nil || last.Data == nil {
				continue
			}
			out = append(out, Value(last.Data))
		}
		return out
	case Object:
		return map[string]any(t)
	case List:
		return []any(t)
	case Scalar:
		return t.Value
	default:
		return p
	}
}

// Plain converts a value that may contain payload structs into plain JSON
// data: maps, slices, strings, numbers, booleans and nil.
func Plain(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case StringContent:
		return t.asMap()
	case ExtractResult:
		return map[string]any{"extractedData": Plain(t.ExtractedData), "schema": t.Schema}
	case SummaryResult:
		return map[string]any{"summary": t.Summary, "bulletSummary": t.BulletSummary}
	case TableResult:
		rows := make([]any, len(t.Rows))
		for i, r := range t.Rows {
			rows[i] = Plain(r)
		}
		return map[string]any{"rows": rows, "headerRow": Plain(t.HeaderRow)}
	case LoopResult:
		return Plain(Value(t))
	case Object:
		return Plain(map[string]any(t))
	case Row:
		return Plain(map[string]any(t))
	case List:
		return Plain([]any(t))
	case Scalar:
		return t.Value
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Plain(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Plain(val)
		}
		return out
	default:
		return v
	}
}

// ObjectView returns the object-shaped view of a payload used by mappings and
// templates. ok is false when the payload does not unwrap to an object.
func ObjectView(p Payload) (map[string]any, bool) {
	switch t := p.(type) {
	case SummaryResult:
		return map[string]any{"summary": t.Summary, "bulletSummary": t.BulletSummary}, true
	}
	m, ok := Value(p).(map[string]any)
	return m, ok
}

// Text renders the input of a text-consuming node: string content verbatim,
// everything else as JSON.
func Text(p Payload) string {
	if p == nil {
		return ""
	}
	if s, ok := p.(StringContent); ok {
		return s.Content
	}
	switch v := Plain(Value(p)).(type) {
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
