// ABOUTME: Validates inferred shapes in one forward pass: configuration, mapping, start-of-workflow and array checks.
// ABOUTME: Validation is advisory and never mutates nodes; a failure blocks a run before any handler executes.
package pipeline

import (
	"fmt"
	"strings"
)

// Validation messages shown to the user, keyed to the offending node.
const (
	MsgNotConfigured = "Unable to identify data types, please verify node is fully configured"
	MsgBadMapping    = "Mapping produce invalid output, please update your mapping"
	MsgInvalidStart  = "Invalid start of the workflow. Workflow should start with an input"
	MsgNotAnArray    = "Input expects an array, but previous node does not output an array"
)

// ValidationStatus is the overall verdict.
type ValidationStatus string

const (
	ValidationSuccess ValidationStatus = "Success"
	ValidationFailure ValidationStatus = "Failure"
)

// NodeError is one validation problem on one node.
type NodeError struct {
	NodeID  string `json:"nodeId"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Status ValidationStatus `json:"status"`
	Errors []NodeError      `json:"errors"`
}

// OK reports whether validation succeeded.
func (r ValidationResult) OK() bool { return r.Status == ValidationSuccess }

// Err returns nil on success and a *ValidationError otherwise.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}

// ValidationError is returned when a workflow fails validation.
type ValidationError struct {
	Errors []NodeError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ne := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", ne.NodeID, ne.Message)
	}
	return "workflow validation failed: " + strings.Join(parts, "; ")
}

// schemaExpected lists the output types whose definitions must carry a schema.
var schemaExpected = map[ValueType]bool{
	TypeTableResult:   true,
	TypeExtractResult: true,
	TypeSummaryResult: true,
}

// Validate checks defs, as produced by Inferrer.Infer, in order. Each loop
// child's predecessor is the previous child of the same loop, or the loop
// itself for the first child; a top-level node follows the previous
// top-level node.
func Validate(defs []IODefinition) ValidationResult {
	var errs []NodeError
	fail := func(id, msg string) { errs = append(errs, NodeError{NodeID: id, Message: msg}) }

	byID := make(map[string]*IODefinition, len(defs))
	lastIn := map[string]*IODefinition{}

	for i := range defs {
		def := &defs[i]
		byID[def.NodeID] = def

		var (
			prev    *IODefinition
			toChild bool
		)
		if p, ok := lastIn[def.ParentID]; ok {
			prev = p
		} else if def.ParentID != "" {
			prev, toChild = byID[def.ParentID], true
		}
		lastIn[def.ParentID] = def

		if schemaExpected[def.OutputType] && def.OutputSchema == nil {
			fail(def.NodeID, MsgNotConfigured)
		} else if def.OutputSchema != nil && def.OutputSchemaWithMapping == nil {
			fail(def.NodeID, MsgBadMapping)
		}

		if i == 0 || prev == nil {
			if def.InputType != TypeNone {
				fail(def.NodeID, MsgInvalidStart)
			}
			continue
		}
		if def.InputType == TypeIterable && !prev.feedSchema(toChild).IsArray() {
			fail(def.NodeID, MsgNotAnArray)
		}
	}

	if len(errs) > 0 {
		return ValidationResult{Status: ValidationFailure, Errors: errs}
	}
	return ValidationResult{Status: ValidationSuccess, Errors: []NodeError{}}
}
