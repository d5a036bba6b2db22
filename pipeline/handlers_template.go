// ABOUTME: Template handler: renders a Handlebars template against fields of the input object.
// ABOUTME: Template variables are discovered from the parsed template and resolved through varMapping.
package pipeline

import (
	"context"
	"sort"

	"github.com/aymerick/raymond"
	"github.com/aymerick/raymond/ast"
	"github.com/aymerick/raymond/parser"
	"github.com/spyglass-search/talos/workflow"
)

// TemplateHandler runs Template nodes.
type TemplateHandler struct{}

// Kind returns KindTemplate.
func (h *TemplateHandler) Kind() workflow.NodeKind { return workflow.KindTemplate }

// Execute renders the template. Each variable reads the input field named by
// varMapping, or the same-named field when unmapped. A non-object input is
// bound whole to every variable.
func (h *TemplateHandler) Execute(ctx context.Context, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error) {
	data := node.Template()
	if data == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "node %q is not a template", node.ID), nil
	}
	if input == nil || input.Data == nil || workflow.Value(input.Data) == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "Invalid template node input"), nil
	}
	vars, err := TemplateVariables(data.Template)
	if err != nil {
		return workflow.Errorf(workflow.ErrConfiguration, "Invalid template: %v", err), nil
	}
	for name := range data.VarMapping {
		vars = appendUnique(vars, name)
	}

	bindings := make(map[string]any, len(vars))
	obj, isObject := workflow.ObjectView(input.Data)
	for _, name := range vars {
		if !isObject {
			bindings[name] = templateValue(workflow.Value(input.Data))
			continue
		}
		field := name
		if mapped, ok := data.VarMapping[name]; ok && mapped != "" {
			field = mapped
		}
		if v, ok := obj[field]; ok {
			bindings[name] = templateValue(v)
		}
	}

	out, err := raymond.Render(data.Template, bindings)
	if err != nil {
		return workflow.Errorf(workflow.ErrConfiguration, "Invalid template: %v", err), nil
	}
	return workflow.OK(workflow.StringContent{Content: out}), nil
}

// templateValue turns payload structs into values Handlebars can print:
// string content becomes its text.
func templateValue(v any) any {
	switch t := v.(type) {
	case workflow.StringContent:
		return t.Content
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = templateValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = templateValue(item)
		}
		return out
	case workflow.Row:
		return templateValue(map[string]any(t))
	case workflow.Payload:
		return templateValue(workflow.Plain(workflow.Value(t)))
	default:
		return v
	}
}

// TemplateVariables returns the top-level variable names a template reads,
// sorted. Helper names, @data variables and paths inside each/with blocks
// are not variables of the input.
func TemplateVariables(src string) ([]string, error) {
	prog, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	collectProgram(prog, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func collectProgram(p *ast.Program, seen map[string]bool) {
	if p == nil {
		return
	}
	for _, stmt := range p.Body {
		switch s := stmt.(type) {
		case *ast.MustacheStatement:
			collectExpression(s.Expression, seen)
		case *ast.BlockStatement:
			collectParams(s.Expression, seen)
			switch helperName(s.Expression) {
			case "each", "with":
				// Inner paths are relative to the iterated value.
			default:
				collectProgram(s.Program, seen)
				collectProgram(s.Inverse, seen)
			}
		}
	}
}

// collectExpression records a bare path, or the parameters of a helper call.
func collectExpression(e *ast.Expression, seen map[string]bool) {
	if e == nil {
		return
	}
	if len(e.Params) == 0 && e.Hash == nil {
		collectNode(e.Path, seen)
		return
	}
	collectParams(e, seen)
}

func collectParams(e *ast.Expression, seen map[string]bool) {
	if e == nil {
		return
	}
	for _, p := range e.Params {
		collectNode(p, seen)
	}
	if e.Hash != nil {
		for _, pair := range e.Hash.Pairs {
			collectNode(pair.Val, seen)
		}
	}
}

func collectNode(n ast.Node, seen map[string]bool) {
	switch t := n.(type) {
	case *ast.PathExpression:
		if t.Data || len(t.Parts) == 0 {
			return
		}
		seen[t.Parts[0]] = true
	case *ast.SubExpression:
		collectParams(t.Expression, seen)
	}
}

func helperName(e *ast.Expression) string {
	if e == nil {
		return ""
	}
	if p, ok := e.Path.(*ast.PathExpression); ok {
		return p.Original
	}
	return ""
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
