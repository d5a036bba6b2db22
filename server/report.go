// ABOUTME: Run report: a markdown summary of every node's outcome, rendered to HTML with goldmark.

package server

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/spyglass-search/talos/workflow"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// previewLen caps the output excerpt shown per node.
const previewLen = 280

// BuildReport renders the run as markdown: a status line, a table with one
// row per top-level node, and the terminal output.
func BuildReport(id string, nodes []*workflow.Node, st RunStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", id)
	fmt.Fprintf(&b, "**Status:** %s  \n**Attempts:** %d\n\n", st.Status, st.Attempts)
	if st.Error != "" {
		fmt.Fprintf(&b, "> %s\n\n", oneLine(st.Error))
	}

	b.WriteString("| Node | Kind | Status | Duration | Output |\n")
	b.WriteString("|------|------|--------|----------|--------|\n")
	for _, n := range nodes {
		label := n.Label
		if label == "" {
			label = n.ID
		}
		tr, ok := st.Results[n.ID]
		if !ok || tr.Result == nil {
			fmt.Fprintf(&b, "| %s | %s | not run | | |\n", cell(label), n.Kind)
			continue
		}
		status := string(tr.Result.Status)
		output := tr.Result.Error
		if !tr.Result.Failed() {
			output = describe(tr.Result.Data)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(label), n.Kind, status, tr.FinishedAt.Sub(tr.StartedAt).Round(time.Millisecond), cell(truncate(output, previewLen)))
	}

	if st.Result != nil && !st.Result.Failed() {
		b.WriteString("\n## Output\n\n```\n")
		b.WriteString(workflow.Text(st.Result.Data))
		b.WriteString("\n```\n")
	}
	return b.String()
}

func describe(p workflow.Payload) string {
	switch t := p.(type) {
	case workflow.TableResult:
		return fmt.Sprintf("%d rows", len(t.Rows))
	case workflow.LoopResult:
		return fmt.Sprintf("%d iterations", len(t.LoopResults))
	default:
		return workflow.Text(p)
	}
}

var reportPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>talos run report</title>
<style>body{font-family:sans-serif;max-width:60rem;margin:2rem auto}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3rem .6rem;vertical-align:top}pre{background:#f6f6f6;padding:1rem;overflow:auto}</style>
</head><body>{{.}}</body></html>`))

// RenderReportHTML converts a markdown report into a standalone HTML page.
// Raw HTML in the markdown is not passed through.
func RenderReportHTML(md string) ([]byte, error) {
	var body bytes.Buffer
	conv := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := conv.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	var page bytes.Buffer
	if err := reportPage.Execute(&page, template.HTML(body.String())); err != nil {
		return nil, fmt.Errorf("render report page: %w", err)
	}
	return page.Bytes(), nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
