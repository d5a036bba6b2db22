// ABOUTME: DataSource handler: static text, URL fetch, file parse and connector reads.
// ABOUTME: Text sources produce StringContent; connection sources produce tables or a single record.
package pipeline

import (
	"context"

	"github.com/spyglass-search/talos/connector"
	"github.com/spyglass-search/talos/workflow"
)

// SourceHandler runs DataSource nodes.
type SourceHandler struct {
	Fetcher   Fetcher
	Parser    FileParser
	Connector connector.Connector
	Tokens    TokenProvider
}

// Kind returns KindDataSource.
func (h *SourceHandler) Kind() workflow.NodeKind { return workflow.KindDataSource }

// Execute produces the source's content. The input is ignored.
func (h *SourceHandler) Execute(ctx context.Context, _ *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error) {
	data := node.Source()
	if data == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "node %q is not a data source", node.ID), nil
	}
	switch data.Type {
	case workflow.SourceText:
		return workflow.OK(workflow.StringContent{Content: data.Content}), nil

	case workflow.SourceURL:
		if data.URL == "" {
			return workflow.Errorf(workflow.ErrConfiguration, "Please enter a URL to fetch"), nil
		}
		if h.Fetcher == nil {
			return workflow.Errorf(workflow.ErrConfiguration, "no URL fetcher is configured"), nil
		}
		content, err := h.Fetcher.FetchURL(ctx, data.URL)
		if err != nil {
			return failure(ctx, err), nil
		}
		return workflow.OK(workflow.StringContent{Content: content}), nil

	case workflow.SourceFile:
		if data.File == "" {
			return workflow.Errorf(workflow.ErrConfiguration, "Please choose a file to parse"), nil
		}
		if h.Parser == nil {
			return workflow.Errorf(workflow.ErrConfiguration, "no file parser is configured"), nil
		}
		content, err := h.Parser.ParseFile(ctx, data.File)
		if err != nil {
			return failure(ctx, err), nil
		}
		return workflow.OK(workflow.StringContent{Content: content}), nil

	case workflow.SourceConnection:
		return h.readConnection(ctx, data.Connection), nil

	default:
		return workflow.Errorf(workflow.ErrConfiguration, "unknown data source type %q", data.Type), nil
	}
}

func (h *SourceHandler) readConnection(ctx context.Context, conn *workflow.ConnectionData) *workflow.NodeResult {
	req, err := connector.ReadRequest(conn)
	if err != nil {
		return workflow.Errorf(workflow.ErrConfiguration, "%s", err.Error())
	}
	if h.Connector == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "no connector is configured")
	}
	tok, err := token(ctx, h.Tokens)
	if err != nil {
		return failure(ctx, err)
	}
	resp, err := h.Connector.Execute(ctx, conn, req, tok)
	if err != nil {
		return failure(ctx, err)
	}
	if resp.Object != nil {
		return workflow.OK(workflow.Object(resp.Object))
	}
	rows := resp.Rows
	if rows == nil {
		rows = []workflow.Row{}
	}
	return workflow.OK(workflow.TableResult{Rows: rows, HeaderRow: resp.Header})
}
