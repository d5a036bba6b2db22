// ABOUTME: Remote connector client that forwards connection requests to the connections API.
// ABOUTME: Responses use the {status, result} envelope and are picked apart with gjson.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spyglass-search/talos/workflow"
	"github.com/tidwall/gjson"
)

// HTTPClient talks to a remote connections API.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient returns a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Execute sends req for the given connection.
func (c *HTTPClient) Execute(ctx context.Context, conn *workflow.ConnectionData, req Request, token string) (*Response, error) {
	body, err := c.post(ctx, conn, req, token)
	if err != nil {
		return nil, err
	}
	result := gjson.GetBytes(body, "result")
	resp := &Response{}
	if obj := result.Get("object"); obj.IsObject() {
		resp.Object, _ = obj.Value().(map[string]any)
		return resp, nil
	}
	rows := result.Get("rows")
	if rows.Exists() {
		resp.Rows = []workflow.Row{}
	}
	for _, r := range rows.Array() {
		if row, ok := r.Value().(map[string]any); ok {
			resp.Rows = append(resp.Rows, row)
		}
	}
	if h, ok := result.Get("headerRow").Value().(map[string]any); ok {
		resp.Header = h
	}
	if !rows.Exists() && resp.Header == nil && result.IsObject() {
		// CRM single-object reads return the record as the result itself.
		resp.Object, _ = result.Value().(map[string]any)
	}
	return resp, nil
}

// ProbeHeader reads a single row and returns the header row.
func (c *HTTPClient) ProbeHeader(ctx context.Context, conn *workflow.ConnectionData, token string) (workflow.Row, error) {
	req, err := ReadRequest(conn)
	if err != nil {
		return nil, err
	}
	req.Limit = 1
	resp, err := c.Execute(ctx, conn, req, token)
	if err != nil {
		return nil, err
	}
	if resp.Header != nil {
		return resp.Header, nil
	}
	if len(resp.Rows) > 0 {
		header := workflow.Row{}
		for k := range resp.Rows[0] {
			if k != workflow.RowIDField {
				header[k] = k
			}
		}
		return header, nil
	}
	return nil, fmt.Errorf("connection %d returned no header row", conn.ConnectionID)
}

func (c *HTTPClient) post(ctx context.Context, conn *workflow.ConnectionData, req Request, token string) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{"request": req})
	if err != nil {
		return nil, fmt.Errorf("encode connection request: %w", err)
	}
	url := c.BaseURL + "/connections/" + strconv.FormatInt(conn.ConnectionID, 10) + "/request"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build connection request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connection request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read connection response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if msg := gjson.GetBytes(body, "error").String(); msg != "" {
			return nil, fmt.Errorf("connection request failed (%d): %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("connection request failed (%d)", resp.StatusCode)
	}
	if status := gjson.GetBytes(body, "status").String(); strings.EqualFold(status, "error") {
		return nil, fmt.Errorf("connection request failed: %s", gjson.GetBytes(body, "error").String())
	}
	return body, nil
}
