// ABOUTME: Client for the remote content API: URL fetch, file parse, structured ask and summarize tasks.
// ABOUTME: Every response uses the {time, status, result} envelope; fields are read with gjson.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spyglass-search/talos/pipeline"
	"github.com/tidwall/gjson"
)

// Client talks to the content API. It implements pipeline.Fetcher,
// pipeline.FileParser, pipeline.Asker and pipeline.SummaryTasks.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  pipeline.TokenProvider
	logger  *slog.Logger
}

var (
	_ pipeline.Fetcher      = (*Client)(nil)
	_ pipeline.FileParser   = (*Client)(nil)
	_ pipeline.Asker        = (*Client)(nil)
	_ pipeline.SummaryTasks = (*Client)(nil)
)

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, tokens pipeline.TokenProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
		Tokens:  tokens,
		logger:  logger.With("component", "backend"),
	}
}

// FetchURL returns the readable content of a web page.
func (c *Client) FetchURL(ctx context.Context, pageURL string) (string, error) {
	endpoint := c.BaseURL + "/fetch?" + url.Values{"url": {pageURL}}.Encode()
	result, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return result.Get("content").String(), nil
}

// ParseFile uploads a local file and returns its extracted text.
func (c *Client) ParseFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	result, err := c.do(ctx, http.MethodPost, c.BaseURL+"/parse", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return result.Get("parsed").String(), nil
}

// Ask runs a structured extraction and returns the JSON response.
func (c *Client) Ask(ctx context.Context, req pipeline.AskRequest) (any, error) {
	result, err := c.postJSON(ctx, "/action/ask", req)
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	return result.Get("jsonResponse").Value(), nil
}

// Submit starts a summarize task and returns its id.
func (c *Client) Submit(ctx context.Context, text string) (string, error) {
	result, err := c.postJSON(ctx, "/action/summarize/task", map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("submit summarize task: %w", err)
	}
	id := result.String()
	if result.IsObject() {
		id = result.Get("taskId").String()
	}
	if id == "" {
		return "", fmt.Errorf("submit summarize task: response carried no task id")
	}
	c.logger.Debug("summarize task submitted", "task", id)
	return id, nil
}

// Poll reads the current state of a task.
func (c *Client) Poll(ctx context.Context, taskID string) (pipeline.TaskStatus, error) {
	result, err := c.do(ctx, http.MethodGet, c.BaseURL+"/tasks/"+url.PathEscape(taskID), "", nil)
	if err != nil {
		return pipeline.TaskStatus{}, fmt.Errorf("poll task %s: %w", taskID, err)
	}
	return pipeline.TaskStatus{
		Status:        result.Get("status").String(),
		Summary:       result.Get("result.paragraph").String(),
		BulletSummary: result.Get("result.bullets").String(),
		Error:         result.Get("error").String(),
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (gjson.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.BaseURL+path, "application/json", bytes.NewReader(payload))
}

// do sends one request and returns the envelope's result field.
func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return gjson.Result{}, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Tokens != nil {
		tok, err := c.Tokens.Token(ctx)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("auth token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if msg := gjson.GetBytes(data, "error").String(); msg != "" {
			return gjson.Result{}, fmt.Errorf("request failed (%d): %s", resp.StatusCode, msg)
		}
		return gjson.Result{}, fmt.Errorf("request failed (%d)", resp.StatusCode)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("invalid JSON response")
	}
	if strings.EqualFold(gjson.GetBytes(data, "status").String(), "error") {
		return gjson.Result{}, fmt.Errorf("%s", gjson.GetBytes(data, "error").String())
	}
	return gjson.GetBytes(data, "result"), nil
}
