// ABOUTME: Local URL fetcher used when no remote API is configured: downloads a page and
// ABOUTME: reduces HTML to its visible text.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultMaxPageBytes caps the size of a locally fetched page.
const DefaultMaxPageBytes = 4 << 20

// ErrUnsupportedContent is returned for responses that are neither HTML nor text.
var ErrUnsupportedContent = errors.New("unsupported content type; configure api.endpoint to fetch documents")

// LocalWeb fetches pages directly over HTTP.
type LocalWeb struct {
	HTTP     *http.Client // nil = 30s timeout client
	MaxBytes int64        // 0 = DefaultMaxPageBytes
}

// FetchURL returns the visible text of an HTML page, or the body of a text response.
func (w LocalWeb) FetchURL(ctx context.Context, pageURL string) (string, error) {
	client := w.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	limit := w.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxPageBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	req.Header.Set("Accept", "text/html, text/plain;q=0.9")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch url %s: status %d", pageURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, limit)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		text, err := visibleText(body)
		if err != nil {
			return "", fmt.Errorf("fetch url %s: %w", pageURL, err)
		}
		return text, nil
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json":
		b, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("fetch url %s: %w", pageURL, err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("fetch url %s (%s): %w", pageURL, mediaType, ErrUnsupportedContent)
	}
}

// skipped elements never contribute visible text.
var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "head": true, "svg": true,
}

// blocks end a line of text.
var blocks = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

// visibleText walks the parsed document and joins its text, one line per block.
func visibleText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var lines []string
	var cur strings.Builder
	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
			return
		case html.ElementNode:
			if skipped[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.Data] {
			flush()
		}
	}
	walk(doc)
	flush()
	return strings.Join(lines, "\n"), nil
}
