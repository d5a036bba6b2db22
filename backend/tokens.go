// ABOUTME: Bearer token providers for API and connector calls: fixed tokens and tokens re-read from a file.
package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spyglass-search/talos/pipeline"
)

// FileToken reads the token from a file on every call, so an external
// process can rotate it.
type FileToken string

// Token returns the trimmed file contents.
func (f FileToken) Token(context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Tokens picks a provider: a token file when set, else the fixed token.
func Tokens(token, tokenFile string) pipeline.TokenProvider {
	if tokenFile != "" {
		return FileToken(tokenFile)
	}
	return pipeline.StaticToken(token)
}
