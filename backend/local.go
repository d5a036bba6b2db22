// ABOUTME: Local file parser used when no remote API is configured: reads UTF-8 text files from disk.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"
)

// DefaultMaxFileBytes caps the size of a locally parsed file.
const DefaultMaxFileBytes = 8 << 20

// ErrBinaryFile is returned for files that are not UTF-8 text.
var ErrBinaryFile = errors.New("file is not UTF-8 text; configure api.endpoint to parse documents")

// LocalFiles parses plain text files without a remote service.
type LocalFiles struct {
	MaxBytes int64 // 0 = DefaultMaxFileBytes
}

// ParseFile returns the contents of a text file.
func (l LocalFiles) ParseFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	limit := l.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxFileBytes
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("parse file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("parse file: %s is a directory", path)
	}
	if info.Size() > limit {
		return "", fmt.Errorf("parse file: %s is larger than %d bytes", path, limit)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("parse file: %w", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("parse file %s: %w", path, ErrBinaryFile)
	}
	return string(b), nil
}
