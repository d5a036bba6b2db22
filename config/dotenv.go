// ABOUTME: Loads environment variables from .env files before configuration is read.
// ABOUTME: Never overrides variables that are already set.

package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadDotEnv sets the variables in the .env file at path that are not
// already in the environment. A missing file is ignored. Accepts KEY=VALUE,
// quoted values and an optional "export " prefix.
func LoadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}

func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first == last && (first == '"' || first == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}

// LoadDotEnvAuto loads .env from the working directory and each parent,
// nearest first, so closer files win.
func LoadDotEnvAuto() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	for dir := wd; ; {
		LoadDotEnv(filepath.Join(dir, ".env"))
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
