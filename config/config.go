// ABOUTME: Configuration for talos: YAML file, TALOS_ environment overrides and defaults, loaded with viper.
// ABOUTME: Covers the remote API, LLM provider, connectors, summarize polling, HTTP server and logging.

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TALOS_LLM_PROVIDER.
const EnvPrefix = "TALOS"

// Config holds the configuration for talos.
type Config struct {
	API struct {
		Endpoint  string `mapstructure:"endpoint"`
		Token     string `mapstructure:"token"`
		TokenFile string `mapstructure:"token_file"`
	} `mapstructure:"api"`
	LLM struct {
		Provider string `mapstructure:"provider"`
		Model    string `mapstructure:"model"`
		APIKey   string `mapstructure:"api_key"`
		BaseURL  string `mapstructure:"base_url"`
		// Structured sends extract schemas as an OpenAI response format.
		Structured bool `mapstructure:"structured"`
	} `mapstructure:"llm"`
	Connectors struct {
		SQLitePath  string `mapstructure:"sqlite_path"`
		APIEndpoint string `mapstructure:"api_endpoint"`
	} `mapstructure:"connectors"`
	Summarize struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"summarize"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Load reads path, or talos.yaml from the working directory and the config
// directory when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("talos")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderKeys()
	cfg.API.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.API.Endpoint), "/")
	if cfg.Connectors.APIEndpoint == "" {
		cfg.Connectors.APIEndpoint = cfg.API.Endpoint
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.endpoint", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.token_file", "")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.structured", false)
	v.SetDefault("connectors.sqlite_path", defaultSQLitePath())
	v.SetDefault("connectors.api_endpoint", "")
	v.SetDefault("summarize.poll_interval", time.Second)
	v.SetDefault("server.addr", "127.0.0.1:2389")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// applyProviderKeys falls back to the provider's conventional environment
// variable when no key is configured.
func (c *Config) applyProviderKeys() {
	if c.LLM.APIKey != "" {
		return
	}
	var env string
	switch c.LLM.Provider {
	case "anthropic":
		env = "ANTHROPIC_API_KEY"
	case "openai", "openai-compat":
		env = "OPENAI_API_KEY"
	case "gemini":
		env = "GEMINI_API_KEY"
	}
	if env != "" {
		c.LLM.APIKey = os.Getenv(env)
	}
}

// UsesRemoteAPI reports whether extract and summarize go to the remote API
// instead of a local LLM.
func (c *Config) UsesRemoteAPI() bool {
	return c.API.Endpoint != ""
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Log.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
	}
}

func defaultSQLitePath() string {
	dir, err := DataDir()
	if err != nil {
		return "talos.db"
	}
	return filepath.Join(dir, "sheets.db")
}
