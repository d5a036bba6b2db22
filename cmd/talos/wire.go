// ABOUTME: Builds the pipeline engine from config: remote API or local LLM collaborators, connectors, tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spyglass-search/talos/backend"
	"github.com/spyglass-search/talos/config"
	"github.com/spyglass-search/talos/connector"
	"github.com/spyglass-search/talos/llm"
	"github.com/spyglass-search/talos/pipeline"
	"github.com/spyglass-search/talos/workflow"
)

// buildEngine wires every collaborator named by cfg. The returned cleanup
// releases the SQLite database and the local summarize queue.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline.Engine, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("cleanup failed", "error", err)
			}
		}
	}

	tokens := backend.Tokens(cfg.API.Token, cfg.API.TokenFile)

	router, closeConn, err := buildConnectors(cfg)
	if err != nil {
		return nil, nil, err
	}
	if closeConn != nil {
		closers = append(closers, closeConn)
	}

	collab := pipeline.Collaborators{
		Connector:    router,
		Tokens:       tokens,
		PollInterval: cfg.Summarize.PollInterval,
		Logger:       logger,
	}

	if cfg.UsesRemoteAPI() {
		client := backend.NewClient(cfg.API.Endpoint, tokens, logger)
		collab.Fetcher = client
		collab.Parser = client
		collab.Asker = client
		collab.Summaries = client
		logger.Debug("using remote API", "endpoint", cfg.API.Endpoint)
	} else {
		collab.Fetcher = backend.LocalWeb{}
		collab.Parser = backend.LocalFiles{}
		asker, tasks, err := buildLocalLLM(ctx, cfg, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if asker != nil {
			collab.Asker = asker
		}
		if tasks != nil {
			collab.Summaries = tasks
			closers = append(closers, func() error { tasks.Close(); return nil })
		}
	}

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Handlers:     pipeline.DefaultHandlerRegistry(collab),
		Inferrer:     pipeline.NewInferrer(router, tokens, pipeline.NewShapeCache(), logger),
		EventHandler: eventLogger(logger),
		Logger:       logger,
	})
	return engine, cleanup, nil
}

// buildConnectors routes both connection families to the remote connector
// API when one is configured, and spreadsheets to local SQLite otherwise.
func buildConnectors(cfg *config.Config) (*connector.Router, func() error, error) {
	router := connector.NewRouter()
	if cfg.Connectors.APIEndpoint != "" {
		remote := connector.NewHTTPClient(cfg.Connectors.APIEndpoint)
		router.Handle(workflow.ConnectionGSheets, remote)
		router.Handle(workflow.ConnectionHubspot, remote)
		return router, nil, nil
	}
	if cfg.Connectors.SQLitePath == "" {
		return router, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Connectors.SQLitePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	sheets, err := connector.OpenSQLiteSheets(cfg.Connectors.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	router.Handle(workflow.ConnectionGSheets, sheets)
	return router, sheets.Close, nil
}

// buildLocalLLM returns nil collaborators, not an error, when no API key is
// configured so that validation and template-only workflows still run.
func buildLocalLLM(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Asker, *llm.TaskQueue, error) {
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "openai-compat" {
		logger.Warn("no LLM API key configured; Extract and Summarize nodes will fail",
			"provider", cfg.LLM.Provider)
		return nil, nil, nil
	}
	client, err := llm.NewClient(ctx, cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	tasks := llm.NewTaskQueue(client, cfg.LLM.Model, logger)
	if cfg.LLM.Structured {
		if cfg.LLM.Provider != "openai" && cfg.LLM.Provider != "openai-compat" {
			tasks.Close()
			return nil, nil, errors.New("llm.structured requires the openai or openai-compat provider")
		}
		return llm.NewOpenAIAsker(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, logger), tasks, nil
	}
	return llm.NewMuxAsker(client, cfg.LLM.Model, logger), tasks, nil
}

func eventLogger(logger *slog.Logger) func(pipeline.EngineEvent) {
	return func(evt pipeline.EngineEvent) {
		logger.Debug("engine event", "type", evt.Type, "run", evt.RunID, "node", evt.NodeID)
	}
}
