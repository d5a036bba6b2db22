// ABOUTME: The serve and mcp commands: the HTTP run API and the MCP tool server over stdio.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spyglass-search/talos/mcpserver"
	"github.com/spyglass-search/talos/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for validating, running and re-running workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			engine, cleanup, err := buildEngine(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer cleanup()
			return serve(cmd.Context(), addr, server.New(engine, a.logger), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	return cmd
}

func serve(ctx context.Context, addr string, api *server.Server, a *app) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("runs did not stop in time", "error", err)
		}
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, cleanup, err := buildEngine(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer cleanup()
			srv := mcpserver.NewServer(engine, version, a.logger)
			a.logger.Info("starting MCP server over stdio")
			return srv.MCPServer.Run(cmd.Context(), &sdkmcp.StdioTransport{})
		},
	}
}
