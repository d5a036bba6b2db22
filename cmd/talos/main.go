// ABOUTME: CLI entrypoint for talos with run, validate, shapes, serve, mcp and version commands.
// ABOUTME: Loads .env and config before every command and cancels work on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spyglass-search/talos/config"
)

// version is set at build time via -ldflags.
var version = "dev"

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "talos",
		Short: "Run data workflows of sources, LLM steps, templates, loops and destinations",
		Long: `talos runs linear workflows described as JSON or YAML node lists.

Nodes read text, URLs, files or spreadsheet connections, extract structured
data or summaries with an LLM, render Handlebars templates, loop over rows,
and write results back to a connection. Unchanged nodes are reused on re-run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.Version = version
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./talos.yaml or $XDG_CONFIG_HOME/talos/talos.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log engine events at debug level")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newShapesCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads .env, the config file and the logger.
func (a *app) setup() error {
	config.LoadDotEnvAuto()
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the talos version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "talos %s\n", version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
