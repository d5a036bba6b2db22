// ABOUTME: The run command: executes a workflow file once or repeatedly, printing the final output.
// ABOUTME: With --tui the run is shown in the Bubble Tea interface with cancel and re-run keys.
package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/spyglass-search/talos/pipeline"
	"github.com/spyglass-search/talos/tui"
	"github.com/spyglass-search/talos/workflow"
)

var errRunFailed = errors.New("workflow run failed")

func newRunCmd(a *app) *cobra.Command {
	var (
		useTUI bool
		reruns int
	)
	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow file (.json, .yaml or .yml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			if useTUI {
				return a.runTUI(cmd, workflowName(args[0]), nodes)
			}
			return a.runPlain(cmd, nodes, reruns)
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show progress in the terminal UI")
	cmd.Flags().IntVar(&reruns, "rerun", 0, "run the workflow N more times on the same instance, reusing unchanged nodes")
	return cmd
}

func (a *app) runPlain(cmd *cobra.Command, nodes []*workflow.Node, reruns int) error {
	ctx := cmd.Context()
	engine, cleanup, err := buildEngine(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var reused atomic.Int32
	inst := engine.NewInstance(nodes, pipeline.Observer{
		Event: func(evt pipeline.EngineEvent) {
			if evt.Type == pipeline.EventNodeMemoized {
				reused.Add(1)
			}
		},
	})

	out := cmd.OutOrStdout()
	for attempt := 1; attempt <= reruns+1; attempt++ {
		reused.Store(0)
		result, err := inst.Run(ctx)
		if err != nil {
			var verr *pipeline.ValidationError
			if errors.As(err, &verr) {
				printNodeErrors(cmd, verr.Errors)
			}
			return err
		}
		if reruns > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "run %d: %d of %d nodes reused\n", attempt, reused.Load(), len(nodes))
		}
		if result == nil {
			continue
		}
		if result.Failed() {
			return fmt.Errorf("%w: %s", errRunFailed, result.Error)
		}
		if attempt == reruns+1 {
			text := workflow.Text(result.Data)
			fmt.Fprint(out, text)
			if !strings.HasSuffix(text, "\n") {
				fmt.Fprintln(out)
			}
		}
	}
	return nil
}

func (a *app) runTUI(cmd *cobra.Command, name string, nodes []*workflow.Node) error {
	ctx := cmd.Context()
	engine, cleanup, err := buildEngine(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	bridge := tui.NewEventBridge(nil)
	inst := engine.NewInstance(nodes, pipeline.Observer{Event: bridge.HandleEvent})
	program := tea.NewProgram(tui.NewAppModel(ctx, name, inst), tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(program.Send)

	final, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	model, ok := final.(tui.AppModel)
	if !ok || !model.Done() {
		return nil
	}
	if model.Err() != nil {
		return model.Err()
	}
	if r := model.Result(); r.Failed() && !r.IsCanceled() {
		return fmt.Errorf("%w: %s", errRunFailed, r.Error)
	}
	return nil
}

func workflowName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
