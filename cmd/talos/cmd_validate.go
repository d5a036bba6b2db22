// ABOUTME: The validate and shapes commands: infer node shapes and report validation errors without running.
package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spyglass-search/talos/pipeline"
	"github.com/spyglass-search/talos/workflow"
)

var errInvalidWorkflow = errors.New("workflow is invalid")

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Check a workflow's shapes and configuration without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := workflow.Check(nodes); err != nil {
				return err
			}
			engine, cleanup, err := buildEngine(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			_, vr := engine.Check(cmd.Context(), nodes)
			fmt.Fprintln(cmd.OutOrStdout(), vr.Status)
			if !vr.OK() {
				printNodeErrors(cmd, vr.Errors)
				return errInvalidWorkflow
			}
			return nil
		},
	}
}

func newShapesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shapes <workflow>",
		Short: "Print the inferred input and output types of every node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			engine, cleanup, err := buildEngine(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			defs := engine.Inferrer().Infer(cmd.Context(), nodes)
			printShapes(cmd, defs)
			return nil
		},
	}
}

func printNodeErrors(cmd *cobra.Command, errs []pipeline.NodeError) {
	for _, ne := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", ne.NodeID, ne.Message)
	}
}

func printShapes(cmd *cobra.Command, defs []pipeline.IODefinition) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tPARENT\tINPUT\tOUTPUT\tSCHEMA")
	for _, d := range defs {
		schema := "-"
		switch {
		case d.OutputSchemaWithMapping != nil:
			schema = d.OutputSchemaWithMapping.String()
		case d.OutputSchema != nil:
			schema = d.OutputSchema.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.NodeID, dash(d.ParentID), dash(string(d.InputType)), dash(string(d.OutputType)), schema)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
