package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/lessonflow/internal/diagram"
	"github.com/rendis/lessonflow/pkg/schema"
)

var diagramCmd = &cobra.Command{
	Use:   "diagram <file>",
	Short: "Draw a workflow as ASCII or Mermaid",
	Long: `Diagram lays the workflow out by dependency level. With --run the node
boxes carry the status recorded for that run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "ascii" && format != "mermaid" {
			return fmt.Errorf("unknown format %q (want ascii or mermaid)", format)
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(cmd.Context()))

		wf, res, err := loadWorkflow(a.validator, args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		if wf == nil {
			printIssues(cmd.ErrOrStderr(), res)
			return res.ToError()
		}

		var records []schema.ExecutionRecord
		if runID, _ := cmd.Flags().GetString("run"); runID != "" {
			run, err := a.runs.Get(cmd.Context(), runID)
			if err != nil {
				return err
			}
			records = run.Records
		}

		model, err := diagram.Build(wf, records)
		if err != nil {
			return err
		}
		if format == "mermaid" {
			fmt.Fprint(cmd.OutOrStdout(), diagram.RenderMermaid(model))
		} else {
			fmt.Fprint(cmd.OutOrStdout(), diagram.RenderASCII(model))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagramCmd)
	diagramCmd.Flags().String("format", "ascii", "output format: ascii or mermaid")
	diagramCmd.Flags().String("run", "", "overlay the node status of a stored run")
}
