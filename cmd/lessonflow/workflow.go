package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Manage saved workflows",
}

var workflowSaveCmd = &cobra.Command{
	Use:   "save <file>",
	Short: "Validate and store a workflow so it can be scheduled",
	Long: `Save stores the workflow in a YAML or JSON file. Its id defaults to the
file name without extension.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		if !res.Valid() {
			printIssues(cmd.ErrOrStderr(), res)
			return res.ToError()
		}
		if id, _ := cmd.Flags().GetString("id"); id != "" {
			wf.ID = id
		}
		if err := a.store.SaveWorkflow(cmd.Context(), wf); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "workflow %s saved (%d nodes, %d edges)\n", wf.ID, len(wf.Nodes), len(wf.Edges))
		return nil
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(cmd.Context()))

		list, err := a.store.ListWorkflows(cmd.Context(), 0)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tNODES\tUPDATED")
		for _, wf := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", wf.ID, orDash(wf.Title), len(wf.Nodes), wf.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var workflowRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Delete a saved workflow",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(cmd.Context()))
		return a.store.DeleteWorkflow(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowSaveCmd, workflowListCmd, workflowRemoveCmd)
	workflowSaveCmd.Flags().String("id", "", "store under this id instead of the one in the file")
}
