package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/lessonflow/internal/diagram"
	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/runs"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/pkg/schema"
)

const previewWidth = 72

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a workflow file and print node progress",
	Long: `Run executes the workflow in a YAML or JSON file ("-" reads stdin). A
status line is printed whenever a node starts, completes or fails, followed by
the final record of every node. Interrupting the command cancels the run.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("mode", "", "walk mode: barrier or per-path (default from settings)")
	runCmd.Flags().Bool("json", false, "print the final run result as JSON")
	runCmd.Flags().Bool("save", false, "store the workflow before running it")
	runCmd.Flags().Bool("diagram", false, "print the graph with node status after the run")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mode, err := modeFlag(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	out := cmd.OutOrStdout()
	wf, res, err := loadWorkflow(a.validator, args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	if !res.Valid() {
		printIssues(cmd.ErrOrStderr(), res)
		return res.ToError()
	}

	if save, _ := cmd.Flags().GetBool("save"); save {
		if err := a.store.SaveWorkflow(ctx, wf); err != nil {
			return err
		}
	}

	run, err := a.runs.Start(ctx, wf, runs.StartOptions{Mode: mode, Trigger: store.TriggerManual})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s started (%s)\n", run.ID, run.Mode)

	nodes := nodeIndex(wf)
	for rec := range run.Updates() {
		fmt.Fprintln(out, statusLine(rec, nodes[rec.NodeID]))
	}
	result := run.Wait()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out)
		printRecords(out, wf, result)
	}

	if withDiagram, _ := cmd.Flags().GetBool("diagram"); withDiagram {
		model, err := diagram.Build(wf, result.Records)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, diagram.RenderASCII(model))
	}
	return runError(result)
}

// modeFlag parses --mode. Empty leaves the configured default in place.
func modeFlag(cmd *cobra.Command) (engine.Mode, error) {
	s, _ := cmd.Flags().GetString("mode")
	if s == "" {
		return "", nil
	}
	return engine.ParseMode(s)
}

func nodeIndex(wf *schema.Workflow) map[string]*schema.Node {
	m := make(map[string]*schema.Node, len(wf.Nodes))
	for i := range wf.Nodes {
		m[wf.Nodes[i].ID] = &wf.Nodes[i]
	}
	return m
}

// statusLine renders one record change, e.g.
// "completed  research (ai-research) in 1.2s".
func statusLine(rec schema.ExecutionRecord, node *schema.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %s", rec.Status, rec.NodeID)
	if node != nil {
		fmt.Fprintf(&b, " (%s)", node.Kind)
	}
	if rec.Attempts > 1 {
		fmt.Fprintf(&b, " #%d", rec.Attempts)
	}
	if rec.StartedAt != nil && rec.CompletedAt != nil {
		fmt.Fprintf(&b, " in %s", rec.CompletedAt.Sub(*rec.StartedAt).Round(time.Millisecond))
	}
	if rec.Status == schema.RecordError && rec.Error != "" {
		b.WriteString(": ")
		b.WriteString(rec.Error)
	}
	return b.String()
}

// printRecords writes the final record table in workflow node order.
func printRecords(w io.Writer, wf *schema.Workflow, res *schema.RunResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tKIND\tSTATUS\tATTEMPTS\tRESULT")
	for _, n := range wf.Nodes {
		status, attempts, text := schema.RecordPending, 0, ""
		if rec := res.Record(n.ID); rec != nil {
			status, attempts, text = rec.Status, rec.Attempts, rec.Result
			if rec.Status == schema.RecordError {
				text = rec.Error
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", n.ID, n.Kind, status, attempts, preview(text, previewWidth))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nrun %s %s in %s\n", res.RunID, res.Status,
		res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
}

// preview is the first line of s, cut to width runes.
func preview(s string, width int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	r := []rune(s)
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s
}

// runError turns an unsuccessful result into the command's exit error.
func runError(res *schema.RunResult) error {
	switch res.Status {
	case schema.RunCompleted:
		return nil
	case schema.RunCancelled:
		return fmt.Errorf("run %s cancelled", res.RunID)
	}
	if res.Error != nil {
		return res.Error
	}
	return errors.New("run " + res.RunID + " failed")
}
