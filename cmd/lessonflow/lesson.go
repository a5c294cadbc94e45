package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/lessonflow/pkg/schema"
)

var lessonCmd = &cobra.Command{
	Use:   "lesson",
	Short: "Manage stored lessons used by lesson-reference nodes",
}

var lessonAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Store a lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := lessonFromFlags(cmd, args[0])
		if err != nil {
			return err
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

		if err := a.store.SaveLesson(cmd.Context(), l); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "lesson %s saved (%d characters)\n", l.ID, len([]rune(l.Content)))
		return nil
	},
}

var lessonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored lessons",
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

		limit, _ := cmd.Flags().GetInt("limit")
		lessons, err := a.store.ListLessons(cmd.Context(), limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tCREATED\tSUMMARY")
		for _, l := range lessons {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.ID, l.Title, l.CreatedAt.Format(time.DateOnly), orDash(preview(l.Summary, 48)))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lessonCmd)
	lessonCmd.AddCommand(lessonAddCmd, lessonListCmd)

	f := lessonAddCmd.Flags()
	f.String("title", "", "lesson title (required)")
	f.String("content", "", "lesson body")
	f.String("content-file", "", "read the lesson body from a file, - for stdin")
	f.String("summary", "", "short summary")
	f.String("query", "", "the research query the lesson came from")
	_ = lessonAddCmd.MarkFlagRequired("title")
	lessonAddCmd.MarkFlagsMutuallyExclusive("content", "content-file")

	lessonListCmd.Flags().Int("limit", 50, "maximum lessons to list, 0 for all")
}

func lessonFromFlags(cmd *cobra.Command, id string) (*schema.Lesson, error) {
	f := cmd.Flags()
	l := &schema.Lesson{ID: id, CreatedAt: time.Now().UTC()}
	l.Title, _ = f.GetString("title")
	l.Content, _ = f.GetString("content")
	l.Summary, _ = f.GetString("summary")
	l.Query, _ = f.GetString("query")

	if path, _ := f.GetString("content-file"); path != "" {
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		l.Content = string(data)
	}
	if strings.TrimSpace(l.Title) == "" {
		return nil, errors.New("--title must not be empty")
	}
	return l, nil
}
