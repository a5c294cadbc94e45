package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve lessonflow tools to an MCP client over stdio",
	Long: `MCP speaks the Model Context Protocol on stdin and stdout. Logs go to
stderr. Run progress is sent to the calling session as log notifications.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		notifier := mcp.NewProgressNotifier()
		a, err := newApp(ctx, cfg, appOptions{
			logOut:    os.Stderr,
			observers: []engine.Observer{notifier},
		})
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(ctx))

		srv := mcp.NewLessonflowServer(mcp.ServerDeps{
			Runs:      a.runs,
			Store:     a.store,
			Validator: a.validator,
			Notifier:  notifier,
			Version:   version,
			Logger:    a.logger,
		})
		a.logger.Info("mcp server ready", "version", version)
		return srv.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
