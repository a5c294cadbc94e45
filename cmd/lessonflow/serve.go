package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/lessonflow/internal/api"
	"github.com/rendis/lessonflow/internal/config"
	"github.com/rendis/lessonflow/internal/logging"
	"github.com/rendis/lessonflow/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run scheduled workflows",
	Long: `Serve exposes workflows, runs, lessons, providers and schedules over HTTP,
streams run progress as server-sent events and fires cron schedules. SIGHUP
reloads the settings file; only the log level is applied live.`,
	Args: cobra.NoArgs,
	RunE: serve,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask a running server to re-read its settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pid, err := signalServer(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signaled server (PID %d) to reload settings\n", pid)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, reloadCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from settings)")
	serveCmd.Flags().Bool("no-scheduler", false, "do not fire cron schedules")
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := serveConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	sched := scheduler.New(a.store, a.runs, cfg.Scheduler.Tick, a.logger)
	noSched, _ := cmd.Flags().GetBool("no-scheduler")
	if cfg.Scheduler.Enabled && !noSched {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	pidFile := pidPath()
	if err := writePID(pidFile); err != nil {
		a.logger.Warn("could not write pid file", "path", pidFile, "error", err)
	} else {
		defer os.Remove(pidFile)
	}

	go watchReload(ctx, cmd, a)

	srv := api.NewServer(api.Deps{
		Runs:      a.runs,
		Store:     a.store,
		Validator: a.validator,
		Hub:       a.hub,
		Providers: a.providers,
		Scheduler: sched,
		Kinds:     a.dispatcher.List,
		Circuits:  a.breakers.Snapshot,
		Metrics:   a.metrics.Handler(),
		Logger:    a.logger,
	})
	return srv.Serve(ctx, cfg.ListenAddr)
}

// serveConfig is loadConfig plus the --addr override.
func serveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cfg, err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ListenAddr = addr
	}
	return cfg, nil
}

func pidPath() string {
	return filepath.Join(config.Dir(), "lessonflow.pid")
}

func writePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// watchReload re-reads the settings on SIGHUP. The log level changes in
// place; anything else is reported as needing a restart.
func watchReload(ctx context.Context, cmd *cobra.Command, a *app) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		next, err := serveConfig(cmd)
		if err != nil {
			a.logger.Error("reload settings", "error", err)
			continue
		}
		d := diffConfigs(a.cfg, next)
		if d.LogLevelChanged {
			lvl, err := logging.ParseLevel(next.LogLevel)
			if err != nil {
				a.logger.Error("reload settings", "error", err)
				continue
			}
			a.level.Set(lvl)
			a.cfg.LogLevel = next.LogLevel
			a.logger.Info("log level changed", "level", next.LogLevel)
		}
		if len(d.RestartNeeded) > 0 {
			a.logger.Warn("settings changed that need a restart", "fields", strings.Join(d.RestartNeeded, ","))
		}
	}
}

// configDiff describes what changed between two settings.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string
}

func diffConfigs(old, next config.Config) configDiff {
	var d configDiff
	if old.LogLevel != next.LogLevel {
		d.LogLevelChanged = true
	}
	check := func(field string, changed bool) {
		if changed {
			d.RestartNeeded = append(d.RestartNeeded, field)
		}
	}
	check("listen_addr", old.ListenAddr != next.ListenAddr)
	check("db_path", old.DBPath != next.DBPath)
	check("pool_size", old.PoolSize != next.PoolSize)
	check("mode", old.Mode != next.Mode)
	check("redis", old.Redis != next.Redis)
	check("tracing", old.Tracing != next.Tracing)
	check("scheduler", old.Scheduler != next.Scheduler)
	check("vault", old.VaultPassphrase != next.VaultPassphrase || old.VaultSalt != next.VaultSalt)
	return d
}

// signalServer sends sig to the serving process named in the pid file.
func signalServer(sig os.Signal) (int, error) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, fmt.Errorf("no running server: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("bad pid file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, err
	}
	return pid, proc.Signal(sig)
}
