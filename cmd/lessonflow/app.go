package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/internal/config"
	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/expressions"
	"github.com/rendis/lessonflow/internal/logging"
	"github.com/rendis/lessonflow/internal/metrics"
	"github.com/rendis/lessonflow/internal/providers"
	"github.com/rendis/lessonflow/internal/runs"
	"github.com/rendis/lessonflow/internal/secrets"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/internal/streaming"
	"github.com/rendis/lessonflow/internal/telemetry"
	"github.com/rendis/lessonflow/internal/validation"
	"github.com/rendis/lessonflow/pkg/schema"
)

// saltKey holds the generated vault salt when none is configured. The salt is
// not secret, so it is stored in the clear next to the sealed entries.
const saltKey = "vault/salt"

const providerTimeout = 2 * time.Minute

// app is everything a command needs, built once from the settings.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	level  *slog.LevelVar

	store      *store.LibSQLStore
	providers  *secrets.ProviderConfigs // nil without a vault passphrase
	dispatcher *actions.Dispatcher
	breakers   *actions.CircuitBreakerRegistry
	validator  *validation.WorkflowValidator
	hub        streaming.Hub
	publisher  *streaming.Publisher
	metrics    *metrics.Metrics
	runs       *runs.Service

	closers []func(context.Context) error
}

type appOptions struct {
	// logOut receives log output; stderr when nil.
	logOut io.Writer
	// observers are attached to every run next to the publisher and metrics.
	observers []engine.Observer
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, level: new(slog.LevelVar)}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	lvl, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a.level.Set(lvl)
	if opts.logOut == nil {
		opts.logOut = os.Stderr
	}
	a.logger = logging.New(opts.logOut, a.level, cfg.LogFormat)

	tracer, shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openVault(ctx); err != nil {
		return nil, err
	}
	if err := a.openHub(ctx); err != nil {
		return nil, err
	}
	a.publisher = streaming.NewPublisher(a.hub, a.logger)
	a.metrics = metrics.New()

	if err := a.buildDispatcher(); err != nil {
		return nil, err
	}
	if a.validator, err = validation.NewWorkflowValidator(a.dispatcher); err != nil {
		return nil, err
	}

	mode, err := engine.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	observers := append([]engine.Observer{a.publisher, a.metrics}, opts.observers...)
	a.runs = runs.NewService(a.dispatcher, a.store, runs.Config{
		Mode:          mode,
		PoolSize:      cfg.PoolSize,
		MaxExecutions: cfg.MaxExecutions,
		Logger:        a.logger,
		Tracer:        tracer,
		Observers:     observers,
	})
	a.metrics.WatchPool("default", a.runs.PoolMetrics)
	a.closers = append(a.closers, a.runs.Shutdown)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(a.cfg.DSN())
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", a.cfg.DBPath, err)
	}
	a.store = st
	return nil
}

// openVault enables provider settings when a passphrase is configured.
func (a *app) openVault(ctx context.Context) error {
	if a.cfg.VaultPassphrase == "" {
		a.logger.Debug("no vault passphrase, provider settings disabled")
		return nil
	}
	salt, err := vaultSalt(ctx, a.store, a.cfg.VaultSalt)
	if err != nil {
		return err
	}
	vault, err := secrets.NewAESVault(a.store, secrets.VaultConfig{
		Passphrase: a.cfg.VaultPassphrase,
		Salt:       salt,
	})
	if err != nil {
		return err
	}
	a.providers = secrets.NewProviderConfigs(a.store, vault)
	return nil
}

// vaultSalt returns the configured salt, or the one generated on first use.
func vaultSalt(ctx context.Context, st secrets.SecretStore, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	salt, err := st.GetSecret(ctx, saltKey)
	if err == nil {
		return salt, nil
	}
	if schema.CodeOf(err) != schema.ErrCodeNotFound {
		return nil, err
	}
	salt = make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := st.StoreSecret(ctx, saltKey, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func (a *app) openHub(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.hub = streaming.NewMemoryHub()
		return nil
	}
	opts := []streaming.RedisOption{streaming.WithLogger(a.logger)}
	if a.cfg.Redis.Channel != "" {
		opts = append(opts, streaming.WithChannel(a.cfg.Redis.Channel))
	}
	if a.cfg.Redis.History > 0 {
		opts = append(opts, streaming.WithHistory(a.cfg.Redis.History, a.cfg.Redis.HistoryTTL))
	}
	hub := streaming.NewRedisHub(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, opts...)
	a.closers = append(a.closers, func(context.Context) error { return hub.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := hub.Ping(pingCtx); err != nil {
		return fmt.Errorf("redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.hub = hub
	return nil
}

func (a *app) buildDispatcher() error {
	// A nil *ProviderConfigs must not become a non-nil interface.
	var configs actions.ConfigStore
	if a.providers != nil {
		configs = a.providers
	}
	doer := &http.Client{Timeout: providerTimeout}

	caps := actions.Capabilities{
		AI: providers.NewAIRouter(providers.DefaultPresets(), doer),
		Search: providers.NewSearch(providers.SearchOptions{
			URL:     a.cfg.Search.URL,
			APIKey:  a.cfg.Search.APIKey,
			Model:   a.cfg.Search.Model,
			Configs: configs,
		}, doer),
		Messages: providers.NewMessenger(configs, doer),
		PDF:      providers.NewPDFWriter(a.cfg.OutputDir, a.cfg.PDFFont),
		Calendar: providers.NewCalendar(configs, a.cfg.OutputDir, doer),
		Lessons:  a.store,
		Configs:  configs,
	}

	breaker := actions.DefaultCircuitBreakerConfig()
	if a.cfg.CircuitBreaker.FailureThreshold > 0 {
		breaker.FailureThreshold = a.cfg.CircuitBreaker.FailureThreshold
	}
	if a.cfg.CircuitBreaker.Cooldown > 0 {
		breaker.Cooldown = a.cfg.CircuitBreaker.Cooldown
	}

	a.breakers = actions.NewCircuitBreakerRegistry(breaker)
	a.metrics.WatchCircuits(a.breakers.Snapshot)

	d, err := actions.NewStandardDispatcher(caps, actions.AIOptions{
		DefaultProvider: a.cfg.AI.DefaultProvider,
		Language:        a.cfg.Language,
		Breakers:        a.breakers,
		Logger:          a.logger,
		OnFallback: func(ctx context.Context, node *schema.Node, provider string, cause error) {
			a.publisher.Fallback(ctx, node, provider, cause)
			a.metrics.Fallback(ctx, node, provider, cause)
		},
	}, expressions.NewRenderer(expressions.NewExprEngine()))
	if err != nil {
		return err
	}
	a.dispatcher = d
	return nil
}

// requireProviders fails with a hint when the vault is not configured.
func (a *app) requireProviders() (*secrets.ProviderConfigs, error) {
	if a.providers == nil {
		return nil, schema.NewError(schema.ErrCodeVault,
			"provider settings need a vault passphrase (set LESSONFLOW_VAULT_PASSPHRASE or vault_passphrase)")
	}
	return a.providers, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
