package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/bridge-deployer-app/config"
	"github.com/compose-network/bridge-deployer/metrics"
	apisrv "github.com/compose-network/bridge-deployer/server/api"
	apimw "github.com/compose-network/bridge-deployer/server/api/middleware"
	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/provision"
	"github.com/compose-network/bridge-deployer/x/reconcile"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// DialFunc connects to one network. signer is nil in dry-run.
type DialFunc func(ctx context.Context, cfg chain.Config, signer chain.Signer, log zerolog.Logger) (chain.Client, error)

func dialEthereum(ctx context.Context, cfg chain.Config, signer chain.Signer, log zerolog.Logger) (chain.Client, error) {
	return chain.Dial(ctx, cfg, signer, log)
}

// AppOption customizes the application
type AppOption func(*App)

// WithTokens restricts the run to the given token ids.
func WithTokens(ids ...string) AppOption {
	return func(a *App) { a.selected = ids }
}

// WithDialer replaces the go-ethereum dialer.
func WithDialer(dial DialFunc) AppOption {
	return func(a *App) { a.dial = dial }
}

// WithArtifacts replaces the compiler-output bytecode source.
func WithArtifacts(src provision.BytecodeSource) AppOption {
	return func(a *App) { a.artifacts = src }
}

// WithOutput sets where the run summary is printed.
func WithOutput(w io.Writer) AppOption {
	return func(a *App) { a.out = w }
}

// App is one deployment run with everything it needs.
type App struct {
	cfg *config.Config
	log zerolog.Logger
	out io.Writer

	selected  []string
	dial      DialFunc
	artifacts provision.BytecodeSource

	tokens   []plan.TokenConfig
	store    addrstore.Store
	clients  *chain.Registry
	executor *execmode.Executor
	engine   *reconcile.Engine

	// API server (HTTP)
	apiServer *apisrv.Server

	shutdownFns []func() error
	cancel      context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...AppOption) (*App, error) {
	app := &App{
		cfg:         cfg,
		log:         log.With().Str("component", "app").Logger(),
		out:         os.Stdout,
		dial:        dialEthereum,
		shutdownFns: make([]func() error, 0),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.artifacts == nil {
		app.artifacts = contracts.NewArtifacts(cfg.ArtifactsDir)
	}

	if err := app.initialize(ctx, log); err != nil {
		_ = app.closeAll()
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(ctx context.Context, log zerolog.Logger) error {
	tokens, err := a.cfg.TokenConfigs(a.selected)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return errors.New("no tokens configured")
	}
	a.tokens = tokens

	store, err := addrstore.Open(ctx, a.cfg.StoreConfig(log))
	if err != nil {
		return fmt.Errorf("failed to open address store: %w", err)
	}
	a.store = store
	a.shutdownFns = append(a.shutdownFns, store.Close)

	if err := a.initializeClients(ctx, log); err != nil {
		return err
	}

	a.executor = execmode.NewExecutor(a.cfg.ExecMode(), execmode.NewChangeSummary(), log)

	engineCfg := reconcile.Config{
		Store:     a.store,
		Executor:  a.executor,
		Clients:   a.clients,
		Networks:  a.cfg.Registry(),
		Artifacts: a.artifacts,
	}
	verification := addrstore.NewVerificationLog(filepath.Join(a.cfg.OutputDir, "verification"))
	engine, err := reconcile.New(engineCfg, reconcile.WithVerificationLog(verification), reconcile.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = engine

	if a.cfg.API.Enabled {
		a.initializeAPIServer()
	}
	return nil
}

// initializeClients dials every network a selected token touches. A network
// that cannot be reached is left out; the engine skips its work and the
// summary reports it.
func (a *App) initializeClients(ctx context.Context, log zerolog.Logger) error {
	var signer chain.Signer
	if a.cfg.ExecMode() == execmode.Live {
		if a.cfg.Secrets.PrivateKey == "" {
			return errors.New("DEPLOYER_PRIVATE_KEY is required in live mode")
		}
		s, err := chain.SignerFromHex(a.cfg.Secrets.PrivateKey)
		if err != nil {
			return err
		}
		signer = s
		a.log.Info().Str("from", s.From().Hex()).Msg("Signer loaded")
	}

	used := make(map[resource.NetworkID]bool)
	for _, t := range a.tokens {
		if t.Hub != "" {
			used[t.Hub] = true
		}
		for _, n := range append(append([]resource.NetworkID{}, t.Spokes...), t.Networks...) {
			used[n] = true
		}
	}

	a.clients = chain.NewRegistry()
	a.shutdownFns = append(a.shutdownFns, a.clients.Close)
	for _, cc := range a.cfg.ChainConfigs() {
		if !used[cc.Network] {
			continue
		}
		client, err := a.dial(ctx, cc, signer, log)
		if err != nil {
			a.log.Error().Err(err).Str("network", string(cc.Network)).
				Msg("Network unreachable, its resources will be skipped this run")
			continue
		}
		a.clients.Add(client)
	}
	return nil
}

// initializeAPIServer sets up the status API
func (a *App) initializeAPIServer() {
	s := apisrv.NewServer(apisrv.Config{
		ListenAddr:        a.cfg.API.ListenAddr,
		ReadHeaderTimeout: a.cfg.API.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.API.ReadTimeout,
		WriteTimeout:      a.cfg.API.WriteTimeout,
		IdleTimeout:       a.cfg.API.IdleTimeout,
		MaxHeaderBytes:    a.cfg.API.MaxHeaderBytes,
	}, a.log)
	s.Use(apimw.Recover(a.log))
	s.Use(apimw.RequestID())
	s.Use(apimw.Logger(a.log))
	s.EnableCORS()

	s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	s.Router.HandleFunc("/summary", a.handleSummary).Methods(http.MethodGet)

	if a.cfg.Metrics.Enabled {
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	a.apiServer = s
}

type runResult struct {
	summary *reconcile.Summary
	err     error
}

// Run executes one deployment run and blocks until it finishes or a
// shutdown signal arrives. The summary is always reported.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.Start(runCtx); err != nil {
				a.log.Error().Err(err).Msg("API server error")
			}
		}()
	}

	done := make(chan runResult, 1)
	go func() {
		summary, err := a.engine.Run(runCtx, a.tokens)
		done <- runResult{summary: summary, err: err}
	}()

	res := a.runWithGracefulShutdown(runCtx, done)
	reportErr := a.report(res.summary)
	if err := a.shutdown(); err != nil {
		a.log.Error().Err(err).Msg("Shutdown error")
	}

	switch {
	case res.err != nil:
		return fmt.Errorf("run aborted: %w", res.err)
	case reportErr != nil:
		return reportErr
	case res.summary != nil && res.summary.Failed():
		return fmt.Errorf("run finished with %d error(s); re-run to retry", len(res.summary.Snapshot().Errors))
	}
	return nil
}

// runWithGracefulShutdown waits for the run, canceling it on SIGINT/SIGTERM
// and still waiting so the partial summary can be reported.
func (a *App) runWithGracefulShutdown(ctx context.Context, done <-chan runResult) runResult {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, waiting for the run to stop")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal, waiting for the run to stop")
	}

	if a.cancel != nil {
		a.cancel()
	}
	return <-done
}

// report prints the summary and writes the run artifacts.
func (a *App) report(summary *reconcile.Summary) error {
	if summary == nil {
		return nil
	}
	if err := summary.Render(a.out); err != nil {
		a.log.Error().Err(err).Msg("Failed to print summary")
	}

	var errs []error
	path, err := summary.WriteJSON(a.cfg.OutputDir)
	if err != nil {
		errs = append(errs, err)
	} else {
		a.log.Info().Str("path", path).Msg("Summary written")
	}

	if a.executor.Mode() == execmode.DryRun {
		paths, err := a.executor.Summary().WriteBatches(filepath.Join(a.cfg.OutputDir, "batches"), a.cfg.Project, time.Now().UTC())
		if err != nil {
			errs = append(errs, err)
		}
		for _, p := range paths {
			a.log.Info().Str("path", p).Msg("Multisig batch written")
		}
	}
	return errors.Join(errs...)
}

// shutdown releases the store and chain connections.
func (a *App) shutdown() error {
	a.log.Info().Msg("Shutting down")
	if a.cancel != nil {
		a.cancel()
	}
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		if err := a.shutdownFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdownFns = nil
	return errors.Join(errs...)
}

// handleHealth responds to health check requests.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"mode":      a.executor.Mode().String(),
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSummary returns the progress of the run in flight.
func (a *App) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap := a.engine.Progress()
	if snap == nil {
		apisrv.WriteError(w, r, http.StatusNotFound, "no_run", "no run has started yet", nil)
		return
	}
	apisrv.WriteJSON(w, http.StatusOK, snap)
}
