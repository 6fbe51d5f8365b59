// Package reconcile drives a deployment run: every token is resolved, every
// network provisioned, then every network's links, limits and roles are
// reconciled.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/limits"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/provision"
	"github.com/compose-network/bridge-deployer/x/resource"
	"github.com/compose-network/bridge-deployer/x/wiring"
)

// Engine runs the two passes. Networks are processed concurrently; within
// a network tokens are processed in configuration order.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	mu      sync.Mutex
	current *Summary
}

// runState is what one run shares between its passes. Every component
// reads and writes addresses through view.
type runState struct {
	view    *addrstore.View
	summary *Summary

	provisioner *provision.Provisioner
	wiring      *wiring.Reconciler
	limits      *limits.Reconciler
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.apply(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "engine").Logger(),
		metrics: engineMetrics(),
	}
	if _, err := e.newRunState(nil); err != nil {
		return nil, err
	}
	return e, nil
}

// newRunState builds the components of one run. Dry-runs
// stage their records in memory so the persistent store never sees them.
func (e *Engine) newRunState(summary *Summary) (*runState, error) {
	view := addrstore.NewView(e.cfg.Store, e.cfg.Executor.Mode() == execmode.DryRun)

	prov, err := provision.New(provision.Config{
		Store:        view,
		Executor:     e.cfg.Executor,
		Artifacts:    e.cfg.Artifacts,
		Verification: e.cfg.Verification,
		Logger:       e.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	wr, err := wiring.New(wiring.Config{Store: view, Executor: e.cfg.Executor, Logger: e.cfg.Logger})
	if err != nil {
		return nil, err
	}
	lr, err := limits.New(limits.Config{Store: view, Executor: e.cfg.Executor, Logger: e.cfg.Logger})
	if err != nil {
		return nil, err
	}
	return &runState{view: view, summary: summary, provisioner: prov, wiring: wr, limits: lr}, nil
}

// Progress returns a snapshot of the run in flight, or of the last run.
// It is nil before the first run starts.
func (e *Engine) Progress() *Summary {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()
	if cur == nil {
		return nil
	}
	return cur.Snapshot()
}

// Run brings every token to its desired state. Per-resource and
// per-connection failures are collected in the summary; the returned error
// is reserved for conditions that abort the whole run.
func (e *Engine) Run(ctx context.Context, tokens []plan.TokenConfig) (*Summary, error) {
	runID := uuid.NewString()
	summary := newSummary(runID, e.cfg.Executor.Mode(), time.Now().UTC())
	e.mu.Lock()
	e.current = summary
	e.mu.Unlock()

	rs, err := e.newRunState(summary)
	if err != nil {
		return summary, err
	}

	log := e.log.With().Str("run_id", runID).Str("mode", summary.Mode).Logger()
	log.Info().Int("tokens", len(tokens)).Msg("Run started")

	work := make(map[resource.NetworkID][]*plan.Plan)
	for _, t := range tokens {
		p, err := plan.Resolve(t, e.cfg.Networks)
		if err != nil {
			log.Error().Err(err).Str("token", string(t.ID)).Msg("Token configuration rejected")
			e.metrics.Errors.WithLabelValues(deployerr.KindOf(err).String()).Inc()
			summary.addError("", t.ID, string(t.ID), err)
			continue
		}
		for _, n := range p.Networks {
			work[n] = append(work[n], p)
		}
	}

	if err := e.pass(ctx, "provision", work, rs, e.provisionNetwork); err != nil {
		log.Error().Err(err).Msg("Run aborted during provisioning")
		return summary, err
	}
	if err := e.pass(ctx, "reconcile", work, rs, e.reconcileNetwork); err != nil {
		log.Error().Err(err).Msg("Run aborted during reconciliation")
		return summary, err
	}

	now := time.Now().UTC()
	summary.finish(now)
	e.metrics.LastRunTimestamp.Set(float64(now.Unix()))

	snap := summary.Snapshot()
	log.Info().
		Int("provisioned", len(snap.Provisioned)).
		Int("reused", snap.Reused).
		Int("applied", len(snap.Applied)).
		Int("recorded", len(snap.Recorded)).
		Int("converged", snap.Converged).
		Int("skipped", len(snap.Skipped)).
		Int("errors", len(snap.Errors)).
		Dur("duration", now.Sub(snap.StartedAt)).
		Msg("Run finished")
	return summary, nil
}

type networkFunc func(ctx context.Context, client chain.Client, network resource.NetworkID, plans []*plan.Plan, rs *runState) error

// pass runs fn for every network concurrently and returns the first fatal
// error, cancelling the other networks when one occurs.
func (e *Engine) pass(ctx context.Context, name string, work map[resource.NetworkID][]*plan.Plan, rs *runState, fn networkFunc) error {
	start := time.Now()
	defer func() {
		e.metrics.PassDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	networks := make([]resource.NetworkID, 0, len(work))
	for n := range work {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })

	var (
		wg    sync.WaitGroup
		once  sync.Once
		fatal error
	)
	for _, network := range networks {
		plans := work[network]
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, err := e.cfg.Clients.Get(network)
			if err != nil {
				for _, p := range plans {
					rs.summary.addError(network, p.Token, string(network), err)
				}
				e.metrics.Errors.WithLabelValues(deployerr.KindOf(err).String()).Inc()
				return
			}
			if err := fn(ctx, client, network, plans, rs); err != nil {
				once.Do(func() {
					fatal = err
					cancel()
				})
			}
		}()
	}
	wg.Wait()
	return fatal
}

// provisionNetwork runs pass 1 on network. Resources that failed or were
// skipped are blocked in the run's view so pass 2 leaves their sub-tree
// alone, even when an earlier run recorded addresses for it.
func (e *Engine) provisionNetwork(ctx context.Context, client chain.Client, network resource.NetworkID, plans []*plan.Plan, rs *runState) error {
	for _, p := range plans {
		results, err := rs.provisioner.ProvisionNetwork(ctx, client, p.Resources[network])
		for _, r := range results {
			rs.summary.addProvision(p.Token, r)
			switch r.Status {
			case provision.Created, provision.Imported:
				e.metrics.ResourcesProvisioned.WithLabelValues(string(network), string(r.Key.Role)).Inc()
			case provision.Failed:
				e.metrics.Errors.WithLabelValues(deployerr.KindOf(r.Err).String()).Inc()
				rs.view.Block(r.Key, r.Err)
			case provision.Skipped:
				rs.view.Block(r.Key, r.Err)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reconcileNetwork(ctx context.Context, client chain.Client, network resource.NetworkID, plans []*plan.Plan, rs *runState) error {
	stages := []func(context.Context, chain.Client, *plan.Plan, resource.NetworkID) []execmode.Report{
		rs.wiring.ReconcileNetwork,
		rs.limits.ReconcileLimits,
		rs.limits.ReconcileRoles,
	}
	for _, p := range plans {
		for _, stage := range stages {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, rep := range stage(ctx, client, p, network) {
				rs.summary.addReport(p.Token, rep)
				outcome := rep.Status.String()
				if rep.Err != nil {
					outcome = "error"
					e.metrics.Errors.WithLabelValues(deployerr.KindOf(rep.Err).String()).Inc()
					if deployerr.IsType(rep.Err, deployerr.ErrorTypeDryRunAssumptionViolation) {
						return rep.Err
					}
				}
				e.metrics.Deltas.WithLabelValues(string(network), string(rep.Delta.Kind), outcome).Inc()
			}
		}
	}
	return nil
}
