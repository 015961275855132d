package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/evanofslack/cf-edge-sync/internal/config"
	"github.com/evanofslack/cf-edge-sync/internal/metrics"
	"github.com/evanofslack/cf-edge-sync/internal/provider"
	"github.com/evanofslack/cf-edge-sync/internal/reconcile"
	"github.com/evanofslack/cf-edge-sync/internal/state"
)

const (
	kindDNS     = "dns"
	kindGateway = "gateway"
)

// Backend is every remote capability a pass needs.
type Backend interface {
	provider.DNS
	provider.Gateway
	provider.Certificates
	DeviceSettings() provider.SettingsStore
	ConnectivitySettings() provider.SettingsStore
	WarpAccess() provider.SettingsStore
}

// Runner executes reconciliation passes. Passes are serialized.
type Runner struct {
	backend Backend
	state   state.Manager
	metrics *metrics.Metrics
	mu      sync.Mutex
}

func New(backend Backend, sm state.Manager, metrics *metrics.Metrics) *Runner {
	return &Runner{backend: backend, state: sm, metrics: metrics}
}

type UnitReport struct {
	Unit      string
	Created   int
	Updated   int
	Unchanged int
	Deleted   int
	Plan      *reconcile.Plan
	DeleteErr error
	Err       error
}

type Report struct {
	RunID  string
	DryRun bool
	Units  []UnitReport
}

// Err aggregates the unit failures of the pass.
func (r Report) Err() error {
	var merr *multierror.Error
	for _, u := range r.Units {
		if u.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", u.Unit, u.Err))
		}
	}
	return merr.ErrorOrNil()
}

// pass holds the bookkeeping of one Run.
type pass struct {
	cfg    *config.Config
	dryRun bool
	logger *slog.Logger
	prev   state.State
	next   state.State
	report Report
}

func (p *pass) managed(unit string) reconcile.IDSet {
	return reconcile.NewIDSet(p.prev.IDs(unit)...)
}

func (p *pass) keep(unit, kind, scope string, ids reconcile.IDSet) {
	p.next.Units[unit] = state.UnitState{
		Kind:      kind,
		Scope:     scope,
		IDs:       ids.Sorted(),
		UpdatedAt: time.Now().Unix(),
	}
}

// Run reconciles every configured unit once. Units are independent: a
// failing unit is reported and the pass moves on. Managed ids are persisted
// unless dryRun is set, in which case nothing is written remotely either.
func (r *Runner) Run(ctx context.Context, cfg *config.Config, dryRun bool) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		r.metrics.SetSyncDuration(time.Since(start))
	}()

	runID := uuid.NewString()
	logger := slog.Default().With("run", runID)
	logger.Info("Starting sync operation", "dryrun", dryRun)

	prev, err := r.state.LoadState(ctx)
	if err != nil {
		r.metrics.IncSyncRun(false)
		return Report{RunID: runID, DryRun: dryRun}, fmt.Errorf("load state: %w", err)
	}

	p := &pass{
		cfg:    cfg,
		dryRun: dryRun,
		logger: logger,
		prev:   prev,
		next:   state.NewState(),
		report: Report{RunID: runID, DryRun: dryRun},
	}

	for _, zone := range cfg.DNS.Zones {
		r.finish(p, r.syncZone(ctx, p, zone))
	}
	if len(cfg.Gateway.Policies) > 0 {
		r.finish(p, r.syncGateway(ctx, p))
	}
	for unit, us := range prev.Units {
		if _, ok := p.next.Units[unit]; ok {
			continue
		}
		r.finish(p, r.retire(ctx, p, unit, us))
	}
	for _, rep := range r.syncDevices(ctx, p) {
		r.finish(p, rep)
	}

	err = p.report.Err()
	if !dryRun {
		if saveErr := r.state.SaveState(ctx, p.next); saveErr != nil {
			err = multierror.Append(err, fmt.Errorf("save state: %w", saveErr))
		}
	}

	r.metrics.IncSyncRun(err == nil)
	if err != nil {
		logger.Error("Sync completed with errors", "error", err)
		return p.report, err
	}
	logger.Info("Sync completed", "units", len(p.report.Units), "duration", time.Since(start))
	return p.report, nil
}

func (r *Runner) finish(p *pass, rep UnitReport) {
	p.report.Units = append(p.report.Units, rep)
	r.metrics.IncUnitRun(rep.Unit, rep.Err == nil)
	if kind, _, _ := strings.Cut(rep.Unit, ":"); kind == kindDNS || kind == kindGateway {
		r.metrics.SetManagedIDs(rep.Unit, len(p.next.Units[rep.Unit].IDs))
	}
	switch {
	case rep.Err != nil:
		p.logger.Error("Unit failed", "unit", rep.Unit, "error", rep.Err)
	case rep.DeleteErr != nil:
		p.logger.Warn("Unit could not delete every orphan", "unit", rep.Unit, "error", rep.DeleteErr)
	case rep.Plan != nil:
		p.logger.Info("Unit plan",
			"unit", rep.Unit,
			"create", rep.Plan.Count(reconcile.ActionCreate),
			"update", rep.Plan.Count(reconcile.ActionUpdate),
			"delete", rep.Plan.Count(reconcile.ActionDelete))
	default:
		p.logger.Info("Unit reconciled",
			"unit", rep.Unit,
			"created", rep.Created,
			"updated", rep.Updated,
			"unchanged", rep.Unchanged,
			"deleted", rep.Deleted)
	}
}

func dnsUnit(zone string) string {
	return kindDNS + ":" + strings.ToLower(zone)
}

func gatewayUnit(account string) string {
	return kindGateway + ":" + account
}

func (r *Runner) recordSet(p *pass, unit, zone string) *reconcile.Set[provider.Record, provider.Record] {
	kind := reconcile.RecordKind{Zone: zone, Strategy: reconcile.MatchStrategy(p.cfg.DNS.MatchStrategy)}
	return reconcile.NewSet(reconcile.Records(r.backend), kind, reconcile.Scope{Unit: unit, ID: zone}, r.metrics, p.logger)
}

func (r *Runner) ruleAllocator(p *pass, unit, account string) *reconcile.Allocator {
	set := reconcile.NewSet(reconcile.Rules(r.backend), reconcile.RuleKind{}, reconcile.Scope{Unit: unit, ID: account}, r.metrics, p.logger)
	return reconcile.NewAllocator(set, p.cfg.Gateway.StartPrecedence)
}

func (r *Runner) syncZone(ctx context.Context, p *pass, zone config.Zone) UnitReport {
	unit := dnsUnit(zone.Name)
	managed := p.managed(unit)
	rep := UnitReport{Unit: unit}

	desired := make([]provider.Record, 0, len(zone.Records))
	for _, rec := range zone.Records {
		normalized, err := provider.Normalize(rec.ToProvider(zone.Name))
		if err != nil {
			rep.Err = err
			p.keep(unit, kindDNS, zone.Name, managed)
			return rep
		}
		desired = append(desired, normalized)
	}

	set := r.recordSet(p, unit, zone.Name)
	if p.dryRun {
		plan, err := set.Plan(ctx, desired, managed)
		rep.Plan, rep.Err = &plan, err
		p.keep(unit, kindDNS, zone.Name, managed)
		return rep
	}

	results, err := set.Reconcile(ctx, desired, managed)
	fill(&rep, results)
	rep.Err = err
	p.keep(unit, kindDNS, zone.Name, survivors(managed, results.ManagedIDs, err))
	return rep
}

func (r *Runner) syncGateway(ctx context.Context, p *pass) UnitReport {
	account := p.cfg.Cloudflare.AccountID
	unit := gatewayUnit(account)
	managed := p.managed(unit)
	rep := UnitReport{Unit: unit}

	alloc := r.ruleAllocator(p, unit, account)
	if p.dryRun {
		plan, err := alloc.Plan(ctx, p.cfg.Gateway.Policies, managed)
		rep.Plan, rep.Err = &plan, err
		p.keep(unit, kindGateway, account, managed)
		return rep
	}

	results, err := alloc.Import(ctx, p.cfg.Gateway.Policies, managed)
	fill(&rep, results)
	rep.Err = err
	p.keep(unit, kindGateway, account, survivors(managed, results.ManagedIDs, err))
	return rep
}

// retire deletes the managed resources of a unit that is no longer
// configured. The unit is forgotten once nothing it created remains.
func (r *Runner) retire(ctx context.Context, p *pass, unit string, us state.UnitState) UnitReport {
	managed := reconcile.NewIDSet(us.IDs...)
	rep := UnitReport{Unit: unit}
	p.logger.Info("Retiring unit no longer configured", "unit", unit, "managed", len(managed))

	var remaining reconcile.IDSet
	switch us.Kind {
	case kindDNS:
		set := r.recordSet(p, unit, us.Scope)
		if p.dryRun {
			plan, err := set.Plan(ctx, nil, managed)
			rep.Plan, rep.Err = &plan, err
			remaining = managed
			break
		}
		results, err := set.Reconcile(ctx, nil, managed)
		fill(&rep, results)
		rep.Err = err
		remaining = survivors(managed, results.ManagedIDs, err)
	case kindGateway:
		alloc := r.ruleAllocator(p, unit, us.Scope)
		if p.dryRun {
			plan, err := alloc.Plan(ctx, nil, managed)
			rep.Plan, rep.Err = &plan, err
			remaining = managed
			break
		}
		results, err := alloc.Import(ctx, nil, managed)
		fill(&rep, results)
		rep.Err = err
		remaining = survivors(managed, results.ManagedIDs, err)
	default:
		rep.Err = fmt.Errorf("unknown unit kind %q", us.Kind)
		remaining = managed
	}

	if len(remaining) > 0 {
		p.keep(unit, us.Kind, us.Scope, remaining)
	}
	return rep
}

// survivors is the managed set to persist after a pass. A failed pass may
// have stopped before deleting anything, so previous ids are kept too.
func survivors(previous, produced reconcile.IDSet, err error) reconcile.IDSet {
	if err != nil {
		return previous.Union(produced)
	}
	return produced
}

func fill[R any](rep *UnitReport, results reconcile.Results[R]) {
	rep.Created = len(results.Created)
	rep.Updated = len(results.Updated)
	rep.Unchanged = len(results.Unchanged)
	rep.Deleted = len(results.Deleted)
	rep.DeleteErr = results.DeleteErr
}
