package runner

import (
	"context"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
	"github.com/evanofslack/cf-edge-sync/internal/reconcile"
)

// syncDevices applies the account singletons and certificate activations.
func (r *Runner) syncDevices(ctx context.Context, p *pass) []UnitReport {
	account := p.cfg.Cloudflare.AccountID
	d := p.cfg.Devices
	var reports []UnitReport

	if d.Settings != nil {
		reports = append(reports, r.applySettings(ctx, p, "devices:"+account, r.backend.DeviceSettings(), reconcile.Overlay(d.Settings.Fields())))
	}
	if d.Connectivity != nil {
		reports = append(reports, r.applySettings(ctx, p, "connectivity:"+account, r.backend.ConnectivitySettings(), reconcile.Overlay(d.Connectivity.Fields())))
	}
	if d.Warp != nil {
		merge := reconcile.WarpAccess(d.Warp.Policies, d.Warp.AllowedIdps, d.Warp.AutoRedirectToIdp)
		reports = append(reports, r.applySettings(ctx, p, "warp:"+account, r.backend.WarpAccess(), merge))
	}
	for _, id := range d.Certificates {
		reports = append(reports, r.activateCertificate(ctx, p, account, id))
	}
	return reports
}

func (r *Runner) applySettings(ctx context.Context, p *pass, unit string, store provider.SettingsStore, merge reconcile.MergeFunc) UnitReport {
	rep := UnitReport{Unit: unit}
	account := p.cfg.Cloudflare.AccountID

	if p.dryRun {
		changed, err := reconcile.PlanSingleton(ctx, store, account, merge)
		rep.Plan, rep.Err = singletonPlan(unit, changed), err
		return rep
	}

	_, changed, err := reconcile.ApplySingleton(ctx, store, account, merge)
	if err != nil {
		rep.Err = err
		return rep
	}
	if changed {
		rep.Updated = 1
		r.metrics.IncOperation(unit, string(reconcile.ActionUpdate))
	} else {
		rep.Unchanged = 1
		r.metrics.IncOperation(unit, string(reconcile.ActionUnchanged))
	}
	return rep
}

func (r *Runner) activateCertificate(ctx context.Context, p *pass, account, id string) UnitReport {
	unit := "certificate:" + id
	rep := UnitReport{Unit: unit}

	if p.dryRun {
		cert, err := r.backend.GetCertificate(ctx, account, id)
		rep.Plan, rep.Err = singletonPlan(unit, err == nil && !reconcile.Activated(cert)), err
		return rep
	}

	_, activated, err := reconcile.ActivateCertificate(ctx, r.backend, account, id)
	if err != nil {
		rep.Err = err
		return rep
	}
	if activated {
		rep.Updated = 1
		r.metrics.IncOperation(unit, "activate")
	} else {
		rep.Unchanged = 1
		r.metrics.IncOperation(unit, string(reconcile.ActionUnchanged))
	}
	return rep
}

func singletonPlan(unit string, changed bool) *reconcile.Plan {
	action := reconcile.ActionUnchanged
	if changed {
		action = reconcile.ActionUpdate
	}
	return &reconcile.Plan{Changes: []reconcile.Change{{Action: action, Name: unit}}}
}
