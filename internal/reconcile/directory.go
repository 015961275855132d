package reconcile

import (
	"context"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

type recordDirectory struct {
	dns provider.DNS
}

// Records exposes a DNS provider as a record directory scoped by zone.
func Records(dns provider.DNS) Directory[provider.Record, provider.Record] {
	return recordDirectory{dns: dns}
}

func (d recordDirectory) List(ctx context.Context, zone string) ([]provider.Record, error) {
	return d.dns.GetRecords(ctx, zone)
}

func (d recordDirectory) Create(ctx context.Context, zone string, r provider.Record) (provider.Record, error) {
	return d.dns.CreateRecord(ctx, zone, r)
}

func (d recordDirectory) Update(ctx context.Context, zone string, id string, r provider.Record) (provider.Record, error) {
	return d.dns.UpdateRecord(ctx, zone, id, r)
}

func (d recordDirectory) Delete(ctx context.Context, zone string, id string) error {
	return d.dns.DeleteRecord(ctx, zone, id)
}

type ruleDirectory struct {
	gw provider.Gateway
}

// Rules exposes a gateway provider as a rule directory scoped by account.
func Rules(gw provider.Gateway) Directory[provider.Rule, provider.Rule] {
	return ruleDirectory{gw: gw}
}

func (d ruleDirectory) List(ctx context.Context, account string) ([]provider.Rule, error) {
	return d.gw.GetRules(ctx, account)
}

func (d ruleDirectory) Create(ctx context.Context, account string, r provider.Rule) (provider.Rule, error) {
	return d.gw.CreateRule(ctx, account, r)
}

func (d ruleDirectory) Update(ctx context.Context, account string, id string, r provider.Rule) (provider.Rule, error) {
	return d.gw.UpdateRule(ctx, account, id, r)
}

func (d ruleDirectory) Delete(ctx context.Context, account string, id string) error {
	return d.gw.DeleteRule(ctx, account, id)
}
