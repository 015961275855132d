package cloudflare

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudflare/cloudflare-go"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

func (p *CloudflareProvider) GetRules(ctx context.Context, account string) ([]provider.Rule, error) {
	slog.Debug("Getting gateway rules", "account", account)
	start := time.Now()

	rules, err := p.client.TeamsRules(ctx, account)
	if err != nil {
		p.metrics.IncAPIRequest("gateway_rule", "read", false)
		return nil, fmt.Errorf("failed to list gateway rules: %w", classify(err))
	}

	result := make([]provider.Rule, 0, len(rules))
	for _, r := range rules {
		rule, err := fromTeamsRule(r)
		if err != nil {
			p.metrics.IncAPIRequest("gateway_rule", "read", false)
			return nil, err
		}
		result = append(result, rule)
	}

	p.metrics.IncAPIRequest("gateway_rule", "read", true)
	slog.Debug("Retrieved gateway rules", "account", account, "count", len(result), "duration", time.Since(start))
	return result, nil
}

func (p *CloudflareProvider) CreateRule(ctx context.Context, account string, rule provider.Rule) (provider.Rule, error) {
	slog.Info("Creating gateway rule", "account", account, "name", rule.Name, "precedence", rule.Precedence)

	tr, err := toTeamsRule(rule)
	if err != nil {
		return provider.Rule{}, err
	}
	created, err := p.client.TeamsCreateRule(ctx, account, tr)
	if err != nil {
		p.metrics.IncAPIRequest("gateway_rule", "create", false)
		return provider.Rule{}, fmt.Errorf("failed to create gateway rule: %w", classify(err))
	}
	p.metrics.IncAPIRequest("gateway_rule", "create", true)
	return fromTeamsRule(created)
}

func (p *CloudflareProvider) UpdateRule(ctx context.Context, account string, id string, rule provider.Rule) (provider.Rule, error) {
	slog.Info("Updating gateway rule", "account", account, "id", id, "name", rule.Name, "precedence", rule.Precedence)

	tr, err := toTeamsRule(rule)
	if err != nil {
		return provider.Rule{}, err
	}
	tr.ID = id
	updated, err := p.client.TeamsUpdateRule(ctx, account, id, tr)
	if err != nil {
		p.metrics.IncAPIRequest("gateway_rule", "update", false)
		return provider.Rule{}, fmt.Errorf("failed to update gateway rule: %w", classify(err))
	}
	p.metrics.IncAPIRequest("gateway_rule", "update", true)
	return fromTeamsRule(updated)
}

func (p *CloudflareProvider) DeleteRule(ctx context.Context, account string, id string) error {
	slog.Info("Deleting gateway rule", "account", account, "id", id)

	if err := p.client.TeamsDeleteRule(ctx, account, id); err != nil {
		p.metrics.IncAPIRequest("gateway_rule", "delete", false)
		return fmt.Errorf("failed to delete gateway rule: %w", classify(err))
	}
	p.metrics.IncAPIRequest("gateway_rule", "delete", true)
	return nil
}

func toTeamsRule(r provider.Rule) (cloudflare.TeamsRule, error) {
	tr := cloudflare.TeamsRule{
		Name:          r.Name,
		Description:   r.Description,
		Precedence:    r.Precedence,
		Enabled:       r.Enabled,
		Action:        cloudflare.TeamsGatewayAction(r.Action),
		Traffic:       r.Traffic,
		Identity:      r.Identity,
		DevicePosture: r.DevicePosture,
	}
	for _, f := range r.Filters {
		tr.Filters = append(tr.Filters, cloudflare.TeamsFilterType(f))
	}
	if len(r.Settings) > 0 {
		b, err := json.Marshal(r.Settings)
		if err != nil {
			return tr, fmt.Errorf("encode rule settings %s: %w", r.Name, err)
		}
		if err := json.Unmarshal(b, &tr.RuleSettings); err != nil {
			return tr, fmt.Errorf("decode rule settings %s: %w", r.Name, err)
		}
	}
	return tr, nil
}

func fromTeamsRule(tr cloudflare.TeamsRule) (provider.Rule, error) {
	r := provider.Rule{
		ID:            tr.ID,
		Name:          tr.Name,
		Description:   tr.Description,
		Action:        string(tr.Action),
		Precedence:    tr.Precedence,
		Enabled:       tr.Enabled,
		Traffic:       tr.Traffic,
		Identity:      tr.Identity,
		DevicePosture: tr.DevicePosture,
	}
	for _, f := range tr.Filters {
		r.Filters = append(r.Filters, string(f))
	}
	b, err := json.Marshal(tr.RuleSettings)
	if err != nil {
		return r, fmt.Errorf("encode rule settings %s: %w", tr.Name, err)
	}
	if err := json.Unmarshal(b, &r.Settings); err != nil {
		return r, fmt.Errorf("decode rule settings %s: %w", tr.Name, err)
	}
	return r, nil
}
