package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

// settingsStore is one account singleton reachable at a fixed path.
type settingsStore struct {
	p        *CloudflareProvider
	resource string
	path     string
	write    string
}

// DeviceSettings is the account wide WARP client settings object.
func (p *CloudflareProvider) DeviceSettings() provider.SettingsStore {
	return &settingsStore{p: p, resource: "device_settings", path: "devices/settings", write: http.MethodPut}
}

// ConnectivitySettings is the zero trust connectivity settings object. It
// accepts partial updates.
func (p *CloudflareProvider) ConnectivitySettings() provider.SettingsStore {
	return &settingsStore{p: p, resource: "connectivity_settings", path: "zerotrust/connectivity_settings", write: http.MethodPatch}
}

// WarpAccess is the access application that gates WARP enrollment.
func (p *CloudflareProvider) WarpAccess() provider.SettingsStore {
	return &settingsStore{p: p, resource: "access_warp", path: "access/warp", write: http.MethodPut}
}

func (s *settingsStore) url(account string) string {
	return fmt.Sprintf("accounts/%s/%s", account, s.path)
}

func (s *settingsStore) GetSettings(ctx context.Context, account string) (provider.Settings, error) {
	var out provider.Settings
	if err := s.p.rest.do(ctx, http.MethodGet, s.url(account), nil, &out); err != nil {
		s.p.metrics.IncAPIRequest(s.resource, "read", false)
		return nil, fmt.Errorf("failed to read %s: %w", s.resource, classify(err))
	}
	s.p.metrics.IncAPIRequest(s.resource, "read", true)
	return out, nil
}

func (s *settingsStore) PutSettings(ctx context.Context, account string, settings provider.Settings) (provider.Settings, error) {
	slog.Info("Writing settings", "account", account, "resource", s.resource)

	var out provider.Settings
	if err := s.p.rest.do(ctx, s.write, s.url(account), settings, &out); err != nil {
		s.p.metrics.IncAPIRequest(s.resource, "update", false)
		return nil, fmt.Errorf("failed to write %s: %w", s.resource, classify(err))
	}
	s.p.metrics.IncAPIRequest(s.resource, "update", true)
	if out == nil {
		out = settings
	}
	return out, nil
}

func (p *CloudflareProvider) GetCertificate(ctx context.Context, account string, id string) (provider.Certificate, error) {
	var cert provider.Certificate
	path := fmt.Sprintf("accounts/%s/gateway/certificates/%s", account, id)
	if err := p.rest.do(ctx, http.MethodGet, path, nil, &cert); err != nil {
		p.metrics.IncAPIRequest("gateway_certificate", "read", false)
		return cert, fmt.Errorf("failed to read gateway certificate: %w", classify(err))
	}
	p.metrics.IncAPIRequest("gateway_certificate", "read", true)
	return cert, nil
}

func (p *CloudflareProvider) ActivateCertificate(ctx context.Context, account string, id string) (provider.Certificate, error) {
	slog.Info("Activating gateway certificate", "account", account, "id", id)

	var cert provider.Certificate
	path := fmt.Sprintf("accounts/%s/gateway/certificates/%s/activate", account, id)
	if err := p.rest.do(ctx, http.MethodPost, path, struct{}{}, &cert); err != nil {
		p.metrics.IncAPIRequest("gateway_certificate", "activate", false)
		return cert, fmt.Errorf("failed to activate gateway certificate: %w", classify(err))
	}
	p.metrics.IncAPIRequest("gateway_certificate", "activate", true)
	return cert, nil
}
