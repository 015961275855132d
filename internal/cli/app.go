package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evanofslack/cf-edge-sync/internal/config"
	"github.com/evanofslack/cf-edge-sync/internal/metrics"
	"github.com/evanofslack/cf-edge-sync/internal/provider/cloudflare"
	"github.com/evanofslack/cf-edge-sync/internal/runner"
	"github.com/evanofslack/cf-edge-sync/internal/state"
)

type app struct {
	metrics *metrics.Metrics
	state   state.Manager
	runner  *runner.Runner
}

func newApp(ctx context.Context, cfg *config.Config, register bool) (*app, error) {
	m := metrics.New(register)

	sm, err := openState(ctx, cfg.State, m)
	if err != nil {
		return nil, fmt.Errorf("initialize state manager: %w", err)
	}

	cf, err := cloudflare.New(cfg.Cloudflare, cfg.DNS.Zones, m)
	if err != nil {
		sm.Close()
		return nil, fmt.Errorf("initialize cloudflare provider: %w", err)
	}

	return &app{metrics: m, state: sm, runner: runner.New(cf, sm, m)}, nil
}

func openState(ctx context.Context, cfg config.State, m *metrics.Metrics) (state.Manager, error) {
	switch cfg.Backend {
	case "redis":
		return state.NewRedis(ctx, cfg.RedisAddr, cfg.Prefix, m)
	default:
		return state.New(cfg.Path, m)
	}
}

func (a *app) Close() {
	if err := a.state.Close(); err != nil {
		slog.Error("Failed to close state manager", "error", err)
	}
}
