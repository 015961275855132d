package runner

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/evanofslack/cf-edge-sync/internal/config"
	"github.com/evanofslack/cf-edge-sync/internal/metrics"
	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

func testConfig() *config.Config {
	return &config.Config{
		SyncInterval: time.Minute,
		Cloudflare:   config.Cloudflare{Token: "t", AccountID: "acct"},
		DNS: config.DNS{
			MatchStrategy: "leftmost-label",
			Zones: []config.Zone{{
				Name: "example.com",
				Records: []config.Record{
					{Type: "A", Name: "www", Content: "192.0.2.1"},
					{Type: "CNAME", Name: "api", Content: "Origin.Example.net."},
				},
			}},
		},
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	st := &MockState{}
	r := New(backend, st, metrics.New(false))
	cfg := testConfig()

	report, err := r.Run(ctx, cfg, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Units) != 1 || report.Units[0].Created != 2 {
		t.Fatalf("units = %+v, want one unit with two creates", report.Units)
	}
	if report.RunID == "" {
		t.Error("expected run id")
	}
	ids := st.state.IDs("dns:example.com")
	if !reflect.DeepEqual(ids, []string{"rec-1", "rec-2"}) {
		t.Errorf("managed ids = %v", ids)
	}
	if got := backend.records["example.com"][1].Content; got != "origin.example.net" {
		t.Errorf("cname content = %q, want normalized", got)
	}

	writes := backend.writes
	report, err = r.Run(ctx, cfg, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if backend.writes != writes {
		t.Errorf("second run writes = %d, want none", backend.writes-writes)
	}
	if report.Units[0].Unchanged != 2 {
		t.Errorf("unchanged = %d, want 2", report.Units[0].Unchanged)
	}
}

func TestRunRetiresRemovedZone(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.records["example.com"] = []provider.Record{{ID: "manual", Name: "mx", Type: "MX", Content: "mail.example.com"}}
	st := &MockState{}
	r := New(backend, st, metrics.New(false))
	cfg := testConfig()

	if _, err := r.Run(ctx, cfg, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg.DNS.Zones = nil
	report, err := r.Run(ctx, cfg, false)
	if err != nil {
		t.Fatalf("Run after removal: %v", err)
	}
	if len(report.Units) != 1 || report.Units[0].Deleted != 2 {
		t.Fatalf("units = %+v, want retired unit with two deletes", report.Units)
	}
	if _, ok := st.state.Units["dns:example.com"]; ok {
		t.Error("expected retired unit to be dropped from state")
	}
	remaining := backend.records["example.com"]
	if len(remaining) != 1 || remaining[0].ID != "manual" {
		t.Errorf("remaining records = %+v, want only the unmanaged one", remaining)
	}
}

func TestRunFailedUnitKeepsManagedIDs(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	st := &MockState{}
	r := New(backend, st, metrics.New(false))
	cfg := testConfig()

	if _, err := r.Run(ctx, cfg, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The new record fails before the stale CNAME could be pruned.
	cfg.DNS.Zones[0].Records = []config.Record{
		{Type: "TXT", Name: "broken", Content: "v=1"},
		{Type: "A", Name: "www", Content: "192.0.2.1"},
	}
	backend.failCreate["broken"] = true
	cfg.DNS.Zones = append(cfg.DNS.Zones, config.Zone{
		Name:    "example.org",
		Records: []config.Record{{Type: "A", Name: "@", Content: "192.0.2.9"}},
	})

	report, err := r.Run(ctx, cfg, false)
	if err == nil {
		t.Fatal("expected pass error")
	}
	if len(report.Units) != 2 || report.Units[0].Err == nil || report.Units[1].Err != nil {
		t.Fatalf("units = %+v, want first unit failed and second succeeded", report.Units)
	}
	if ids := st.state.IDs("dns:example.com"); !reflect.DeepEqual(ids, []string{"rec-1", "rec-2"}) {
		t.Errorf("failed unit ids = %v, want previous ids kept", ids)
	}
	if len(backend.records["example.com"]) != 2 {
		t.Errorf("records = %+v, want nothing deleted", backend.records["example.com"])
	}
	if ids := st.state.IDs("dns:example.org"); len(ids) != 1 {
		t.Errorf("independent unit ids = %v, want one", ids)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	st := &MockState{}
	r := New(backend, st, metrics.New(false))
	cfg := testConfig()
	cfg.Devices.Settings = &config.DeviceSettings{GatewayProxyEnabled: boolPtr(true)}

	report, err := r.Run(ctx, cfg, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if backend.writes != 0 || backend.device.puts != 0 || st.saves != 0 {
		t.Errorf("writes=%d puts=%d saves=%d, want none", backend.writes, backend.device.puts, st.saves)
	}
	if len(report.Units) != 2 {
		t.Fatalf("units = %d, want 2", len(report.Units))
	}
	if plan := report.Units[0].Plan; plan == nil || plan.Count("create") != 2 {
		t.Errorf("dns plan = %+v, want two creates", plan)
	}
	if plan := report.Units[1].Plan; plan == nil || plan.Count("update") != 1 {
		t.Errorf("settings plan = %+v, want one update", plan)
	}
}

func TestRunGatewayAndDevices(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.certs["cert-1"] = "inactive"
	st := &MockState{}
	r := New(backend, st, metrics.New(false))

	cfg := testConfig()
	cfg.DNS.Zones = nil
	cfg.Gateway.Policies = []provider.Policy{{Name: "Block Ads", Action: "block", Filters: []string{"dns", "http"}}}
	cfg.Devices = config.Devices{
		Settings:     &config.DeviceSettings{GatewayProxyEnabled: boolPtr(true)},
		Connectivity: &config.ConnectivitySettings{ICMPProxyEnabled: boolPtr(true)},
		Warp:         &config.WarpAccess{Policies: []string{"p1"}, AllowedIdps: []string{"idp"}},
		Certificates: []string{"cert-1"},
	}

	report, err := r.Run(ctx, cfg, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Units) != 5 {
		t.Fatalf("units = %d, want 5", len(report.Units))
	}
	if len(backend.rules) != 2 || backend.rules[0].Precedence != 5_000_000 {
		t.Errorf("rules = %+v", backend.rules)
	}
	if backend.warp.current["auto_redirect_to_identity"] != true {
		t.Errorf("warp = %v, want auto redirect", backend.warp.current)
	}
	if backend.certs["cert-1"] != provider.BindingAvailable {
		t.Error("expected certificate activation")
	}

	if _, err := r.Run(ctx, cfg, false); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if backend.device.puts != 1 || backend.connectivity.puts != 1 || backend.warp.puts != 1 {
		t.Errorf("puts = %d/%d/%d, want one each", backend.device.puts, backend.connectivity.puts, backend.warp.puts)
	}

	cfg.Gateway.Policies = nil
	if _, err := r.Run(ctx, cfg, false); err != nil {
		t.Fatalf("Run without policies: %v", err)
	}
	if len(backend.rules) != 0 {
		t.Errorf("rules = %+v, want managed rules pruned", backend.rules)
	}
	if _, ok := st.state.Units["gateway:acct"]; ok {
		t.Error("expected gateway unit dropped from state")
	}
}

func TestWatched(t *testing.T) {
	watch := []string{"/etc/cf/config.yaml", "/etc/cf/policies"}
	tests := []struct {
		name string
		want bool
	}{
		{"/etc/cf/config.yaml", true},
		{"/etc/cf/policies/ads.json", true},
		{"/etc/cf/other.yaml", false},
		{"/etc/cf/policies/nested/x.json", true},
		{"/etc/cf/policies-old/x.json", false},
	}
	for _, tt := range tests {
		if got := watched(tt.name, watch); got != tt.want {
			t.Errorf("watched(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRestartRequired(t *testing.T) {
	prev := testConfig()
	tests := []struct {
		name   string
		modify func(c *config.Config)
		want   []string
	}{
		{"records only", func(c *config.Config) { c.DNS.Zones = nil }, nil},
		{"interval only", func(c *config.Config) { c.SyncInterval = time.Hour }, nil},
		{"token", func(c *config.Config) { c.Cloudflare.Token = "other" }, []string{"cloudflare.token"}},
		{"state and metrics", func(c *config.Config) {
			c.State.Backend = "redis"
			c.Metrics.Enabled = true
		}, []string{"state", "metrics"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := testConfig()
			tt.modify(next)
			if got := restartRequired(prev, next); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("restartRequired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessEventsWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer watcher.Close()
	if err := addWatch(watcher, dir); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reload := make(chan struct{}, 1)
	go processEvents(ctx, watcher, []string{dir}, reload)

	waitReload := func(what string) {
		t.Helper()
		select {
		case <-reload:
		case <-time.After(5 * time.Second):
			t.Fatalf("no reload after %s", what)
		}
	}

	sub := filepath.Join(dir, "team")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	waitReload("creating a directory")

	if err := os.WriteFile(filepath.Join(sub, "ads.json"), []byte(`{"name":"ads"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	waitReload("writing into the new directory")
}

func boolPtr(b bool) *bool {
	return &b
}
