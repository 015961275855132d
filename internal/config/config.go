package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/a8m/envsubst"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

const (
	defaultSyncInterval = 5 * time.Minute
	defaultStateBackend = "badger"
	defaultStatePath    = "cfedgesync.db"
	defaultStatePrefix  = "cf-edge-sync"
	defaultLogLevel     = "info"
	defaultLogEnv       = "prod"
	defaultMetricsAddr  = ":9090"
	defaultAPIBaseURL   = "https://api.cloudflare.com/client/v4"
	defaultRetries      = 3
	defaultMatch        = "leftmost-label"

	defaultPolicyPattern = "**/*.json"
)

type Config struct {
	SyncInterval time.Duration `yaml:"syncInterval" toml:"syncInterval"`
	DryRun       bool          `yaml:"dryRun" toml:"dryRun"`
	State        State         `yaml:"state" toml:"state"`
	Log          Log           `yaml:"log" toml:"log"`
	Metrics      Metrics       `yaml:"metrics" toml:"metrics"`
	Cloudflare   Cloudflare    `yaml:"cloudflare" toml:"cloudflare"`
	DNS          DNS           `yaml:"dns" toml:"dns"`
	Gateway      Gateway       `yaml:"gateway" toml:"gateway"`
	Devices      Devices       `yaml:"devices" toml:"devices"`
}

type State struct {
	Backend   string `yaml:"backend" toml:"backend" validate:"oneof=badger redis"`
	Path      string `yaml:"path" toml:"path"`
	RedisAddr string `yaml:"redisAddr" toml:"redisAddr" validate:"required_if=Backend redis"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
}

type Log struct {
	Level string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Env   string `yaml:"env" toml:"env"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
}

type Cloudflare struct {
	Token     string `yaml:"token" toml:"token" validate:"required"`
	AccountID string `yaml:"accountId" toml:"accountId"`
	BaseURL   string `yaml:"baseUrl" toml:"baseUrl" validate:"url"`
	Retries   *int   `yaml:"retries" toml:"retries" validate:"omitempty,gte=0"`
}

type DNS struct {
	MatchStrategy string `yaml:"matchStrategy" toml:"matchStrategy" validate:"oneof=leftmost-label fqdn"`
	Zones         []Zone `yaml:"zones" toml:"zones" validate:"dive"`
}

type Zone struct {
	Name    string   `yaml:"name" toml:"name" validate:"required,fqdn"`
	ID      string   `yaml:"id" toml:"id"`
	Records []Record `yaml:"records" toml:"records" validate:"dive"`
}

type Record struct {
	Type     string  `yaml:"type" toml:"type" validate:"required,oneof=A AAAA CNAME TXT MX NS SRV CAA"`
	Name     string  `yaml:"name" toml:"name" validate:"required"`
	Content  string  `yaml:"content" toml:"content" validate:"required"`
	TTL      int     `yaml:"ttl" toml:"ttl" validate:"gte=0"`
	Proxied  bool    `yaml:"proxied" toml:"proxied"`
	Priority *uint16 `yaml:"priority" toml:"priority"`
	Comment  string  `yaml:"comment" toml:"comment"`
}

type Gateway struct {
	StartPrecedence uint64            `yaml:"startPrecedence" toml:"startPrecedence"`
	PolicyDir       string            `yaml:"policyDir" toml:"policyDir"`
	PolicyPattern   string            `yaml:"policyPattern" toml:"policyPattern"`
	Policies        []provider.Policy `yaml:"policies" toml:"policies" validate:"dive"`
}

type Devices struct {
	Settings     *DeviceSettings       `yaml:"settings" toml:"settings"`
	Connectivity *ConnectivitySettings `yaml:"connectivity" toml:"connectivity"`
	Warp         *WarpAccess           `yaml:"warp" toml:"warp"`
	Certificates []string              `yaml:"certificates" toml:"certificates"`
}

type DeviceSettings struct {
	DisableForTime                     *int  `yaml:"disableForTime" toml:"disableForTime" validate:"omitempty,gte=0"`
	GatewayProxyEnabled                *bool `yaml:"gatewayProxyEnabled" toml:"gatewayProxyEnabled"`
	GatewayUDPProxyEnabled             *bool `yaml:"gatewayUdpProxyEnabled" toml:"gatewayUdpProxyEnabled"`
	RootCertificateInstallationEnabled *bool `yaml:"rootCertificateInstallationEnabled" toml:"rootCertificateInstallationEnabled"`
	UseZTVirtualIP                     *bool `yaml:"useZtVirtualIp" toml:"useZtVirtualIp"`
}

type ConnectivitySettings struct {
	ICMPProxyEnabled   *bool `yaml:"icmpProxyEnabled" toml:"icmpProxyEnabled"`
	OfframpWarpEnabled *bool `yaml:"offrampWarpEnabled" toml:"offrampWarpEnabled"`
}

type WarpAccess struct {
	Policies          []string `yaml:"policies" toml:"policies"`
	AllowedIdps       []string `yaml:"allowedIdps" toml:"allowedIdps"`
	AutoRedirectToIdp *bool    `yaml:"autoRedirectToIdp" toml:"autoRedirectToIdp"`
}

// Load reads the config file at path, applies defaults and environment
// overrides, merges policy exports from the gateway policy directory and
// validates the result. A missing file is not an error; everything can be
// set from the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if cfg.Gateway.PolicyDir != "" {
		dir := cfg.Gateway.PolicyDir
		if !filepath.IsAbs(dir) && path != "" {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		policies, err := LoadPolicies(dir, cfg.Gateway.PolicyPattern)
		if err != nil {
			return nil, err
		}
		cfg.Gateway.Policies = append(cfg.Gateway.Policies, policies...)
	}
	for i := range cfg.Gateway.Policies {
		settings, err := provider.Canonical(cfg.Gateway.Policies[i].Settings)
		if err != nil {
			return nil, fmt.Errorf("policy %q rule settings: %w", cfg.Gateway.Policies[i].Name, err)
		}
		cfg.Gateway.Policies[i].Settings = settings
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeFile expands ${VAR} references from the environment, then decodes
// the file as TOML or YAML by extension. Write $$ for a literal dollar sign.
func decodeFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail find config file, proceeding", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	expanded, err := envsubst.StringRestricted(string(data), false, false)
	if err != nil {
		return fmt.Errorf("expand config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("decode toml config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("decode yaml config %s: %w", path, err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = defaultStateBackend
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaultStatePath
	}
	if cfg.State.Prefix == "" {
		cfg.State.Prefix = defaultStatePrefix
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = defaultLogEnv
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = defaultMetricsAddr
	}
	if cfg.Cloudflare.BaseURL == "" {
		cfg.Cloudflare.BaseURL = defaultAPIBaseURL
	}
	if cfg.Gateway.PolicyPattern == "" {
		cfg.Gateway.PolicyPattern = defaultPolicyPattern
	}
	if cfg.DNS.MatchStrategy == "" {
		cfg.DNS.MatchStrategy = defaultMatch
	}
}

func applyEnv(cfg *Config) {
	if token := os.Getenv("CF_EDGE_SYNC_TOKEN"); token != "" {
		cfg.Cloudflare.Token = token
	}
	if account := os.Getenv("CF_EDGE_SYNC_ACCOUNT_ID"); account != "" {
		cfg.Cloudflare.AccountID = account
	}
	if baseURL := os.Getenv("CF_EDGE_SYNC_API_BASE_URL"); baseURL != "" {
		cfg.Cloudflare.BaseURL = baseURL
	}
	if syncInterval := os.Getenv("CF_EDGE_SYNC_INTERVAL"); syncInterval != "" {
		if interval, err := time.ParseDuration(syncInterval); err == nil {
			cfg.SyncInterval = interval
		} else {
			slog.Default().Warn("fail parse sync interval to duration from string", "interval", syncInterval, "error", err)
		}
	}
	if backend := os.Getenv("CF_EDGE_SYNC_STATE_BACKEND"); backend != "" {
		cfg.State.Backend = backend
	}
	if statePath := os.Getenv("CF_EDGE_SYNC_STATE_PATH"); statePath != "" {
		cfg.State.Path = statePath
	}
	if redisAddr := os.Getenv("CF_EDGE_SYNC_REDIS_ADDR"); redisAddr != "" {
		cfg.State.RedisAddr = redisAddr
	}
	if dryRun := os.Getenv("CF_EDGE_SYNC_DRYRUN"); dryRun != "" {
		if v, err := strconv.ParseBool(dryRun); err == nil {
			cfg.DryRun = v
		} else {
			slog.Default().Warn("fail parse dryrun to bool from string", "dryrun", dryRun)
		}
	}
	if loglevel := os.Getenv("CF_EDGE_SYNC_LOG_LEVEL"); loglevel != "" {
		cfg.Log.Level = loglevel
	}
	if logenv := os.Getenv("CF_EDGE_SYNC_LOG_ENV"); logenv != "" {
		cfg.Log.Env = logenv
	}
	if metricsAddr := os.Getenv("CF_EDGE_SYNC_METRICS_ADDR"); metricsAddr != "" {
		cfg.Metrics.Address = metricsAddr
	}
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cloudflare.AccountID == "" && c.NeedsAccount() {
		return fmt.Errorf("invalid config: cloudflare.accountId required for gateway and device settings")
	}
	seen := map[string]bool{}
	for _, z := range c.DNS.Zones {
		name := strings.ToLower(z.Name)
		if seen[name] {
			return fmt.Errorf("invalid config: zone %s declared twice", z.Name)
		}
		seen[name] = true
	}
	return nil
}

// NeedsAccount reports whether any account scoped resource is configured.
func (c *Config) NeedsAccount() bool {
	d := c.Devices
	return len(c.Gateway.Policies) > 0 || d.Settings != nil || d.Connectivity != nil || d.Warp != nil || len(d.Certificates) > 0
}

// RetryMax is the configured retry count. Zero disables retries.
func (c Cloudflare) RetryMax() int {
	if c.Retries == nil {
		return defaultRetries
	}
	return *c.Retries
}

// ToProvider converts the record into its desired provider form.
func (r Record) ToProvider(zone string) provider.Record {
	return provider.Record{
		Name:     r.Name,
		Type:     r.Type,
		Content:  r.Content,
		Zone:     zone,
		TTL:      time.Duration(r.TTL) * time.Second,
		Proxied:  r.Proxied,
		Priority: r.Priority,
		Comment:  r.Comment,
	}
}

// Fields returns the set fields in their API form.
func (d DeviceSettings) Fields() provider.Settings {
	out := provider.Settings{}
	if d.DisableForTime != nil {
		out["disable_for_time"] = *d.DisableForTime
	}
	setBool(out, "gateway_proxy_enabled", d.GatewayProxyEnabled)
	setBool(out, "gateway_udp_proxy_enabled", d.GatewayUDPProxyEnabled)
	setBool(out, "root_certificate_installation_enabled", d.RootCertificateInstallationEnabled)
	setBool(out, "use_zt_virtual_ip", d.UseZTVirtualIP)
	return out
}

// Fields returns the set fields in their API form.
func (c ConnectivitySettings) Fields() provider.Settings {
	out := provider.Settings{}
	setBool(out, "icmp_proxy_enabled", c.ICMPProxyEnabled)
	setBool(out, "offramp_warp_enabled", c.OfframpWarpEnabled)
	return out
}

func setBool(s provider.Settings, key string, v *bool) {
	if v != nil {
		s[key] = *v
	}
}
