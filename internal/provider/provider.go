package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicate is wrapped by directory implementations when the remote
// system rejects a create because an equivalent resource already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrNotFound is wrapped when the addressed remote resource does not exist.
var ErrNotFound = errors.New("resource not found")

// DefaultTTL is applied to desired records that do not set one.
const DefaultTTL = 100 * time.Second

// DNS is the zone scoped record directory.
type DNS interface {
	GetRecords(ctx context.Context, zone string) ([]Record, error)
	CreateRecord(ctx context.Context, zone string, record Record) (Record, error)
	UpdateRecord(ctx context.Context, zone string, id string, record Record) (Record, error)
	DeleteRecord(ctx context.Context, zone string, id string) error
}

// Gateway is the account scoped gateway rule directory.
type Gateway interface {
	GetRules(ctx context.Context, account string) ([]Rule, error)
	CreateRule(ctx context.Context, account string, rule Rule) (Rule, error)
	UpdateRule(ctx context.Context, account string, id string, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, account string, id string) error
}

// SettingsStore reads and writes one singleton settings object per account.
type SettingsStore interface {
	GetSettings(ctx context.Context, account string) (Settings, error)
	PutSettings(ctx context.Context, account string, settings Settings) (Settings, error)
}

// Certificates manages gateway certificate bindings.
type Certificates interface {
	GetCertificate(ctx context.Context, account string, id string) (Certificate, error)
	ActivateCertificate(ctx context.Context, account string, id string) (Certificate, error)
}

type Record struct {
	ID       string
	Name     string
	Type     string
	Content  string
	Zone     string
	TTL      time.Duration
	Proxied  bool
	Priority *uint16
	Comment  string
}

type Rule struct {
	ID            string
	Name          string
	Description   string
	Action        string
	Precedence    uint64
	Enabled       bool
	Filters       []string
	Traffic       string
	Identity      string
	DevicePosture string
	Settings      map[string]any
}

// Policy is a gateway rule as the user declares it. One policy expands to
// one Rule per filter.
type Policy struct {
	Name          string         `json:"name" yaml:"name" toml:"name" validate:"required"`
	Description   string         `json:"description" yaml:"description" toml:"description"`
	Action        string         `json:"action" yaml:"action" toml:"action" validate:"required"`
	Enabled       *bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	Filters       []string       `json:"filters" yaml:"filters" toml:"filters" validate:"dive,oneof=dns http l4 egress"`
	Traffic       string         `json:"traffic" yaml:"traffic" toml:"traffic"`
	Identity      string         `json:"identity" yaml:"identity" toml:"identity"`
	DevicePosture string         `json:"device_posture" yaml:"devicePosture" toml:"devicePosture"`
	Settings      map[string]any `json:"rule_settings" yaml:"ruleSettings" toml:"ruleSettings"`
}

// IsEnabled reports whether rules expanded from the policy are enabled.
// Policies are enabled unless explicitly disabled.
func (p Policy) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Settings is the JSON object form of a singleton settings resource.
type Settings map[string]any

// Clone returns a shallow copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Canonical round-trips m through JSON so that values decoded from YAML or
// TOML compare equal to values decoded from API responses.
func Canonical(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type Certificate struct {
	ID            string `json:"id"`
	BindingStatus string `json:"binding_status"`
}

const (
	BindingAvailable         = "available"
	BindingPendingDeployment = "pending_deployment"
)
