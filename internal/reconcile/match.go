package reconcile

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

type MatchStrategy string

const (
	// MatchLeftmostLabel compares only the first label of the normalized
	// name plus the type. Records sharing a first label and type in one
	// zone collide.
	MatchLeftmostLabel MatchStrategy = "leftmost-label"
	// MatchFQDN compares the full zone qualified name plus the type.
	MatchFQDN MatchStrategy = "fqdn"
)

// NormalizeName lower-cases a name and strips one trailing dot.
func NormalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

func leftmostLabel(name string) string {
	label, _, _ := strings.Cut(NormalizeName(name), ".")
	return label
}

// qualify expands a relative record name within zone. Names already inside
// the zone are returned normalized.
func qualify(name, zone string) string {
	n := NormalizeName(name)
	z := NormalizeName(zone)
	if z == "" {
		return n
	}
	switch {
	case n == "@" || n == z:
		return z
	case strings.HasSuffix(n, "."+z):
		return n
	default:
		return n + "." + z
	}
}

// RecordKind identifies DNS records within one zone.
type RecordKind struct {
	Zone     string
	Strategy MatchStrategy
}

func (k RecordKind) ID(remote provider.Record) string {
	return remote.ID
}

func (k RecordKind) Describe(desired provider.Record) string {
	return fmt.Sprintf("%s %s", strings.ToUpper(desired.Type), desired.Name)
}

// Match returns the first existing record with the same identity key.
func (k RecordKind) Match(existing []provider.Record, desired provider.Record) (provider.Record, bool) {
	for _, r := range existing {
		if !strings.EqualFold(r.Type, desired.Type) {
			continue
		}
		if k.sameName(r.Name, desired.Name) {
			return r, true
		}
	}
	return provider.Record{}, false
}

func (k RecordKind) sameName(remote, desired string) bool {
	if k.Strategy == MatchFQDN {
		return qualify(remote, k.Zone) == qualify(desired, k.Zone)
	}
	return leftmostLabel(qualify(remote, k.Zone)) == leftmostLabel(qualify(desired, k.Zone))
}

func (k RecordKind) InSync(desired provider.Record, remote provider.Record) bool {
	if qualify(desired.Name, k.Zone) != qualify(remote.Name, k.Zone) {
		return false
	}
	if !strings.EqualFold(desired.Type, remote.Type) || desired.Proxied != remote.Proxied {
		return false
	}
	if !sameContent(desired, remote) || desired.Comment != remote.Comment {
		return false
	}
	// Proxied records report automatic ttl.
	if !desired.Proxied && desired.TTL != remote.TTL {
		return false
	}
	if desired.Priority != nil && (remote.Priority == nil || *desired.Priority != *remote.Priority) {
		return false
	}
	return true
}

func sameContent(desired, remote provider.Record) bool {
	switch strings.ToUpper(desired.Type) {
	case "CNAME", "NS", "MX":
		return NormalizeName(desired.Content) == NormalizeName(remote.Content)
	}
	return desired.Content == remote.Content
}

func (k RecordKind) ForUpdate(desired provider.Record, remote provider.Record) provider.Record {
	return desired
}

// RuleKind identifies gateway rules by their expanded name.
type RuleKind struct{}

func (RuleKind) ID(remote provider.Rule) string {
	return remote.ID
}

func (RuleKind) Describe(desired provider.Rule) string {
	return desired.Name
}

// Match compares names case-insensitively and exactly.
func (RuleKind) Match(existing []provider.Rule, desired provider.Rule) (provider.Rule, bool) {
	for _, r := range existing {
		if r.Name != "" && strings.EqualFold(r.Name, desired.Name) {
			return r, true
		}
	}
	return provider.Rule{}, false
}

func (RuleKind) InSync(desired provider.Rule, remote provider.Rule) bool {
	return desired.Name == remote.Name &&
		desired.Description == remote.Description &&
		desired.Action == remote.Action &&
		desired.Precedence == remote.Precedence &&
		desired.Enabled == remote.Enabled &&
		desired.Traffic == remote.Traffic &&
		desired.Identity == remote.Identity &&
		desired.DevicePosture == remote.DevicePosture &&
		subset(desired.Settings, remote.Settings)
}

// ForUpdate echoes the remote filters. Filters cannot change after a rule
// is created.
func (RuleKind) ForUpdate(desired provider.Rule, remote provider.Rule) provider.Rule {
	desired.Filters = append([]string(nil), remote.Filters...)
	return desired
}

// subset reports whether every key of want is present in got with an equal
// value. Nested objects are compared the same way.
func subset(want, got map[string]any) bool {
	for k, w := range want {
		g, ok := got[k]
		if !ok {
			return false
		}
		wm, wok := w.(map[string]any)
		gm, gok := g.(map[string]any)
		if wok && gok {
			if !subset(wm, gm) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(w, g) {
			return false
		}
	}
	return true
}

// unclaimed filters out remote items already claimed in this pass.
func unclaimed[D, R any](kind Kind[D, R], existing []R, claimed IDSet) []R {
	if len(claimed) == 0 {
		return existing
	}
	out := make([]R, 0, len(existing))
	for _, r := range existing {
		if !claimed.Has(kind.ID(r)) {
			out = append(out, r)
		}
	}
	return out
}
