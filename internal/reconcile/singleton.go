package reconcile

import (
	"context"
	"fmt"
	"reflect"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

// MergeFunc returns the desired form of a singleton given its current
// remote form. It must not modify current.
type MergeFunc func(current provider.Settings) provider.Settings

// ApplySingleton reads the singleton settings object, merges desired fields
// onto it and writes it back only when the merge changed something.
func ApplySingleton(ctx context.Context, store provider.SettingsStore, account string, merge MergeFunc) (provider.Settings, bool, error) {
	current, merged, changed, err := diffSingleton(ctx, store, account, merge)
	if err != nil || !changed {
		return current, false, err
	}
	written, err := store.PutSettings(ctx, account, merged)
	if err != nil {
		return nil, false, fmt.Errorf("write settings: %w", err)
	}
	return written, true, nil
}

// PlanSingleton reports whether ApplySingleton would write.
func PlanSingleton(ctx context.Context, store provider.SettingsStore, account string, merge MergeFunc) (bool, error) {
	_, _, changed, err := diffSingleton(ctx, store, account, merge)
	return changed, err
}

func diffSingleton(ctx context.Context, store provider.SettingsStore, account string, merge MergeFunc) (provider.Settings, provider.Settings, bool, error) {
	current, err := store.GetSettings(ctx, account)
	if err != nil {
		return nil, nil, false, fmt.Errorf("read settings: %w", err)
	}
	if current == nil {
		current = provider.Settings{}
	}
	merged, err := provider.Canonical(merge(current.Clone()))
	if err != nil {
		return nil, nil, false, fmt.Errorf("encode settings: %w", err)
	}
	if reflect.DeepEqual(map[string]any(current), merged) {
		return current, nil, false, nil
	}
	return current, provider.Settings(merged), true, nil
}

// Overlay sets every field of fields on top of current.
func Overlay(fields provider.Settings) MergeFunc {
	return func(current provider.Settings) provider.Settings {
		out := current.Clone()
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
}

// WarpAccess replaces the policies and allowed identity providers of the
// WARP access application. A single allowed identity provider always
// redirects automatically.
func WarpAccess(policies []string, allowedIdps []string, autoRedirect *bool) MergeFunc {
	return func(current provider.Settings) provider.Settings {
		out := current.Clone()
		out["policies"] = nonNil(policies)
		out["allowed_idps"] = nonNil(allowedIdps)
		switch {
		case len(allowedIdps) == 1:
			out["auto_redirect_to_identity"] = true
		case len(allowedIdps) > 1 && autoRedirect != nil:
			out["auto_redirect_to_identity"] = *autoRedirect
		case len(allowedIdps) > 1:
			delete(out, "auto_redirect_to_identity")
		}
		return out
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Activated reports whether a certificate is bound or being deployed.
func Activated(cert provider.Certificate) bool {
	return cert.BindingStatus == provider.BindingAvailable || cert.BindingStatus == provider.BindingPendingDeployment
}

// ActivateCertificate activates a gateway certificate unless it is already
// available or deploying.
func ActivateCertificate(ctx context.Context, certs provider.Certificates, account, id string) (provider.Certificate, bool, error) {
	cert, err := certs.GetCertificate(ctx, account, id)
	if err != nil {
		return cert, false, fmt.Errorf("get certificate %s: %w", id, err)
	}
	if Activated(cert) {
		return cert, false, nil
	}
	cert, err = certs.ActivateCertificate(ctx, account, id)
	if err != nil {
		return cert, false, fmt.Errorf("activate certificate %s: %w", id, err)
	}
	return cert, true, nil
}
