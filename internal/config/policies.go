package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

// LoadPolicies reads gateway rule exports from the files under dir matching
// pattern, in path order. Exports may be wrapped in an API response
// envelope. A missing directory yields no policies. Files that cannot be read
// or lack a name are logged and skipped.
func LoadPolicies(dir, pattern string) ([]provider.Policy, error) {
	if pattern == "" {
		pattern = defaultPolicyPattern
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("policy directory does not exist", "dir", dir)
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("match policy files %s in %s: %w", pattern, dir, err)
	}
	slices.Sort(matches)

	var policies []provider.Policy
	for _, match := range matches {
		path := filepath.Join(dir, filepath.FromSlash(match))
		policy, err := readPolicy(path)
		if err != nil {
			slog.Default().Error("fail read policy file", "file", path, "error", err)
			continue
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

func readPolicy(path string) (provider.Policy, error) {
	var policy provider.Policy

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return policy, fmt.Errorf("parse json: %w", err)
	}
	if result, ok := raw["result"].(map[string]any); ok {
		raw = result
	}

	delete(raw, "id")
	if traffic, ok := raw["traffic"].(string); ok && traffic != "" {
		delete(raw, "conditions")
	}
	if name, _ := raw["name"].(string); name == "" {
		return policy, fmt.Errorf("missing name property")
	}

	data, err = json.Marshal(raw)
	if err != nil {
		return policy, err
	}
	if err := json.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("decode policy: %w", err)
	}
	return policy, nil
}
