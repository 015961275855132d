package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/evanofslack/cf-edge-sync/internal/metrics"
)

func saveLoadCases() []struct {
	name     string
	state    State
	expected State
} {
	now := time.Now().Unix()
	zone := UnitState{Kind: "dns", Scope: "example.com", IDs: []string{"rec-1", "rec-2"}, UpdatedAt: now}
	rules := UnitState{Kind: "gateway", Scope: "acct", IDs: []string{"rule-1"}, UpdatedAt: now}

	return []struct {
		name     string
		state    State
		expected State
	}{
		{
			name:     "empty state",
			state:    NewState(),
			expected: NewState(),
		},
		{
			name:     "single unit",
			state:    State{Units: map[string]UnitState{"dns:example.com": zone}},
			expected: State{Units: map[string]UnitState{"dns:example.com": zone}},
		},
		{
			name:     "multiple units",
			state:    State{Units: map[string]UnitState{"dns:example.com": zone, "gateway:acct": rules}},
			expected: State{Units: map[string]UnitState{"dns:example.com": zone, "gateway:acct": rules}},
		},
		{
			name:     "remove unit",
			state:    State{Units: map[string]UnitState{"gateway:acct": rules}},
			expected: State{Units: map[string]UnitState{"gateway:acct": rules}},
		},
		{
			name:     "clear all units",
			state:    NewState(),
			expected: NewState(),
		},
	}
}

func runSaveLoad(t *testing.T, manager Manager) {
	t.Helper()
	for _, tt := range saveLoadCases() {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if err := manager.SaveState(ctx, tt.state); err != nil {
				t.Fatalf("SaveState failed: %v", err)
			}

			loaded, err := manager.LoadState(ctx)
			if err != nil {
				t.Fatalf("LoadState failed: %v", err)
			}

			if !reflect.DeepEqual(loaded, tt.expected) {
				t.Errorf("Expected %+v but got %+v", tt.expected, loaded)
			}
		})
	}
}

func TestBadgerManager(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "badger")

	manager, err := New(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer manager.Close()

	runSaveLoad(t, manager)
}

func TestBadgerManagerDirect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "badger")

	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		t.Fatalf("failed to open badger db: %v", err)
	}

	unit := UnitState{Kind: "dns", Scope: "direct.com", IDs: []string{"abc"}, UpdatedAt: time.Now().Unix()}

	txn := db.NewTransaction(true)
	data, _ := json.Marshal(unit)
	if err := txn.Set([]byte(unitPrefix+"dns:direct.com"), data); err != nil {
		t.Fatalf("failed to set value: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	manager, err := New(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer manager.Close()

	state, err := manager.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	expected := State{Units: map[string]UnitState{"dns:direct.com": unit}}
	if !reflect.DeepEqual(state, expected) {
		t.Errorf("Expected %+v but got %+v", expected, state)
	}
	if ids := state.IDs("dns:missing.com"); ids != nil {
		t.Errorf("unknown unit ids = %v, want nil", ids)
	}
}

func TestBadgerManagerError(t *testing.T) {
	_, err := New("/nonexistent/path/that/cannot/be/created", metrics.New(false))
	if err == nil {
		t.Fatal("expected error for invalid path but got nil")
	}
}

func TestRedisManager(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	prefix := "cf-edge-sync-test-" + time.Now().Format("150405.000000")

	manager, err := NewRedis(context.Background(), addr, prefix, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer manager.Close()

	runSaveLoad(t, manager)
}
