package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/evanofslack/cf-edge-sync/internal/metrics"
)

const (
	unitPrefix    = "unit:"
	backendBadger = "badger"
)

// Manager persists the managed id sets of every unit between passes.
type Manager interface {
	LoadState(ctx context.Context) (State, error)
	SaveState(ctx context.Context, state State) error
	Close() error
}

type badgerManager struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

func New(path string, metrics *metrics.Metrics) (Manager, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	m := &badgerManager{db: db, metrics: metrics}
	return m, nil
}

func (m *badgerManager) LoadState(ctx context.Context) (State, error) {
	state := NewState()

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(unitPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			unit := string(item.Key())[len(unitPrefix):]

			err := item.Value(func(val []byte) error {
				var us UnitState
				if err := json.Unmarshal(val, &us); err != nil {
					return fmt.Errorf("decode unit %s: %w", unit, err)
				}
				state.Units[unit] = us
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	m.metrics.IncStateRequest(backendBadger, "read", err == nil)
	return state, err
}

// SaveState replaces the stored state: units missing from state are removed.
func (m *badgerManager) SaveState(ctx context.Context, state State) error {
	txn := m.db.NewTransaction(true)
	defer txn.Discard()

	existing := make(map[string]bool)

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	prefix := []byte(unitPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		existing[string(it.Item().Key())[len(unitPrefix):]] = true
	}
	it.Close()

	for unit, us := range state.Units {
		data, err := json.Marshal(us)
		if err != nil {
			m.metrics.IncStateRequest(backendBadger, "update", false)
			return err
		}
		if err := txn.Set([]byte(unitPrefix+unit), data); err != nil {
			m.metrics.IncStateRequest(backendBadger, "update", false)
			return err
		}
		delete(existing, unit)
	}

	for unit := range existing {
		if err := txn.Delete([]byte(unitPrefix + unit)); err != nil {
			m.metrics.IncStateRequest(backendBadger, "delete", false)
			return err
		}
	}
	err := txn.Commit()
	m.metrics.IncStateRequest(backendBadger, "update", err == nil)
	return err
}

func (m *badgerManager) Close() error {
	return m.db.Close()
}
