package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
	"github.com/evanofslack/cf-edge-sync/internal/state"
)

// MockBackend keeps remote resources in memory.
type MockBackend struct {
	records    map[string][]provider.Record
	rules      []provider.Rule
	failCreate map[string]bool
	nextID     int
	writes     int

	device       *MockStore
	connectivity *MockStore
	warp         *MockStore
	certs        map[string]string
}

func newMockBackend() *MockBackend {
	return &MockBackend{
		records:      map[string][]provider.Record{},
		failCreate:   map[string]bool{},
		device:       &MockStore{current: provider.Settings{}},
		connectivity: &MockStore{current: provider.Settings{}},
		warp:         &MockStore{current: provider.Settings{}},
		certs:        map[string]string{},
	}
}

func (m *MockBackend) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *MockBackend) GetRecords(ctx context.Context, zone string) ([]provider.Record, error) {
	return append([]provider.Record(nil), m.records[zone]...), nil
}

func (m *MockBackend) CreateRecord(ctx context.Context, zone string, r provider.Record) (provider.Record, error) {
	if m.failCreate[r.Name] {
		return provider.Record{}, errors.New("invalid record")
	}
	m.writes++
	r.ID = m.id("rec")
	m.records[zone] = append(m.records[zone], r)
	return r, nil
}

func (m *MockBackend) UpdateRecord(ctx context.Context, zone string, id string, r provider.Record) (provider.Record, error) {
	m.writes++
	for i, existing := range m.records[zone] {
		if existing.ID == id {
			r.ID = id
			m.records[zone][i] = r
			return r, nil
		}
	}
	return provider.Record{}, provider.ErrNotFound
}

func (m *MockBackend) DeleteRecord(ctx context.Context, zone string, id string) error {
	m.writes++
	records := m.records[zone]
	for i, existing := range records {
		if existing.ID == id {
			m.records[zone] = append(records[:i:i], records[i+1:]...)
			return nil
		}
	}
	return provider.ErrNotFound
}

func (m *MockBackend) GetRules(ctx context.Context, account string) ([]provider.Rule, error) {
	return append([]provider.Rule(nil), m.rules...), nil
}

func (m *MockBackend) CreateRule(ctx context.Context, account string, r provider.Rule) (provider.Rule, error) {
	m.writes++
	r.ID = m.id("rule")
	m.rules = append(m.rules, r)
	return r, nil
}

func (m *MockBackend) UpdateRule(ctx context.Context, account string, id string, r provider.Rule) (provider.Rule, error) {
	m.writes++
	for i, existing := range m.rules {
		if existing.ID == id {
			r.ID = id
			m.rules[i] = r
			return r, nil
		}
	}
	return provider.Rule{}, provider.ErrNotFound
}

func (m *MockBackend) DeleteRule(ctx context.Context, account string, id string) error {
	m.writes++
	for i, existing := range m.rules {
		if existing.ID == id {
			m.rules = append(m.rules[:i:i], m.rules[i+1:]...)
			return nil
		}
	}
	return provider.ErrNotFound
}

func (m *MockBackend) GetCertificate(ctx context.Context, account string, id string) (provider.Certificate, error) {
	status, ok := m.certs[id]
	if !ok {
		return provider.Certificate{}, provider.ErrNotFound
	}
	return provider.Certificate{ID: id, BindingStatus: status}, nil
}

func (m *MockBackend) ActivateCertificate(ctx context.Context, account string, id string) (provider.Certificate, error) {
	m.writes++
	m.certs[id] = provider.BindingAvailable
	return provider.Certificate{ID: id, BindingStatus: provider.BindingAvailable}, nil
}

func (m *MockBackend) DeviceSettings() provider.SettingsStore       { return m.device }
func (m *MockBackend) ConnectivitySettings() provider.SettingsStore { return m.connectivity }
func (m *MockBackend) WarpAccess() provider.SettingsStore           { return m.warp }

type MockStore struct {
	current provider.Settings
	puts    int
}

func (s *MockStore) GetSettings(ctx context.Context, account string) (provider.Settings, error) {
	return s.current.Clone(), nil
}

func (s *MockStore) PutSettings(ctx context.Context, account string, settings provider.Settings) (provider.Settings, error) {
	s.puts++
	s.current = settings.Clone()
	return settings, nil
}

// MockState is an in-memory state.Manager.
type MockState struct {
	state state.State
	saves int
}

func (m *MockState) LoadState(ctx context.Context) (state.State, error) {
	out := state.NewState()
	for unit, us := range m.state.Units {
		out.Units[unit] = us
	}
	return out, nil
}

func (m *MockState) SaveState(ctx context.Context, st state.State) error {
	m.saves++
	m.state = st
	return nil
}

func (m *MockState) Close() error { return nil }
