package reconcile

import (
	"context"
	"fmt"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

type MockDNS struct {
	records       []provider.Record
	listResponses [][]provider.Record // served before records, one per list call
	createErrs    []error             // consumed one per create call
	failCreateFor map[string]error    // by record name
	updateErr     error
	deleteErrs    map[string]error
	nextID        int

	listCalls int
	creates   []provider.Record
	updates   []provider.Record
	deletes   []string
}

func (m *MockDNS) GetRecords(ctx context.Context, zone string) ([]provider.Record, error) {
	m.listCalls++
	if len(m.listResponses) > 0 {
		out := m.listResponses[0]
		m.listResponses = m.listResponses[1:]
		return out, nil
	}
	return append([]provider.Record(nil), m.records...), nil
}

func (m *MockDNS) CreateRecord(ctx context.Context, zone string, r provider.Record) (provider.Record, error) {
	m.creates = append(m.creates, r)
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return provider.Record{}, err
		}
	}
	if err, ok := m.failCreateFor[r.Name]; ok {
		return provider.Record{}, err
	}
	m.nextID++
	r.ID = fmt.Sprintf("rec-%d", m.nextID)
	m.records = append(m.records, r)
	return r, nil
}

func (m *MockDNS) UpdateRecord(ctx context.Context, zone string, id string, r provider.Record) (provider.Record, error) {
	m.updates = append(m.updates, r)
	if m.updateErr != nil {
		return provider.Record{}, m.updateErr
	}
	r.ID = id
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i] = r
			return r, nil
		}
	}
	return r, nil
}

func (m *MockDNS) DeleteRecord(ctx context.Context, zone string, id string) error {
	if err, ok := m.deleteErrs[id]; ok {
		return err
	}
	m.deletes = append(m.deletes, id)
	for i := range m.records {
		if m.records[i].ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockDNS) mutations() int {
	return len(m.creates) + len(m.updates) + len(m.deletes)
}

func (m *MockDNS) reset() {
	m.listCalls = 0
	m.creates = nil
	m.updates = nil
	m.deletes = nil
}

type MockGateway struct {
	rules     []provider.Rule
	createErr map[string]error
	nextID    int

	creates []provider.Rule
	updates []provider.Rule
	deletes []string
}

func (m *MockGateway) GetRules(ctx context.Context, account string) ([]provider.Rule, error) {
	return append([]provider.Rule(nil), m.rules...), nil
}

func (m *MockGateway) CreateRule(ctx context.Context, account string, r provider.Rule) (provider.Rule, error) {
	m.creates = append(m.creates, r)
	if err, ok := m.createErr[r.Name]; ok {
		return provider.Rule{}, err
	}
	m.nextID++
	r.ID = fmt.Sprintf("rule-%d", m.nextID)
	m.rules = append(m.rules, r)
	return r, nil
}

func (m *MockGateway) UpdateRule(ctx context.Context, account string, id string, r provider.Rule) (provider.Rule, error) {
	m.updates = append(m.updates, r)
	r.ID = id
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules[i] = r
		}
	}
	return r, nil
}

func (m *MockGateway) DeleteRule(ctx context.Context, account string, id string) error {
	m.deletes = append(m.deletes, id)
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			break
		}
	}
	return nil
}

type MockSettings struct {
	current provider.Settings
	getErr  error
	puts    []provider.Settings
}

func (m *MockSettings) GetSettings(ctx context.Context, account string) (provider.Settings, error) {
	return m.current.Clone(), m.getErr
}

func (m *MockSettings) PutSettings(ctx context.Context, account string, s provider.Settings) (provider.Settings, error) {
	m.puts = append(m.puts, s)
	m.current = s
	return s, nil
}

type MockCertificates struct {
	status    string
	activated int
}

func (m *MockCertificates) GetCertificate(ctx context.Context, account, id string) (provider.Certificate, error) {
	return provider.Certificate{ID: id, BindingStatus: m.status}, nil
}

func (m *MockCertificates) ActivateCertificate(ctx context.Context, account, id string) (provider.Certificate, error) {
	m.activated++
	m.status = provider.BindingPendingDeployment
	return provider.Certificate{ID: id, BindingStatus: m.status}, nil
}
