package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/evanofslack/cf-edge-sync/internal/metrics"
)

const backendRedis = "redis"

// redisManager keeps every unit as one field of a single hash.
type redisManager struct {
	client  rueidis.Client
	key     string
	metrics *metrics.Metrics
}

func NewRedis(ctx context.Context, addr, prefix string, metrics *metrics.Metrics) (Manager, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("open redis client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &redisManager{client: client, key: prefix + ":units", metrics: metrics}, nil
}

func (m *redisManager) LoadState(ctx context.Context) (State, error) {
	state := NewState()

	fields, err := m.client.Do(ctx, m.client.B().Hgetall().Key(m.key).Build()).AsStrMap()
	if err != nil {
		m.metrics.IncStateRequest(backendRedis, "read", false)
		return state, fmt.Errorf("read %s: %w", m.key, err)
	}
	for unit, val := range fields {
		var us UnitState
		if err := json.Unmarshal([]byte(val), &us); err != nil {
			m.metrics.IncStateRequest(backendRedis, "read", false)
			return state, fmt.Errorf("decode unit %s: %w", unit, err)
		}
		state.Units[unit] = us
	}
	m.metrics.IncStateRequest(backendRedis, "read", true)
	return state, nil
}

// SaveState replaces the stored state: units missing from state are removed.
func (m *redisManager) SaveState(ctx context.Context, state State) error {
	existing, err := m.client.Do(ctx, m.client.B().Hkeys().Key(m.key).Build()).AsStrSlice()
	if err != nil {
		m.metrics.IncStateRequest(backendRedis, "read", false)
		return fmt.Errorf("read %s: %w", m.key, err)
	}

	var cmds rueidis.Commands
	if len(state.Units) > 0 {
		fv := m.client.B().Hset().Key(m.key).FieldValue()
		for unit, us := range state.Units {
			data, err := json.Marshal(us)
			if err != nil {
				m.metrics.IncStateRequest(backendRedis, "update", false)
				return err
			}
			fv = fv.FieldValue(unit, string(data))
		}
		cmds = append(cmds, fv.Build())
	}

	var stale []string
	for _, unit := range existing {
		if _, ok := state.Units[unit]; !ok {
			stale = append(stale, unit)
		}
	}
	if len(stale) > 0 {
		cmds = append(cmds, m.client.B().Hdel().Key(m.key).Field(stale...).Build())
	}

	for _, resp := range m.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			m.metrics.IncStateRequest(backendRedis, "update", false)
			return fmt.Errorf("write %s: %w", m.key, err)
		}
	}
	m.metrics.IncStateRequest(backendRedis, "update", true)
	return nil
}

func (m *redisManager) Close() error {
	m.client.Close()
	return nil
}
