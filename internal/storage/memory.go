package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs the "memory" driver and the test
// suites of packages built on top of the store.
type Memory struct {
	mu      sync.Mutex
	tenants map[int64]TenantState
}

func NewMemory() *Memory {
	return &Memory{tenants: map[int64]TenantState{}}
}

func (m *Memory) GetTenant(ctx context.Context, tenantID int64) (TenantState, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tenants[tenantID]
	if !ok {
		return TenantState{}, false, nil
	}
	return st.Clone(), true, nil
}

func (m *Memory) PutTenant(ctx context.Context, tenantID int64, st TenantState) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenantID] = st.Clone()
	return nil
}

func (m *Memory) DeleteTenant(ctx context.Context, tenantID int64) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, tenantID)
	return nil
}

func (m *Memory) ForEachTenant(ctx context.Context, fn func(tenantID int64, st TenantState) error) error {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.tenants))
	states := make([]TenantState, 0, len(m.tenants))
	for id, st := range m.tenants {
		ids = append(ids, id)
		states = append(states, st.Clone())
	}
	m.mu.Unlock()

	for i, id := range ids {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if err := fn(id, states[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
