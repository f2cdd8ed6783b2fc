package connectiondao

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process connection store for dry runs and tests. It has
// the same upsert and idempotent delete semantics as the DynamoDB table.
type Memory struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

func NewMemory() *Memory {
	return &Memory{conns: map[string]Connection{}}
}

func (m *Memory) Put(_ context.Context, conn Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ConnectionID] = conn
	return nil
}

func (m *Memory) Delete(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connectionID)
	return nil
}

// Scan returns the records ordered by connection id.
func (m *Memory) Scan(_ context.Context) ([]Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ConnectionID < conns[j].ConnectionID
	})
	return conns, nil
}
