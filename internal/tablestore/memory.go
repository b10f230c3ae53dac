package tablestore

import (
	"context"
	"sync"
)

// memoryStore is an in-process Store used for local development and tests.
type memoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemoryStore returns an empty Store with every known table and its header.
func NewMemoryStore() Store {
	m := &memoryStore{tables: make(map[string][]Row)}
	for _, t := range Tables() {
		h, _ := Headers(t)
		m.tables[t] = []Row{h}
	}
	return m
}

func (m *memoryStore) Append(ctx context.Context, table string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		return ErrUnknownTable
	}
	m.tables[table] = append(rows, copyRow(row))
	return nil
}

func (m *memoryStore) GetAllRows(ctx context.Context, table string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.tables[table]
	if !ok {
		return nil, ErrUnknownTable
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = copyRow(r)
	}
	return out, nil
}

func (m *memoryStore) UpdateRow(ctx context.Context, table string, index int, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		return ErrUnknownTable
	}
	if err := checkIndex(index, len(rows)); err != nil {
		return err
	}
	rows[index] = copyRow(row)
	return nil
}

func (m *memoryStore) DeleteRow(ctx context.Context, table string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		return ErrUnknownTable
	}
	if err := checkIndex(index, len(rows)); err != nil {
		return err
	}
	m.tables[table] = append(rows[:index:index], rows[index+1:]...)
	return nil
}

func copyRow(r Row) Row {
	return append(Row(nil), r...)
}
