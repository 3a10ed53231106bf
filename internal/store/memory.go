package store

import (
	"context"
	"sync"

	"github.com/medledger/medledger/internal/ledger"
)

// Memory is an in-memory BlockStore for tests and single-process deployments
// that do not need durability across restarts.
type Memory struct {
	mu     sync.RWMutex
	blocks []ledger.Block
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// SaveBlock implements BlockStore.
func (m *Memory) SaveBlock(_ context.Context, b ledger.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = append(m.blocks, b)
	return nil
}

// Load implements BlockStore.
func (m *Memory) Load(_ context.Context) (ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blocks := make([]ledger.Block, len(m.blocks))
	copy(blocks, m.blocks)
	return ledger.Snapshot{Blocks: blocks}, nil
}

// Replace implements BlockStore.
func (m *Memory) Replace(_ context.Context, s ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = make([]ledger.Block, len(s.Blocks))
	copy(m.blocks, s.Blocks)
	return nil
}
