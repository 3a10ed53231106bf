// Package store persists the block chain. The chain itself lives in memory;
// a BlockStore is the durability collaborator that records every appended
// block and rebuilds the snapshot on boot.
package store

import (
	"context"

	"github.com/medledger/medledger/internal/ledger"
)

// BlockStore is the behaviour required from any persistence backend.
type BlockStore interface {
	// SaveBlock durably records one appended block.
	SaveBlock(ctx context.Context, b ledger.Block) error

	// Load returns the full ordered block sequence as a snapshot. An empty
	// snapshot means no chain has been persisted yet.
	Load(ctx context.Context) (ledger.Snapshot, error)

	// Replace atomically swaps the persisted sequence for the given
	// snapshot. Used when a snapshot is imported over the API.
	Replace(ctx context.Context, s ledger.Snapshot) error
}
