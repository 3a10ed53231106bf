package records

import (
	"context"
	"fmt"

	"github.com/medledger/medledger/internal/ledger"
	"github.com/medledger/medledger/internal/store"
)

// Bootstrap builds the process's chain from the persisted sequence. An empty
// store gets a fresh chain whose genesis block is persisted immediately; a
// populated store is imported as-is and verified, with any issues returned
// for the caller to log — a ledger that fails verification still boots so
// operators can inspect it.
func Bootstrap(ctx context.Context, blocks store.BlockStore) (*ledger.Chain, []ledger.Issue, error) {
	shape := ledger.WithShapePredicate(ConformsToRecordShape)

	if blocks == nil {
		return ledger.New(shape), nil, nil
	}

	snap, err := blocks.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load persisted chain: %w", err)
	}

	if len(snap.Blocks) == 0 {
		chain := ledger.New(shape)
		if err := blocks.Replace(ctx, chain.ExportSnapshot()); err != nil {
			return nil, nil, fmt.Errorf("persist fresh chain: %w", err)
		}
		return chain, nil, nil
	}

	chain, err := ledger.ImportSnapshot(snap, shape)
	if err != nil {
		return nil, nil, fmt.Errorf("import persisted chain: %w", err)
	}

	return chain, chain.Verify(), nil
}
