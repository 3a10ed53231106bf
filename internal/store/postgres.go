package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/ledger"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent block writes. The value is arbitrary but must be consistent
// across all service instances sharing a database.
const advisoryLockKey = int64(7_204_113_370)

// Postgres persists blocks to a PostgreSQL database. It implements BlockStore.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a Postgres store backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// SaveBlock implements BlockStore. The insert runs under a transaction-scoped
// advisory lock so two service instances cannot interleave writes.
func (p *Postgres) SaveBlock(ctx context.Context, b ledger.Block) error {
	payload, err := json.Marshal(b.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO blocks (idx, timestamp, payload, prev_fingerprint, nonce, fingerprint)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.Index, b.Timestamp, payload, b.PrevFingerprint, int64(b.Nonce), b.Fingerprint,
	); err != nil {
		return fmt.Errorf("insert block %d: %w", b.Index, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit block tx: %w", err)
	}

	p.logger.Debug("block persisted",
		zap.Int("idx", b.Index),
		zap.String("fingerprint", b.Fingerprint),
	)
	return nil
}

// Load implements BlockStore. Rows are streamed in chain order.
func (p *Postgres) Load(ctx context.Context) (ledger.Snapshot, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT idx, timestamp, payload, prev_fingerprint, nonce, fingerprint
		 FROM blocks ORDER BY idx ASC`,
	)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var snap ledger.Snapshot
	for rows.Next() {
		var (
			b       ledger.Block
			payload []byte
			nonce   int64
		)
		if err := rows.Scan(&b.Index, &b.Timestamp, &payload, &b.PrevFingerprint, &nonce, &b.Fingerprint); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("scan block row: %w", err)
		}
		if err := json.Unmarshal(payload, &b.Payload); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("unmarshal payload of block %d: %w", b.Index, err)
		}
		b.Nonce = uint64(nonce)
		snap.Blocks = append(snap.Blocks, b)
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("read blocks: %w", err)
	}

	return snap, nil
}

// Replace implements BlockStore. The whole swap happens in one transaction
// under the advisory lock.
func (p *Postgres) Replace(ctx context.Context, s ledger.Snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM blocks"); err != nil {
		return fmt.Errorf("clear blocks: %w", err)
	}

	for _, b := range s.Blocks {
		payload, err := json.Marshal(b.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload of block %d: %w", b.Index, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO blocks (idx, timestamp, payload, prev_fingerprint, nonce, fingerprint)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			b.Index, b.Timestamp, payload, b.PrevFingerprint, int64(b.Nonce), b.Fingerprint,
		); err != nil {
			return fmt.Errorf("insert block %d: %w", b.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}

	p.logger.Info("persisted chain replaced", zap.Int("blocks", len(s.Blocks)))
	return nil
}
