// Package records orchestrates the EHR collaborators around the ledger
// core: boundary validation, chain appends, block persistence, event
// publication, and export.
package records

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/events"
	"github.com/medledger/medledger/internal/ledger"
	"github.com/medledger/medledger/internal/store"
)

// Receipt is returned for every accepted record.
type Receipt struct {
	ReceiptID   string `json:"receipt_id"`
	Index       int    `json:"index"`
	Fingerprint string `json:"fingerprint"`
}

// Stats summarises the chain for the info endpoint.
type Stats struct {
	Blocks  int  `json:"blocks"`
	Records int  `json:"records"`
	Valid   bool `json:"valid"`
}

// MetricsRecordFunc is an optional callback for counting appends.
type MetricsRecordFunc func(ok bool)

// Service owns the single chain instance of the process and serialises all
// writes to it. Reads are safe concurrently with any completed append.
type Service struct {
	mu     sync.RWMutex
	chain  *ledger.Chain
	blocks store.BlockStore
	hub    *events.Hub
	logger *zap.Logger

	onAppend MetricsRecordFunc
}

// NewService creates a Service around an existing chain. blocks and hub may
// be nil to disable persistence and event publication.
func NewService(chain *ledger.Chain, blocks store.BlockStore, logger *zap.Logger) *Service {
	return &Service{
		chain:  chain,
		blocks: blocks,
		logger: logger,
	}
}

// SetEventHub configures the hub block events are published to.
func (s *Service) SetEventHub(hub *events.Hub) {
	s.hub = hub
}

// SetAppendMetric configures the metrics callback invoked per append attempt.
func (s *Service) SetAppendMetric(fn MetricsRecordFunc) {
	s.onAppend = fn
}

func (s *Service) currentChain() *ledger.Chain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain
}

// AddRecord appends one medical record to the chain, persists the new block,
// and publishes a block event. A failed append leaves chain and store
// untouched.
//
// A persistence failure after a successful append is reported as an error,
// but the block IS on the in-memory chain: the returned Receipt carries its
// index and fingerprint so the caller can tell the write landed. The store
// catches up on the next ImportSnapshot or restart, both of which Replace
// the persisted sequence wholesale.
func (s *Service) AddRecord(ctx context.Context, rec MedicalRecord) (Receipt, error) {
	chain := s.currentChain()

	ref, err := chain.Append(ctx, rec.ToRecord())
	if s.onAppend != nil {
		s.onAppend(err == nil)
	}
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		ReceiptID:   uuid.New().String(),
		Index:       ref.Index,
		Fingerprint: ref.Fingerprint,
	}

	block, err := chain.Block(ref.Index)
	if err != nil {
		return receipt, fmt.Errorf("read back appended block: %w", err)
	}

	if s.blocks != nil {
		if err := s.blocks.SaveBlock(ctx, block); err != nil {
			// The block is on the in-memory chain; surface the persistence
			// gap instead of hiding it, but keep the receipt usable.
			return receipt, fmt.Errorf("block %d appended but not persisted: %w", ref.Index, err)
		}
	}

	if s.hub != nil {
		patientID, _ := block.Payload["patient_id"].(string)
		s.hub.Publish(events.BlockEvent{
			Index:       block.Index,
			Fingerprint: block.Fingerprint,
			Timestamp:   block.Timestamp,
			PatientID:   patientID,
		})
	}

	s.logger.Info("record appended",
		zap.Int("block", ref.Index),
		zap.String("patient_id", rec.PatientID),
	)

	return receipt, nil
}

// AllRecords returns every stored record projection in chain order.
func (s *Service) AllRecords() []ledger.Projection {
	return slices.Collect(s.currentChain().Records())
}

// PatientRecords returns the projections whose patient_id matches exactly.
func (s *Service) PatientRecords(patientID string) []ledger.Projection {
	return slices.Collect(s.currentChain().FindByField("patient_id", patientID))
}

// Verify walks the chain and returns its integrity issues, empty when intact.
func (s *Service) Verify() []ledger.Issue {
	return s.currentChain().Verify()
}

// Stats summarises the chain.
func (s *Service) Stats() Stats {
	chain := s.currentChain()
	return Stats{
		Blocks:  chain.Len(),
		Records: len(slices.Collect(chain.Records())),
		Valid:   chain.Valid(),
	}
}

// LatestBlock returns the chain tip.
func (s *Service) LatestBlock() ledger.Block {
	return s.currentChain().Latest()
}

// BlockAt returns the block at the given position.
func (s *Service) BlockAt(index int) (ledger.Block, error) {
	return s.currentChain().Block(index)
}

// Snapshot exports the full chain.
func (s *Service) Snapshot() ledger.Snapshot {
	return s.currentChain().ExportSnapshot()
}

// ImportSnapshot verifies the snapshot, then swaps it in as the live chain
// and replaces the persisted sequence. A snapshot failing verification is
// rejected and nothing changes.
func (s *Service) ImportSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	chain, err := ledger.ImportSnapshot(snap, ledger.WithShapePredicate(ConformsToRecordShape))
	if err != nil {
		return fmt.Errorf("rebuild chain: %w", err)
	}
	if issues := chain.Verify(); len(issues) > 0 {
		return fmt.Errorf("snapshot failed verification at block %d: %s", issues[0].Index, issues[0].Problem)
	}

	if s.blocks != nil {
		if err := s.blocks.Replace(ctx, chain.ExportSnapshot()); err != nil {
			return fmt.Errorf("replace persisted chain: %w", err)
		}
	}

	s.mu.Lock()
	s.chain = chain
	s.mu.Unlock()

	s.logger.Info("chain replaced from snapshot", zap.Int("blocks", chain.Len()))
	return nil
}

// WriteCSV streams all records as CSV in the export column order.
func (s *Service) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for p := range s.currentChain().Records() {
		row := make([]string, 0, len(CSVColumns))
		for _, col := range CSVColumns {
			switch col {
			case "block_index":
				row = append(row, fmt.Sprint(p.BlockIndex))
			case "block_hash":
				row = append(row, p.BlockHash)
			default:
				if v, ok := p.Fields[col]; ok {
					row = append(row, fmt.Sprint(v))
				} else {
					row = append(row, "")
				}
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
