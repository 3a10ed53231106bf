package ledger

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"reflect"
	"sync"
	"time"
)

// genesisPayload is the fixed marker record stored in block 0.
var genesisPayload = Record{"message": "Genesis Block - EHR Blockchain Initialized"}

// Ref identifies a block that was just appended.
type Ref struct {
	Index       int    `json:"index"`
	Fingerprint string `json:"fingerprint"`
}

// Issue describes one integrity problem found by Verify.
type Issue struct {
	Index   int    `json:"block_index"`
	Problem string `json:"issue"`
}

// Option configures a Chain at construction.
type Option func(*Chain)

// WithMiner overrides the default proof-of-work configuration.
func WithMiner(m Miner) Option {
	return func(c *Chain) { c.miner = m }
}

// WithShapePredicate overrides the predicate deciding which payloads appear
// in Records projections. The default accepts any non-empty Record.
func WithShapePredicate(conforms func(Record) bool) Option {
	return func(c *Chain) { c.conforms = conforms }
}

// Chain is an ordered, append-only sequence of blocks. It owns its blocks
// exclusively: every read that exposes a payload returns a defensive copy.
// Appends are serialised internally; reads observe a consistent snapshot
// relative to any completed append.
type Chain struct {
	mu       sync.RWMutex
	blocks   []Block
	miner    Miner
	conforms func(Record) bool
}

// New creates a chain holding exactly the genesis block. This is the only
// place a block is created outside of Append.
func New(opts ...Option) *Chain {
	c := &Chain{
		miner:    Miner{Difficulty: DefaultDifficulty, MaxAttempts: DefaultMaxAttempts},
		conforms: func(r Record) bool { return len(r) > 0 },
	}
	for _, opt := range opts {
		opt(c)
	}

	genesis, err := newBlock(context.Background(), 0, now(), maps.Clone(genesisPayload), ZeroFingerprint, c.miner)
	if err != nil {
		// The genesis payload is a fixed, trivially encodable record.
		panic(fmt.Sprintf("ledger: genesis construction: %v", err))
	}
	c.blocks = []Block{genesis}

	return c
}

// Append constructs, mines, and pushes a new block carrying payload. On any
// failure the chain is left completely unchanged and an AppendError is
// returned; a payload that cannot be canonically encoded wraps a
// PayloadError. At most one append runs at a time per chain.
func (c *Chain) Append(ctx context.Context, payload Record) (Ref, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]

	b, err := newBlock(ctx, len(c.blocks), now(), maps.Clone(payload), tip.Fingerprint, c.miner)
	if err != nil {
		return Ref{}, &AppendError{Err: err}
	}

	c.blocks = append(c.blocks, b)
	return Ref{Index: b.Index, Fingerprint: b.Fingerprint}, nil
}

// Latest returns a copy of the last block. A chain always holds at least the
// genesis block, so Latest never fails.
func (c *Chain) Latest() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blocks[len(c.blocks)-1].clone()
}

// Len returns the number of blocks, genesis included.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.blocks)
}

// Block returns a copy of the block at the given position.
func (c *Chain) Block(index int) (Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if index < 0 || index >= len(c.blocks) {
		return Block{}, fmt.Errorf("block %d out of range", index)
	}
	return c.blocks[index].clone(), nil
}

// Verify walks the whole chain once, recomputing every fingerprint and
// checking every back-reference. It never fails; an empty result means the
// chain is intact. The genesis block's fingerprint is checked like any
// other, but its back-reference is only checked against the sentinel.
func (c *Chain) Verify() []Issue {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var issues []Issue
	for i, b := range c.blocks {
		if b.Index != i {
			issues = append(issues, Issue{Index: i, Problem: fmt.Sprintf("block index %d out of sync with position %d", b.Index, i)})
		}

		fp, err := FingerprintOf(b)
		switch {
		case err != nil:
			issues = append(issues, Issue{Index: i, Problem: fmt.Sprintf("fingerprint not recomputable: %v", err)})
		case fp != b.Fingerprint:
			issues = append(issues, Issue{Index: i, Problem: "stored fingerprint does not match block content"})
		}

		if i == 0 {
			if b.PrevFingerprint != ZeroFingerprint {
				issues = append(issues, Issue{Index: 0, Problem: "genesis back-reference is not the sentinel"})
			}
			continue
		}

		if b.PrevFingerprint != c.blocks[i-1].Fingerprint {
			issues = append(issues, Issue{Index: i, Problem: "back-reference does not match previous block fingerprint"})
		}
	}

	return issues
}

// Valid reports whether Verify found no issues.
func (c *Chain) Valid() bool {
	return len(c.Verify()) == 0
}

// Records returns a lazy, restartable sequence of payload projections for
// every non-genesis block whose payload passes the shape predicate, in
// append order. Projections carry detached payload copies; iterating never
// mutates stored blocks.
func (c *Chain) Records() iter.Seq[Projection] {
	return func(yield func(Projection) bool) {
		c.mu.RLock()
		blocks := make([]Block, len(c.blocks))
		copy(blocks, c.blocks)
		c.mu.RUnlock()

		for _, b := range blocks[1:] {
			if !c.conforms(b.Payload) {
				continue
			}

			p := Projection{
				Fields:     maps.Clone(b.Payload),
				BlockIndex: b.Index,
				BlockHash:  b.Fingerprint,
			}
			if !yield(p) {
				return
			}
		}
	}
}

// FindByField filters Records by exact equality on a named field, preserving
// chain order.
func (c *Chain) FindByField(key string, value any) iter.Seq[Projection] {
	return func(yield func(Projection) bool) {
		for p := range c.Records() {
			v, ok := p.Fields[key]
			if !ok || !reflect.DeepEqual(v, value) {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
