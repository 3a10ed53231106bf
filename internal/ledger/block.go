package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
)

// ZeroFingerprint is the sentinel back-reference of the genesis block. It is
// a well-known constant, not the fingerprint of any real block.
const ZeroFingerprint = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is one immutable unit of the ledger. All fields are fixed at
// construction; the chain hands out defensive copies so stored state is
// never aliased by callers.
type Block struct {
	Index           int    `json:"index"`
	Timestamp       string `json:"timestamp"`
	Payload         Record `json:"payload"`
	PrevFingerprint string `json:"previous_fingerprint"`
	Nonce           uint64 `json:"nonce"`
	Fingerprint     string `json:"fingerprint"`
}

// blockContent is the canonical encoding hashed to produce a fingerprint.
// The same encoding is used by the miner and by Verify; field order is fixed
// by the struct, map keys are sorted by encoding/json.
type blockContent struct {
	Index           int    `json:"index"`
	Timestamp       string `json:"timestamp"`
	Payload         Record `json:"payload"`
	PrevFingerprint string `json:"previous_fingerprint"`
	Nonce           uint64 `json:"nonce"`
}

// FingerprintOf recomputes a block's fingerprint from its stored fields
// alone. It is a pure function: identical inputs always produce an identical
// digest.
func FingerprintOf(b Block) (string, error) {
	data, err := json.Marshal(blockContent{
		Index:           b.Index,
		Timestamp:       b.Timestamp,
		Payload:         b.Payload,
		PrevFingerprint: b.PrevFingerprint,
		Nonce:           b.Nonce,
	})
	if err != nil {
		return "", &PayloadError{Err: err}
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// newBlock constructs a candidate block, runs the proof-of-work search for
// its nonce, and stamps the resulting fingerprint. A payload that cannot be
// canonically encoded yields a PayloadError and no block.
func newBlock(ctx context.Context, index int, timestamp string, payload Record, prevFingerprint string, miner Miner) (Block, error) {
	b := Block{
		Index:           index,
		Timestamp:       timestamp,
		Payload:         payload,
		PrevFingerprint: prevFingerprint,
	}

	// Surface encoding problems before any mining work is spent.
	if _, err := json.Marshal(payload); err != nil {
		return Block{}, &PayloadError{Err: err}
	}

	nonce, fingerprint, err := miner.Mine(ctx, b)
	if err != nil {
		return Block{}, err
	}

	b.Nonce = nonce
	b.Fingerprint = fingerprint
	return b, nil
}

// clone returns a copy of the block whose payload map is detached from the
// stored one.
func (b Block) clone() Block {
	b.Payload = maps.Clone(b.Payload)
	return b
}
