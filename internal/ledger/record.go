package ledger

import (
	"encoding/json"
	"maps"
)

// Record is an opaque payload stored inside a block. Keys are field names;
// values must be JSON-encodable. The chain never interprets a Record beyond
// canonically encoding it (encoding/json sorts map keys, so the same logical
// content always produces the same bytes).
type Record map[string]any

// Projection is a read-only view of a stored Record annotated with the
// source block's position and fingerprint.
type Projection struct {
	Fields     Record
	BlockIndex int
	BlockHash  string
}

// MarshalJSON flattens the projection into a single object: the payload
// fields plus "block_index" and "block_hash".
func (p Projection) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(p.Fields)+2)
	maps.Copy(flat, p.Fields)
	flat["block_index"] = p.BlockIndex
	flat["block_hash"] = p.BlockHash
	return json.Marshal(flat)
}
