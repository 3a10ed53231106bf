// Package ledger implements the hash-linked, append-only block chain that
// backs MedLedger.
//
// The chain begins with a genesis block whose back-reference equals
// ZeroFingerprint (64 hex zeros). Every subsequent block records the SHA-256
// fingerprint of its predecessor, making any post-hoc tampering detectable
// via Verify. Block fingerprints are stamped with a bounded leading-zero
// proof-of-work; the work factor is a latency-bounded demo mechanism, not a
// security guarantee — the only guarantee is tamper detectability for a
// verifier holding the full chain.
//
// The package is schema-agnostic: payloads are opaque Records whose shape is
// the caller's concern.
package ledger
