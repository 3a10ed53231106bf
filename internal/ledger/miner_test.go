package ledger_test

import (
	"context"
	"strings"
	"testing"

	"github.com/medledger/medledger/internal/ledger"
)

func candidateBlock() ledger.Block {
	return ledger.Block{
		Index:           1,
		Timestamp:       "2024-01-01T00:00:00",
		Payload:         ledger.Record{"a": "b"},
		PrevFingerprint: "0",
	}
}

func TestMine_deterministic(t *testing.T) {
	miner := ledger.Miner{Difficulty: 1, MaxAttempts: 1000}

	nonce1, fp1, err := miner.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}
	nonce2, fp2, err := miner.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}

	if nonce1 != nonce2 || fp1 != fp2 {
		t.Errorf("mining is not deterministic: (%d, %q) vs (%d, %q)", nonce1, fp1, nonce2, fp2)
	}
}

func TestMine_fingerprintMatchesNonce(t *testing.T) {
	miner := ledger.Miner{Difficulty: 1, MaxAttempts: 1000}

	nonce, fp, err := miner.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}

	b := candidateBlock()
	b.Nonce = nonce
	want, err := ledger.FingerprintOf(b)
	if err != nil {
		t.Fatal(err)
	}
	if fp != want {
		t.Errorf("returned fingerprint %q does not match the block at nonce %d", fp, nonce)
	}
}

func TestMine_smallestSolvingNonce(t *testing.T) {
	miner := ledger.Miner{Difficulty: 1, MaxAttempts: 1000}

	nonce, fp, err := miner.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(fp, "0") {
		// The bound may be exhausted without a solution; then the last
		// nonce tried is kept.
		if nonce != 999 {
			t.Errorf("unsolved search must return the last nonce tried, got %d", nonce)
		}
		return
	}

	// Every nonce below the winner must fail the difficulty predicate.
	for n := uint64(0); n < nonce; n++ {
		b := candidateBlock()
		b.Nonce = n
		earlier, err := ledger.FingerprintOf(b)
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(earlier, "0") {
			t.Fatalf("nonce %d already solves the target, but the miner returned %d", n, nonce)
		}
	}
}

func TestMine_boundExhaustion(t *testing.T) {
	// An unreachable difficulty forces the bound to trigger.
	miner := ledger.Miner{Difficulty: 30, MaxAttempts: 50}

	nonce, fp, err := miner.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}

	if nonce != 49 {
		t.Errorf("expected the last nonce tried (49), got %d", nonce)
	}
	if strings.HasPrefix(fp, strings.Repeat("0", 30)) {
		t.Error("a 30-zero digest within 50 attempts is not plausible")
	}
}

func TestMine_cancellation(t *testing.T) {
	miner := ledger.Miner{Difficulty: 30, MaxAttempts: 1000}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := miner.Mine(cancelled, candidateBlock()); err == nil {
		t.Fatal("expected the cancelled context to abort the search")
	}
}

func TestMine_zeroDifficultyAcceptsFirstNonce(t *testing.T) {
	miner := ledger.Miner{Difficulty: 0, MaxAttempts: 1000}

	nonce, fp, err := miner.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}

	if nonce != 0 {
		t.Fatalf("difficulty 0 must accept the first nonce, got %d", nonce)
	}
	b := candidateBlock()
	b.Nonce = 0
	want, err := ledger.FingerprintOf(b)
	if err != nil {
		t.Fatal(err)
	}
	if fp != want {
		t.Errorf("fingerprint %q does not match the block at nonce 0", fp)
	}
}

func TestMine_negativeDifficultyFallsBackToDefault(t *testing.T) {
	fallback := ledger.Miner{Difficulty: -1, MaxAttempts: 1000}
	explicit := ledger.Miner{Difficulty: ledger.DefaultDifficulty, MaxAttempts: 1000}

	nonce1, fp1, err := fallback.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}
	nonce2, fp2, err := explicit.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}

	if nonce1 != nonce2 || fp1 != fp2 {
		t.Errorf("negative difficulty must behave like the default: (%d, %q) vs (%d, %q)", nonce1, fp1, nonce2, fp2)
	}
}

func TestMine_zeroValueBoundDefaults(t *testing.T) {
	// A zero MaxAttempts falls back to the default bound; a zero Difficulty
	// means no work, so the zero-value miner accepts nonce 0.
	var miner ledger.Miner

	nonce, fp, err := miner.Mine(context.Background(), candidateBlock())
	if err != nil {
		t.Fatal(err)
	}
	if fp == "" {
		t.Fatal("expected a fingerprint")
	}
	if nonce != 0 {
		t.Errorf("zero-value miner does no work and must accept nonce 0, got %d", nonce)
	}
}
