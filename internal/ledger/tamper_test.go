package ledger

import (
	"context"
	"testing"
)

// These tests reach into the chain's private state to simulate the attacks
// Verify must detect, which an outside caller cannot do through the API.

func tamperChain(t *testing.T) *Chain {
	t.Helper()

	c := New(WithMiner(Miner{Difficulty: 1, MaxAttempts: 1000}))
	records := []Record{
		{"patient_id": "P1", "severity": "Low"},
		{"patient_id": "P2", "severity": "High"},
	}
	for _, r := range records {
		if _, err := c.Append(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func issueAt(issues []Issue, index int) bool {
	for _, issue := range issues {
		if issue.Index == index {
			return true
		}
	}
	return false
}

func TestVerify_detectsPayloadTampering(t *testing.T) {
	c := tamperChain(t)

	c.blocks[1].Payload["severity"] = "Critical"

	issues := c.Verify()
	if len(issues) == 0 {
		t.Fatal("Verify() missed a tampered payload")
	}
	if !issueAt(issues, 1) {
		t.Errorf("expected an issue at block 1, got %v", issues)
	}
}

func TestVerify_detectsFingerprintTampering(t *testing.T) {
	c := tamperChain(t)

	// Flip one character of the stored fingerprint in place.
	fp := []byte(c.blocks[1].Fingerprint)
	if fp[0] == 'a' {
		fp[0] = 'b'
	} else {
		fp[0] = 'a'
	}
	c.blocks[1].Fingerprint = string(fp)

	issues := c.Verify()
	if len(issues) == 0 {
		t.Fatal("Verify() missed a flipped fingerprint")
	}
	if !issueAt(issues, 1) {
		t.Errorf("expected the failing index to be 1, got %v", issues)
	}
}

func TestVerify_detectsBackReferenceTampering(t *testing.T) {
	c := tamperChain(t)

	c.blocks[2].PrevFingerprint = ZeroFingerprint

	issues := c.Verify()
	if !issueAt(issues, 2) {
		t.Errorf("expected an issue at block 2, got %v", issues)
	}
}

func TestVerify_detectsNonceTampering(t *testing.T) {
	c := tamperChain(t)

	c.blocks[1].Nonce++

	if issues := c.Verify(); !issueAt(issues, 1) {
		t.Errorf("expected an issue at block 1, got %v", issues)
	}
}

func TestVerify_detectsGenesisSentinelTampering(t *testing.T) {
	c := tamperChain(t)

	c.blocks[0].PrevFingerprint = c.blocks[1].Fingerprint

	if issues := c.Verify(); !issueAt(issues, 0) {
		t.Errorf("expected an issue at block 0, got %v", issues)
	}
}

func TestVerify_detectsIndexDrift(t *testing.T) {
	c := tamperChain(t)

	c.blocks[2].Index = 7

	if issues := c.Verify(); !issueAt(issues, 2) {
		t.Errorf("expected an issue at block 2, got %v", issues)
	}
}
