package ledger

import "context"

// Mining defaults. The attempt bound is a deliberate latency cap for
// interactive use: when it is exhausted the last nonce tried is kept even
// though the difficulty predicate is unmet.
const (
	DefaultDifficulty  = 2
	DefaultMaxAttempts = 1000
)

// Miner performs the bounded proof-of-work search: find the smallest nonce
// whose block fingerprint starts with Difficulty zero hex characters. The
// search is deterministic — the nonce always starts at zero and increments,
// so identical inputs yield identical results.
//
// Difficulty 0 is a valid configuration meaning "no work": the first nonce
// is always accepted. A negative Difficulty or a zero MaxAttempts falls back
// to the package default.
type Miner struct {
	Difficulty  int
	MaxAttempts uint64
}

// Mine searches for a nonce for the candidate block and returns the nonce
// together with the fingerprint computed at that nonce. The context is the
// cancellation point; a cancelled search returns the context error and no
// nonce.
func (m Miner) Mine(ctx context.Context, b Block) (uint64, string, error) {
	difficulty := m.Difficulty
	if difficulty < 0 {
		difficulty = DefaultDifficulty
	}
	maxAttempts := m.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var fingerprint string
	for nonce := uint64(0); nonce < maxAttempts; nonce++ {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}

		b.Nonce = nonce
		fp, err := FingerprintOf(b)
		if err != nil {
			return 0, "", err
		}

		if isFingerprintSolved(difficulty, fp) {
			return nonce, fp, nil
		}
		fingerprint = fp
	}

	// Bound exhausted: keep the last nonce tried.
	return maxAttempts - 1, fingerprint, nil
}

// isFingerprintSolved checks the leading-zero-hex-digit target.
func isFingerprintSolved(difficulty int, fingerprint string) bool {
	const zeroes = "00000000000000000000000000000000"

	if difficulty > len(zeroes) || len(fingerprint) < difficulty {
		return false
	}
	return fingerprint[:difficulty] == zeroes[:difficulty]
}
