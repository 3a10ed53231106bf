// Package health runs the periodic chain-integrity monitor. Tampering with
// the persisted block sequence is only detectable by re-verifying, so the
// checker walks the chain on an interval instead of waiting for someone to
// call the verify endpoint.
package health

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds integrity check configuration.
type Config struct {
	CheckInterval time.Duration
	AlertAfter    int
}

// ChainVerifier reports the integrity issues of the live chain.
type ChainVerifier interface {
	VerifyIssues() []string
	BlockCount() int
}

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(blocks int, valid bool)

// Checker re-verifies the chain on an interval and logs transitions between
// intact and tampered states.
type Checker struct {
	chain     ChainVerifier
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu        sync.Mutex
	failCount int
}

// New creates a new Checker.
func New(chain ChainVerifier, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.AlertAfter == 0 {
		cfg.AlertAfter = 1
	}

	return &Checker{
		chain:  chain,
		cfg:    cfg,
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the check loop until quit is signalled.
func (c *Checker) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Check()
		case <-quit:
			return
		}
	}
}

// Check verifies the chain once, updates metrics, and logs state changes.
func (c *Checker) Check() {
	issues := c.chain.VerifyIssues()
	blocks := c.chain.BlockCount()
	valid := len(issues) == 0

	if c.onMetrics != nil {
		c.onMetrics(blocks, valid)
	}

	c.mu.Lock()
	prevCount := c.failCount
	if valid {
		c.failCount = 0
	} else {
		c.failCount++
	}
	count := c.failCount
	c.mu.Unlock()

	switch {
	case valid && prevCount >= c.cfg.AlertAfter:
		// Transition: tampered → intact (e.g. a good snapshot was imported).
		c.logger.Info("integrity: chain recovered", zap.Int("blocks", blocks))

	case !valid && count == c.cfg.AlertAfter:
		c.logger.Error("integrity: chain TAMPERED",
			zap.Int("blocks", blocks),
			zap.Int("issues", len(issues)),
			zap.String("first_issue", issues[0]),
		)

	case !valid:
		c.logger.Warn("integrity: chain still tampered",
			zap.Int("consecutive_failures", count),
		)
	}
}
