package session

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// RegulatorConfig tunes write backpressure.
type RegulatorConfig struct {
	// MaxPending bounds the number of ops admitted but not yet recorded as
	// complete; WaitForCapacity blocks admission past this point.
	MaxPending int
	// ForceEveryN forces a synchronous write-through every N accepted ops,
	// regardless of random early forcing, to bound worst-case staleness.
	ForceEveryN uint64
	// EarlyForceProbability randomly forces a write-through before
	// ForceEveryN is reached, spreading flush load instead of letting it
	// cluster at fixed intervals.
	EarlyForceProbability float64
	// PollInterval is how often WaitForCapacity rechecks pending count.
	PollInterval time.Duration
}

// DefaultRegulatorConfig matches a reasonable single-node deployment.
func DefaultRegulatorConfig() RegulatorConfig {
	return RegulatorConfig{
		MaxPending:            4096,
		ForceEveryN:           256,
		EarlyForceProbability: 0.01,
		PollInterval:          time.Millisecond,
	}
}

// Regulator implements admission control and forced write-through pacing for
// the op pipeline: it caps how many ops may be in flight at once and decides
// when an op should force a synchronous flush instead of relying on the
// coalescing writer's batching delay.
type Regulator struct {
	cfg RegulatorConfig
	rnd *rand.Rand

	mu       sync.Mutex
	opsSeen  uint64
	forced   uint64
	pending  int64
}

// NewRegulator constructs a Regulator from cfg.
func NewRegulator(cfg RegulatorConfig) *Regulator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	return &Regulator{cfg: cfg, rnd: rand.New(rand.NewSource(1))}
}

// WaitForCapacity blocks until pending admitted ops fall below MaxPending,
// ctx is cancelled, or returns immediately if MaxPending is unset (0).
func (r *Regulator) WaitForCapacity(ctx context.Context) error {
	if r.cfg.MaxPending <= 0 {
		atomic.AddInt64(&r.pending, 1)
		return nil
	}
	for {
		if atomic.LoadInt64(&r.pending) < int64(r.cfg.MaxPending) {
			atomic.AddInt64(&r.pending, 1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// RecordOp marks one op complete, releasing its admitted slot, and reports
// whether the pipeline should force a synchronous write-through for it.
func (r *Regulator) RecordOp() bool {
	atomic.AddInt64(&r.pending, -1)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.opsSeen++

	force := false
	if r.cfg.ForceEveryN > 0 && r.opsSeen%r.cfg.ForceEveryN == 0 {
		force = true
	} else if r.cfg.EarlyForceProbability > 0 && r.rnd.Float64() < r.cfg.EarlyForceProbability {
		force = true
	}
	if force {
		r.forced++
	}
	return force
}

// Stats reports the regulator's running counters.
type RegulatorStats struct {
	OpsSeen       uint64
	ForcedFlushes uint64
	Pending       int64
}

func (r *Regulator) Stats() RegulatorStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegulatorStats{OpsSeen: r.opsSeen, ForcedFlushes: r.forced, Pending: atomic.LoadInt64(&r.pending)}
}
