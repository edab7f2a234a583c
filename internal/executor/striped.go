package executor

import (
	"github.com/cespare/xxhash/v2"
)

// StripedExecutor partitions tasks across N stripes by key hash. Tasks
// sharing a key always land on the same stripe and execute in submission
// order; stripes run independently and in parallel.
type StripedExecutor struct {
	stripes []*BoundedQueue
}

// NewStripedExecutor constructs a StripedExecutor with n stripes, each a
// BoundedQueue of the given per-stripe capacity and reject policy, and
// starts one worker goroutine per stripe.
func NewStripedExecutor(n, perStripeCapacity int, reject RejectPolicy) *StripedExecutor {
	if n <= 0 {
		n = 1
	}
	e := &StripedExecutor{stripes: make([]*BoundedQueue, n)}
	for i := range e.stripes {
		e.stripes[i] = NewBoundedQueue(perStripeCapacity, reject)
		go e.stripes[i].Run()
	}
	return e
}

// StripeOf returns the stripe index a key would be routed to.
func (e *StripedExecutor) StripeOf(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(e.stripes)))
}

// Submit enqueues task on the stripe owning key, preserving ordering
// relative to other tasks submitted under the same key.
func (e *StripedExecutor) Submit(key string, task func()) error {
	return e.stripes[e.StripeOf(key)].Enqueue(task)
}

// OnHighWater registers a high-water callback on every stripe.
func (e *StripedExecutor) OnHighWater(threshold int, fn func(stripe, depth int)) {
	for i, s := range e.stripes {
		idx := i
		s.OnHighWater(threshold, func(depth int) { fn(idx, depth) })
	}
}

// StripeCount returns the number of stripes.
func (e *StripedExecutor) StripeCount() int { return len(e.stripes) }

// Close stops all stripes.
func (e *StripedExecutor) Close() {
	for _, s := range e.stripes {
		s.Close()
	}
}
