// Package scheduler implements a cooperative, time-budgeted runner for
// long-running work such as query execution: tasklets yield control
// periodically instead of blocking a worker thread to completion.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is what a tasklet's run reports back to the scheduler.
type Result int

const (
	// Done indicates the tasklet finished; its waiter is resolved.
	Done Result = iota
	// MadeProgress indicates partial progress; requeue for another tick.
	MadeProgress
	// NoProgress indicates no progress was possible this tick (e.g. waiting
	// on a lock); retried next tick without being considered stalled.
	NoProgress
)

func (r Result) String() string {
	switch r {
	case Done:
		return "DONE"
	case MadeProgress:
		return "MADE_PROGRESS"
	case NoProgress:
		return "NO_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Tasklet is one unit of cooperative work. Run is called repeatedly until it
// returns Done or the tasklet is cancelled. OnCancel runs once if the
// tasklet's context is cancelled before Run returns Done.
type Tasklet interface {
	Run(ctx context.Context) Result
	OnCancel()
}

// Config bounds the scheduler's tick loop.
type Config struct {
	MaxConcurrent  int           // bounded pool of concurrently active tasklets
	TickBudget     time.Duration // per-tick wall-clock cap across all tasklets
	TaskletBudget  time.Duration // per-tasklet time budget within a tick
	TickInterval   time.Duration // delay between ticks when idle
}

// DefaultConfig matches a reasonable single-node development deployment.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 64,
		TickBudget:    20 * time.Millisecond,
		TaskletBudget: 2 * time.Millisecond,
		TickInterval:  1 * time.Millisecond,
	}
}

type entry struct {
	tasklet  Tasklet
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	result   error
}

// Scheduler holds the bounded pool of active tasklets and drives them
// round-robin from a background tick loop.
type Scheduler struct {
	cfg Config
	log *logrus.Entry

	mu      sync.Mutex
	active  []*entry
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Scheduler and starts its tick loop in the background.
func New(cfg Config, logger *logrus.Logger) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		log:    logger.WithField("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.tickLoop()
	return s
}

// Submit enqueues a tasklet and returns a channel closed when it completes
// (Done) or is cancelled. If the pool is at MaxConcurrent, Submit blocks
// until a slot frees or ctx is cancelled.
func (s *Scheduler) Submit(ctx context.Context, t Tasklet) <-chan struct{} {
	taskletCtx, cancel := context.WithCancel(ctx)
	e := &entry{tasklet: t, ctx: taskletCtx, cancel: cancel, done: make(chan struct{})}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			cancel()
			close(e.done)
			return e.done
		}
		if len(s.active) < s.cfg.MaxConcurrent {
			s.active = append(s.active, e)
			s.mu.Unlock()
			return e.done
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			cancel()
			close(e.done)
			return e.done
		case <-time.After(time.Millisecond):
		}
	}
}

// RunSync runs a tasklet to completion on the calling goroutine without
// going through the tick loop, for small work that does not warrant the
// scheduling overhead.
func RunSync(ctx context.Context, t Tasklet) {
	for {
		select {
		case <-ctx.Done():
			t.OnCancel()
			return
		default:
		}
		if t.Run(ctx) == Done {
			return
		}
	}
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	batch := append([]*entry(nil), s.active...)
	s.mu.Unlock()

	deadline := time.Now().Add(s.cfg.TickBudget)
	var stillActive []*entry
	for _, e := range batch {
		if time.Now().After(deadline) {
			stillActive = append(stillActive, e)
			continue
		}

		select {
		case <-e.ctx.Done():
			e.tasklet.OnCancel()
			close(e.done)
			continue
		default:
		}

		taskletCtx, cancel := context.WithTimeout(e.ctx, s.cfg.TaskletBudget)
		result := e.tasklet.Run(taskletCtx)
		cancel()

		switch result {
		case Done:
			close(e.done)
		case MadeProgress, NoProgress:
			stillActive = append(stillActive, e)
		default:
			s.log.WithField("result", result).Warn("tasklet returned unknown result, treating as no progress")
			stillActive = append(stillActive, e)
		}
	}

	s.mu.Lock()
	s.active = append(stillActive, s.active[len(batch):]...)
	s.mu.Unlock()
}

// Close stops the tick loop and cancels all remaining active tasklets.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	active := s.active
	s.active = nil
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	for _, e := range active {
		e.cancel()
		e.tasklet.OnCancel()
		close(e.done)
	}
}

// ActiveCount returns the current number of tasklets in the pool.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
