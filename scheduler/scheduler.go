// Package scheduler drives periodic background work via the worker pool.
// SessionStore uses it to batch meta.json rewrites: appends happen on
// every LogRecord, but the metadata file on disk only needs to reflect the
// current logCount every tick, not on every single append.
package scheduler

import (
	"sync"
	"time"

	"github.com/wiretap-dev/wiretap/worker"
)

// Scheduler fires jobFn on a fixed interval via a WorkerPool, rather than
// spawning a fresh goroutine per tick.
//
// Architecture:
//   - Start spawns a single control goroutine running a time.Ticker. Each
//     tick submits one job to the WorkerPool instead of running jobFn
//     inline, so a slow flush (e.g. a stalled disk) does not delay the
//     next tick while the pool's queue has room; once the queue is full,
//     Submit blocks the control goroutine until a slot frees up.
//   - A stop channel allows clean shutdown: calling Stop closes the
//     channel, which causes the control goroutine to exit and the ticker
//     to be stopped.
type Scheduler struct {
	workerPool *worker.WorkerPool
	interval   time.Duration
	stopCh     chan struct{}
	once       sync.Once
}

// NewScheduler creates a Scheduler that submits jobs to wp every interval.
func NewScheduler(wp *worker.WorkerPool, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Scheduler{
		workerPool: wp,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic tick loop, submitting jobFn to the worker pool
// once per interval until Stop is called. Start is non-blocking: the
// control goroutine runs in the background. jobFn must be safe to run
// concurrently with itself, since a slow jobFn execution and the next
// tick's submission can overlap.
func (sc *Scheduler) Start(jobFn func()) {
	go func() {
		ticker := time.NewTicker(sc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sc.stopCh:
				return
			case <-ticker.C:
				sc.workerPool.Submit(jobFn)
			}
		}
	}()
}

// Stop signals the Scheduler to stop ticking. It does not wait for
// in-flight jobs to complete; call WorkerPool.Stop for that, or have the
// caller run a final synchronous flush after Stop returns. Stop is
// idempotent.
func (sc *Scheduler) Stop() {
	sc.once.Do(func() {
		close(sc.stopCh)
	})
}
