package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/wiretap-dev/wiretap/scheduler"
	"github.com/wiretap-dev/wiretap/worker"
)

func TestSchedulerTicksJob(t *testing.T) {
	wp := worker.NewWorkerPool(2)
	wp.Start()
	defer wp.Stop()

	sc := scheduler.NewScheduler(wp, 10*time.Millisecond)

	var calls int64
	sc.Start(func() {
		atomic.AddInt64(&calls, 1)
	})
	defer sc.Stop()

	time.Sleep(100 * time.Millisecond)
	sc.Stop()

	if atomic.LoadInt64(&calls) == 0 {
		t.Error("expected scheduler to have ticked at least once")
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	wp := worker.NewWorkerPool(1)
	wp.Start()
	defer wp.Stop()

	sc := scheduler.NewScheduler(wp, time.Second)
	sc.Start(func() {})
	sc.Stop()
	sc.Stop() // must not panic
}
