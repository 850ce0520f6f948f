package hostpool_test

import (
	"testing"
	"time"

	"github.com/wiretap-dev/wiretap/hostpool"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := hostpool.NewPool(2)
	p.Acquire("example.com")
	if got := p.InUse("example.com"); got != 1 {
		t.Errorf("InUse = %d, want 1", got)
	}
	p.Release("example.com")
	if got := p.InUse("example.com"); got != 0 {
		t.Errorf("InUse after release = %d, want 0", got)
	}
}

func TestTryAcquireFailsAtCap(t *testing.T) {
	p := hostpool.NewPool(1)
	if !p.TryAcquire("example.com") {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if p.TryAcquire("example.com") {
		t.Fatal("expected second TryAcquire to fail at cap 1")
	}
}

func TestHostsAreIndependent(t *testing.T) {
	p := hostpool.NewPool(1)
	if !p.TryAcquire("a.example.com") {
		t.Fatal("expected acquire on host a to succeed")
	}
	if !p.TryAcquire("b.example.com") {
		t.Fatal("host b should have its own independent slot")
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := hostpool.NewPool(1)
	p.Acquire("example.com")

	acquired := make(chan struct{})
	go func() {
		p.Acquire("example.com")
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire should have blocked while slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release("example.com")

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Release")
	}
}

func TestReleaseWithoutAcquireDoesNotPanic(t *testing.T) {
	p := hostpool.NewPool(4)
	p.Release("never-acquired.example.com")
}

func TestDefaultCapFallback(t *testing.T) {
	p := hostpool.NewPool(0)
	for i := 0; i < 64; i++ {
		if !p.TryAcquire("example.com") {
			t.Fatalf("expected default cap of 64, failed at iteration %d", i)
		}
	}
	if p.TryAcquire("example.com") {
		t.Fatal("expected 65th TryAcquire to fail under default cap")
	}
}
