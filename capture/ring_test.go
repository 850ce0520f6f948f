package capture_test

import (
	"testing"
	"time"

	"github.com/wiretap-dev/wiretap/capture"
)

func TestRingPushAndSnapshot(t *testing.T) {
	r := capture.NewRing(3, 8)
	for i := 0; i < 5; i++ {
		r.Push(capture.LogRecord{ID: capture.NewID(), Method: "GET"})
	}
	snap := r.Snapshot(0)
	if len(snap) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(snap))
	}
}

func TestRingBounds2500Into2000(t *testing.T) {
	r := capture.NewRing(2000, 8)
	for i := 0; i < 2500; i++ {
		r.Push(capture.LogRecord{ID: capture.NewID()})
	}
	if got := len(r.Snapshot(0)); got != 2000 {
		t.Fatalf("expected 2000 retained records, got %d", got)
	}
}

func TestRingClear(t *testing.T) {
	r := capture.NewRing(10, 8)
	r.Push(capture.LogRecord{ID: "a"})
	r.Clear()
	if got := len(r.Snapshot(0)); got != 0 {
		t.Fatalf("expected empty ring after Clear, got %d", got)
	}
}

func TestRingSubscribeReceivesPush(t *testing.T) {
	r := capture.NewRing(10, 8)
	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	r.Push(capture.LogRecord{ID: "a"})

	select {
	case rec := <-sub.Chan():
		if rec.ID != "a" {
			t.Errorf("got ID=%q, want a", rec.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive pushed record")
	}
}

func TestRingSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	r := capture.NewRing(10, 1)
	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.Push(capture.LogRecord{ID: capture.NewID()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked on a slow subscriber")
	}
}

func TestRingUnsubscribeClosesChannel(t *testing.T) {
	r := capture.NewRing(10, 8)
	sub := r.Subscribe()
	r.Unsubscribe(sub)

	_, ok := <-sub.Chan()
	if ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}
