package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(EventScanStarted)

	bus.Publish(EventScanStarted, Payload{"scan_id": int64(42)})

	select {
	case payload := <-sub:
		if payload["scan_id"] != int64(42) {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(EventSpectrumRecorded)

	// Overfill the buffered channel; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(EventSpectrumRecorded, Payload{"seq": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	if len(sub) == 0 {
		t.Fatal("expected some buffered events")
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(EventScanFinished)
	bus.Unsubscribe(EventScanFinished, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected channel to be closed")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventScanFinished, Payload{})
}
