package stream

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	s.Publish(Event{Type: EventTopUpInitiated, CorrelationID: "corr-1", Amount: 2500, Currency: "USD"})

	select {
	case evt := <-ch:
		if evt.Type != EventTopUpInitiated || evt.CorrelationID != "corr-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.Timestamp.IsZero() {
			t.Fatalf("publish must stamp a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestPublishDropsWhenSubscriberIsSlow(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	for i := 0; i < 100; i++ {
		s.Publish(Event{Type: EventDepositIngested, Amount: int64(i)})
	}

	// Buffered capacity is 16; the rest are dropped rather than blocking.
	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received == 0 || received > 16 {
				t.Fatalf("received %d events, want 1..16", received)
			}
			return
		}
	}
}
