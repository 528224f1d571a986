package stream

import (
	"testing"
	"time"
)

func TestStream_DeliversInOrder(t *testing.T) {
	s := New[int]()
	defer s.Close()

	sub := s.Subscribe(8)
	defer sub.Cancel()

	for i := 1; i <= 5; i++ {
		s.Publish(i)
	}

	for want := 1; want <= 5; want++ {
		select {
		case got := <-sub.C:
			if got != want {
				t.Fatalf("got %d want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d", want)
		}
	}
}

func TestStream_NoReplayForLateSubscribers(t *testing.T) {
	s := New[string]()
	defer s.Close()

	s.Publish("early")

	sub := s.Subscribe(4)
	defer sub.Cancel()

	select {
	case v := <-sub.C:
		t.Fatalf("unexpected replayed value %q", v)
	default:
	}
}

func TestStream_SlowSubscriberDropsOldest(t *testing.T) {
	s := New[int]()
	defer s.Close()

	sub := s.Subscribe(2)
	defer sub.Cancel()

	// Overfill: 1 and 2 should be dropped in favor of 3 and 4.
	for i := 1; i <= 4; i++ {
		s.Publish(i)
	}

	got := []int{<-sub.C, <-sub.C}
	if got[0] != 3 || got[1] != 4 {
		t.Fatalf("got %v want [3 4]", got)
	}
}

func TestStream_CancelStopsDelivery(t *testing.T) {
	s := New[int]()
	defer s.Close()

	sub := s.Subscribe(4)
	sub.Cancel()
	sub.Cancel() // idempotent

	s.Publish(1)

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatalf("received after cancel")
		}
	default:
	}
}

func TestStream_CloseTerminatesSubscriptions(t *testing.T) {
	s := New[int]()
	sub := s.Subscribe(4)
	s.Close()

	if _, ok := <-sub.C; ok {
		t.Fatalf("channel open after close")
	}

	// Publish after close is a no-op; Subscribe yields a closed channel.
	s.Publish(1)
	late := s.Subscribe(4)
	if _, ok := <-late.C; ok {
		t.Fatalf("late subscription not closed")
	}
}
