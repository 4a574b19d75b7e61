package fastpush

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMaxBufferFiresImmediately(t *testing.T) {
	var pushCount int32
	s := New(context.Background(), Config{Debounce: time.Hour, MaxBuffer: 3}, Hooks{
		Online: func() bool { return true },
		PushOnly: func(ctx context.Context) error {
			atomic.AddInt32(&pushCount, 1)
			return nil
		},
	})

	s.NotifyMutationAdded()
	s.NotifyMutationAdded()
	if atomic.LoadInt32(&pushCount) != 0 {
		t.Fatalf("should not have fired before reaching MaxBuffer, got %d", pushCount)
	}
	s.NotifyMutationAdded()

	if atomic.LoadInt32(&pushCount) != 1 {
		t.Errorf("expected 1 push after hitting MaxBuffer, got %d", pushCount)
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	var pushCount int32
	done := make(chan struct{})
	s := New(context.Background(), Config{Debounce: 20 * time.Millisecond, MaxBuffer: 1000}, Hooks{
		Online: func() bool { return true },
		PushOnly: func(ctx context.Context) error {
			n := atomic.AddInt32(&pushCount, 1)
			if n == 1 {
				close(done)
			}
			return nil
		},
	})

	for i := 0; i < 5; i++ {
		s.NotifyMutationAdded()
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("debounced push never fired")
	}

	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&pushCount) != 1 {
		t.Errorf("expected exactly 1 coalesced push, got %d", pushCount)
	}
}

func TestOfflineSkipsFire(t *testing.T) {
	var pushCount int32
	s := New(context.Background(), Config{Debounce: time.Millisecond, MaxBuffer: 1}, Hooks{
		Online: func() bool { return false },
		PushOnly: func(ctx context.Context) error {
			atomic.AddInt32(&pushCount, 1)
			return nil
		},
	})

	s.NotifyMutationAdded()
	time.Sleep(10 * time.Millisecond)

	if atomic.LoadInt32(&pushCount) != 0 {
		t.Errorf("expected no push while offline, got %d", pushCount)
	}
}

func TestFullSyncThrottled(t *testing.T) {
	var fullSyncCount int32
	s := New(context.Background(), Config{
		Debounce:         time.Millisecond,
		MaxBuffer:        1,
		ScheduleFullSync: true,
		FullSyncThrottle: time.Hour,
	}, Hooks{
		Online:   func() bool { return true },
		PushOnly: func(ctx context.Context) error { return nil },
		FullSync: func(ctx context.Context) { atomic.AddInt32(&fullSyncCount, 1) },
	})

	s.NotifyFullSyncCompleted() // simulate a full sync just happened
	s.NotifyMutationAdded()
	time.Sleep(10 * time.Millisecond)

	if atomic.LoadInt32(&fullSyncCount) != 0 {
		t.Errorf("full sync should be throttled right after a completed one, got %d calls", fullSyncCount)
	}

	m := s.Snapshot()
	if m.ThrottledFullSyncs != 1 {
		t.Errorf("ThrottledFullSyncs = %d, want 1", m.ThrottledFullSyncs)
	}
}

func TestCancelAllClearsState(t *testing.T) {
	s := New(context.Background(), Config{Debounce: time.Hour, MaxBuffer: 1000}, Hooks{
		Online:   func() bool { return true },
		PushOnly: func(ctx context.Context) error { return nil },
	})

	s.NotifyMutationAdded()
	s.NotifyMutationAdded()
	s.CancelAll()

	m := s.Snapshot()
	if m.PushCount != 0 {
		t.Errorf("expected no pushes recorded, got %d", m.PushCount)
	}
}
