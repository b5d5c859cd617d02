package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tauagent/tau/internal/models"
)

func TestPanickingSyncHandlerDoesNotBlockLaterHandlers(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var secondRan int32
	bus.Subscribe(func(event models.AgentEvent) {
		panic("boom")
	})
	bus.Subscribe(func(event models.AgentEvent) {
		atomic.StoreInt32(&secondRan, 1)
	})

	bus.Emit(models.AgentEvent{Type: models.EventAgentStart})

	if atomic.LoadInt32(&secondRan) != 1 {
		t.Fatal("expected second sync handler to run despite first panicking")
	}
	if bus.SyncPanicCount() != 1 {
		t.Fatalf("expected 1 recorded sync panic, got %d", bus.SyncPanicCount())
	}
}

func TestPanickingAsyncHandlerStaysSubscribed(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var calls int32
	metrics := bus.SubscribeAsync(func(ctx context.Context, event models.AgentEvent) {
		atomic.AddInt32(&calls, 1)
		panic("boom")
	}, AsyncOptions{QueueCapacity: 4, HandlerTimeout: time.Second})

	bus.Emit(models.AgentEvent{Type: models.EventAgentStart})
	bus.Emit(models.AgentEvent{Type: models.EventAgentStart})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected handler invoked twice despite panicking, got %d", calls)
	}
	if metrics.Snapshot().Panicked != 2 {
		t.Fatalf("expected 2 recorded async panics, got %+v", metrics.Snapshot())
	}
}

func TestAsyncBackpressureDropModeScenario(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	seen := 0
	metrics := bus.SubscribeAsync(func(ctx context.Context, event models.AgentEvent) {
		time.Sleep(80 * time.Millisecond)
		mu.Lock()
		seen++
		mu.Unlock()
	}, AsyncOptions{QueueCapacity: 1, BlockOnFull: false})

	const n = 20
	for i := 0; i < n; i++ {
		bus.Emit(models.AgentEvent{Type: models.EventAgentStart})
	}

	snap := metrics.Snapshot()
	if snap.Enqueued == 0 {
		t.Fatal("expected at least one event enqueued")
	}
	if snap.DroppedFull == 0 {
		t.Fatal("expected the bounded queue to drop events under a tight-loop burst")
	}
	if snap.Enqueued+snap.DroppedFull != uint64(n) {
		t.Fatalf("expected enqueued+dropped_full == %d, got %+v", n, snap)
	}
}

func TestAsyncHandlerTimeoutIncrementsTimedOutCounter(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var completed int32
	metrics := bus.SubscribeAsync(func(ctx context.Context, event models.AgentEvent) {
		select {
		case <-time.After(100 * time.Millisecond):
			atomic.AddInt32(&completed, 1)
		case <-ctx.Done():
		}
	}, AsyncOptions{QueueCapacity: 4, HandlerTimeout: 10 * time.Millisecond})

	bus.Emit(models.AgentEvent{Type: models.EventAgentStart})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if metrics.Snapshot().TimedOut >= 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if metrics.Snapshot().TimedOut != 1 {
		t.Fatalf("expected 1 timed-out invocation, got %+v", metrics.Snapshot())
	}
}

func TestEmitStampsMonotonicSequence(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var sequences []uint64
	bus.Subscribe(func(event models.AgentEvent) {
		mu.Lock()
		sequences = append(sequences, event.Sequence)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		bus.Emit(models.AgentEvent{Type: models.EventTurnStart})
	}

	for i, seq := range sequences {
		if seq != uint64(i+1) {
			t.Fatalf("expected strictly increasing sequence starting at 1, got %v", sequences)
		}
	}
}
