package reactor

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	return r
}

func TestReactorAfterFuncFiresInOrder(t *testing.T) {
	r := newTestReactor(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	r.AfterFunc(30*time.Millisecond, record("c"))
	r.AfterFunc(5*time.Millisecond, record("a"))
	r.AfterFunc(15*time.Millisecond, record("b"))
	r.AfterFunc(40*time.Millisecond, func() { r.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestReactorCancelTimerPreventsFiring(t *testing.T) {
	r := newTestReactor(t)

	fired := false
	h := r.AfterFunc(5*time.Millisecond, func() { fired = true })
	r.CancelTimer(h)
	r.AfterFunc(15*time.Millisecond, func() { r.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	assert.False(t, fired)
}

func TestReactorStopFromAnotherGoroutineWakesRun(t *testing.T) {
	r := newTestReactor(t)

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Stop()
	}()

	start := time.Now()
	go func() {
		_ = r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestReactorRunReturnsContextError(t *testing.T) {
	r := newTestReactor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReactorWatchSignalRoundTrip(t *testing.T) {
	r := newTestReactor(t)

	received := make(chan struct{}, 1)
	require.NoError(t, r.WatchSignal(syscall.SIGUSR1, func() {
		received <- struct{}{}
		r.Stop()
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGUSR1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	select {
	case <-received:
	default:
		t.Fatal("signal callback never ran")
	}

	r.UnwatchSignal(syscall.SIGUSR1)
}
