package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsImmediatelyAndOnTicks(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Add("counter", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(110 * time.Millisecond)
	cancel()
	s.Wait()

	got := runs.Load()
	assert.GreaterOrEqual(t, got, int32(3), "expected the immediate run plus ticks")
}

func TestScheduler_InFlightGuardSkipsOverlap(t *testing.T) {
	s := New()
	var concurrent atomic.Int32
	var peak atomic.Int32
	s.Add("slow", 10*time.Millisecond, func(ctx context.Context) error {
		cur := concurrent.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	cancel()
	s.Wait()

	assert.Equal(t, int32(1), peak.Load(), "a task must never overlap itself")
}

func TestScheduler_TasksIndependent(t *testing.T) {
	s := New()
	var fast atomic.Int32
	s.Add("stuck", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Add("fast", 10*time.Millisecond, func(ctx context.Context) error {
		fast.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	cancel()
	s.Wait()

	assert.GreaterOrEqual(t, fast.Load(), int32(3), "a stuck task must not stall other tasks")
}

func TestScheduler_ErrorDoesNotStopTask(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Add("flaky", 15*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1)%2 == 1 {
			return errors.New("transient")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	s.Wait()

	assert.GreaterOrEqual(t, runs.Load(), int32(4), "failed invocations retry on their own next tick")
}
