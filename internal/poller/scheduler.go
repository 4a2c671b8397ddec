// Package poller runs the dashboard's independent refresh loops. Every task
// has its own interval and its own ticker; there is no shared tick. A task
// whose previous invocation is still in flight skips the tick instead of
// piling up, which together with the state store's sequence check removes the
// last-response-wins ambiguity of uncoordinated timers.
package poller

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dashagent/internal/monitoring"
)

// Task is one named periodic refresh.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	running atomic.Bool
}

// Scheduler owns a set of tasks and their goroutines.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*Task
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Add registers a task. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &Task{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per task. Each task runs once immediately and
// then on its own ticker until ctx is cancelled. Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, t := range s.tasks {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.invoke(ctx, t)

			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.invoke(ctx, t)
				}
			}
		}()
	}
}

// invoke runs one task invocation unless the previous one is still going.
func (s *Scheduler) invoke(ctx context.Context, t *Task) {
	if !t.running.CompareAndSwap(false, true) {
		monitoring.PollSkipped(t.Name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.running.Store(false)

		start := time.Now()
		err := t.Run(ctx)
		monitoring.ObservePoll(t.Name, start, err)
		if err != nil && ctx.Err() == nil {
			log.Printf("poll %s failed: %v (will retry on next tick)", t.Name, err)
		}
	}()
}

// Wait blocks until all task goroutines have exited after ctx cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
