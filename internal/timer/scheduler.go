// Package timer fires keyed deadlines from a single scheduling goroutine.
// The gateway keeps one inactivity deadline per connected device here
// instead of one time.Timer per connection.
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type task struct {
	key   string
	at    time.Time
	fire  func()
	index int
}

// deadlines is a min-heap ordered by fire time.
type deadlines []*task

func (h deadlines) Len() int           { return len(h) }
func (h deadlines) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h deadlines) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlines) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *deadlines) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs callbacks at their deadline. Scheduling an existing key
// replaces its deadline and callback.
type Scheduler struct {
	mu     sync.Mutex
	queue  deadlines
	byKey  map[string]*task
	wakeup chan struct{}
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		byKey:  make(map[string]*task),
		wakeup: make(chan struct{}, 1),
	}
}

func (s *Scheduler) Schedule(key string, at time.Time, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[key]; ok {
		heap.Remove(&s.queue, existing.index)
	}
	t := &task{key: key, at: at, fire: fire}
	heap.Push(&s.queue, t)
	s.byKey[key] = t

	if s.queue[0] == t {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// Cancel drops the deadline for key and reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, t.index)
	delete(s.byKey, key)
	return true
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// Run fires due callbacks, each on its own goroutine, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	const idle = time.Hour

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		wait := s.fireDue(time.Now())
		if wait <= 0 {
			wait = idle
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wakeup:
		case <-timer.C:
		}
	}
}

// fireDue pops every task due at now and returns the wait until the next
// one, or zero when nothing is scheduled.
func (s *Scheduler) fireDue(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.at.After(now) {
			return next.at.Sub(now)
		}
		heap.Pop(&s.queue)
		delete(s.byKey, next.key)
		go next.fire()
	}
	return 0
}
