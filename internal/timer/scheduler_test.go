package timer

import (
	"context"
	"sync"
	"testing"
	"time"
)

func startScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestScheduler_Fires(t *testing.T) {
	s := startScheduler(t)

	fired := make(chan struct{})
	s.Schedule("device-1", time.Now().Add(50*time.Millisecond), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Deadline did not fire")
	}
	if s.Pending() != 0 {
		t.Errorf("Expected 0 pending after firing, got %d", s.Pending())
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := startScheduler(t)

	fired := make(chan struct{}, 1)
	s.Schedule("device-1", time.Now().Add(50*time.Millisecond), func() { fired <- struct{}{} })

	if !s.Cancel("device-1") {
		t.Fatal("Expected Cancel to report a pending deadline")
	}
	if s.Cancel("device-1") {
		t.Error("Expected second Cancel to report nothing pending")
	}

	select {
	case <-fired:
		t.Error("Cancelled deadline fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestScheduler_Ordering(t *testing.T) {
	s := startScheduler(t)

	var (
		mu      sync.Mutex
		results []int
		wg      sync.WaitGroup
	)
	record := func(n int) func() {
		return func() {
			mu.Lock()
			results = append(results, n)
			mu.Unlock()
			wg.Done()
		}
	}

	wg.Add(3)
	now := time.Now()
	s.Schedule("c", now.Add(150*time.Millisecond), record(3))
	s.Schedule("a", now.Add(30*time.Millisecond), record(1))
	s.Schedule("b", now.Add(90*time.Millisecond), record(2))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 3 || results[0] != 1 || results[1] != 2 || results[2] != 3 {
		t.Errorf("Deadlines fired in wrong order: %v", results)
	}
}

func TestScheduler_RescheduleReplaces(t *testing.T) {
	s := startScheduler(t)

	var (
		mu    sync.Mutex
		count int
	)
	s.Schedule("device-1", time.Now().Add(40*time.Millisecond), func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	s.Schedule("device-1", time.Now().Add(60*time.Millisecond), func() {
		mu.Lock()
		count += 10
		mu.Unlock()
	})
	if s.Pending() != 1 {
		t.Errorf("Expected 1 pending, got %d", s.Pending())
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("Expected only the replacement to fire (10), got %d", count)
	}
}

func TestScheduler_StopsWithContext(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
