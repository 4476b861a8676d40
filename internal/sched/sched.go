// Package sched implements the repeating-interval timer scheduler that
// bounds the event loop's blocking wait. Jobs fire on their period and are
// rearmed immediately, so they behave like interval timers rather than
// one-shots.
package sched

import (
	"container/heap"
	"sync"
	"time"
)

// Job is a schedulable unit of work. Implementations must be comparable
// (pointer receivers are the norm): the scheduler identifies entries by
// job identity.
type Job interface {
	Run()
}

// JobOf wraps fn as a Job with its own identity, for callers that have a
// bare function rather than a type with a Run method.
func JobOf(fn func()) Job { return &funcJob{fn} }

type funcJob struct{ fn func() }

func (j *funcJob) Run() { j.fn() }

type entry struct {
	job       Job
	period    time.Duration
	remaining time.Duration
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].remaining < h[j].remaining }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler is a min-heap of repeating timers. It has its own lock,
// independent of the event loop's, so registering timers never contends
// with clipboard or display work.
type Scheduler struct {
	mu     sync.Mutex
	timers entryHeap
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Add registers job to fire every period. If job is already registered its
// previous entry is replaced, so a job never fires twice per tick.
func (s *Scheduler) Add(job Job, period time.Duration) {
	if job == nil || period <= 0 {
		panic("sched: job must be non-nil with a positive period")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(job)
	heap.Push(&s.timers, &entry{job: job, period: period, remaining: period})
}

// Remove deletes all entries for job. No-op if job is not registered.
func (s *Scheduler) Remove(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(job)
}

func (s *Scheduler) removeLocked(job Job) {
	for i := 0; i < len(s.timers); {
		if s.timers[i].job == job {
			heap.Remove(&s.timers, i)
			continue
		}
		i++
	}
}

// NextDeadline returns the time until the earliest timer fires. ok is false
// when no timers are registered and the caller should wait indefinitely.
func (s *Scheduler) NextDeadline() (d time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return 0, false
	}
	d = s.timers[0].remaining
	if d < 0 {
		d = 0
	}
	return d, true
}

// Tick advances all timers by elapsed and returns the jobs that came due,
// in firing order. Subtracting a uniform shift preserves heap order, so no
// re-heapify is needed for the shift itself. Each due entry is rearmed with
// its full period before being returned.
//
// The returned jobs must be run by the caller, outside the scheduler lock;
// a running job may freely Add or Remove timers, including its own. Removing
// a job that is already in another caller's due slice does not stop that
// pending invocation.
func (s *Scheduler) Tick(elapsed time.Duration) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.timers {
		e.remaining -= elapsed
	}

	var due []Job
	for len(s.timers) > 0 && s.timers[0].remaining <= 0 {
		e := s.timers[0]
		due = append(due, e.job)
		e.remaining = e.period
		heap.Fix(&s.timers, 0)
	}
	return due
}

// Len returns the number of registered timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
