// Package scheduler drives named background jobs on fixed intervals,
// independent of request traffic.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// JobFunc is one tick of a background job. It runs to completion; the
// context only bounds in-flight work when the process shuts down.
type JobFunc func(ctx context.Context)

type job struct {
	id       string
	interval time.Duration
	fn       JobFunc
	nextRun  time.Time
}

// JobStatus is the status-endpoint view of one registered job.
type JobStatus struct {
	ID      string    `json:"id"`
	NextRun time.Time `json:"next_run"`
}

// Status is the read-only snapshot the status endpoint serves.
type Status struct {
	Running bool        `json:"scheduler_running"`
	Jobs    []JobStatus `json:"jobs"`
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    []*job
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler { return &Scheduler{} }

// Add registers a job. Jobs are registered once at startup, before Start.
func (s *Scheduler) Add(id string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return errors.New("interval must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.jobs = append(s.jobs, &job{id: id, interval: interval, fn: fn})
	return nil
}

// Start launches one ticker goroutine per job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	now := time.Now()
	for _, j := range s.jobs {
		j.nextRun = now.Add(j.interval)
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.started = true
	return nil
}

// Stop cancels all jobs and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.started, Jobs: make([]JobStatus, 0, len(s.jobs))}
	for _, j := range s.jobs {
		st.Jobs = append(st.Jobs, JobStatus{ID: j.id, NextRun: j.nextRun})
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			j.nextRun = time.Now().Add(j.interval)
			s.mu.Unlock()
			s.runJob(ctx, j)
		}
	}
}

// runJob isolates a tick: a panic in one job must not take down the
// scheduler or the other jobs.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("job %s: tick panicked: %v", j.id, r)
		}
	}()
	j.fn(ctx)
}
