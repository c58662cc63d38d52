// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPastFiringTime is returned when a one-shot job's firing time has
// already elapsed at registration.
var ErrPastFiringTime = errors.New("firing time already elapsed")

const defaultSchedulerWorkers = 8

// Scheduler fires callbacks at absolute times (one-shot) or on a fixed
// cadence (recurring). Registration is deduplicated by job key: registering
// an already-known key is a no-op, so replays from recovery are harmless.
//
// Fired jobs run on a shared worker pool; jobs for distinct simulations run
// concurrently while per-simulation ordering is left to the LockRegistry.
//
// Misfire policy: a recurring job that falls behind does not replay every
// missed firing. The underlying time.Ticker coalesces missed ticks into one,
// and a firing that arrives while the previous body for the same key is
// still executing is skipped outright.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*scheduledJob

	work     chan func()
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	Debug bool
}

type scheduledJob struct {
	key       string
	recurring bool
	timer     *time.Timer   // one-shot
	stop      chan struct{} // recurring
	running   int32         // 1 while the job body executes
}

// NewScheduler creates a Scheduler with the given worker pool size and
// starts the workers. workers <= 0 selects the default.
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = defaultSchedulerWorkers
	}
	s := &Scheduler{
		jobs: make(map[string]*scheduledJob),
		work: make(chan func(), 256),
		quit: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.work:
			s.runContained(fn)
		case <-s.quit:
			return
		}
	}
}

// runContained executes one job body, keeping panics inside the worker.
func (s *Scheduler) runContained(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SCHED] Recovered from panic in job: %v", r)
		}
	}()
	fn()
}

func (s *Scheduler) dispatch(j *scheduledJob, fn func()) {
	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		// Previous firing still executing; skip this one to preserve the
		// fixed cadence instead of queueing a burst.
		log.Printf("[SCHED] Skipping overlapping firing of job %s", j.key)
		return
	}
	select {
	case s.work <- func() {
		defer atomic.StoreInt32(&j.running, 0)
		fn()
	}:
	case <-s.quit:
		atomic.StoreInt32(&j.running, 0)
	}
}

// ScheduleOneShot registers a job that fires exactly once at firingTime.
// Registering an existing key is a no-op. A firing time in the past is
// rejected with ErrPastFiringTime.
func (s *Scheduler) ScheduleOneShot(jobKey string, firingTime time.Time, fn func()) error {
	delay := time.Until(firingTime)
	if delay <= 0 {
		return fmt.Errorf("job %s: %w", jobKey, ErrPastFiringTime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobKey]; ok {
		return nil
	}

	j := &scheduledJob{key: jobKey}
	j.timer = time.AfterFunc(delay, func() {
		// One-shot jobs self-cancel: remove the key before running so a
		// re-registration after firing is possible.
		s.mu.Lock()
		delete(s.jobs, jobKey)
		s.mu.Unlock()
		s.dispatch(j, fn)
	})
	s.jobs[jobKey] = j

	if s.Debug {
		log.Printf("[SCHED] Registered one-shot job %s firing in %s", jobKey, delay.Round(time.Second))
	}
	return nil
}

// ScheduleRecurring registers a job that fires immediately and then every
// interval until cancelled. Registering an existing key is a no-op.
func (s *Scheduler) ScheduleRecurring(jobKey string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", jobKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobKey]; ok {
		return nil
	}

	j := &scheduledJob{key: jobKey, recurring: true, stop: make(chan struct{})}
	s.jobs[jobKey] = j

	go func() {
		select {
		case <-j.stop:
			return
		case <-s.quit:
			return
		default:
			s.dispatch(j, fn)
		}
		// time.Ticker drops missed ticks, which is exactly the misfire
		// catch-up we want: fall behind, coalesce, keep the cadence.
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.dispatch(j, fn)
			case <-j.stop:
				return
			case <-s.quit:
				return
			}
		}
	}()

	if s.Debug {
		log.Printf("[SCHED] Registered recurring job %s every %s", jobKey, interval)
	}
	return nil
}

// Cancel removes a registered job. Cancelling an unknown key is a no-op.
func (s *Scheduler) Cancel(jobKey string) {
	s.mu.Lock()
	j, ok := s.jobs[jobKey]
	if ok {
		delete(s.jobs, jobKey)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if j.recurring {
		close(j.stop)
	} else if j.timer != nil {
		j.timer.Stop()
	}
	if s.Debug {
		log.Printf("[SCHED] Cancelled job %s", jobKey)
	}
}

// Has reports whether a job key is currently registered.
func (s *Scheduler) Has(jobKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobKey]
	return ok
}

// ActiveJobs returns the number of registered jobs.
func (s *Scheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Shutdown cancels every job and stops the worker pool. In-flight job bodies
// finish; queued ones are dropped.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		for key, j := range s.jobs {
			if j.recurring {
				close(j.stop)
			} else if j.timer != nil {
				j.timer.Stop()
			}
			delete(s.jobs, key)
		}
		s.mu.Unlock()
		close(s.quit)
		s.wg.Wait()
	})
}

// JobKey builds the stable key for one logical job of a simulation.
func JobKey(prefix, simID string) string {
	return prefix + ":" + simID
}
