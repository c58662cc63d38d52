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
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleOneShot_Fires(t *testing.T) {
	s := NewScheduler(2)
	defer s.Shutdown()

	fired := make(chan struct{})
	err := s.ScheduleOneShot("start:sim-1", time.Now().Add(20*time.Millisecond), func() {
		close(fired)
	})
	if err != nil {
		t.Fatalf("ScheduleOneShot failed: %v", err)
	}
	if !s.Has("start:sim-1") {
		t.Errorf("Job not registered")
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("One-shot job never fired")
	}

	// One-shots self-cancel; the key must be free again.
	waitFor(t, time.Second, func() bool { return !s.Has("start:sim-1") })
}

func TestScheduleOneShot_PastTimeRejected(t *testing.T) {
	s := NewScheduler(1)
	defer s.Shutdown()

	err := s.ScheduleOneShot("start:sim-late", time.Now().Add(-time.Minute), func() {
		t.Errorf("Job with past firing time must not run")
	})
	if !errors.Is(err, ErrPastFiringTime) {
		t.Errorf("Expected ErrPastFiringTime, got %v", err)
	}
	if s.Has("start:sim-late") {
		t.Errorf("Rejected job must not be registered")
	}
}

func TestScheduleOneShot_DuplicateKeyIsNoOp(t *testing.T) {
	s := NewScheduler(2)
	defer s.Shutdown()

	var count int32
	at := time.Now().Add(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := s.ScheduleOneShot("remind10:sim-1", at, func() {
			atomic.AddInt32(&count, 1)
		}); err != nil {
			t.Fatalf("Registration %d failed: %v", i, err)
		}
	}
	if got := s.ActiveJobs(); got != 1 {
		t.Errorf("Expected 1 active job, got %d", got)
	}

	time.Sleep(300 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected exactly 1 firing, got %d", got)
	}
}

func TestScheduleRecurring_FiresOnCadence(t *testing.T) {
	s := NewScheduler(2)
	defer s.Shutdown()

	var count int32
	if err := s.ScheduleRecurring("tick:sim-1", 200*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	}); err != nil {
		t.Fatalf("ScheduleRecurring failed: %v", err)
	}

	// The first firing happens on registration, well before the first
	// interval elapses.
	waitFor(t, 100*time.Millisecond, func() bool { return atomic.LoadInt32(&count) >= 1 })

	// Duplicate registration must not add a second cadence.
	if err := s.ScheduleRecurring("tick:sim-1", time.Millisecond, func() {
		t.Errorf("Duplicate recurring registration must not run")
	}); err != nil {
		t.Fatalf("Duplicate registration returned error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&count) >= 3 })

	s.Cancel("tick:sim-1")
	settled := atomic.LoadInt32(&count)
	time.Sleep(100 * time.Millisecond)
	// At most one firing can already have been in flight at cancel time.
	if got := atomic.LoadInt32(&count); got > settled+1 {
		t.Errorf("Job kept firing after cancel: %d -> %d", settled, got)
	}
	if s.Has("tick:sim-1") {
		t.Errorf("Cancelled job still registered")
	}
}

func TestScheduleRecurring_SkipsOverlappingFirings(t *testing.T) {
	s := NewScheduler(4)
	defer s.Shutdown()

	var started int32
	release := make(chan struct{})
	if err := s.ScheduleRecurring("tick:sim-slow", 10*time.Millisecond, func() {
		atomic.AddInt32(&started, 1)
		<-release
	}); err != nil {
		t.Fatalf("ScheduleRecurring failed: %v", err)
	}

	// The first firing blocks; cadence firings during that window are skipped.
	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&started); got != 1 {
		t.Errorf("Expected 1 in-flight body while blocked, got %d", got)
	}
	close(release)
}

func TestScheduler_CancelUnknownIsNoOp(t *testing.T) {
	s := NewScheduler(1)
	defer s.Shutdown()
	s.Cancel("tick:never-registered")
}

func TestScheduler_Shutdown(t *testing.T) {
	s := NewScheduler(2)

	s.ScheduleRecurring("tick:sim-1", time.Hour, func() {})
	s.ScheduleOneShot("start:sim-2", time.Now().Add(time.Hour), func() {})

	s.Shutdown()
	if got := s.ActiveJobs(); got != 0 {
		t.Errorf("Expected 0 jobs after shutdown, got %d", got)
	}
	// Shutdown is idempotent.
	s.Shutdown()
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %s", timeout)
}
