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
	"os"
	"sync"
	"testing"

	"github.com/c2FmZQ/storage"
)

func TestSentLog_MarkSentOnce(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "sentlog_test")
	defer os.RemoveAll(tmpDir)

	sl := NewSentLog(storage.New(tmpDir, nil))
	simId := "11111111-1111-4111-8111-111111111111"

	won, err := sl.MarkSent(Notification{UserID: "u@example.com", EventType: EventGameStarted, SimulationID: simId})
	if err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}
	if !won {
		t.Errorf("First MarkSent must win")
	}

	won, err = sl.MarkSent(Notification{UserID: "u@example.com", EventType: EventGameStarted, SimulationID: simId})
	if err != nil {
		t.Fatalf("Second MarkSent failed: %v", err)
	}
	if won {
		t.Errorf("Second MarkSent for the same pair must not win")
	}

	sent, err := sl.AlreadySent(simId, EventGameStarted)
	if err != nil || !sent {
		t.Errorf("AlreadySent = %v, %v; want true, nil", sent, err)
	}
	sent, _ = sl.AlreadySent(simId, EventGameEnded)
	if sent {
		t.Errorf("Unsent event type reported as sent")
	}

	// A different event type for the same simulation is independent.
	won, _ = sl.MarkSent(Notification{UserID: "u@example.com", EventType: EventGameEnded, SimulationID: simId})
	if !won {
		t.Errorf("Different event type must win")
	}
}

func TestSentLog_SurvivesRestart(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "sentlog_restart_test")
	defer os.RemoveAll(tmpDir)

	s := storage.New(tmpDir, nil)
	simId := "22222222-2222-4222-8222-222222222222"

	sl := NewSentLog(s)
	if won, _ := sl.MarkSent(Notification{EventType: EventReminder10, SimulationID: simId}); !won {
		t.Fatalf("First MarkSent must win")
	}

	// A fresh SentLog over the same storage sees the record.
	sl2 := NewSentLog(s)
	if won, _ := sl2.MarkSent(Notification{EventType: EventReminder10, SimulationID: simId}); won {
		t.Errorf("Replayed MarkSent won after restart")
	}
}

func TestSentLog_ConcurrentMarkSent(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "sentlog_conc_test")
	defer os.RemoveAll(tmpDir)

	sl := NewSentLog(storage.New(tmpDir, nil))
	simId := "33333333-3333-4333-8333-333333333333"

	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := sl.MarkSent(Notification{EventType: EventGameEnded, SimulationID: simId})
			if err != nil {
				t.Errorf("MarkSent failed: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", wins)
	}
}

func TestDedupPublisher_DeliversOnce(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "dedup_test")
	defer os.RemoveAll(tmpDir)

	inner := &recordingPublisher{}
	dp := &DedupPublisher{
		Inner:   inner,
		SentLog: NewSentLog(storage.New(tmpDir, nil)),
	}
	simId := "44444444-4444-4444-8444-444444444444"

	for i := 0; i < 3; i++ {
		if err := dp.Notify("u@example.com", EventReminder5, simId, nil); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}
	if got := inner.count(EventReminder5); got != 1 {
		t.Errorf("Expected 1 delivery, got %d", got)
	}

	if err := dp.Notify("u@example.com", EventGameStarted, simId, nil); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got := inner.count(EventGameStarted); got != 1 {
		t.Errorf("Expected 1 delivery of second event, got %d", got)
	}
}

func TestMultiPublisher_FansOut(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{}
	mp := MultiPublisher{a, b}

	if err := mp.Notify("u@example.com", EventGameEnded, "sim-1", nil); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if a.count(EventGameEnded) != 1 || b.count(EventGameEnded) != 1 {
		t.Errorf("Event not fanned out to all publishers")
	}
}
