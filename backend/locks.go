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

import "sync"

// LockRegistry hands out one mutex per simulation ID, created lazily on
// first use. Entries are never evicted; the registry is bounded by the number
// of distinct simulations touched during the process lifetime.
type LockRegistry struct {
	locks sync.Map // *sync.Mutex per simulation ID
}

// NewLockRegistry creates an empty LockRegistry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{}
}

// Acquire returns the mutex guarding one simulation's state, creating it if
// this is the first time the simulation is touched. The caller locks and
// unlocks the returned mutex itself so it can span multiple store writes.
func (lr *LockRegistry) Acquire(simID string) *sync.Mutex {
	m, _ := lr.locks.LoadOrStore(simID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Len returns the number of registered locks. Used by metrics.
func (lr *LockRegistry) Len() int {
	n := 0
	lr.locks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
