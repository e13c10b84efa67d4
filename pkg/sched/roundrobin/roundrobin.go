// Copyright 2024 The Tockgo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package roundrobin implements preemptive round-robin scheduling: the same
// process-table rotation as pkg/sched/cooperative, but paired with a real
// chip.Timer so a process that never yields is cut off after one time
// slice instead of monopolizing the board.
package roundrobin

import (
	"sync"
	"time"

	"github.com/tockgo/tockgo/pkg/kernel"
)

// Scheduler round-robins over the process table and tracks, per process
// slot, how many slices in total have ended in a timeslice expiry —
// purely for diagnostics (exposed via PreemptCount), not used to change the
// rotation order, which stays strict round-robin.
type Scheduler struct {
	kernel.BaseScheduler

	// Timeslice is the budget granted to each process in turn (spec.md
	// §4.1's RunProcess(process_id, timeslice_us)). Defaults to
	// kernel.DefaultTimeslice; set it before the scheduler is handed to the
	// run loop to change it (e.g. scenario 2's 10,000µs slice).
	Timeslice time.Duration

	mu            sync.Mutex
	lastSlot      int
	preemptCounts map[kernel.ProcessID]int
}

var _ kernel.Scheduler = (*Scheduler)(nil)

func New() *Scheduler {
	return &Scheduler{
		lastSlot:      -1,
		preemptCounts: make(map[kernel.ProcessID]int),
		Timeslice:     kernel.DefaultTimeslice,
	}
}

func (s *Scheduler) Next(k *kernel.Kernel) kernel.SchedulingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := k.NumSlots()
	if n == 0 {
		return kernel.TrySleepDecision()
	}
	for i := 1; i <= n; i++ {
		slot := (s.lastSlot + i) % n
		p, ok := k.ProcessAt(slot)
		if !ok || !p.Ready() {
			continue
		}
		s.lastSlot = slot
		return kernel.RunProcessDecision(p.ID(), s.Timeslice)
	}
	return kernel.TrySleepDecision()
}

func (s *Scheduler) Result(reason kernel.StoppedExecutingReason, _ time.Duration, _ bool) {
	if reason != kernel.TimesliceExpired {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// lastSlot names the process that was just preempted; its ProcessID is
	// not available here without a kernel lookup, so preemption counts are
	// keyed by slot (generation left at zero) instead of ProcessID. The
	// count is never reset: a process that replaces a faulted occupant
	// continues the slot's count.
	s.preemptCounts[kernel.ProcessID{SlotIndex: s.lastSlot}]++
}

// PreemptCount returns how many slices run in slot have ended in a
// timeslice expiry, across every process that has occupied it.
func (s *Scheduler) PreemptCount(slot int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preemptCounts[kernel.ProcessID{SlotIndex: slot}]
}
