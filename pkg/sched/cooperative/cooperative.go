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

// Package cooperative implements the simplest of the three scheduling
// policies named in sched.rs's own sibling modules (spec.md §9): every
// ready process runs until it yields, faults, or exits on its own. Every
// decision this scheduler returns carries no timeslice at all (spec.md
// §4.1's timeslice_us = None), so the process routine arms an internal
// timer that never expires, regardless of what chip.SchedulerTimer()
// would otherwise report.
package cooperative

import (
	"time"

	"github.com/tockgo/tockgo/pkg/kernel"
)

// Scheduler round-robins over the process table in slot order, but never
// preempts: Result does nothing, since a cooperative
// decision means TimesliceExpired can never occur and every other
// StoppedExecutingReason already means the process is done running on its
// own.
type Scheduler struct {
	kernel.BaseScheduler
	lastSlot int
}

var _ kernel.Scheduler = (*Scheduler)(nil)

// New returns a fresh cooperative scheduler.
func New() *Scheduler {
	return &Scheduler{lastSlot: -1}
}

// Next scans the process table starting just after the last process it
// chose, wrapping around once, and returns the first Ready one it finds.
func (s *Scheduler) Next(k *kernel.Kernel) kernel.SchedulingDecision {
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
		return kernel.RunProcessCooperativeDecision(p.ID())
	}
	return kernel.TrySleepDecision()
}

// Result is a no-op: a purely cooperative policy has nothing to update
// between time slices.
func (s *Scheduler) Result(kernel.StoppedExecutingReason, time.Duration, bool) {}
