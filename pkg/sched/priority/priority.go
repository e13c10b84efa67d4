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

// Package priority implements strict static-priority scheduling: the ready
// process with the numerically lowest priority value always runs next,
// same as sched.rs's own priority sibling module (named but not included in
// the retrieved source). Lower priority numbers win; a process's slot index
// is its priority unless overridden with SetPriority.
package priority

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/tockgo/tockgo/pkg/kernel"
)

type readyItem struct {
	priority int
	slot     int
}

func (a readyItem) Less(than btree.Item) bool {
	b := than.(readyItem)
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.slot < b.slot
}

// Scheduler picks the lowest-priority-number ready process each time Next
// is called. The ready set is rebuilt into a fresh btree on every call
// rather than maintained incrementally: board process counts are small
// enough (tens, not thousands) that an O(n log n) rebuild per scheduling
// decision is not a bottleneck, and it sidesteps keeping the tree in sync
// with process state changes that happen outside this scheduler's view
// (a process faulting mid-slice, for instance).
type Scheduler struct {
	kernel.BaseScheduler

	// Timeslice is the budget granted to the chosen process (spec.md
	// §4.1). Defaults to kernel.DefaultTimeslice.
	Timeslice time.Duration

	mu         sync.Mutex
	priorities map[int]int // slot -> priority override
}

var _ kernel.Scheduler = (*Scheduler)(nil)

func New() *Scheduler {
	return &Scheduler{priorities: make(map[int]int), Timeslice: kernel.DefaultTimeslice}
}

// SetPriority overrides slot's priority; lower values are scheduled first.
func (s *Scheduler) SetPriority(slot, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorities[slot] = priority
}

func (s *Scheduler) priorityOf(slot int) int {
	if p, ok := s.priorities[slot]; ok {
		return p
	}
	return slot
}

func (s *Scheduler) Next(k *kernel.Kernel) kernel.SchedulingDecision {
	n := k.NumSlots()
	if n == 0 {
		return kernel.TrySleepDecision()
	}

	s.mu.Lock()
	tree := btree.New(8)
	for i := 0; i < n; i++ {
		p, ok := k.ProcessAt(i)
		if !ok || !p.Ready() {
			continue
		}
		tree.ReplaceOrInsert(readyItem{priority: s.priorityOf(i), slot: i})
	}
	s.mu.Unlock()

	if tree.Len() == 0 {
		return kernel.TrySleepDecision()
	}
	chosen := tree.Min().(readyItem)
	p, ok := k.ProcessAt(chosen.slot)
	if !ok {
		return kernel.TrySleepDecision()
	}
	return kernel.RunProcessDecision(p.ID(), s.Timeslice)
}

// Result is a no-op: strict priority order does not adapt based on how a
// slice ended. This scheduler does not override ContinueProcess, so it
// inherits BaseScheduler's default (interrupt the running process only
// when kernel work is pending) rather than also preempting for a
// higher-priority process that becomes ready mid-slice — the same
// semantics sched.rs documents for its priority scheduler ("does not
// currently interrupt low-priority processes when a higher-priority one
// becomes ready").
func (s *Scheduler) Result(kernel.StoppedExecutingReason, time.Duration, bool) {}
