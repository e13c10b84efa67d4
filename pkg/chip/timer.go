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

package chip

import (
	"sync"
	"time"

	"github.com/tockgo/tockgo/pkg/kernel"
)

// Timer is a real, wall-clock-backed kernel.SchedulerTimer: arming it
// records a deadline, and Expired compares against time.Now. This is what a
// board configured for preemptive (round-robin/priority) scheduling uses
// (spec.md §5/§9).
type Timer struct {
	mu       sync.Mutex
	deadline time.Time
	armed    bool
}

var _ kernel.SchedulerTimer = (*Timer)(nil)

func NewTimer() *Timer { return &Timer{} }

func (t *Timer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = time.Now().Add(d)
	t.armed = true
}

func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
}

func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed && !time.Now().Before(t.deadline)
}

func (t *Timer) GetRemaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return 0
	}
	if d := time.Until(t.deadline); d > 0 {
		return d
	}
	return 0
}

// NullTimer never expires. A board using a purely cooperative scheduler
// (pkg/sched/cooperative) wires this in instead of Timer, matching spec.md
// §9's "cooperative vs preemptive is a choice of scheduler timer, not a
// kernel-level fork."
type NullTimer struct{}

var _ kernel.SchedulerTimer = NullTimer{}

func (NullTimer) Arm(time.Duration)        {}
func (NullTimer) Disarm()                  {}
func (NullTimer) Expired() bool            { return false }
func (NullTimer) GetRemaining() time.Duration { return time.Duration(1<<63 - 1) }
