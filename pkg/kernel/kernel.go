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

// Package kernel implements the board-independent scheduling substrate: the
// process table, the grant/upcall mechanisms capsules use to reach into
// user processes, and the core run loop that multiplexes a single hardware
// thread across kernel work and process execution.
package kernel

import "sync"

// Kernel owns the fixed-size process table and the work counter the run
// loop sleeps on. It has no notion of any particular board, chip, or
// scheduling policy — those are supplied to RunLoop (loop.go) by the board
// setup code, exactly as sched.rs's free-standing kernel_loop function takes
// them as parameters rather than storing them on the Kernel struct.
type Kernel struct {
	mu sync.Mutex

	processes   []*Process
	generations []uint64

	workMu sync.Mutex
	work   int

	grantCount      int
	grantsFinalized bool

	ipc IPCModule
}

// SetIPCModule installs the board's IPC module. A board that never calls
// this but schedules an IPCTask anyway has a configuration bug: the
// execution routine panics rather than silently dropping the task (spec.md
// §1's "IPC module interface" note).
func (k *Kernel) SetIPCModule(m IPCModule) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ipc = m
}

// NewKernel allocates a kernel with a fixed number of process slots. The
// slot count is a board-time decision (spec.md §9) and never changes once
// the kernel is constructed.
func NewKernel(numProcessSlots int) *Kernel {
	return &Kernel{
		processes:   make([]*Process, numProcessSlots),
		generations: make([]uint64, numProcessSlots),
	}
}

// NumSlots returns the fixed number of process slots this kernel manages.
func (k *Kernel) NumSlots() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.processes)
}

// AddProcess installs p into slot, replacing whatever previously lived
// there, and returns the fresh ProcessID the rest of the kernel should use
// to refer to it from now on. The slot's generation counter is bumped so
// that any ProcessID held over from a previous occupant is immediately
// recognized as stale (spec.md §3's "re-validated on every use").
func (k *Kernel) AddProcess(slot int, p *Process) ProcessID {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.generations[slot]++
	id := ProcessID{SlotIndex: slot, Generation: k.generations[slot]}
	p.setID(id)
	k.processes[slot] = p
	return id
}

// RemoveProcess clears slot, invalidating any ProcessID that named its
// previous occupant without reusing its generation number.
func (k *Kernel) RemoveProcess(slot int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.processes[slot] = nil
}

// processEntry resolves id to its live *Process, or nil if the slot is
// empty or id's generation no longer matches — the single re-validation
// point every other ProcessID-consuming method in this package goes
// through.
func (k *Kernel) processEntry(id ProcessID) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id.SlotIndex < 0 || id.SlotIndex >= len(k.processes) {
		return nil
	}
	if k.generations[id.SlotIndex] != id.Generation {
		return nil
	}
	return k.processes[id.SlotIndex]
}

// processIDIsValid reports whether id still names a live process.
func (k *Kernel) processIDIsValid(id ProcessID) bool {
	return k.processEntry(id) != nil
}

// ProcessAt returns the process currently occupying slot, if any. Scheduler
// implementations outside this package (pkg/sched/*) use this, together
// with NumSlots, to walk the process table when deciding what to run next.
func (k *Kernel) ProcessAt(slot int) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if slot < 0 || slot >= len(k.processes) {
		return nil, false
	}
	p := k.processes[slot]
	return p, p != nil
}

// processEach invokes fn once for every occupied slot, in slot order. fn
// must not mutate the kernel's process table.
func (k *Kernel) processEach(fn func(*Process)) {
	k.mu.Lock()
	snapshot := make([]*Process, len(k.processes))
	copy(snapshot, k.processes)
	k.mu.Unlock()

	for _, p := range snapshot {
		if p != nil {
			fn(p)
		}
	}
}

// processUntil invokes fn for each occupied slot until fn returns true, at
// which point it stops and returns true. It returns false if fn never does.
func (k *Kernel) processUntil(fn func(*Process) bool) bool {
	k.mu.Lock()
	snapshot := make([]*Process, len(k.processes))
	copy(snapshot, k.processes)
	k.mu.Unlock()

	for _, p := range snapshot {
		if p != nil && fn(p) {
			return true
		}
	}
	return false
}

// LookupProcessByName returns the ProcessID of the first live process whose
// debug name equals name, resolving a human-readable name to an ID.
func (k *Kernel) LookupProcessByName(name string) (ProcessID, bool) {
	var found ProcessID
	ok := k.processUntil(func(p *Process) bool {
		if p.Name() == name {
			found = p.ID()
			return true
		}
		return false
	})
	return found, ok
}

// HardFaultAllApps transitions every live process to Faulted. It is the
// kernel panic handler's last resort (spec.md §7): when the kernel itself
// cannot continue, every process it was multiplexing is stopped rather than
// left in an undefined state.
func (k *Kernel) HardFaultAllApps() {
	k.processEach(func(p *Process) {
		p.SetFaultState()
	})
}

// incrementWork records one more unit of outstanding work (a pending
// upcall or IPC notification) — spec.md §3's work-counter invariant. A
// Running process is never separately added here: by construction a
// Scheduler only returns TrySleep when it has nothing left to hand to
// Next, which for any reasonable policy means no process is left in
// Running state either, so the counter only needs to track the upcall
// queue depth to uphold "work == 0 ⇒ no process running and no upcalls
// queued" at the one quiescent point (the sleep check) that invariant is
// evaluated at.
func (k *Kernel) incrementWork() {
	k.workMu.Lock()
	k.work++
	k.workMu.Unlock()
}

// decrementWork records one fewer unit of outstanding work.
func (k *Kernel) decrementWork() {
	k.workMu.Lock()
	if k.work > 0 {
		k.work--
	}
	k.workMu.Unlock()
}

// WorkCount returns the kernel's current outstanding-work counter, the
// value the run loop checks before the chip is allowed to sleep (spec.md
// §4.2).
func (k *Kernel) WorkCount() int {
	k.workMu.Lock()
	defer k.workMu.Unlock()
	return k.work
}

// GetGrantCountAndFinalize returns the number of grants created so far and
// permanently forbids any further CreateGrant call. Board setup calls this
// exactly once, after registering every capsule's grants and before
// constructing any Process (spec.md §9) — every process's per-grant storage
// is sized to this number at construction time.
func (k *Kernel) GetGrantCountAndFinalize() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.grantsFinalized = true
	return k.grantCount
}

// GrantsFinalized reports whether GetGrantCountAndFinalize has run, for
// NewProcess callers to assert against misordered board setup.
func (k *Kernel) GrantsFinalized() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.grantsFinalized
}
