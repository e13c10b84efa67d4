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

package kernel

import "sync"

// State is one of the seven states a Process moves through (spec.md §3).
// Transitions happen only under kernel control (Kernel.runProcess and the
// syscall dispatcher), never directly by outside code.
type State int

const (
	Unstarted State = iota
	Running
	Yielded
	StoppedRunning
	StoppedYielded
	Faulted
	Terminated
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "Unstarted"
	case Running:
		return "Running"
	case Yielded:
		return "Yielded"
	case StoppedRunning:
		return "StoppedRunning"
	case StoppedYielded:
		return "StoppedYielded"
	case Faulted:
		return "Faulted"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// MemoryRegion is the process's memory footprint: a base/size pair plus an
// opaque, chip-specific MPU configuration blob the Chip facade knows how to
// program. Concrete layout and MPU register encoding are out of the core's
// scope (spec.md §1) — the core only ever passes this value through to the
// Chip.
type MemoryRegion struct {
	Base      uintptr
	Size      uintptr
	MPUConfig any
}

// AppSlice is a process-memory window handed to a driver via Allow. A zero
// Size AppSlice ("empty slice the first time", spec.md §8) is always valid
// and carries no backing bytes.
type AppSlice struct {
	Addr  uintptr
	Size  uintptr
	Bytes []byte
}

// Process is a user program instance (spec.md §3). It is referenced from
// outside only via ProcessID; the Kernel owns every *Process and re-validates
// IDs against its process table on each lookup (see kernel.go), which is
// what lets capsules hold a ProcessID across a restart without dangling.
type Process struct {
	mu sync.Mutex

	id          ProcessID
	name        string
	state       State
	tasks       []Task
	memory      MemoryRegion
	mem         []byte
	grantSlots  []*grantCell
	restart     RestartPolicy
	entry         *FunctionCall // pending "next instruction" installed by the syscall dispatcher/Yielded-task path
	pendingReturn SyscallReturn // value the Chip should load into the process's return registers before resuming it
	faultCount    int           // consecutive faults since the last successful restart (spec.md §7's RestartPolicy.faultCount)
}

// NewProcess constructs a process in the Unstarted state with numGrants
// per-grant storage slots, matching the "N = get_grant_count_and_finalize"
// rule from spec.md §9: every process gets exactly one slot per grant that
// existed at finalization time, however many of those grants it will ever
// actually be entered through.
func NewProcess(name string, mem MemoryRegion, numGrants int, restart RestartPolicy) *Process {
	slots := make([]*grantCell, numGrants)
	for i := range slots {
		slots[i] = &grantCell{}
	}
	return &Process{
		name:       name,
		state:      Unstarted,
		memory:     mem,
		mem:        make([]byte, mem.Size),
		grantSlots: slots,
		restart:    restart,
	}
}

// ID returns the process's stable (slot, generation) handle.
func (p *Process) ID() ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *Process) setID(id ProcessID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}

// Name returns the process's debug name, used only for logging.
func (p *Process) Name() string { return p.name }

// State returns the process's current state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// Ready reports whether the process has anything to do right now: Running
// and the Stopped* states are always ready (the execution routine's state
// switch decides what "ready" means for them); Faulted/Terminated are
// reported ready so that scheduling one of them reaches the execution
// routine's invariant-violation panic rather than being silently absorbed
// here (spec.md §4.3 step c/d — the panic must fire, not be masked);
// Yielded/Unstarted are ready only with a task actually queued.
func (p *Process) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Yielded, Unstarted:
		return len(p.tasks) > 0
	default:
		return true
	}
}

// HasTasks reports whether any task (FunctionCall or IPC) is queued.
func (p *Process) HasTasks() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks) > 0
}

// enqueueTask appends t to the process's FIFO task queue.
func (p *Process) enqueueTask(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, t)
}

// Start enqueues the process's initial entry point as a kernel-sourced
// FunctionCall task, the Go analogue of a process loader installing a
// fresh process's `_start` task so an Unstarted process has something to
// dequeue the first time the execution routine reaches it (spec.md §4.3
// step 3b; process loading/ELF layout is explicitly out of the core's
// scope per spec.md §1, so board setup code calls this directly with
// whatever entry point it baked the process's memory image with). Being
// kernel-sourced, this task does not count toward the work counter the
// same way an upcall-scheduled one does (installTask only decrements work
// for non-kernel sources).
func (p *Process) Start(pc, arg0, arg1, arg2, arg3 uintptr) {
	p.enqueueTask(FunctionCall{
		Source: FunctionCallSource{Kernel: true},
		PC:     pc,
		Arg0:   arg0,
		Arg1:   arg1,
		Arg2:   arg2,
		Arg3:   arg3,
	})
}

// dequeueTask pops the oldest queued task, if any.
func (p *Process) dequeueTask() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tasks) == 0 {
		return nil, false
	}
	t := p.tasks[0]
	p.tasks = p.tasks[1:]
	return t, true
}

// RemovePendingUpcalls drops every queued FunctionCall task that originated
// from upcall id. This is Subscribe's "drop stale upcalls" rule (spec.md
// §4.4, §8): a process that re-subscribes before an old upcall fires must
// never see the old callback invoked with the old function pointer.
func (p *Process) RemovePendingUpcalls(id UpcallID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.tasks[:0]
	for _, t := range p.tasks {
		if fc, ok := t.(FunctionCall); ok && !fc.Source.Kernel && fc.Source.UpcallID == id {
			continue
		}
		kept = append(kept, t)
	}
	p.tasks = kept
}

// SetYieldedState transitions a Running process into Yielded, per the Yield
// syscall's "wait" path (spec.md §4.4).
func (p *Process) SetYieldedState() { p.setState(Yielded) }

// SetFaultState transitions the process to Faulted and records one more
// consecutive fault. Callers (the execution routine, platform fault hook
// results) never retry this transition; the external restart policy (see
// RestartPolicy/FaultCount) decides whether a new generation of this slot
// gets a fresh process.
func (p *Process) SetFaultState() {
	p.mu.Lock()
	p.state = Faulted
	p.faultCount++
	p.mu.Unlock()
}

// FaultCount returns how many consecutive faults this process has
// accumulated, the faultCount argument spec.md §7's RestartPolicy is
// consulted with.
func (p *Process) FaultCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faultCount
}

// RestartPolicy returns the policy board setup associated with this
// process at construction time, or nil if none was given. Board code
// observing a Faulted process consults this (together with FaultCount) to
// decide whether to replace the slot's occupant with a fresh process
// (spec.md §7's "the restart policy (external) may resurrect it with a new
// generation in the same slot").
func (p *Process) RestartPolicy() RestartPolicy { return p.restart }

// SetProcessFunction installs fc as the process's next entry point —
// the action taken when a Yielded/Unstarted process dequeues a FunctionCall
// task (spec.md §4.3 step 3b).
func (p *Process) SetProcessFunction(fc FunctionCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := fc
	p.entry = &f
}

// PendingEntry returns and clears the entry point most recently installed
// by SetProcessFunction, for the Chip to load into the process's register
// file before a context switch.
func (p *Process) PendingEntry() (FunctionCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entry == nil {
		return FunctionCall{}, false
	}
	fc := *p.entry
	p.entry = nil
	return fc, true
}

// SetSyscallReturnValue stashes ret for the Chip to load into the process's
// return registers on its next switch-in.
func (p *Process) SetSyscallReturnValue(ret SyscallReturn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingReturn = ret
}

// PendingReturn returns and clears the syscall return value most recently
// stashed by SetSyscallReturnValue.
func (p *Process) PendingReturn() (SyscallReturn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingReturn == nil {
		return nil, false
	}
	ret := p.pendingReturn
	p.pendingReturn = nil
	return ret, true
}

// SetByte writes a single byte at addr, matching Tock's yield-flag write:
// an out-of-range or otherwise invalid address is silently ignored rather
// than faulting the process (spec.md §4.4's Yield semantics only ever
// "writes byte ... if valid").
func (p *Process) SetByte(addr uintptr, b byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addr >= uintptr(len(p.mem)) {
		return
	}
	p.mem[addr] = b
}

// BuildReadWriteAppSlice validates and constructs a read-write AppSlice over
// the process's memory for the ReadWriteAllow syscall (spec.md §4.4).
func (p *Process) BuildReadWriteAppSlice(addr, size uintptr) (AppSlice, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size == 0 {
		return AppSlice{Addr: addr, Size: 0}, true
	}
	if !p.inRangeLocked(addr, size) {
		return AppSlice{}, false
	}
	return AppSlice{Addr: addr, Size: size, Bytes: p.mem[addr : addr+size]}, true
}

// BuildReadOnlyAppSlice is the ReadOnlyAllow analogue of
// BuildReadWriteAppSlice; the returned Bytes must not be written by a
// driver (the distinction is enforced by calling convention, not by the Go
// type system, matching how Tock's AppSlice wrappers work).
func (p *Process) BuildReadOnlyAppSlice(addr, size uintptr) (AppSlice, bool) {
	return p.BuildReadWriteAppSlice(addr, size)
}

func (p *Process) inRangeLocked(addr, size uintptr) bool {
	if size == 0 {
		return addr <= uintptr(len(p.mem))
	}
	end := addr + size
	if end < addr {
		return false
	}
	return end <= uintptr(len(p.mem))
}

// MemoryRegion returns the process's memory descriptor, for the Chip to
// configure the MPU from.
func (p *Process) MemoryRegion() MemoryRegion { return p.memory }

// grantCell returns the per-process storage slot for grant index i.
func (p *Process) grantCell(i int) *grantCell {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.grantSlots) {
		return nil
	}
	return p.grantSlots[i]
}
