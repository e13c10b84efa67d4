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

import "time"

// Chip is the board's hardware facade: interrupt servicing, the MPU, the
// scheduler timer, the watchdog, and the platform's idle/sleep primitive.
// The core never assumes anything about the underlying hardware beyond this
// interface (spec.md §1) — pkg/chip supplies the one concrete
// implementation this module ships, simulating a board on the host OS.
type Chip interface {
	// ServicePendingInterrupts drains and handles every interrupt that has
	// fired since the last call, synchronously, before the run loop
	// considers running a process.
	ServicePendingInterrupts()

	// HasPendingInterrupts reports whether an interrupt arrived that
	// ServicePendingInterrupts has not yet drained.
	HasPendingInterrupts() bool

	// HasPendingDeferredCalls reports whether a capsule has scheduled a
	// deferred call (a kernel-context callback that must not run from ISR
	// context) that ServiceDeferredCalls has not yet drained.
	HasPendingDeferredCalls() bool

	// ServiceDeferredCalls drains and runs every deferred call scheduled
	// since the last call, synchronously, the bottom-half counterpart to
	// ServicePendingInterrupts (spec.md §2's "deferred procedure calls").
	ServiceDeferredCalls()

	// Sleep parks the hardware thread until an interrupt wakes it. The
	// caller (loop.go) only ever calls this from inside an AtomicSection,
	// which is what prevents the missed-wakeup race spec.md §4.2 calls out:
	// an interrupt that arrives after the work-count check but before the
	// chip actually sleeps must still wake it.
	Sleep()

	// AtomicSection runs fn with interrupts held off the run loop's
	// sleep-decision critical section, then restores the previous
	// interrupt state. It is the Go shape of Tock's `cortexm::support::atomic`
	// closure.
	AtomicSection(fn func())

	MPU() MPU
	SchedulerTimer() SchedulerTimer
	WatchDog() WatchDog

	// SwitchToProcess performs one host-simulated context switch into p and
	// runs it until it traps back into the kernel for one of three reasons:
	// it issued a syscall, an interrupt arrived, or it faulted.
	SwitchToProcess(p *Process) ContextSwitchResult
}

// ContextSwitchReason is why SwitchToProcess returned control to the
// execution routine.
type ContextSwitchReason int

const (
	ContextSwitchSyscall ContextSwitchReason = iota
	ContextSwitchInterrupted
	ContextSwitchFaulted
)

// ContextSwitchResult is SwitchToProcess's report of what happened during
// the process's time in the CPU. Syscall is only meaningful when Reason is
// ContextSwitchSyscall.
type ContextSwitchResult struct {
	Reason  ContextSwitchReason
	Syscall Syscall
}

// MPU is the board's memory protection unit. Enable and Disable must always
// be paired around process execution (spec.md §4.3's MPU invariant): the
// execution routine never calls Enable twice without an intervening
// Disable, or vice versa.
type MPU interface {
	Configure(region MemoryRegion)
	Enable()
	Disable()
}

// SchedulerTimer is the time-slice timer a Scheduler implementation arms
// before running a process and inspects afterward to learn whether the
// slice expired (spec.md §5).
type SchedulerTimer interface {
	Arm(d time.Duration)
	Disarm()
	Expired() bool
	GetRemaining() time.Duration
}

// WatchDog must be tickled by the run loop on every iteration; a board that
// fails to do so is defining itself out of the "kernel is still alive"
// contract the hardware watchdog enforces. Suspend/Resume bracket the sleep
// path (spec.md §4.2 step 3): a watchdog timer that kept counting down
// while the chip is parked in Sleep would reset the board for being idle,
// so the run loop suspends it first and resumes it the moment the chip
// wakes.
type WatchDog interface {
	Tickle()
	Suspend()
	Resume()
}

// commandArity records how many data words a CommandReturn carries, so the
// dispatcher can pick the right SyscallReturn variant without guessing from
// whether a word happens to be zero (spec.md §6 — Success(u32) with
// Data0==0 is a distinct wire shape from plain Success, not the same
// value).
type commandArity int

const (
	arityZero commandArity = iota
	arityOne
	arityTwo
)

// CommandReturn is what a Driver.Command implementation hands back to the
// syscall dispatcher, which packages it into the right SyscallReturn
// variant (spec.md §6).
type CommandReturn struct {
	Success bool
	Err     ErrorCode
	Data0   uintptr
	Data1   uintptr
	arity   commandArity
}

// CommandSuccess builds a zero-argument success CommandReturn.
func CommandSuccess() CommandReturn { return CommandReturn{Success: true} }

// CommandSuccessU32 builds a one-argument success CommandReturn.
func CommandSuccessU32(v uintptr) CommandReturn {
	return CommandReturn{Success: true, Data0: v, arity: arityOne}
}

// CommandSuccessU32U32 builds a two-argument success CommandReturn.
func CommandSuccessU32U32(v0, v1 uintptr) CommandReturn {
	return CommandReturn{Success: true, Data0: v0, Data1: v1, arity: arityTwo}
}

// CommandFailure builds a failed CommandReturn carrying err.
func CommandFailure(err ErrorCode) CommandReturn { return CommandReturn{Err: err} }

// CommandFailureU32 builds a failed CommandReturn carrying err plus one
// data word (spec.md §6's Failure(code,u32)).
func CommandFailureU32(err ErrorCode, v uintptr) CommandReturn {
	return CommandReturn{Err: err, Data0: v, arity: arityOne}
}

// Driver is the interface every capsule exposes to the syscall dispatcher.
// Each method corresponds to one syscall class from spec.md §4.4 and is
// dispatched to by driver number; the capsule itself owns the subdriver
// numbering scheme (command/subscribe/allow numbers) documented in its own
// package (see pkg/capsules/*).
type Driver interface {
	Command(pid ProcessID, cmdNum uint32, arg1, arg2 uintptr) CommandReturn
	Subscribe(pid ProcessID, subscribeNum uint32, upcall Upcall) (Upcall, error)
	AllowReadWrite(pid ProcessID, allowNum uint32, slice AppSlice) (AppSlice, error)
	AllowReadOnly(pid ProcessID, allowNum uint32, slice AppSlice) (AppSlice, error)
}

// Platform maps driver numbers to the Driver implementations a board has
// wired up. A board's with_driver table (spec.md §4.4) — which driver
// numbers exist is entirely a board-configuration decision, never a kernel
// one.
type Platform interface {
	WithDriver(driverNum uint32) (Driver, bool)
}

// SyscallFilter is an optional capability a Platform may additionally
// implement to reject a syscall before it ever reaches a driver (spec.md
// §4.4's filter pass, §7's per-process syscall filter policy). A board
// that has no need for one simply does not implement this interface;
// Dispatch type-asserts for it rather than requiring every Platform to
// carry a no-op implementation.
type SyscallFilter interface {
	// FilterSyscall is consulted for every Subscribe, Command,
	// ReadWriteAllow, and ReadOnlyAllow syscall (never Yield, Exit, or
	// Memop). Returning reject=true fails the syscall with code before the
	// driver is ever invoked.
	FilterSyscall(pid ProcessID, call Syscall) (code ErrorCode, reject bool)
}

// FaultHook is an optional capability a Platform may implement to attempt
// in-place recovery when a process faults, before the kernel gives up on it
// (spec.md §4.3's "give the platform a fault-hook chance" — e.g. a board
// that can restart a process's stack without losing its generation). A
// Platform that has no such recovery simply does not implement this
// interface, the same optional-capability pattern SyscallFilter uses.
type FaultHook interface {
	// HandleFault is called with the process that just faulted. Returning
	// nil means the hook recovered the process in place and it should keep
	// running this slice; returning an error means the kernel marks the
	// process Faulted and stops running it for this slice.
	HandleFault(pid ProcessID, p *Process) error
}

// RestartPolicy decides what happens to a process slot after its occupant
// faults (spec.md §7). faultCount is p's own FaultCount, the faults recorded
// on this process instance; a process that replaces a faulted one in the
// same slot starts again at zero.
type RestartPolicy interface {
	ShouldRestart(p *Process, faultCount int) bool
}
