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

// StoppedExecutingReason is why the execution routine returned control to
// the run loop (spec.md §4.3/§5). A Scheduler's Result method inspects this
// to update whatever bookkeeping its policy needs (round-robin's queue
// rotation, priority's decay, and so on).
type StoppedExecutingReason int

const (
	// NoWorkLeft means the process had nothing to do: it was Yielded or
	// Unstarted with an empty task queue.
	NoWorkLeft StoppedExecutingReason = iota
	// StoppedFaulted means the process faulted during this slice.
	StoppedFaulted
	// StoppedProcess means the process itself asked to stop (Exit, or a
	// Stopped* state observed at slice start).
	StoppedProcess
	// TimesliceExpired means the scheduler timer fired before the process
	// yielded or exited on its own.
	TimesliceExpired
	// KernelPreemption means an interrupt arrived that the kernel decided
	// should cut the slice short even though it had time remaining.
	KernelPreemption
)

func (r StoppedExecutingReason) String() string {
	switch r {
	case NoWorkLeft:
		return "NoWorkLeft"
	case StoppedFaulted:
		return "StoppedFaulted"
	case StoppedProcess:
		return "StoppedProcess"
	case TimesliceExpired:
		return "TimesliceExpired"
	case KernelPreemption:
		return "KernelPreemption"
	default:
		return "Unknown"
	}
}

// SchedulingDecision is a Scheduler's answer to "what should the run loop do
// next": either run a specific process for up to some time slice (or,
// cooperatively, with no preemption timer at all), or there is nothing
// ready and the run loop should fall through to its sleep check (spec.md
// §4.1/§5 — RunProcess(process_id, timeslice_us?)).
type SchedulingDecision struct {
	id          ProcessID
	hasNext     bool
	timeslice   time.Duration
	cooperative bool
}

// RunProcessDecision tells the run loop to execute id next for up to
// timeslice before the process is preempted.
func RunProcessDecision(id ProcessID, timeslice time.Duration) SchedulingDecision {
	return SchedulingDecision{id: id, hasNext: true, timeslice: timeslice}
}

// RunProcessCooperativeDecision tells the run loop to execute id next with
// no preemption timer (spec.md §4.1's timeslice_us = None): the process
// runs until it yields, exits, or faults on its own.
func RunProcessCooperativeDecision(id ProcessID) SchedulingDecision {
	return SchedulingDecision{id: id, hasNext: true, cooperative: true}
}

// TrySleepDecision tells the run loop no process is ready; it should check
// for outstanding kernel work and, finding none, sleep.
func TrySleepDecision() SchedulingDecision {
	return SchedulingDecision{}
}

// Process reports the chosen process and whether a choice was actually made.
func (d SchedulingDecision) Process() (ProcessID, bool) { return d.id, d.hasNext }

// Timeslice reports the requested time slice and whether one was requested
// at all. ok is false for a cooperative decision, meaning the process
// routine does not use the chip's scheduler timer and instead arms an
// internal timer that never expires.
func (d SchedulingDecision) Timeslice() (timeslice time.Duration, ok bool) {
	return d.timeslice, !d.cooperative
}

// Scheduler is the pluggable scheduling policy contract (spec.md §5). The
// core kernel run loop calls Next once per iteration, runs whatever it
// returns for up to one time slice, and then reports back through Result —
// the same Next-then-Result shape as the teacher's own scheduling policies,
// generalized from a single fixed policy to an interface so pkg/sched can
// supply several (cooperative, round-robin, priority).
type Scheduler interface {
	// Next chooses the next process to run, or reports that none is ready.
	Next(k *Kernel) SchedulingDecision

	// Result is called after a time slice ends, reporting why it ended and,
	// when the chip supports measuring it, how long the process actually
	// ran for.
	Result(reason StoppedExecutingReason, executionTime time.Duration, hasExecutionTime bool)

	// ContinueProcess is consulted before every context switch within a
	// slice to decide whether the same process should keep running (true)
	// or the run loop should return to Next for a fresh decision (false).
	// BaseScheduler's default returns false while kernel work is pending;
	// none of the pkg/sched policies override it.
	ContinueProcess(id ProcessID, chip Chip) bool

	// DoKernelWorkNow arbitrates between servicing kernel work (interrupt
	// bottom halves and deferred calls) and considering a process to run
	// (spec.md §4.1/§4.2). The BaseScheduler default is true iff the chip
	// reports pending interrupts or deferred calls; a policy may override
	// this to defer interrupt servicing in favor of running a process.
	DoKernelWorkNow(chip Chip) bool

	// ExecuteKernelWork services pending interrupts, then drains deferred
	// calls for as long as no new interrupt arrives (spec.md §4.1/§4.2).
	ExecuteKernelWork(chip Chip)
}

// BaseScheduler is embeddable by concrete Scheduler implementations that
// only need to override Next and Result; it supplies the common
// ContinueProcess default (end the slice when kernel work is pending) and
// the default kernel work arbitration every scheduler in pkg/sched starts
// from.
type BaseScheduler struct{}

// ContinueProcess is false iff kernel work (a pending interrupt or
// deferred call) is waiting, the default spec.md §4.1 documents: a policy
// that wants to keep running the same process through an interrupt
// arriving mid-slice must override this to return true regardless.
func (BaseScheduler) ContinueProcess(_ ProcessID, chip Chip) bool {
	return !chip.HasPendingInterrupts() && !chip.HasPendingDeferredCalls()
}

// DoKernelWorkNow is true iff the chip has pending interrupts or deferred
// calls (spec.md §4.1's default).
func (BaseScheduler) DoKernelWorkNow(chip Chip) bool {
	return chip.HasPendingInterrupts() || chip.HasPendingDeferredCalls()
}

// ExecuteKernelWork services interrupts once, then drains deferred calls
// while no new interrupt has arrived (spec.md §4.1's default).
func (BaseScheduler) ExecuteKernelWork(chip Chip) {
	chip.ServicePendingInterrupts()
	for chip.HasPendingDeferredCalls() && !chip.HasPendingInterrupts() {
		chip.ServiceDeferredCalls()
	}
}
