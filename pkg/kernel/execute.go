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

// DefaultTimeslice is the time slice duration used when a board does not
// override it. 10ms mirrors Tock's own default scheduler timer length.
const DefaultTimeslice = 10 * time.Millisecond

// MinQuantaThresholdUs is the minimum remaining time slice worth running a
// process for (spec.md §4.3 step 3a, §8): once a timer reports this little
// or less remaining, the process routine stops the slice without another
// context switch rather than let a process start work it cannot finish.
const MinQuantaThresholdUs = 500 * time.Microsecond

// nullTimer is a SchedulerTimer that never expires and always reports an
// effectively infinite remaining budget. pkg/chip ships its own NullTimer
// for boards that want to configure a whole chip cooperatively, but the
// process routine also needs one internally for a single cooperative
// SchedulingDecision on an otherwise-preemptive chip (spec.md §4.3 step 1:
// "a null timer ... otherwise"), and pkg/kernel cannot import pkg/chip
// (pkg/chip imports pkg/kernel) to reuse that type.
type nullTimer struct{}

func (nullTimer) Arm(time.Duration)          {}
func (nullTimer) Disarm()                    {}
func (nullTimer) Expired() bool              { return false }
func (nullTimer) GetRemaining() time.Duration { return time.Duration(1<<63 - 1) }

// runProcess is the per-process execution routine (spec.md §4.3): given a
// process the Scheduler chose to run next, it decides what running it even
// means from its current state, switches the hardware into it for up to
// one time slice, and reports why control eventually came back.
//
// This is the same "what does it mean to run this thing right now" problem
// gVisor's task.go solves with a taskRunState state machine
// (run() returning the next taskRunState to invoke); here the possible
// states are Process.State's seven variants rather than an open set of
// run-state structs, so a single state switch plays the same role.
func (k *Kernel) runProcess(pid ProcessID, chip Chip, platform Platform, scheduler Scheduler, timeslice time.Duration, cooperative bool) (StoppedExecutingReason, time.Duration) {
	p := k.processEntry(pid)
	if p == nil {
		return StoppedProcess, 0
	}
	if !p.Ready() {
		return NoWorkLeft, 0
	}

	switch p.State() {
	case Faulted, Terminated:
		// The scheduler must never select a Faulted or Terminated process;
		// reaching here means a Scheduler implementation is broken.
		panic("kernel: scheduler selected a " + p.State().String() + " process: " + pid.String())
	case StoppedRunning, StoppedYielded:
		return StoppedProcess, 0
	case Yielded, Unstarted:
		t, ok := p.dequeueTask()
		if !ok {
			return NoWorkLeft, 0
		}
		k.installTask(p, t)
		p.setState(Running)
	case Running:
		// Already mid-execution from a previous slice (Tock's normal case
		// after a non-blocking syscall); nothing to install.
	}

	mpu := chip.MPU()
	mpu.Configure(p.MemoryRegion())
	mpu.Enable()

	var timer SchedulerTimer
	if cooperative {
		timer = nullTimer{}
	} else {
		timer = chip.SchedulerTimer()
	}
	timer.Arm(timeslice)

	reason := k.runSlice(pid, p, chip, platform, scheduler, timer)

	// The remaining-query may report "expired" only once (spec.md §4.3 step
	// 4's note); runSlice's own loop-top check already consumed that read,
	// so the TimesliceExpired case must not query GetRemaining again.
	var elapsed time.Duration
	switch {
	case reason == TimesliceExpired:
		elapsed = timeslice
	case !cooperative:
		elapsed = timeslice - timer.GetRemaining()
	}

	timer.Disarm()
	mpu.Disable()

	return reason, elapsed
}

// runSlice drives SwitchToProcess in a loop, handling every syscall the
// process makes during this slice, until the process stops on its own
// (fault, yield, exit), the timer expires, or the scheduler preempts it.
func (k *Kernel) runSlice(pid ProcessID, p *Process, chip Chip, platform Platform, scheduler Scheduler, timer SchedulerTimer) StoppedExecutingReason {
	for {
		// spec.md §4.3 step 3a: stop before the budget runs out entirely,
		// rather than starting work the process cannot finish.
		if timer.Expired() || timer.GetRemaining() <= MinQuantaThresholdUs {
			return TimesliceExpired
		}
		// spec.md §4.3 step 3b: give the scheduler a chance to cut the
		// slice short even though time remains (priority preemption).
		if !scheduler.ContinueProcess(pid, chip) {
			return KernelPreemption
		}

		result := chip.SwitchToProcess(p)

		switch result.Reason {
		case ContextSwitchFaulted:
			if hook, ok := platform.(FaultHook); ok {
				if err := hook.HandleFault(pid, p); err == nil {
					// The hook recovered the process in place; it never
					// transitioned to Faulted, so this slice keeps running
					// it rather than stopping early.
					continue
				}
			}
			p.SetFaultState()
			return StoppedFaulted

		case ContextSwitchInterrupted:
			chip.ServicePendingInterrupts()
			continue

		case ContextSwitchSyscall:
			ret, hasReturn := k.Dispatch(pid, platform, result.Syscall)
			if hasReturn {
				p.SetSyscallReturnValue(ret)
			}

			switch p.State() {
			case Faulted:
				return StoppedFaulted
			case Terminated, StoppedRunning, StoppedYielded:
				return StoppedProcess
			case Yielded, Unstarted:
				// spec.md §4.3 step 3d: a Yielded process may already have
				// another task queued (e.g. Subscribe delivered a pending
				// upcall synchronously, or more than one upcall was already
				// pending before this syscall ran) — dequeue and run it
				// within this same timeslice rather than ending the slice
				// early; only fall back to NoWorkLeft once the queue is
				// actually empty.
				t, ok := p.dequeueTask()
				if !ok {
					return NoWorkLeft
				}
				k.installTask(p, t)
				p.setState(Running)
			}
			continue

		default:
			panic("kernel: chip reported an unknown context switch reason")
		}
	}
}
