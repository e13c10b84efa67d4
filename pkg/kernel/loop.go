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

import "context"

// RunLoop is the core kernel loop (spec.md §4.2): it alternates between
// servicing interrupts, asking the Scheduler what to run, running it for up
// to one time slice, and — when nothing is ready — sleeping the hardware
// thread until the next interrupt. It returns when ctx is canceled, which
// is how board setup and tests both get a clean shutdown path; real Tock
// has no such exit, since its loop is the entire program, but nothing here
// is reachable once a board stops canceling its context, so the behavior
// for ctx never being canceled is identical.
func (k *Kernel) RunLoop(ctx context.Context, scheduler Scheduler, chip Chip, platform Platform) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		k.LoopOnce(scheduler, chip, platform)
	}
}

// LoopOnce runs exactly one iteration of the core loop: schedule, run (or
// sleep), tickle the watchdog. It is exported so tests can drive the loop
// deterministically without a sleeping background goroutine.
func (k *Kernel) LoopOnce(scheduler Scheduler, chip Chip, platform Platform) {
	// spec.md §4.2 step 1: service kernel work (interrupt bottom halves and
	// deferred calls) whenever the policy says now is the time, before even
	// asking for a scheduling decision.
	if scheduler.DoKernelWorkNow(chip) {
		scheduler.ExecuteKernelWork(chip)
	}

	decision := scheduler.Next(k)
	if pid, ok := decision.Process(); ok {
		timeslice, hasTimeslice := decision.Timeslice()
		reason, elapsed := k.runProcess(pid, chip, platform, scheduler, timeslice, !hasTimeslice)
		scheduler.Result(reason, elapsed, hasTimeslice)
	} else {
		// The work-count check and the sleep must happen with interrupts
		// held off (spec.md §4.2): otherwise an interrupt that arrives
		// between the check and the sleep call is missed entirely, and the
		// chip sleeps through work it should have woken up for.
		chip.AtomicSection(func() {
			if k.WorkCount() == 0 && !chip.HasPendingInterrupts() && !chip.HasPendingDeferredCalls() {
				chip.WatchDog().Suspend()
				chip.Sleep()
				chip.WatchDog().Resume()
			}
		})
	}

	chip.WatchDog().Tickle()
}
