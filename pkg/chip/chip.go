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

// Package chip supplies the one concrete kernel.Chip this module ships: a
// simulation of a board's interrupt controller, MPU, scheduler timer, and
// watchdog running as a host process. Interrupt "lines" are driven either
// by external goroutines (see Run) or programmatically (RaiseInterrupt),
// standing in for GPIO edges, USB endpoint events, and the like.
package chip

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/tockgo/tockgo/pkg/kernel"
)

// InterruptLine identifies one simulated interrupt source.
type InterruptLine uint

// InterruptHandler is invoked once per pending line by ServicePendingInterrupts.
type InterruptHandler func()

// sleepPollInterval bounds how long Sleep blocks in the host kernel between
// checks of the pending-interrupt bitmask. A real board's WFI instruction
// wakes instantly on an interrupt; this polling loop is the host-simulation
// stand-in, backed by a real blocking syscall (unix.Nanosleep) rather than
// a busy spin.
const sleepPollInterval = 500 * time.Microsecond

// HostChip simulates a board's Chip on the host OS.
type HostChip struct {
	pendingMu sync.Mutex
	pending   uint64
	handlers  map[InterruptLine]InterruptHandler

	// atomicMu stands in for "interrupts masked": the run loop's sleep
	// decision (spec.md §4.2) runs inside AtomicSection so that an
	// interrupt arriving mid-check is never lost between the work-count
	// check and the call to Sleep.
	atomicMu sync.Mutex

	deferredMu sync.Mutex
	deferred   []func()

	wake chan struct{}

	mpu      *MPU
	timer    *Timer
	watchdog *WatchDog

	log *logrus.Entry
}

var _ kernel.Chip = (*HostChip)(nil)

// NewHostChip constructs a simulated chip. log is used for the watchdog's
// and MPU's diagnostic messages.
func NewHostChip(log *logrus.Entry) *HostChip {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HostChip{
		handlers: make(map[InterruptLine]InterruptHandler),
		wake:     make(chan struct{}, 1),
		mpu:      NewMPU(log),
		timer:    NewTimer(),
		watchdog: NewWatchDog(log),
		log:      log,
	}
}

// RegisterInterruptHandler wires a capsule's interrupt handler to a line.
// Board setup calls this once per peripheral, mirroring how a real chip
// crate dispatches `handle_interrupt` to the right peripheral struct.
func (c *HostChip) RegisterInterruptHandler(line InterruptLine, h InterruptHandler) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.handlers[line] = h
}

// RaiseInterrupt marks line pending and wakes the chip if it is sleeping.
// This is the simulation's substitute for an external signal (a button
// press, a USB packet arriving) tripping a real interrupt line.
func (c *HostChip) RaiseInterrupt(line InterruptLine) {
	c.pendingMu.Lock()
	c.pending |= 1 << uint(line)
	c.pendingMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// HasPendingInterrupts reports whether any line is pending.
func (c *HostChip) HasPendingInterrupts() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.pending != 0
}

// ServicePendingInterrupts drains the pending bitmask and runs the
// registered handler for every line that was set.
func (c *HostChip) ServicePendingInterrupts() {
	c.pendingMu.Lock()
	bits := c.pending
	c.pending = 0
	handlers := make(map[InterruptLine]InterruptHandler, len(c.handlers))
	for line, h := range c.handlers {
		handlers[line] = h
	}
	c.pendingMu.Unlock()

	for line, h := range handlers {
		if bits&(1<<uint(line)) != 0 {
			h()
		}
	}
}

// ScheduleDeferredCall queues fn to run from kernel context the next time
// the run loop services kernel work, never from the caller's own context
// (spec.md glossary: "a kernel-scheduled callback that runs in kernel
// context at a safe point, not ISR context"). Capsule interrupt handlers
// use this instead of doing real work inline when that work must not run
// on the simulated ISR path.
func (c *HostChip) ScheduleDeferredCall(fn func()) {
	c.deferredMu.Lock()
	c.deferred = append(c.deferred, fn)
	c.deferredMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// HasPendingDeferredCalls reports whether any deferred call is queued.
func (c *HostChip) HasPendingDeferredCalls() bool {
	c.deferredMu.Lock()
	defer c.deferredMu.Unlock()
	return len(c.deferred) > 0
}

// ServiceDeferredCalls drains and runs every currently queued deferred
// call, the bottom-half counterpart to ServicePendingInterrupts. A call
// that schedules another deferred call is picked up on the next drain
// (BaseScheduler.ExecuteKernelWork's own loop), not this one, mirroring
// ServicePendingInterrupts's snapshot-then-run shape.
func (c *HostChip) ServiceDeferredCalls() {
	c.deferredMu.Lock()
	calls := c.deferred
	c.deferred = nil
	c.deferredMu.Unlock()

	for _, fn := range calls {
		fn()
	}
}

// Sleep blocks until an interrupt arrives, polling via a real blocking
// syscall rather than spinning. RaiseInterrupt's non-blocking send to wake
// means an interrupt that arrives concurrently with the call is never
// missed, even without true hardware masking.
func (c *HostChip) Sleep() {
	for {
		select {
		case <-c.wake:
			return
		default:
		}
		if c.HasPendingInterrupts() {
			return
		}
		ts := unix.NsecToTimespec(sleepPollInterval.Nanoseconds())
		unix.Nanosleep(&ts, nil)
	}
}

// AtomicSection runs fn with the chip's "interrupts masked" critical
// section held, the Go shape of Tock's `cortexm::support::atomic` closure.
func (c *HostChip) AtomicSection(fn func()) {
	c.atomicMu.Lock()
	defer c.atomicMu.Unlock()
	fn()
}

// Run supervises a board's simulated interrupt sources (a goroutine polling
// a GPIO pin, one reading a host pty, and so on) as a single errgroup: the
// first source to return an error cancels ctx for the rest, and Run blocks
// until every source has exited. A board launches its sources this way
// instead of bare `go`, so a crashed source is observable rather than
// silently leaking, the same supervision errgroup.Group gives a set of
// cooperating RPC calls.
func (c *HostChip) Run(ctx context.Context, sources ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error { return src(gctx) })
	}
	return g.Wait()
}

func (c *HostChip) MPU() kernel.MPU                       { return c.mpu }
func (c *HostChip) SchedulerTimer() kernel.SchedulerTimer { return c.timer }
func (c *HostChip) WatchDog() kernel.WatchDog             { return c.watchdog }

// SwitchToProcess is implemented per-capsule-driver-set board, not by the
// generic HostChip: what "running a process" means on the host (which Go
// function plays the role of the process's code) is a board wiring detail.
// Boards embed HostChip and override this method; see internal/cli/board.go's
// demoChip for the concrete implementation used by the shipped demo board.
func (c *HostChip) SwitchToProcess(p *kernel.Process) kernel.ContextSwitchResult {
	panic("chip: SwitchToProcess must be provided by the board (embed HostChip and override)")
}
