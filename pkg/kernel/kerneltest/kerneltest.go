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

// Package kerneltest provides minimal fakes for pkg/kernel's Chip, MPU,
// SchedulerTimer, WatchDog, and Platform interfaces, for use by pkg/kernel's
// own tests and by capsule tests that need a process/driver harness without
// pulling in pkg/chip's host-simulation machinery.
package kerneltest

import (
	"errors"
	"time"

	"github.com/tockgo/tockgo/pkg/kernel"
)

var errFaultHookNotConfigured = errors.New("kerneltest: fault hook not configured")

// MPU counts Enable/Disable calls and records the last configured region,
// so tests can assert the enable/disable pairing invariant (spec.md §4.3).
type MPU struct {
	Enabled    bool
	EnableN    int
	DisableN   int
	LastRegion kernel.MemoryRegion
}

func (m *MPU) Configure(r kernel.MemoryRegion) { m.LastRegion = r }
func (m *MPU) Enable()                         { m.Enabled = true; m.EnableN++ }
func (m *MPU) Disable()                        { m.Enabled = false; m.DisableN++ }

// SchedulerTimer is a fake scheduler timer driven entirely by test code:
// set ExpiredValue to make Expired() report a timeslice expiry.
type SchedulerTimer struct {
	Armed         bool
	ExpiredValue  bool
	RemainingValue time.Duration
}

func (t *SchedulerTimer) Arm(d time.Duration) { t.Armed = true; t.RemainingValue = d }
func (t *SchedulerTimer) Disarm()             { t.Armed = false }
func (t *SchedulerTimer) Expired() bool       { return t.ExpiredValue }
func (t *SchedulerTimer) GetRemaining() time.Duration { return t.RemainingValue }

// WatchDog counts tickles and records Suspend/Resume calls so tests can
// assert the sleep path brackets chip.Sleep with them (spec.md §4.2 step 3).
type WatchDog struct {
	Tickles     int
	Suspended   bool
	SuspendCalls int
	ResumeCalls  int
}

func (w *WatchDog) Tickle() { w.Tickles++ }

func (w *WatchDog) Suspend() {
	w.Suspended = true
	w.SuspendCalls++
}

func (w *WatchDog) Resume() {
	w.Suspended = false
	w.ResumeCalls++
}

// Chip is a scriptable fake: Results is consumed front-to-back, one
// ContextSwitchResult per SwitchToProcess call, looping on the last entry
// once exhausted so a test doesn't have to size it exactly.
type Chip struct {
	Results  []kernel.ContextSwitchResult
	calls    int
	mpu      MPU
	timer    SchedulerTimer
	watchdog WatchDog

	PendingInterrupts bool
	ServiceCalls      int
	SleepCalls        int

	PendingDeferredCalls int
	DeferredServiceCalls int
}

func (c *Chip) ServicePendingInterrupts() {
	c.ServiceCalls++
	c.PendingInterrupts = false
}

func (c *Chip) HasPendingInterrupts() bool { return c.PendingInterrupts }

// HasPendingDeferredCalls reports PendingDeferredCalls > 0; tests drive it
// directly by setting the counter rather than through a real queue.
func (c *Chip) HasPendingDeferredCalls() bool { return c.PendingDeferredCalls > 0 }

// ServiceDeferredCalls drains the fake's deferred-call counter to zero.
func (c *Chip) ServiceDeferredCalls() {
	c.DeferredServiceCalls++
	c.PendingDeferredCalls = 0
}

func (c *Chip) Sleep() { c.SleepCalls++ }

func (c *Chip) AtomicSection(fn func()) { fn() }

func (c *Chip) MPU() kernel.MPU                       { return &c.mpu }
func (c *Chip) SchedulerTimer() kernel.SchedulerTimer { return &c.timer }
func (c *Chip) WatchDog() kernel.WatchDog             { return &c.watchdog }

func (c *Chip) SwitchToProcess(p *kernel.Process) kernel.ContextSwitchResult {
	if len(c.Results) == 0 {
		return kernel.ContextSwitchResult{Reason: kernel.ContextSwitchFaulted}
	}
	idx := c.calls
	if idx >= len(c.Results) {
		idx = len(c.Results) - 1
	}
	c.calls++
	return c.Results[idx]
}

// MPUState exposes the fake's MPU for assertions.
func (c *Chip) MPUState() *MPU { return &c.mpu }

// TimerState exposes the fake's SchedulerTimer for assertions/setup.
func (c *Chip) TimerState() *SchedulerTimer { return &c.timer }

// WatchDogState exposes the fake's WatchDog for assertions.
func (c *Chip) WatchDogState() *WatchDog { return &c.watchdog }

// Driver is a scriptable fake kernel.Driver.
type Driver struct {
	CommandFn        func(kernel.ProcessID, uint32, uintptr, uintptr) kernel.CommandReturn
	SubscribeFn      func(kernel.ProcessID, uint32, kernel.Upcall) (kernel.Upcall, error)
	AllowReadWriteFn func(kernel.ProcessID, uint32, kernel.AppSlice) (kernel.AppSlice, error)
	AllowReadOnlyFn  func(kernel.ProcessID, uint32, kernel.AppSlice) (kernel.AppSlice, error)
}

func (d *Driver) Command(pid kernel.ProcessID, cmd uint32, a1, a2 uintptr) kernel.CommandReturn {
	if d.CommandFn == nil {
		return kernel.CommandFailure(kernel.ErrNoSupport)
	}
	return d.CommandFn(pid, cmd, a1, a2)
}

func (d *Driver) Subscribe(pid kernel.ProcessID, sub uint32, up kernel.Upcall) (kernel.Upcall, error) {
	if d.SubscribeFn == nil {
		return kernel.NullUpcall(pid, up.ID()), nil
	}
	return d.SubscribeFn(pid, sub, up)
}

func (d *Driver) AllowReadWrite(pid kernel.ProcessID, n uint32, s kernel.AppSlice) (kernel.AppSlice, error) {
	if d.AllowReadWriteFn == nil {
		return kernel.AppSlice{}, nil
	}
	return d.AllowReadWriteFn(pid, n, s)
}

func (d *Driver) AllowReadOnly(pid kernel.ProcessID, n uint32, s kernel.AppSlice) (kernel.AppSlice, error) {
	if d.AllowReadOnlyFn == nil {
		return kernel.AppSlice{}, nil
	}
	return d.AllowReadOnlyFn(pid, n, s)
}

// Platform maps driver numbers to fakes via a plain map. FilterFn, when
// set, makes the Platform also satisfy kernel.SyscallFilter so tests can
// exercise the dispatcher's filter pass (spec.md §4.4). FaultHookFn, when
// set, likewise exercises the execution routine's fault-hook chance
// (spec.md §4.3); both methods are always present on this fake so the
// type assertions in dispatch.go/execute.go always succeed, with a nil
// func field meaning "behave as if the capability weren't implemented".
type Platform struct {
	Drivers     map[uint32]kernel.Driver
	FilterFn    func(kernel.ProcessID, kernel.Syscall) (kernel.ErrorCode, bool)
	FaultHookFn func(kernel.ProcessID, *kernel.Process) error
}

func NewPlatform() *Platform { return &Platform{Drivers: make(map[uint32]kernel.Driver)} }

func (p *Platform) WithDriver(num uint32) (kernel.Driver, bool) {
	d, ok := p.Drivers[num]
	return d, ok
}

func (p *Platform) FilterSyscall(pid kernel.ProcessID, call kernel.Syscall) (kernel.ErrorCode, bool) {
	if p.FilterFn == nil {
		return 0, false
	}
	return p.FilterFn(pid, call)
}

// HandleFault satisfies kernel.FaultHook. With no FaultHookFn configured it
// declines every fault (returns a non-nil error), preserving the ordinary
// mark-Faulted-and-stop behavior for fakes that never opted into recovery.
func (p *Platform) HandleFault(pid kernel.ProcessID, proc *kernel.Process) error {
	if p.FaultHookFn == nil {
		return errFaultHookNotConfigured
	}
	return p.FaultHookFn(pid, proc)
}

// AlwaysRestart is a RestartPolicy that restarts every fault, the simplest
// policy and a convenient test default.
type AlwaysRestart struct{}

func (AlwaysRestart) ShouldRestart(*kernel.Process, int) bool { return true }

// NeverRestart is a RestartPolicy that never restarts.
type NeverRestart struct{}

func (NeverRestart) ShouldRestart(*kernel.Process, int) bool { return false }
