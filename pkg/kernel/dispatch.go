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

import "github.com/tockgo/tockgo/pkg/klog"

// errorCoder is implemented by errors that know how to collapse themselves
// into the syscall-visible ErrorCode taxonomy (grantError is one).
type errorCoder interface {
	AsErrorCode() ErrorCode
}

func toErrorCode(err error) ErrorCode {
	if ec, ok := err.(errorCoder); ok {
		return ec.AsErrorCode()
	}
	return ErrInval
}

// Dispatch routes one trapped syscall to its handler (spec.md §4.4). It
// returns (value, true) when the process should be given a SyscallReturn
// back, or (nil, false) when the syscall instead changed the process's
// state directly (Yield, Exit) and there is nothing to hand back into its
// registers.
func (k *Kernel) Dispatch(pid ProcessID, platform Platform, call Syscall) (SyscallReturn, bool) {
	p := k.processEntry(pid)
	if p == nil {
		return ReturnFailure{Err: ErrFail}, true
	}
	klog.Debugf("syscall: %s %T", pid, call)

	// Filter pass (spec.md §4.4): Yield, Exit, and Memop are never
	// filtered; every other syscall gets a chance to be rejected before a
	// driver is ever invoked, with the process keeping its timeslice.
	switch call.(type) {
	case ExitSyscall, YieldSyscall, MemopSyscall:
	default:
		if filter, ok := platform.(SyscallFilter); ok {
			if code, reject := filter.FilterSyscall(pid, call); reject {
				return ReturnFailure{Err: code}, true
			}
		}
	}

	switch c := call.(type) {
	case ExitSyscall:
		return k.dispatchExit(p, c)
	case YieldSyscall:
		return k.dispatchYield(p, c)
	case SubscribeSyscall:
		return k.dispatchSubscribe(pid, p, platform, c)
	case CommandSyscall:
		return k.dispatchCommand(pid, platform, c)
	case ReadWriteAllowSyscall:
		return k.dispatchReadWriteAllow(pid, p, platform, c)
	case ReadOnlyAllowSyscall:
		return k.dispatchReadOnlyAllow(pid, p, platform, c)
	case MemopSyscall:
		return k.dispatchMemop(p, c)
	default:
		return ReturnFailure{Err: ErrNoSupport}, true
	}
}

func (k *Kernel) dispatchExit(p *Process, c ExitSyscall) (SyscallReturn, bool) {
	// Any upcalls still queued for a process that is going away no longer
	// correspond to outstanding work.
	dropped := drain(p)
	k.workMu.Lock()
	k.work -= len(dropped)
	if k.work < 0 {
		k.work = 0
	}
	k.workMu.Unlock()

	if c.Terminate {
		p.setState(Terminated)
	} else {
		// exit-restart is handled identically to a fault: the board's
		// RestartPolicy decides whether a fresh instance replaces this slot.
		p.SetFaultState()
	}
	k.decrementWork()
	return nil, false
}

// drain empties p's task queue and returns the removed tasks,
// used only to keep the kernel work counter consistent across Exit.
func drain(p *Process) []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := p.tasks
	p.tasks = nil
	return removed
}

func (k *Kernel) dispatchYield(p *Process, c YieldSyscall) (SyscallReturn, bool) {
	switch c.Mode {
	case YieldNoWait:
		if !p.HasTasks() {
			p.SetByte(c.Address, 0)
			return nil, false
		}
	case YieldWait:
	default:
		return nil, false
	}
	// spec.md §4.4: "otherwise: write byte 1 to the flag address, set state
	// = Yielded" — both the byte write and the state transition happen
	// together, matching sched.rs's process.set_byte(address, 1);
	// process.set_yielded_state() pairing.
	p.SetByte(c.Address, 1)
	p.SetYieldedState()
	return nil, false
}

func (k *Kernel) dispatchSubscribe(pid ProcessID, p *Process, platform Platform, c SubscribeSyscall) (SyscallReturn, bool) {
	driver, ok := platform.WithDriver(c.DriverNum)
	if !ok {
		return ReturnSubscribeFailure{Err: ErrNoDevice, Ptr: c.Upcall.Ptr(), UserData: c.Upcall.UserData()}, true
	}
	id := UpcallID{DriverNum: c.DriverNum, SubscribeNum: c.SubscribeNum}
	old, err := driver.Subscribe(pid, c.SubscribeNum, c.Upcall)
	if err != nil {
		return ReturnSubscribeFailure{Err: toErrorCode(err), Ptr: c.Upcall.Ptr(), UserData: c.Upcall.UserData()}, true
	}
	// The new upcall is installed; any of the old one's invocations still
	// sitting in the task queue must never fire with the superseded
	// function pointer (spec.md §4.4, §8).
	p.RemovePendingUpcalls(id)
	return ReturnSubscribeSuccess{Ptr: old.Ptr(), UserData: old.UserData()}, true
}

func (k *Kernel) dispatchCommand(pid ProcessID, platform Platform, c CommandSyscall) (SyscallReturn, bool) {
	driver, ok := platform.WithDriver(c.DriverNum)
	if !ok {
		return ReturnFailure{Err: ErrNoDevice}, true
	}
	return commandReturnToSyscallReturn(driver.Command(pid, c.CmdNum, c.Arg1, c.Arg2)), true
}

func (k *Kernel) dispatchReadWriteAllow(pid ProcessID, p *Process, platform Platform, c ReadWriteAllowSyscall) (SyscallReturn, bool) {
	slice, inRange := p.BuildReadWriteAppSlice(c.Addr, c.Size)
	if !inRange {
		return ReturnAllowFailure{Err: ErrInval, Ptr: c.Addr, Len: c.Size}, true
	}
	driver, ok := platform.WithDriver(c.DriverNum)
	if !ok {
		return ReturnAllowFailure{Err: ErrNoDevice, Ptr: slice.Addr, Len: slice.Size}, true
	}
	old, err := driver.AllowReadWrite(pid, c.AllowNum, slice)
	if err != nil {
		return ReturnAllowFailure{Err: toErrorCode(err), Ptr: slice.Addr, Len: slice.Size}, true
	}
	return ReturnAllowSuccess{Ptr: old.Addr, Len: old.Size}, true
}

func (k *Kernel) dispatchReadOnlyAllow(pid ProcessID, p *Process, platform Platform, c ReadOnlyAllowSyscall) (SyscallReturn, bool) {
	slice, inRange := p.BuildReadOnlyAppSlice(c.Addr, c.Size)
	if !inRange {
		return ReturnAllowFailure{Err: ErrInval, Ptr: c.Addr, Len: c.Size}, true
	}
	driver, ok := platform.WithDriver(c.DriverNum)
	if !ok {
		return ReturnAllowFailure{Err: ErrNoDevice, Ptr: slice.Addr, Len: slice.Size}, true
	}
	old, err := driver.AllowReadOnly(pid, c.AllowNum, slice)
	if err != nil {
		return ReturnAllowFailure{Err: toErrorCode(err), Ptr: slice.Addr, Len: slice.Size}, true
	}
	return ReturnAllowSuccess{Ptr: old.Addr, Len: old.Size}, true
}

// Memop operation numbers. Only the subset meaningful to a host-simulated
// process is implemented; unrecognized ops fail with ErrNoSupport rather
// than panicking, since a process is free to probe for op support.
const (
	MemopBRK         uint32 = 0
	MemopSBRK        uint32 = 1
	MemopProcessMemoryStart uint32 = 2
	MemopProcessMemoryEnd   uint32 = 3
	MemopFlashStart         uint32 = 4
	MemopFlashEnd           uint32 = 5
	MemopGrantMemoryStart   uint32 = 6
	MemopFlashRegionsCount  uint32 = 7
)

func (k *Kernel) dispatchMemop(p *Process, c MemopSyscall) (SyscallReturn, bool) {
	region := p.MemoryRegion()
	switch c.Op {
	case MemopProcessMemoryStart:
		return ReturnSuccessU32{Data0: region.Base}, true
	case MemopProcessMemoryEnd:
		return ReturnSuccessU32{Data0: region.Base + region.Size}, true
	default:
		return ReturnFailure{Err: ErrNoSupport}, true
	}
}
