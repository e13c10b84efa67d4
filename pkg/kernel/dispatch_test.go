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

import "testing"

type fakeDriver struct {
	commandFn   func(ProcessID, uint32, uintptr, uintptr) CommandReturn
	subscribeFn func(ProcessID, uint32, Upcall) (Upcall, error)
	allowRWFn   func(ProcessID, uint32, AppSlice) (AppSlice, error)
	allowROFn   func(ProcessID, uint32, AppSlice) (AppSlice, error)
}

func (d *fakeDriver) Command(pid ProcessID, cmd uint32, a1, a2 uintptr) CommandReturn {
	return d.commandFn(pid, cmd, a1, a2)
}
func (d *fakeDriver) Subscribe(pid ProcessID, sub uint32, up Upcall) (Upcall, error) {
	return d.subscribeFn(pid, sub, up)
}
func (d *fakeDriver) AllowReadWrite(pid ProcessID, n uint32, s AppSlice) (AppSlice, error) {
	return d.allowRWFn(pid, n, s)
}
func (d *fakeDriver) AllowReadOnly(pid ProcessID, n uint32, s AppSlice) (AppSlice, error) {
	return d.allowROFn(pid, n, s)
}

type fakePlatform struct {
	drivers map[uint32]Driver
}

func (fp *fakePlatform) WithDriver(n uint32) (Driver, bool) {
	d, ok := fp.drivers[n]
	return d, ok
}

type filteringPlatform struct {
	*fakePlatform
	filterFn func(ProcessID, Syscall) (ErrorCode, bool)
}

func (fp *filteringPlatform) FilterSyscall(pid ProcessID, call Syscall) (ErrorCode, bool) {
	return fp.filterFn(pid, call)
}

func TestDispatchFilterRejectsBeforeDriverRuns(t *testing.T) {
	k := NewKernel(1)
	pid := k.AddProcess(0, newTestProcess("app", 16))
	called := false
	driver := &fakeDriver{
		commandFn: func(ProcessID, uint32, uintptr, uintptr) CommandReturn {
			called = true
			return CommandSuccess()
		},
	}
	platform := &filteringPlatform{
		fakePlatform: &fakePlatform{drivers: map[uint32]Driver{1: driver}},
		filterFn: func(ProcessID, Syscall) (ErrorCode, bool) {
			return ErrNoSupport, true
		},
	}

	ret, ok := k.Dispatch(pid, platform, CommandSyscall{DriverNum: 1, CmdNum: 0})
	if !ok {
		t.Fatal("expected a return value")
	}
	fail, isFail := ret.(ReturnFailure)
	if !isFail || fail.Err != ErrNoSupport {
		t.Fatalf("ret = %#v, want ReturnFailure{ErrNoSupport}", ret)
	}
	if called {
		t.Fatal("driver must not be invoked once the filter rejects the syscall")
	}
}

func TestDispatchFilterNeverConsultedForYieldExitMemop(t *testing.T) {
	k := NewKernel(1)
	p := newTestProcess("app", 16)
	pid := k.AddProcess(0, p)
	p.setState(Running)
	platform := &filteringPlatform{
		fakePlatform: &fakePlatform{drivers: map[uint32]Driver{}},
		filterFn: func(ProcessID, Syscall) (ErrorCode, bool) {
			t.Fatal("filter must not be consulted for Yield/Exit/Memop")
			return 0, false
		},
	}

	k.Dispatch(pid, platform, YieldSyscall{Mode: YieldWait})
	k.Dispatch(pid, platform, MemopSyscall{Op: MemopProcessMemoryStart})
	k.Dispatch(pid, platform, ExitSyscall{Terminate: true})
}

func TestDispatchCommandUnknownDriver(t *testing.T) {
	k := NewKernel(1)
	pid := k.AddProcess(0, newTestProcess("app", 16))
	platform := &fakePlatform{drivers: map[uint32]Driver{}}

	ret, ok := k.Dispatch(pid, platform, CommandSyscall{DriverNum: 99})
	if !ok {
		t.Fatal("expected a return value")
	}
	fail, isFail := ret.(ReturnFailure)
	if !isFail || fail.Err != ErrNoDevice {
		t.Fatalf("ret = %#v, want ReturnFailure{ErrNoDevice}", ret)
	}
}

func TestDispatchCommandSuccess(t *testing.T) {
	k := NewKernel(1)
	pid := k.AddProcess(0, newTestProcess("app", 16))
	driver := &fakeDriver{
		commandFn: func(ProcessID, uint32, uintptr, uintptr) CommandReturn {
			return CommandSuccessU32(42)
		},
	}
	platform := &fakePlatform{drivers: map[uint32]Driver{1: driver}}

	ret, ok := k.Dispatch(pid, platform, CommandSyscall{DriverNum: 1, CmdNum: 0})
	if !ok {
		t.Fatal("expected a return value")
	}
	success, isSuccess := ret.(ReturnSuccessU32)
	if !isSuccess || success.Data0 != 42 {
		t.Fatalf("ret = %#v, want ReturnSuccessU32{42}", ret)
	}
}

func TestDispatchCommandSuccessU32ZeroKeepsDataWord(t *testing.T) {
	k := NewKernel(1)
	pid := k.AddProcess(0, newTestProcess("app", 16))
	driver := &fakeDriver{
		commandFn: func(ProcessID, uint32, uintptr, uintptr) CommandReturn {
			return CommandSuccessU32(0)
		},
	}
	platform := &fakePlatform{drivers: map[uint32]Driver{1: driver}}

	ret, ok := k.Dispatch(pid, platform, CommandSyscall{DriverNum: 1, CmdNum: 0})
	if !ok {
		t.Fatal("expected a return value")
	}
	success, isSuccess := ret.(ReturnSuccessU32)
	if !isSuccess || success.Data0 != 0 {
		t.Fatalf("ret = %#v, want ReturnSuccessU32{0}, not the zero-argument ReturnSuccess shape", ret)
	}
}

func TestDispatchSubscribeDropsStaleUpcalls(t *testing.T) {
	k := NewKernel(1)
	p := newTestProcess("app", 16)
	pid := k.AddProcess(0, p)

	id := UpcallID{DriverNum: 1, SubscribeNum: 0}
	p.enqueueTask(FunctionCall{PC: 0xDEAD, Source: FunctionCallSource{UpcallID: id}})

	driver := &fakeDriver{
		subscribeFn: func(pid ProcessID, sub uint32, up Upcall) (Upcall, error) {
			return NullUpcall(pid, up.ID()), nil
		},
	}
	platform := &fakePlatform{drivers: map[uint32]Driver{1: driver}}

	newUpcall := NewUpcall(pid, id, 0, 0xBEEF)
	_, ok := k.Dispatch(pid, platform, SubscribeSyscall{DriverNum: 1, SubscribeNum: 0, Upcall: newUpcall})
	if !ok {
		t.Fatal("expected a return value")
	}
	if p.HasTasks() {
		t.Fatal("stale upcall task should have been dropped by Subscribe")
	}
}

func TestDispatchYieldWaitSetsYieldedState(t *testing.T) {
	k := NewKernel(1)
	p := newTestProcess("app", 16)
	pid := k.AddProcess(0, p)
	p.setState(Running)

	_, hasReturn := k.Dispatch(pid, nil, YieldSyscall{Mode: YieldWait})
	if hasReturn {
		t.Fatal("Yield should never produce a syscall return value")
	}
	if p.State() != Yielded {
		t.Fatalf("state = %s, want Yielded", p.State())
	}
}

func TestDispatchYieldNoWaitWritesFlagByte(t *testing.T) {
	k := NewKernel(1)
	p := newTestProcess("app", 16)
	pid := k.AddProcess(0, p)
	p.setState(Running)

	k.Dispatch(pid, nil, YieldSyscall{Mode: YieldNoWait, Address: 0})
	if p.mem[0] != 0 {
		t.Fatalf("flag byte = %d, want 0 with no pending task", p.mem[0])
	}

	p.enqueueTask(FunctionCall{PC: 1})
	k.Dispatch(pid, nil, YieldSyscall{Mode: YieldNoWait, Address: 0})
	if p.mem[0] != 1 {
		t.Fatalf("flag byte = %d, want 1 with a pending task", p.mem[0])
	}
	if !p.HasTasks() {
		t.Fatal("Yield-NoWait must not consume the queued task, only report it")
	}
}

func TestDispatchReadWriteAllowOutOfRangeRejected(t *testing.T) {
	k := NewKernel(1)
	pid := k.AddProcess(0, newTestProcess("app", 16))
	called := false
	driver := &fakeDriver{
		allowRWFn: func(ProcessID, uint32, AppSlice) (AppSlice, error) {
			called = true
			return AppSlice{}, nil
		},
	}
	platform := &fakePlatform{drivers: map[uint32]Driver{1: driver}}

	ret, ok := k.Dispatch(pid, platform, ReadWriteAllowSyscall{DriverNum: 1, Addr: 10, Size: 10})
	if !ok {
		t.Fatal("expected a return value")
	}
	fail, isFail := ret.(ReturnAllowFailure)
	if !isFail || fail.Err != ErrInval || fail.Ptr != 10 || fail.Len != 10 {
		t.Fatalf("ret = %#v, want ReturnAllowFailure{ErrInval, 10, 10}", ret)
	}
	if called {
		t.Fatal("driver must not be invoked for an out-of-range allow window")
	}
}

func TestDispatchReadWriteAllowSuccessRoundTripsPreviousSlice(t *testing.T) {
	k := NewKernel(1)
	pid := k.AddProcess(0, newTestProcess("app", 16))
	held := AppSlice{}
	driver := &fakeDriver{
		allowRWFn: func(_ ProcessID, _ uint32, s AppSlice) (AppSlice, error) {
			old := held
			held = s
			return old, nil
		},
	}
	platform := &fakePlatform{drivers: map[uint32]Driver{1: driver}}

	ret, ok := k.Dispatch(pid, platform, ReadWriteAllowSyscall{DriverNum: 1, Addr: 0, Size: 4})
	if !ok {
		t.Fatal("expected a return value")
	}
	success, isSuccess := ret.(ReturnAllowSuccess)
	if !isSuccess || success.Ptr != 0 || success.Len != 0 {
		t.Fatalf("ret = %#v, want ReturnAllowSuccess{0,0} (empty slice the first time)", ret)
	}

	ret2, _ := k.Dispatch(pid, platform, ReadWriteAllowSyscall{DriverNum: 1, Addr: 4, Size: 4})
	success2 := ret2.(ReturnAllowSuccess)
	if success2.Ptr != 0 || success2.Len != 4 {
		t.Fatalf("ret2 = %#v, want the first call's (0,4) window echoed back", ret2)
	}
}

func TestDispatchReadOnlyAllowOutOfRangeRejected(t *testing.T) {
	k := NewKernel(1)
	pid := k.AddProcess(0, newTestProcess("app", 16))
	driver := &fakeDriver{
		allowROFn: func(ProcessID, uint32, AppSlice) (AppSlice, error) {
			t.Fatal("driver must not be invoked for an out-of-range allow window")
			return AppSlice{}, nil
		},
	}
	platform := &fakePlatform{drivers: map[uint32]Driver{1: driver}}

	ret, ok := k.Dispatch(pid, platform, ReadOnlyAllowSyscall{DriverNum: 1, Addr: 20, Size: 1})
	if !ok {
		t.Fatal("expected a return value")
	}
	fail, isFail := ret.(ReturnAllowFailure)
	if !isFail || fail.Err != ErrInval {
		t.Fatalf("ret = %#v, want ReturnAllowFailure{ErrInval, ...}", ret)
	}
}

func TestDispatchExitTerminateDrainsWork(t *testing.T) {
	k := NewKernel(1)
	p := newTestProcess("app", 16)
	pid := k.AddProcess(0, p)
	p.setState(Running)
	p.enqueueTask(FunctionCall{PC: 1})
	k.incrementWork() // for the running process itself
	k.incrementWork() // for the queued upcall

	k.Dispatch(pid, nil, ExitSyscall{Terminate: true})

	if p.State() != Terminated {
		t.Fatalf("state = %s, want Terminated", p.State())
	}
	if k.WorkCount() != 0 {
		t.Fatalf("WorkCount = %d, want 0 after exit drained all outstanding work", k.WorkCount())
	}
}
