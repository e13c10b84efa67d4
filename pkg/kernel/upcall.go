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

// UpcallID names a subscription slot: a (driver, subdriver) pair, exactly as
// spec.md §3 defines it.
type UpcallID struct {
	DriverNum    uint32
	SubscribeNum uint32
}

// Upcall is the four-word record spec.md §3 specifies: which process it
// targets, which subscription produced it, the userdata the process handed
// over at Subscribe time, and the function pointer to invoke. A zero Fn is
// the "null upcall": scheduling it is defined to be a no-op.
type Upcall struct {
	pid      ProcessID
	id       UpcallID
	userData uintptr
	fn       uintptr
}

// NewUpcall builds a live Upcall around a non-null function pointer.
func NewUpcall(pid ProcessID, id UpcallID, userData uintptr, fn uintptr) Upcall {
	return Upcall{pid: pid, id: id, userData: userData, fn: fn}
}

// NullUpcall builds the "nothing installed" Upcall for id. It is what
// Subscribe installs when userspace passes a null function pointer, and
// what a fresh Grant[T] field zero-value represents before the process ever
// subscribes.
func NullUpcall(pid ProcessID, id UpcallID) Upcall {
	return Upcall{pid: pid, id: id}
}

// IsNull reports whether the upcall has no installed function pointer.
func (u Upcall) IsNull() bool { return u.fn == 0 }

// ID returns the (driver, subdriver) pair this upcall is registered under.
func (u Upcall) ID() UpcallID { return u.id }

// UserData returns the opaque word the process supplied at Subscribe time.
func (u Upcall) UserData() uintptr { return u.userData }

// Ptr returns the raw function pointer, or 0 for a null upcall. It is the
// value echoed back to userspace in a SubscribeSuccess/SubscribeFailure
// return (spec.md §6).
func (u Upcall) Ptr() uintptr { return u.fn }

// Schedule enqueues this upcall as a FunctionCall task on its target
// process, passing arg0/arg1/arg2 and the stored userdata as the fourth
// argument (button.rs's `cntr.0.schedule(pin_num, state, 0)` call shape).
// Scheduling a null upcall is a no-op, per spec.md §3. Schedule reports
// whether a task was actually enqueued (false for a null upcall or a
// process that no longer exists), and increments the kernel's work counter
// exactly when it enqueues one, preserving the work-counter invariant
// (spec.md §3: work == running processes + pending upcalls).
func (u Upcall) Schedule(k *Kernel, arg0, arg1, arg2 uintptr) bool {
	if u.IsNull() {
		return false
	}
	p := k.processEntry(u.pid)
	if p == nil {
		return false
	}
	p.enqueueTask(FunctionCall{
		Source: FunctionCallSource{Kernel: false, UpcallID: u.id},
		PC:     u.fn,
		Arg0:   arg0,
		Arg1:   arg1,
		Arg2:   arg2,
		Arg3:   u.userData,
	})
	k.incrementWork()
	return true
}
