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

// Package button implements the GPIO-button driver illustrated by spec.md
// §4.5: a 1:1 port of the original Tock capsule's subscribe/command shape
// over a simulated pin array instead of real GPIO silicon.
package button

import (
	"github.com/tockgo/tockgo/pkg/kernel"
)

// DRIVER_NUM is the well-known driver number boards register this capsule
// under (spec.md §6's "driver numbering").
const DRIVER_NUM uint32 = 3

// ActivationMode records whether a pin reads "pressed" on high or low,
// mirroring Tock's gpio::ActivationMode.
type ActivationMode int

const (
	ActiveHigh ActivationMode = iota
	ActiveLow
)

// Pin is one board button: which GPIO line it sits on, its activation
// polarity, and whether it needs an internal pull resistor. Pins is the
// static table a board passes to New, equivalent to the `&'a [(pin,
// ActivationMode, FloatingState)]` slice the Rust capsule takes.
type Pin struct {
	Name       string
	Mode       ActivationMode
	PullUp     bool
	stateFn    func() bool
}

// NewSimulatedPin builds a Pin whose state is read from a function instead
// of real hardware, for use by pkg/chip's host simulation and by tests.
func NewSimulatedPin(name string, mode ActivationMode, read func() bool) Pin {
	return Pin{Name: name, Mode: mode, stateFn: read}
}

func (p Pin) read() bool {
	if p.stateFn == nil {
		return false
	}
	return p.stateFn()
}

// appData is the per-process grant slot: the subscribed upcall and the
// bitset of pins this process has enabled interrupts on (Tock's
// `SubscribeMap`).
type appData struct {
	upcall kernel.Upcall
	mask   uint32
}

// Button is the capsule itself: a fixed pin table plus one grant slot per
// process, exactly mirroring `capsules::button::Button` in
// original_source/capsules/src/button.rs.
type Button struct {
	pins  []Pin
	apps  *kernel.Grant[appData]
	k     *kernel.Kernel
}

var _ kernel.Driver = (*Button)(nil)

// New registers a grant on k and returns a Button driving the given pin
// table. Must be called before k.GetGrantCountAndFinalize (spec.md §9).
func New(k *kernel.Kernel, pins []Pin) *Button {
	b := &Button{pins: pins, k: k}
	b.apps = kernel.CreateGrant(k, func() appData { return appData{} })
	return b
}

func (b *Button) buttonState(pinNum uint32) bool {
	pin := b.pins[pinNum]
	active := pin.read()
	if pin.Mode == ActiveLow {
		return !active
	}
	return active
}

// Subscribe installs the pin-interrupt upcall (subscribe_num 0 only).
func (b *Button) Subscribe(pid kernel.ProcessID, subscribeNum uint32, callback kernel.Upcall) (kernel.Upcall, error) {
	if subscribeNum != 0 {
		return callback, errNoSupport
	}
	var old kernel.Upcall
	err := b.apps.Enter(pid, func(a *appData) {
		old, a.upcall = a.upcall, callback
	})
	if err != nil {
		return callback, err
	}
	return old, nil
}

// Command implements commands 0 (button count), 1 (enable interrupt), 2
// (disable interrupt), 3 (read state), exactly the numbering
// original_source/capsules/src/button.rs documents.
func (b *Button) Command(pid kernel.ProcessID, cmdNum uint32, data, _ uintptr) kernel.CommandReturn {
	switch cmdNum {
	case 0:
		return kernel.CommandSuccessU32(uintptr(len(b.pins)))

	case 1:
		idx := uint32(data)
		if idx >= uint32(len(b.pins)) {
			return kernel.CommandFailure(kernel.ErrInval)
		}
		var ret kernel.CommandReturn
		err := b.apps.Enter(pid, func(a *appData) {
			a.mask |= 1 << idx
			ret = kernel.CommandSuccess()
		})
		if err != nil {
			return kernel.CommandFailure(toErrorCode(err))
		}
		return ret

	case 2:
		idx := uint32(data)
		if idx >= uint32(len(b.pins)) {
			return kernel.CommandFailure(kernel.ErrInval)
		}
		var ret kernel.CommandReturn
		err := b.apps.Enter(pid, func(a *appData) {
			a.mask &^= 1 << idx
			ret = kernel.CommandSuccess()
		})
		if err != nil {
			ret = kernel.CommandFailure(toErrorCode(err))
		}

		// Count the processes that still have this pin enabled — the same
		// sweep-on-disable the button.rs command 2 handler uses (spec.md
		// §4.5, §8 scenario 3).
		interested := 0
		b.apps.Each(func(_ kernel.ProcessID, a *appData) {
			if a.mask&(1<<idx) != 0 {
				interested++
			}
		})
		// The simulation keeps no pin interrupt state, so the count is not
		// used: nothing is disabled when it is zero.
		return ret

	case 3:
		idx := uint32(data)
		if idx >= uint32(len(b.pins)) {
			return kernel.CommandFailure(kernel.ErrInval)
		}
		state := b.buttonState(idx)
		var v uintptr
		if state {
			v = 1
		}
		return kernel.CommandSuccessU32(v)

	default:
		return kernel.CommandFailure(kernel.ErrNoSupport)
	}
}

// AllowReadWrite and AllowReadOnly are not exposed by the button driver
// (original_source/capsules/src/button.rs never implements allow_*); both
// reject with NOSUPPORT so the dispatcher's Allow path has a defined
// failure for a driver that only exercises subscribe/command.
func (b *Button) AllowReadWrite(kernel.ProcessID, uint32, kernel.AppSlice) (kernel.AppSlice, error) {
	return kernel.AppSlice{}, errNoSupport
}

func (b *Button) AllowReadOnly(kernel.ProcessID, uint32, kernel.AppSlice) (kernel.AppSlice, error) {
	return kernel.AppSlice{}, errNoSupport
}

// Fired delivers a pin-state-change upcall to every process currently
// interested in pinNum, as original_source/capsules/src/button.rs's `fired`
// client callback does. When no process is interested nothing else
// happens: the simulation keeps no pin interrupt state to disable.
func (b *Button) Fired(pinNum uint32) {
	state := b.buttonState(pinNum)
	var stateArg uintptr
	if state {
		stateArg = 1
	}
	interested := 0
	b.apps.Each(func(pid kernel.ProcessID, a *appData) {
		if a.mask&(1<<pinNum) != 0 {
			interested++
			a.upcall.Schedule(b.k, uintptr(pinNum), stateArg, 0)
		}
	})
	// interested == 0 here means every subscriber for this pin is gone;
	// a real chip would disable the line's interrupt at this point.
	_ = interested
}

type buttonError struct{ msg string }

func (e *buttonError) Error() string { return e.msg }
func (e *buttonError) AsErrorCode() kernel.ErrorCode { return kernel.ErrNoSupport }

var errNoSupport = &buttonError{"button: unsupported subscribe/command number"}

func toErrorCode(err error) kernel.ErrorCode {
	type coder interface{ AsErrorCode() kernel.ErrorCode }
	if c, ok := err.(coder); ok {
		return c.AsErrorCode()
	}
	return kernel.ErrFail
}
