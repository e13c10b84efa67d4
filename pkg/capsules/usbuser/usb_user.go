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

// Package usbuser implements the USB-controller syscall driver illustrated
// by spec.md §4.5: a 1:1 port of
// original_source/capsules/src/usb/usb_user.rs's single-in-flight-request,
// synchronous-completion model.
package usbuser

import (
	"sync"

	"github.com/tockgo/tockgo/pkg/kernel"
)

// DRIVER_NUM is the well-known driver number for the USB user driver
// (spec.md §6).
const DRIVER_NUM uint32 = 9

// Controller is the USB-controller collaborator this capsule drives. It
// stands in for `hil::usb::Client` in original_source's usb_user.rs: out of
// this module's scope per spec.md §1 ("USB controller internals"), reduced
// here to exactly the two operations the capsule calls.
type Controller interface {
	Enable()
	Attach()
}

// request is the sum of requests an app may have outstanding. Only one
// variant exists today, matching the Rust source's single-variant enum.
type request int

const (
	requestNone request = iota
	requestEnableAndAttach
)

// app is the per-process grant slot: the completion callback and the
// request currently awaiting service, mirroring usb_user.rs's `App`.
type app struct {
	callback kernel.Upcall
	awaiting request
}

// Driver is the USB user-facing syscall driver.
type Driver struct {
	mu         sync.Mutex
	controller Controller
	apps       *kernel.Grant[app]
	k          *kernel.Kernel
	serving    bool
}

var _ kernel.Driver = (*Driver)(nil)

// New registers a grant on k and returns a Driver fronting controller. Must
// be called before k.GetGrantCountAndFinalize (spec.md §9).
func New(k *kernel.Kernel, controller Controller) *Driver {
	d := &Driver{controller: controller, k: k}
	d.apps = kernel.CreateGrant(k, func() app { return app{} })
	return d
}

// Subscribe installs the completion callback (subscribe_num 0 only).
func (d *Driver) Subscribe(pid kernel.ProcessID, subscribeNum uint32, callback kernel.Upcall) (kernel.Upcall, error) {
	if subscribeNum != 0 {
		return callback, errNoSupport
	}
	var old kernel.Upcall
	err := d.apps.Enter(pid, func(a *app) {
		old, a.callback = a.callback, callback
	})
	if err != nil {
		return callback, err
	}
	return old, nil
}

// Command implements command 0 (present) and command 1 (enable+attach),
// the numbering spec.md §6 documents.
func (d *Driver) Command(pid kernel.ProcessID, cmdNum uint32, _, _ uintptr) kernel.CommandReturn {
	switch cmdNum {
	case 0:
		return kernel.CommandSuccess()

	case 1:
		var busy bool
		err := d.apps.Enter(pid, func(a *app) {
			if a.awaiting != requestNone {
				busy = true
				return
			}
			a.awaiting = requestEnableAndAttach
		})
		if err != nil {
			return kernel.CommandFailure(toErrorCode(err))
		}
		if busy {
			return kernel.CommandFailure(kernel.ErrBusy)
		}
		d.serveWaitingApps()
		return kernel.CommandSuccess()

	default:
		return kernel.CommandFailure(kernel.ErrNoSupport)
	}
}

func (d *Driver) AllowReadWrite(kernel.ProcessID, uint32, kernel.AppSlice) (kernel.AppSlice, error) {
	return kernel.AppSlice{}, errNoSupport
}

func (d *Driver) AllowReadOnly(kernel.ProcessID, uint32, kernel.AppSlice) (kernel.AppSlice, error) {
	return kernel.AppSlice{}, errNoSupport
}

// serveWaitingApps is the 1:1 port of usb_user.rs's `serve_waiting_apps`:
// if an operation on the controller is already in progress, it no-ops
// (spec.md §8 scenario 4); otherwise it finds the first app with a pending
// request, performs the operation synchronously, schedules the completion
// callback, and clears the request — the "synchronous-callback model"
// decision recorded in DESIGN.md for spec.md §9's open question about
// serving_app.
func (d *Driver) serveWaitingApps() {
	d.mu.Lock()
	if d.serving {
		d.mu.Unlock()
		return
	}
	d.serving = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.serving = false
		d.mu.Unlock()
	}()

	served := false
	d.apps.Each(func(pid kernel.ProcessID, a *app) {
		if served || a.awaiting == requestNone {
			return
		}
		switch a.awaiting {
		case requestEnableAndAttach:
			d.controller.Enable()
			d.controller.Attach()
			a.callback.Schedule(d.k, 0, 0, 0)
			a.awaiting = requestNone
			served = true
		}
	})
}

type usbError struct{ msg string }

func (e *usbError) Error() string                    { return e.msg }
func (e *usbError) AsErrorCode() kernel.ErrorCode { return kernel.ErrNoSupport }

var errNoSupport = &usbError{"usbuser: unsupported subscribe/command number"}

func toErrorCode(err error) kernel.ErrorCode {
	type coder interface{ AsErrorCode() kernel.ErrorCode }
	if c, ok := err.(coder); ok {
		return c.AsErrorCode()
	}
	return kernel.ErrFail
}
