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

// Package console implements a UART/console driver over a host pty.
// Present in the wider Tock capsule set but outside the three retrieved
// source files (SPEC_FULL.md §4.7 [EXPANSION]), it gives the Allow syscalls
// (spec.md §4.4, §6) a concrete driver to dispatch into: button and usbuser
// only ever exercise subscribe/command.
package console

import (
	"os"
	"sync"

	"github.com/containerd/console"
	"github.com/kr/pty"

	"github.com/tockgo/tockgo/pkg/kernel"
)

// DRIVER_NUM is the well-known driver number for the console driver.
const DRIVER_NUM uint32 = 1

// Command numbers, following the same subscribe/command numbering
// convention the button and usbuser capsules use (SPEC_FULL.md §4.7).
const (
	// CmdWrite writes the process's currently-allowed read-only buffer to
	// the host pty.
	CmdWrite uint32 = 1
	// CmdReadArm arms a read: the bytes passed to the next DeliverRead call
	// are copied into the process's allowed read-write buffer and delivered
	// via subscribe 0. Console does not read the host pty itself.
	CmdReadArm uint32 = 2
)

// SubscribeReadDone is the subscribe number for the read-completion upcall.
const SubscribeReadDone uint32 = 0

// appData is the per-process grant slot: the two Allow-shared buffers and
// the read-completion callback.
type appData struct {
	writeBuf  kernel.AppSlice
	readBuf   kernel.AppSlice
	readUpcall kernel.Upcall
	readArmed bool
}

// Console drives one host pty on behalf of however many processes allow it
// their buffers; pty read bytes are delivered to whichever process most
// recently armed a read, mirroring Tock console's single-owner UART model.
type Console struct {
	mu        sync.Mutex
	pty       console.Console
	slave     *os.File
	apps      *kernel.Grant[appData]
	k         *kernel.Kernel
	reader    kernel.ProcessID
	hasReader bool
}

// New opens a host pty (kr/pty, the teacher's own pty-pair dependency) and
// wraps its master end with containerd/console (raw-mode/resize handling,
// the teacher's own terminal-management dependency), returning a Console
// registered against k. Must be called before k.GetGrantCountAndFinalize
// (spec.md §9).
func New(k *kernel.Kernel) (*Console, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	c, err := console.ConsoleFromFile(master)
	if err != nil {
		slave.Close()
		master.Close()
		return nil, err
	}
	cons := &Console{
		pty:   c,
		slave: slave,
		k:     k,
	}
	cons.apps = kernel.CreateGrant(k, func() appData { return appData{} })
	return cons, nil
}

// SlaveName returns the path of the pty's slave end, for a test harness or
// CLI operator to attach a terminal emulator to.
func (c *Console) SlaveName() string {
	return c.slave.Name()
}

// Close releases the host pty.
func (c *Console) Close() error {
	c.slave.Close()
	return c.pty.Close()
}

var _ kernel.Driver = (*Console)(nil)

func (c *Console) Subscribe(pid kernel.ProcessID, subscribeNum uint32, callback kernel.Upcall) (kernel.Upcall, error) {
	if subscribeNum != SubscribeReadDone {
		return callback, errNoSupport
	}
	var old kernel.Upcall
	err := c.apps.Enter(pid, func(a *appData) {
		old, a.readUpcall = a.readUpcall, callback
	})
	if err != nil {
		return callback, err
	}
	return old, nil
}

func (c *Console) Command(pid kernel.ProcessID, cmdNum uint32, _, _ uintptr) kernel.CommandReturn {
	switch cmdNum {
	case 0:
		return kernel.CommandSuccess()

	case CmdWrite:
		var buf []byte
		err := c.apps.Enter(pid, func(a *appData) {
			buf = append([]byte(nil), a.writeBuf.Bytes...)
		})
		if err != nil {
			return kernel.CommandFailure(toErrorCode(err))
		}
		if len(buf) == 0 {
			return kernel.CommandFailure(kernel.ErrInval)
		}
		if _, werr := c.pty.Write(buf); werr != nil {
			return kernel.CommandFailure(kernel.ErrFail)
		}
		return kernel.CommandSuccessU32(uintptr(len(buf)))

	case CmdReadArm:
		err := c.apps.Enter(pid, func(a *appData) {
			a.readArmed = true
		})
		if err != nil {
			return kernel.CommandFailure(toErrorCode(err))
		}
		c.mu.Lock()
		c.reader, c.hasReader = pid, true
		c.mu.Unlock()
		return kernel.CommandSuccess()

	default:
		return kernel.CommandFailure(kernel.ErrNoSupport)
	}
}

func (c *Console) AllowReadWrite(pid kernel.ProcessID, allowNum uint32, slice kernel.AppSlice) (kernel.AppSlice, error) {
	if allowNum != 0 {
		return slice, errNoSupport
	}
	var old kernel.AppSlice
	err := c.apps.Enter(pid, func(a *appData) {
		old, a.readBuf = a.readBuf, slice
	})
	if err != nil {
		return slice, err
	}
	return old, nil
}

func (c *Console) AllowReadOnly(pid kernel.ProcessID, allowNum uint32, slice kernel.AppSlice) (kernel.AppSlice, error) {
	if allowNum != 0 {
		return slice, errNoSupport
	}
	var old kernel.AppSlice
	err := c.apps.Enter(pid, func(a *appData) {
		old, a.writeBuf = a.writeBuf, slice
	})
	if err != nil {
		return slice, err
	}
	return old, nil
}

// DeliverRead copies data into the armed reader's read-write buffer and
// schedules its read-completion upcall, or drops the data if no process has
// armed a read — the console capsule's analogue of the button capsule's
// lazy-disable-when-nobody-listens rule (spec.md §5's "shared resources").
func (c *Console) DeliverRead(data []byte) {
	c.mu.Lock()
	pid, ok := c.reader, c.hasReader
	c.mu.Unlock()
	if !ok {
		return
	}
	c.apps.Each(func(p kernel.ProcessID, a *appData) {
		if p != pid || !a.readArmed {
			return
		}
		n := copy(a.readBuf.Bytes, data)
		a.readArmed = false
		a.readUpcall.Schedule(c.k, uintptr(n), 0, 0)
	})
}

type consoleError struct{ msg string }

func (e *consoleError) Error() string                    { return e.msg }
func (e *consoleError) AsErrorCode() kernel.ErrorCode { return kernel.ErrNoSupport }

var errNoSupport = &consoleError{"console: unsupported subscribe/command/allow number"}

func toErrorCode(err error) kernel.ErrorCode {
	type coder interface{ AsErrorCode() kernel.ErrorCode }
	if c, ok := err.(coder); ok {
		return c.AsErrorCode()
	}
	return kernel.ErrFail
}
