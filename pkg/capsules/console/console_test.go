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

package console

import (
	"testing"

	"github.com/tockgo/tockgo/pkg/kernel"
)

func newTestProcess(k *kernel.Kernel, slot int, numGrants int) kernel.ProcessID {
	p := kernel.NewProcess("test", kernel.MemoryRegion{Size: 4096}, numGrants, nil)
	return k.AddProcess(slot, p)
}

func TestWriteWithoutAllowedBufferIsInval(t *testing.T) {
	k := kernel.NewKernel(1)
	c, err := New(k)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	n := k.GetGrantCountAndFinalize()
	pid := newTestProcess(k, 0, n)

	ret := c.Command(pid, CmdWrite, 0, 0)
	if ret.Success || ret.Err != kernel.ErrInval {
		t.Fatalf("Command(CmdWrite) with no allowed buffer = %+v, want INVAL failure", ret)
	}
}

func TestWriteSendsAllowedBufferToPty(t *testing.T) {
	k := kernel.NewKernel(1)
	c, err := New(k)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	n := k.GetGrantCountAndFinalize()
	pid := newTestProcess(k, 0, n)

	msg := []byte("hello\n")
	if _, err := c.AllowReadOnly(pid, 0, kernel.AppSlice{Size: uintptr(len(msg)), Bytes: msg}); err != nil {
		t.Fatalf("AllowReadOnly: %v", err)
	}

	ret := c.Command(pid, CmdWrite, 0, 0)
	if !ret.Success || ret.Data0 != uintptr(len(msg)) {
		t.Fatalf("Command(CmdWrite) = %+v, want success(%d)", ret, len(msg))
	}
}

func TestDeliverReadToArmedProcess(t *testing.T) {
	k := kernel.NewKernel(1)
	c, err := New(k)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	n := k.GetGrantCountAndFinalize()
	pid := newTestProcess(k, 0, n)

	upID := kernel.UpcallID{DriverNum: DRIVER_NUM, SubscribeNum: SubscribeReadDone}
	if _, err := c.Subscribe(pid, SubscribeReadDone, kernel.NewUpcall(pid, upID, 0, 1)); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	readBuf := make([]byte, 16)
	if _, err := c.AllowReadWrite(pid, 0, kernel.AppSlice{Size: uintptr(len(readBuf)), Bytes: readBuf}); err != nil {
		t.Fatalf("AllowReadWrite: %v", err)
	}

	if ret := c.Command(pid, CmdReadArm, 0, 0); !ret.Success {
		t.Fatalf("Command(CmdReadArm) = %+v, want success", ret)
	}

	c.DeliverRead([]byte("hi"))

	p, _ := k.ProcessAt(0)
	if !p.HasTasks() {
		t.Fatal("DeliverRead did not schedule the read-completion upcall")
	}
}

func TestDeliverReadWithoutArmedReaderIsDropped(t *testing.T) {
	k := kernel.NewKernel(1)
	c, err := New(k)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	k.GetGrantCountAndFinalize()

	// No process ever armed a read: DeliverRead must not panic and must not
	// schedule anything.
	c.DeliverRead([]byte("ignored"))
}
