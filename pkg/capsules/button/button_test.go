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

package button

import (
	"testing"

	"github.com/tockgo/tockgo/pkg/kernel"
)

func newTestProcess(k *kernel.Kernel, slot int, numGrants int) kernel.ProcessID {
	p := kernel.NewProcess("test", kernel.MemoryRegion{Size: 4096}, numGrants, nil)
	return k.AddProcess(slot, p)
}

func TestCommandZeroReturnsPinCount(t *testing.T) {
	k := kernel.NewKernel(1)
	pressed := false
	b := New(k, []Pin{NewSimulatedPin("b0", ActiveHigh, func() bool { return pressed })})
	n := k.GetGrantCountAndFinalize()
	pid := newTestProcess(k, 0, n)

	ret := b.Command(pid, 0, 0, 0)
	if !ret.Success || ret.Data0 != 1 {
		t.Fatalf("Command(0) = %+v, want success(1)", ret)
	}
}

func TestEnableThenFiredDeliversUpcall(t *testing.T) {
	k := kernel.NewKernel(1)
	pressed := true
	b := New(k, []Pin{NewSimulatedPin("b0", ActiveHigh, func() bool { return pressed })})
	n := k.GetGrantCountAndFinalize()
	pid := newTestProcess(k, 0, n)

	upID := kernel.UpcallID{DriverNum: DRIVER_NUM, SubscribeNum: 0}
	if _, err := b.Subscribe(pid, 0, kernel.NewUpcall(pid, upID, 0, 0xdead)); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ret := b.Command(pid, 1, 0, 0); !ret.Success {
		t.Fatalf("Command(1) enable failed: %+v", ret)
	}

	b.Fired(0)

	p, _ := k.ProcessAt(0)
	if !p.HasTasks() {
		t.Fatal("Fired did not enqueue an upcall task")
	}
}

func TestDisableSweepClearsMask(t *testing.T) {
	k := kernel.NewKernel(1)
	b := New(k, []Pin{NewSimulatedPin("b0", ActiveHigh, func() bool { return false })})
	n := k.GetGrantCountAndFinalize()
	pid := newTestProcess(k, 0, n)

	upID := kernel.UpcallID{DriverNum: DRIVER_NUM, SubscribeNum: 0}
	b.Subscribe(pid, 0, kernel.NewUpcall(pid, upID, 0, 1))
	b.Command(pid, 1, 0, 0)
	if ret := b.Command(pid, 2, 0, 0); !ret.Success {
		t.Fatalf("Command(2) disable failed: %+v", ret)
	}

	b.Fired(0)
	p, _ := k.ProcessAt(0)
	if p.HasTasks() {
		t.Fatal("Fired delivered an upcall to a disabled process")
	}
}

func TestCommandOutOfRangePinIsInval(t *testing.T) {
	k := kernel.NewKernel(1)
	b := New(k, []Pin{NewSimulatedPin("b0", ActiveHigh, func() bool { return false })})
	n := k.GetGrantCountAndFinalize()
	pid := newTestProcess(k, 0, n)

	ret := b.Command(pid, 1, 7, 0)
	if ret.Success || ret.Err != kernel.ErrInval {
		t.Fatalf("Command(1) with out-of-range pin = %+v, want failure with ErrInval", ret)
	}
}

func TestSubscribeWrongSlotRejected(t *testing.T) {
	k := kernel.NewKernel(1)
	b := New(k, []Pin{NewSimulatedPin("b0", ActiveHigh, func() bool { return false })})
	n := k.GetGrantCountAndFinalize()
	pid := newTestProcess(k, 0, n)

	_, err := b.Subscribe(pid, 1, kernel.Upcall{})
	if err == nil {
		t.Fatal("Subscribe(1) should be rejected, button only supports subscribe 0")
	}
}
