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

func newTestProcess(name string, memSize uintptr) *Process {
	return NewProcess(name, MemoryRegion{Base: 0x2000_0000, Size: memSize}, 0, nil)
}

func TestProcessReady(t *testing.T) {
	p := newTestProcess("app", 64)

	if p.Ready() {
		t.Fatal("Unstarted process with no tasks should not be ready")
	}
	p.enqueueTask(FunctionCall{PC: 0x100})
	if !p.Ready() {
		t.Fatal("Unstarted process with a queued task should be ready")
	}

	p.setState(Running)
	if !p.Ready() {
		t.Fatal("Running process should always be ready")
	}

	p.setState(Yielded)
	p.dequeueTask()
	if p.Ready() {
		t.Fatal("Yielded process with an empty queue should not be ready")
	}

	// Faulted/Terminated must report ready so the scheduler-invariant panic
	// in runProcess is reachable rather than silently absorbed here.
	p.setState(Faulted)
	if !p.Ready() {
		t.Fatal("Faulted process must report Ready so the invariant check fires")
	}
}

func TestProcessTaskQueueFIFO(t *testing.T) {
	p := newTestProcess("app", 64)
	p.enqueueTask(FunctionCall{PC: 1})
	p.enqueueTask(FunctionCall{PC: 2})
	p.enqueueTask(FunctionCall{PC: 3})

	for _, want := range []uintptr{1, 2, 3} {
		got, ok := p.dequeueTask()
		if !ok {
			t.Fatalf("expected a task, got none")
		}
		fc, ok := got.(FunctionCall)
		if !ok || fc.PC != want {
			t.Fatalf("dequeueTask = %#v, want PC %d", got, want)
		}
	}
	if _, ok := p.dequeueTask(); ok {
		t.Fatal("queue should be empty")
	}
}

func TestRemovePendingUpcallsDropsOnlyMatching(t *testing.T) {
	p := newTestProcess("app", 64)
	staleID := UpcallID{DriverNum: 1, SubscribeNum: 0}
	otherID := UpcallID{DriverNum: 1, SubscribeNum: 1}

	p.enqueueTask(FunctionCall{PC: 1, Source: FunctionCallSource{UpcallID: staleID}})
	p.enqueueTask(FunctionCall{PC: 2, Source: FunctionCallSource{UpcallID: otherID}})
	p.enqueueTask(FunctionCall{PC: 3, Source: FunctionCallSource{Kernel: true}})
	p.enqueueTask(FunctionCall{PC: 4, Source: FunctionCallSource{UpcallID: staleID}})

	p.RemovePendingUpcalls(staleID)

	if len(p.tasks) != 2 {
		t.Fatalf("expected 2 remaining tasks, got %d", len(p.tasks))
	}
	if fc := p.tasks[0].(FunctionCall); fc.PC != 2 {
		t.Fatalf("expected surviving task PC 2 first, got %d", fc.PC)
	}
	if fc := p.tasks[1].(FunctionCall); fc.PC != 3 {
		t.Fatalf("expected surviving kernel task PC 3 second, got %d", fc.PC)
	}
}

func TestBuildReadWriteAppSliceBounds(t *testing.T) {
	p := newTestProcess("app", 16)

	if _, ok := p.BuildReadWriteAppSlice(0, 16); !ok {
		t.Fatal("full-range slice should be valid")
	}
	if _, ok := p.BuildReadWriteAppSlice(10, 10); ok {
		t.Fatal("out-of-range slice should be rejected")
	}
	if slice, ok := p.BuildReadWriteAppSlice(5, 0); !ok || slice.Size != 0 {
		t.Fatal("zero-size slice should always be valid")
	}
}

func TestSetByteIgnoresInvalidAddress(t *testing.T) {
	p := newTestProcess("app", 4)
	p.SetByte(1000, 0xAB) // must not panic
	p.SetByte(0, 0xCD)
	if p.mem[0] != 0xCD {
		t.Fatal("in-range SetByte should write through")
	}
}
