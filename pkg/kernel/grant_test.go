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

type counterState struct {
	count int
}

func TestGrantEnterPersistsAcrossCalls(t *testing.T) {
	k := NewKernel(1)
	g := CreateGrant(k, func() *counterState { return &counterState{} })
	k.GetGrantCountAndFinalize()

	p := NewProcess("app", MemoryRegion{Size: 16}, 1, nil)
	pid := k.AddProcess(0, p)

	for i := 0; i < 3; i++ {
		err := g.Enter(pid, func(s **counterState) {
			(*s).count++
		})
		if err != nil {
			t.Fatalf("Enter #%d: %v", i, err)
		}
	}

	var got int
	if err := g.Enter(pid, func(s **counterState) { got = (*s).count }); err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("counter = %d, want 3", got)
	}
}

func TestGrantEnterRejectsReentrance(t *testing.T) {
	k := NewKernel(1)
	g := CreateGrant(k, func() int { return 0 })
	k.GetGrantCountAndFinalize()

	p := NewProcess("app", MemoryRegion{Size: 16}, 1, nil)
	pid := k.AddProcess(0, p)

	var innerErr error
	err := g.Enter(pid, func(*int) {
		innerErr = g.Enter(pid, func(*int) {
			t.Fatal("nested Enter body should never run")
		})
	})
	if err != nil {
		t.Fatalf("outer Enter failed: %v", err)
	}
	if innerErr != errAlreadyEntered {
		t.Fatalf("inner Enter error = %v, want errAlreadyEntered", innerErr)
	}
}

func TestGrantEnterNoSuchProcess(t *testing.T) {
	k := NewKernel(1)
	g := CreateGrant(k, func() int { return 0 })
	k.GetGrantCountAndFinalize()

	bogus := ProcessID{SlotIndex: 0, Generation: 999}
	err := g.Enter(bogus, func(*int) {})
	if err != errNoSuchProcess {
		t.Fatalf("err = %v, want errNoSuchProcess", err)
	}
}

func TestGrantEachSkipsUnallocatedSlots(t *testing.T) {
	k := NewKernel(2)
	g := CreateGrant(k, func() int { return 7 })
	k.GetGrantCountAndFinalize()

	p0 := NewProcess("a", MemoryRegion{Size: 16}, 1, nil)
	p1 := NewProcess("b", MemoryRegion{Size: 16}, 1, nil)
	k.AddProcess(0, p0)
	k.AddProcess(1, p1)

	// Only enter process 0's slot; process 1's grant storage stays
	// unallocated and Each must skip it rather than lazily allocating it.
	pid0 := p0.ID()
	if err := g.Enter(pid0, func(v *int) { *v = 42 }); err != nil {
		t.Fatal(err)
	}

	visited := 0
	g.Each(func(id ProcessID, v *int) {
		visited++
		if *v != 42 {
			t.Fatalf("unexpected value %d for visited process", *v)
		}
	})
	if visited != 1 {
		t.Fatalf("Each visited %d processes, want 1", visited)
	}
}
