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

import "sync"

// grantCell is a single process's storage slot for one grant: the value (nil
// until first entered) and a busy bit guarding against reentrant Enter calls
// on the same process.
type grantCell struct {
	mu    sync.Mutex
	busy  bool
	value any
}

// Grant[T] is a capsule's per-process storage handle, allocated once at boot
// via Kernel.CreateGrant and then indexed implicitly by ProcessID on every
// Enter call. Unlike the Rust original, Go has no way to hand a capsule raw,
// unallocated per-process memory to place a T into on first touch without a
// heap allocation; Grant[T] accepts that (documented in DESIGN.md) and keeps
// only the access discipline — one slot per process, non-reentrant entry —
// which is the part of the original design that actually matters for
// correctness.
type Grant[T any] struct {
	k     *Kernel
	index int
	zero  func() T
}

// createGrant is called by the generic CreateGrant free function below; it
// exists so Kernel need not be generic itself.
func (k *Kernel) createGrant() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.grantsFinalized {
		panic("kernel: CreateGrant called after grants were finalized")
	}
	idx := k.grantCount
	k.grantCount++
	return idx
}

// CreateGrant allocates a new grant of type T. zero is called to produce the
// initial value the first time a process's slot is entered; it takes the
// place of Rust's in-place "allocate and initialize" step, since Go has no
// analogous uninitialized-memory handle to hand back. Must be called during
// board setup, before the kernel boots any process (spec.md §9: all
// CreateGrant calls must precede GetGrantCountAndFinalize).
func CreateGrant[T any](k *Kernel, zero func() T) *Grant[T] {
	return &Grant[T]{k: k, index: k.createGrant(), zero: zero}
}

// Enter runs fn with exclusive access to this grant's slot for pid, creating
// the slot's value on first entry. It returns errNoSuchProcess if pid no
// longer names a live process and errAlreadyEntered if the same (grant,
// process) pair is already being entered higher up the call stack — Tock's
// non-reentrancy rule for grant access (spec.md §4.5).
func (g *Grant[T]) Enter(pid ProcessID, fn func(*T)) error {
	p := g.k.processEntry(pid)
	if p == nil {
		return errNoSuchProcess
	}
	cell := p.grantCell(g.index)
	if cell == nil {
		return errNoSuchProcess
	}
	cell.mu.Lock()
	if cell.busy {
		cell.mu.Unlock()
		return errAlreadyEntered
	}
	cell.busy = true
	if cell.value == nil {
		cell.value = g.zero()
	}
	v := cell.value.(T)
	cell.mu.Unlock()

	fn(&v)

	cell.mu.Lock()
	cell.value = v
	cell.busy = false
	cell.mu.Unlock()
	return nil
}

// Each runs fn once for every live process that currently has an allocated
// (i.e. previously entered) slot for this grant, in process-table order.
// Unallocated slots are skipped, mirroring Tock's grant iterator, which
// never forces allocation just to iterate.
func (g *Grant[T]) Each(fn func(ProcessID, *T)) {
	g.k.processEach(func(p *Process) {
		cell := p.grantCell(g.index)
		if cell == nil {
			return
		}
		cell.mu.Lock()
		if cell.value == nil {
			cell.mu.Unlock()
			return
		}
		if cell.busy {
			cell.mu.Unlock()
			return
		}
		cell.busy = true
		v := cell.value.(T)
		cell.mu.Unlock()

		fn(p.ID(), &v)

		cell.mu.Lock()
		cell.value = v
		cell.busy = false
		cell.mu.Unlock()
	})
}
