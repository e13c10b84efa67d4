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

import "fmt"

// ProcessID is a stable handle to a process slot. It is a value, not a
// reference: holders (capsules, grants, upcalls) keep IDs, never pointers to
// a Process, which is what lets a driver hold on to "a process" across
// restarts without creating a reference cycle back into the Kernel (see
// DESIGN.md's note on process.go). An ID is valid only as long as the slot it
// names still holds a process with a matching Generation; Kernel re-checks
// this on every use rather than trusting the holder.
type ProcessID struct {
	SlotIndex  int
	Generation uint64
}

func (id ProcessID) String() string {
	return fmt.Sprintf("Process(%d.%d)", id.SlotIndex, id.Generation)
}

// IsValid reports whether id still refers to a live process in k.
func (id ProcessID) IsValid(k *Kernel) bool {
	return k.processIDIsValid(id)
}
