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

// IPCModule turns an IPCTask into the FunctionCall that should be installed
// as the notified process's next entry point. Tock's IPC mechanism is
// itself just a capsule with a well-known driver number; the core kernel's
// only dependency on it is this one conversion, needed because IPCTask
// carries a peer ProcessID rather than the raw PC/argument words a
// FunctionCall needs (spec.md §3, §4.3).
type IPCModule interface {
	Dispatch(target ProcessID, task IPCTask) FunctionCall
}

// installTask installs t as p's next entry point, decrementing the work
// counter exactly when the task represented outstanding work: every
// non-kernel-sourced FunctionCall and every IPCTask came from an
// Upcall.Schedule or an IPC notification, both of which incremented work
// when they were enqueued (spec.md §3's work-counter invariant).
func (k *Kernel) installTask(p *Process, t Task) {
	switch v := t.(type) {
	case FunctionCall:
		p.SetProcessFunction(v)
		if !v.Source.Kernel {
			k.decrementWork()
		}
	case IPCTask:
		if k.ipc == nil {
			panic("kernel: IPC task dispatched to " + p.ID().String() + " but no IPC module is configured")
		}
		fc := k.ipc.Dispatch(p.ID(), v)
		p.SetProcessFunction(fc)
		k.decrementWork()
	default:
		panic("kernel: unknown task type installed")
	}
}
