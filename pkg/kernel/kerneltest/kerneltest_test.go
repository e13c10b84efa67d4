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

package kerneltest_test

import (
	"errors"
	"testing"

	"github.com/tockgo/tockgo/pkg/kernel"
	"github.com/tockgo/tockgo/pkg/kernel/kerneltest"
)

func TestAlwaysRestartAgreesRegardlessOfFaultCount(t *testing.T) {
	p := kernel.NewProcess("app", kernel.MemoryRegion{}, 0, kerneltest.AlwaysRestart{})
	for i := 0; i < 5; i++ {
		p.SetFaultState()
		if !p.RestartPolicy().ShouldRestart(p, p.FaultCount()) {
			t.Fatalf("AlwaysRestart.ShouldRestart after %d fault(s) = false, want true", i+1)
		}
	}
}

func TestNeverRestartAlwaysDeclines(t *testing.T) {
	p := kernel.NewProcess("app", kernel.MemoryRegion{}, 0, kerneltest.NeverRestart{})
	p.SetFaultState()
	if p.RestartPolicy().ShouldRestart(p, p.FaultCount()) {
		t.Fatal("NeverRestart.ShouldRestart = true, want false")
	}
}

// TestPlatformFaultHookDefaultsToDeclining checks the fake's documented
// default: a Platform with no FaultHookFn set still satisfies FaultHook
// (so dispatch's type assertion succeeds) but always declines, matching
// what a Platform that never implemented the capability does.
func TestPlatformFaultHookDefaultsToDeclining(t *testing.T) {
	platform := kerneltest.NewPlatform()
	var pid kernel.ProcessID
	p := kernel.NewProcess("app", kernel.MemoryRegion{}, 0, nil)

	if err := platform.HandleFault(pid, p); err == nil {
		t.Fatal("HandleFault with no FaultHookFn = nil, want a non-nil decline error")
	}
}

func TestPlatformFaultHookDelegatesToFn(t *testing.T) {
	wantErr := errors.New("boom")
	platform := kerneltest.NewPlatform()
	platform.FaultHookFn = func(kernel.ProcessID, *kernel.Process) error { return wantErr }

	var pid kernel.ProcessID
	p := kernel.NewProcess("app", kernel.MemoryRegion{}, 0, nil)
	if err := platform.HandleFault(pid, p); err != wantErr {
		t.Fatalf("HandleFault = %v, want %v", err, wantErr)
	}
}
