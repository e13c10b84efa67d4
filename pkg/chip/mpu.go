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

package chip

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tockgo/tockgo/pkg/kernel"
)

// MPU simulates the board's memory protection unit. It has no actual
// memory-isolation effect on the host process (Go already isolates process
// memory from itself); what it does enforce is the enable/disable pairing
// invariant the execution routine depends on (spec.md §3, §4.3, §8) —
// calling Enable twice without an intervening Disable, or vice versa, is a
// kernel bug, and this implementation says so loudly rather than silently
// tolerating it.
type MPU struct {
	mu       sync.Mutex
	enabled  bool
	region   kernel.MemoryRegion
	log      *logrus.Entry
}

var _ kernel.MPU = (*MPU)(nil)

func NewMPU(log *logrus.Entry) *MPU {
	return &MPU{log: log}
}

func (m *MPU) Configure(r kernel.MemoryRegion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.region = r
	m.log.WithFields(logrus.Fields{
		"base": r.Base,
		"size": r.Size,
	}).Trace("mpu configured")
}

func (m *MPU) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		panic("chip: MPU.Enable called without an intervening Disable")
	}
	m.enabled = true
}

func (m *MPU) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		panic("chip: MPU.Disable called without a matching Enable")
	}
	m.enabled = false
}
