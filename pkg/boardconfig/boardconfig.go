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

// Package boardconfig loads the static TOML board description a board
// reads at boot (SPEC_FULL.md §2.1/§6.1): the process table, the
// grant-consuming driver list, and the scheduler policy choice. This is
// the "statically configured" half of spec.md §1's opening sentence; it
// intentionally knows nothing about ELF parsing or process memory layout,
// both out of the core's scope per spec.md §1.
package boardconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ProcessSpec is one static process-table row: a named, pre-baked entry
// point used for demonstration and testing in place of ELF loading
// (SPEC_FULL.md §3.1).
type ProcessSpec struct {
	Name         string `toml:"name"`
	MemorySize   uint64 `toml:"memory_size"`
	EntryPC      uint64 `toml:"entry_pc"`
	Priority     int    `toml:"priority"`
}

// DriverSpec names a capsule to wire up and the driver number to register
// it under. Board-specific fields (e.g. button pin count) live in Params.
type DriverSpec struct {
	Kind       string         `toml:"kind"`
	DriverNum  uint32         `toml:"driver_num"`
	Params     map[string]any `toml:"params"`
}

// SchedulerSpec selects one of pkg/sched's policies and its parameters.
type SchedulerSpec struct {
	Policy               string `toml:"policy"` // "cooperative" | "roundrobin" | "priority"
	TimesliceUs          uint32 `toml:"timeslice_us"`
	MaxConsecutiveFaults int    `toml:"max_consecutive_faults"` // restart policy (spec.md §7); 0 means never restart
}

// Config is the root of a board.toml file.
type Config struct {
	NumProcessSlots int           `toml:"num_process_slots"`
	TraceSyscalls   bool          `toml:"trace_syscalls"`
	StateDir        string        `toml:"state_dir"` // simulated hardware state directory; empty means no cross-process exclusivity lock
	Scheduler       SchedulerSpec `toml:"scheduler"`
	Processes       []ProcessSpec `toml:"process"`
	Drivers         []DriverSpec  `toml:"driver"`
}

// Load parses the board configuration at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("boardconfig: loading %s: %w", path, err)
	}
	if cfg.NumProcessSlots <= 0 {
		return nil, fmt.Errorf("boardconfig: %s: num_process_slots must be positive", path)
	}
	return &cfg, nil
}

// Decode parses board configuration already in memory, for tests that
// don't want to touch the filesystem.
func Decode(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("boardconfig: decoding inline config: %w", err)
	}
	if cfg.NumProcessSlots <= 0 {
		return nil, fmt.Errorf("boardconfig: num_process_slots must be positive")
	}
	return &cfg, nil
}
