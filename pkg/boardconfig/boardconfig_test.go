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

package boardconfig

import "testing"

const sampleConfig = `
num_process_slots = 2
trace_syscalls = true

[scheduler]
policy = "roundrobin"
timeslice_us = 10000

[[process]]
name = "blink"
memory_size = 4096
entry_pc = 0
priority = 1

[[process]]
name = "blink2"
memory_size = 4096
entry_pc = 0
priority = 2

[[driver]]
kind = "button"
driver_num = 3

[[driver]]
kind = "usbuser"
driver_num = 9
`

func TestDecodeSampleConfig(t *testing.T) {
	cfg, err := Decode(sampleConfig)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.NumProcessSlots != 2 {
		t.Fatalf("NumProcessSlots = %d, want 2", cfg.NumProcessSlots)
	}
	if !cfg.TraceSyscalls {
		t.Fatal("TraceSyscalls = false, want true")
	}
	if cfg.Scheduler.Policy != "roundrobin" || cfg.Scheduler.TimesliceUs != 10000 {
		t.Fatalf("Scheduler = %+v, unexpected", cfg.Scheduler)
	}
	if len(cfg.Processes) != 2 || cfg.Processes[0].Name != "blink" {
		t.Fatalf("Processes = %+v, unexpected", cfg.Processes)
	}
	if len(cfg.Drivers) != 2 || cfg.Drivers[0].Kind != "button" || cfg.Drivers[1].DriverNum != 9 {
		t.Fatalf("Drivers = %+v, unexpected", cfg.Drivers)
	}
}

func TestDecodeRejectsZeroSlots(t *testing.T) {
	if _, err := Decode("num_process_slots = 0"); err == nil {
		t.Fatal("Decode accepted num_process_slots = 0")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/board.toml"); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}
