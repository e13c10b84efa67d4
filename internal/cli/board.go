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

package cli

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tockgo/tockgo/pkg/boardconfig"
	"github.com/tockgo/tockgo/pkg/capsules/button"
	"github.com/tockgo/tockgo/pkg/capsules/console"
	"github.com/tockgo/tockgo/pkg/capsules/usbuser"
	"github.com/tockgo/tockgo/pkg/chip"
	"github.com/tockgo/tockgo/pkg/kernel"
	"github.com/tockgo/tockgo/pkg/klog"
	"github.com/tockgo/tockgo/pkg/sched/cooperative"
	"github.com/tockgo/tockgo/pkg/sched/priority"
	"github.com/tockgo/tockgo/pkg/sched/roundrobin"
)

// usbcStub is the demo board's simulated USB controller: there is no real
// USBC to attach to on a host, so it only logs (SwitchToProcess.isn't used
// for USB — usbuser.Driver only calls Enable/Attach synchronously).
type usbcStub struct{}

func (usbcStub) Enable() { klog.Debugf("demo board: usb controller enabled") }
func (usbcStub) Attach() { klog.Debugf("demo board: usb controller attached") }

// demoScript is the scripted sequence of syscalls a board.toml process
// "executes": board.toml names a process but has no ELF to load (process
// loading is out of the core's scope, spec.md §1), so every configured
// process runs the same illustrative script, demonstrating the button
// capsule's subscribe/command/upcall path end to end (spec.md §4.5, §8
// scenario 3). Step 3 (Exit) only runs after the button's upcall fires and
// installs this process's next entry point.
type demoScript struct {
	mu     sync.Mutex
	cursor map[kernel.ProcessID]int
}

func newDemoScript() *demoScript {
	return &demoScript{cursor: make(map[kernel.ProcessID]int)}
}

func (s *demoScript) next(pid kernel.ProcessID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cursor[pid]
	s.cursor[pid] = n + 1
	return n
}

// demoChip embeds the host chip simulation and supplies the one board
// decision pkg/chip leaves to its caller: what running a process's code
// actually means (pkg/chip/chip.go's SwitchToProcess doc comment).
type demoChip struct {
	*chip.HostChip
	script *demoScript
}

func newDemoChip() *demoChip {
	return &demoChip{HostChip: chip.NewHostChip(nil), script: newDemoScript()}
}

func (c *demoChip) SwitchToProcess(p *kernel.Process) kernel.ContextSwitchResult {
	pid := p.ID()
	step := c.script.next(pid)
	upcallID := kernel.UpcallID{DriverNum: button.DRIVER_NUM, SubscribeNum: 0}

	switch step {
	case 0:
		up := kernel.NewUpcall(pid, upcallID, 0, 1)
		return kernel.ContextSwitchResult{
			Reason: kernel.ContextSwitchSyscall,
			Syscall: kernel.SubscribeSyscall{
				DriverNum: button.DRIVER_NUM, SubscribeNum: 0, Upcall: up,
			},
		}
	case 1:
		return kernel.ContextSwitchResult{
			Reason: kernel.ContextSwitchSyscall,
			Syscall: kernel.CommandSyscall{
				DriverNum: button.DRIVER_NUM, CmdNum: 1, Arg1: 0,
			},
		}
	case 2:
		return kernel.ContextSwitchResult{
			Reason:  kernel.ContextSwitchSyscall,
			Syscall: kernel.YieldSyscall{Mode: kernel.YieldWait},
		}
	default:
		// Reached once the button upcall installed this process's next
		// entry point (execute.go's Yielded/Unstarted branch); the demo
		// process has nothing further to demonstrate, so it exits.
		return kernel.ContextSwitchResult{
			Reason:  kernel.ContextSwitchSyscall,
			Syscall: kernel.ExitSyscall{Terminate: true},
		}
	}
}

// platform wires board.toml's driver table to concrete capsule instances.
type platform struct {
	drivers map[uint32]kernel.Driver
}

func (p *platform) WithDriver(num uint32) (kernel.Driver, bool) {
	d, ok := p.drivers[num]
	return d, ok
}

// restartOnFault is the demo board's RestartPolicy (spec.md §7): a slot gets
// a fresh generation after a fault as long as it hasn't faulted too many
// times in a row, the same bounded-retry shape Tock boards use to keep a
// wedged process from spinning the board forever. Each replacement process
// starts with a FaultCount of zero, so the policy keeps the per-slot total.
type restartOnFault struct {
	maxConsecutiveFaults int
	faults               map[int]int // slot index -> faults seen so far
}

func (r *restartOnFault) ShouldRestart(p *kernel.Process, faultCount int) bool {
	slot := p.ID().SlotIndex
	r.faults[slot] += faultCount
	return r.faults[slot] <= r.maxConsecutiveFaults
}

// board is everything booting a config file produces: the chip, kernel,
// scheduler, platform, and process table, plus handles the CLI's other
// subcommands (ps, inject) need.
type board struct {
	chip      *demoChip
	kernel    *kernel.Kernel
	scheduler kernel.Scheduler
	platform  *platform
	button    *button.Button
	consoles  []*console.Console
	processes []kernel.ProcessID

	// specs and numGrants let Run rebuild a faulted slot's process from
	// scratch (fresh memory image, new generation) when its RestartPolicy
	// says to, mirroring board.toml's static process table rather than
	// keeping any image-loading logic here (process loading stays out of
	// the core's scope, spec.md §1).
	specs     []boardconfig.ProcessSpec
	numGrants int
	restart   kernel.RestartPolicy

	stateLock *chip.StateLock
}

// Close releases every host resource a board's capsules opened (the console
// capsule's host pty, plus the simulated-hardware state lock when the board
// configured one) — the counterpart to buildBoard's acquisitions.
func (b *board) Close() {
	for _, c := range b.consoles {
		c.Close()
	}
	if b.stateLock != nil {
		if err := b.stateLock.Release(); err != nil {
			klog.Warningf("boot: releasing state lock: %v", err)
		}
	}
}

// buildBoard realizes the boot sequence SPEC_FULL.md §6.1 describes:
// construct the chip and kernel, register every capsule's grant (gated by
// spec.md §9's finalize-once rule), finalize, build the static process
// table, and pick the configured scheduler.
func buildBoard(cfg *boardconfig.Config) (_ *board, err error) {
	var stateLock *chip.StateLock
	if cfg.StateDir != "" {
		if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
			return nil, fmt.Errorf("boardconfig: creating state dir %s: %w", cfg.StateDir, err)
		}
		l, err := chip.AcquireStateLock(cfg.StateDir)
		if err != nil {
			return nil, err
		}
		stateLock = l
	}
	// Any error from here on means buildBoard never hands the lock off
	// inside a *board for the caller to Close(), so release it here instead.
	defer func() {
		if err != nil && stateLock != nil {
			stateLock.Release()
		}
	}()

	c := newDemoChip()
	k := kernel.NewKernel(cfg.NumProcessSlots)
	klog.SetDebug(cfg.TraceSyscalls)

	plat := &platform{drivers: make(map[uint32]kernel.Driver)}

	var buttonDriver *button.Button
	var consoles []*console.Console
	for _, d := range cfg.Drivers {
		switch d.Kind {
		case "button":
			pins := []button.Pin{
				button.NewSimulatedPin("b0", button.ActiveHigh, func() bool { return false }),
			}
			if n, ok := d.Params["pins"].(int64); ok {
				pins = make([]button.Pin, n)
				for i := range pins {
					pins[i] = button.NewSimulatedPin(fmt.Sprintf("b%d", i), button.ActiveHigh, func() bool { return false })
				}
			}
			buttonDriver = button.New(k, pins)
			plat.drivers[d.DriverNum] = buttonDriver
		case "usbuser":
			plat.drivers[d.DriverNum] = usbuser.New(k, usbcStub{})
		case "console":
			cons, err := console.New(k)
			if err != nil {
				return nil, fmt.Errorf("boardconfig: opening console driver %d: %w", d.DriverNum, err)
			}
			plat.drivers[d.DriverNum] = cons
			consoles = append(consoles, cons)
			klog.Infof("boot: console driver %d attached to %s", d.DriverNum, cons.SlaveName())
		default:
			return nil, fmt.Errorf("boardconfig: unknown driver kind %q", d.Kind)
		}
	}
	if buttonDriver == nil {
		// The demo script always subscribes to the button driver; a board
		// that didn't configure one gets a default single-pin button driver
		// so the script's Subscribe and Command still reach a driver.
		buttonDriver = button.New(k, []button.Pin{button.NewSimulatedPin("b0", button.ActiveHigh, func() bool { return false })})
		plat.drivers[button.DRIVER_NUM] = buttonDriver
	}

	numGrants := k.GetGrantCountAndFinalize()
	klog.Infof("boot: %d grant(s) finalized", numGrants)

	var scheduler kernel.Scheduler
	switch cfg.Scheduler.Policy {
	case "roundrobin":
		rr := roundrobin.New()
		if us := cfg.Scheduler.TimesliceUs; us > 0 {
			rr.Timeslice = time.Duration(us) * time.Microsecond
		}
		scheduler = rr
	case "priority":
		p := priority.New()
		if us := cfg.Scheduler.TimesliceUs; us > 0 {
			p.Timeslice = time.Duration(us) * time.Microsecond
		}
		scheduler = p
	case "", "cooperative":
		scheduler = cooperative.New()
	default:
		return nil, fmt.Errorf("boardconfig: unknown scheduler policy %q", cfg.Scheduler.Policy)
	}

	restart := &restartOnFault{maxConsecutiveFaults: cfg.Scheduler.MaxConsecutiveFaults, faults: make(map[int]int)}

	b := &board{
		chip: c, kernel: k, scheduler: scheduler, platform: plat, button: buttonDriver, consoles: consoles,
		specs: cfg.Processes, numGrants: numGrants, restart: restart,
		stateLock: stateLock,
	}
	for i, spec := range cfg.Processes {
		if i >= cfg.NumProcessSlots {
			return nil, fmt.Errorf("boardconfig: more processes (%d) than process slots (%d)", len(cfg.Processes), cfg.NumProcessSlots)
		}
		id := b.loadProcess(i, spec)
		b.processes = append(b.processes, id)
		klog.Infof("boot: loaded process %q as %s", spec.Name, id)
	}

	return b, nil
}

// loadProcess installs a fresh process for spec into slot, bumping the
// slot's generation, and returns its new ProcessID. Used both at boot and by
// Run when a RestartPolicy resurrects a faulted slot (spec.md §7).
func (b *board) loadProcess(slot int, spec boardconfig.ProcessSpec) kernel.ProcessID {
	mem := kernel.MemoryRegion{Base: 0, Size: uintptr(spec.MemorySize)}
	proc := kernel.NewProcess(spec.Name, mem, b.numGrants, b.restart)
	id := b.kernel.AddProcess(slot, proc)
	proc.Start(uintptr(spec.EntryPC), 0, 0, 0, 0)
	if p, ok := b.scheduler.(*priority.Scheduler); ok && spec.Priority != 0 {
		p.SetPriority(slot, spec.Priority)
	}
	return id
}

// Run drives the kernel loop until every process has either terminated or
// faulted out of its RestartPolicy's patience.
func (b *board) Run() {
	for {
		allDone := true
		for i, id := range b.processes {
			p, ok := b.kernel.ProcessAt(id.SlotIndex)
			if !ok || !id.IsValid(b.kernel) {
				continue
			}
			switch p.State() {
			case kernel.Faulted:
				if b.maybeRestart(i, id, p) {
					allDone = false
				}
			case kernel.Terminated:
			default:
				allDone = false
			}
		}
		if allDone {
			return
		}
		b.kernel.LoopOnce(b.scheduler, b.chip, b.platform)
	}
}

// maybeRestart consults slot i's faulted process's RestartPolicy (spec.md
// §7) and, if it agrees, replaces the slot with a fresh process of the same
// spec under a new generation. Returns whether the slot still has work left
// (freshly restarted) or is done for good (policy declined).
func (b *board) maybeRestart(i int, id kernel.ProcessID, p *kernel.Process) bool {
	policy := p.RestartPolicy()
	if policy == nil || !policy.ShouldRestart(p, p.FaultCount()) {
		return false
	}
	newID := b.loadProcess(i, b.specs[i])
	b.processes[i] = newID
	klog.Infof("restart: %s replaced by %s after %d consecutive fault(s)", id, newID, p.FaultCount())
	return true
}
