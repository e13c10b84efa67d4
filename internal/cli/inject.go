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
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/google/subcommands"

	"github.com/tockgo/tockgo/pkg/boardconfig"
)

// injectCommand implements subcommands.Command for "inject", driving a
// simulated button pin's interrupt line (SPEC_FULL.md §6.2, §8 scenario 3):
// it boots a board, runs it until every process has blocked on its Subscribe
// + Command(enable) + Yield sequence, fires the requested pin, then finishes
// the run loop so the resulting upcall is delivered and the script's final
// Exit syscall runs.
type injectCommand struct{}

func (*injectCommand) Name() string     { return "inject" }
func (*injectCommand) Synopsis() string { return "fire a simulated button pin interrupt" }
func (*injectCommand) Usage() string {
	return "inject <board.toml> <pin> - boot a board and fire button pin <pin>\n"
}
func (*injectCommand) SetFlags(*flag.FlagSet) {}

func (*injectCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	pin, err := strconv.ParseUint(f.Arg(1), 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inject: invalid pin %q: %v\n", f.Arg(1), err)
		return subcommands.ExitUsageError
	}

	cfg, err := boardconfig.Load(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	b, err := buildBoard(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer b.Close()

	// Drive every process through its Subscribe/Command(enable)/Yield
	// prelude (one LoopOnce iteration apiece: a process stays Running after
	// Subscribe and Command, so one slice runs all three syscalls) before
	// the interrupt fires, mirroring a real board where apps register
	// interest before any button press can reach them.
	for i := 0; i < len(b.processes); i++ {
		b.kernel.LoopOnce(b.scheduler, b.chip, b.platform)
	}

	b.button.Fired(uint32(pin))

	b.Run()
	return subcommands.ExitSuccess
}
