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

	"github.com/google/subcommands"

	"github.com/tockgo/tockgo/pkg/boardconfig"
	"github.com/tockgo/tockgo/pkg/klog"
)

// bootCommand implements subcommands.Command for "boot", the realization
// of SPEC_FULL.md §6.1's boot sequence: load the board config, build the
// kernel and its capsules, and run the core loop until every configured
// process has terminated or faulted.
type bootCommand struct{}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "boot a board from a board.toml file" }
func (*bootCommand) Usage() string {
	return "boot <board.toml> - boot a board and run the kernel loop\n"
}
func (*bootCommand) SetFlags(*flag.FlagSet) {}

func (*bootCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
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
	klog.Infof("boot: running kernel loop for %d process(es)", len(b.processes))
	b.Run()
	klog.Infof("boot: all processes terminated")
	return subcommands.ExitSuccess
}
