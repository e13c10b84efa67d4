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
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/tockgo/tockgo/pkg/boardconfig"
)

// psCommand implements subcommands.Command for "ps", listing the process
// table of a freshly booted board in the style of runsc's "ps" (SPEC_FULL.md
// §6.2). Since boards here are not long-lived daemons, ps boots the board,
// prints its process table as loaded, before any process has run, and
// exits.
type psCommand struct{}

func (*psCommand) Name() string     { return "ps" }
func (*psCommand) Synopsis() string { return "list a board's process table" }
func (*psCommand) Usage() string {
	return "ps <board.toml> - boot a board and print its process table\n"
}
func (*psCommand) SetFlags(*flag.FlagSet) {}

func (*psCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE")
	for _, id := range b.processes {
		p, ok := b.kernel.ProcessAt(id.SlotIndex)
		if !ok || !id.IsValid(b.kernel) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, p.Name(), p.State())
	}
	tw.Flush()
	return subcommands.ExitSuccess
}
