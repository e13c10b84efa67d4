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

// Package cli is the main entrypoint for tockgo, structurally a 1:1 port
// of runsc/cli + runsc/cmd's google/subcommands-based front end
// (SPEC_FULL.md §2.1/§6.2): one subcommands.Command per operation,
// registered against the default commander.
package cli

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

// Main is tockgo's entrypoint, the Go analogue of runsc/cli.Main.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(bootCommand), "")
	subcommands.Register(new(psCommand), "")
	subcommands.Register(new(injectCommand), "")
	subcommands.Register(new(versionCommand), "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
