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
)

// version is stamped by release tooling; runsc/version.Version does the
// same via a linker-set string (runsc/cli/main.go's "version" flag path).
var version = "dev"

// versionCommand implements subcommands.Command for "version", the Go
// analogue of runsc's "--version" flag handling.
type versionCommand struct{}

func (*versionCommand) Name() string          { return "version" }
func (*versionCommand) Synopsis() string      { return "show tockgo's version and exit" }
func (*versionCommand) Usage() string         { return "version - show tockgo's version and exit\n" }
func (*versionCommand) SetFlags(*flag.FlagSet) {}

func (*versionCommand) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stdout, "tockgo version %s\n", version)
	return subcommands.ExitSuccess
}
