// termchat - a terminal chat client for hosted and local language models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jeranaias/termchat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	version := fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)

	root := cli.NewRootCommand(version)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if cli.ShouldPrint(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(cli.ExitCode(err))
	}
}
