// Command runixctl is the operator CLI for runixd, grounded on the
// teacher's cmd/bblfshctl: a jessevdk/go-flags command tree, one
// subcommand file per verb in package cmd, talking to the daemon over its status/debug
// HTTP surface instead of bblfshctl's gRPC client.
package main

import (
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/runix/runixd/cmd/runixctl/cmd"
)

func main() {
	parser := flags.NewParser(&cmd.Options, flags.Default)
	parser.ShortDescription = "control and inspect a running runixd engine"

	if _, err := parser.AddCommand("status", "show engine and driver status", "", &cmd.StatusCommand{}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("driver", "manage drivers", "", &cmd.DriverCommand{}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("run", "execute a feature file against the engine", "", &cmd.RunCommand{}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("agent", "drive the Agent Loop", "", &cmd.AgentCommand{}); err != nil {
		panic(err)
	}

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
