package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&balanceCmd{}, "query")
	commander.Register(&balancesCmd{}, "query")
	commander.Register(&reconcileCmd{}, "query")

	commander.Register(&deltaCmd{}, "mutation")
	commander.Register(&transferCmd{}, "mutation")

	commander.Register(&benchCmd{}, "load")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
