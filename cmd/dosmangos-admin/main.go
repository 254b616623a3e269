package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/benbjohnson/clock"
	"github.com/google/subcommands"

	"dosmangos/internal/admin"
	"dosmangos/internal/cli"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range admin.Commands(&admin.Env{
		Config: cfg,
		Logger: logger,
		Clock:  clock.New(),
		Out:    os.Stdout,
		Err:    os.Stderr,
	}) {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
