// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/stockade-project/stockade/cmd/stockade/cli"
	"github.com/stockade-project/stockade/jail"
	"github.com/stockade-project/stockade/lib/process"
	"github.com/stockade-project/stockade/lib/specfile"
	"github.com/stockade-project/stockade/lib/version"
)

// Exit codes for abnormal jail terminations, matching the shell
// convention: 124 for a timeout (as in timeout(1)), 128+signal for a
// signal death.
const (
	timeoutExitCode    = 124
	signalExitCodeBase = 128
)

func main() {
	// Must run before anything else: when this process is the
	// re-executed jail child it never reaches command dispatch.
	jail.MaybeChild()

	if err := root().Execute(os.Args[1:]); err != nil {
		// Commands that speak for themselves (like run passing the
		// jailed program's status through) return an ExitError. Don't
		// print a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

// root builds the stockade command tree.
func root() *cli.Command {
	return &cli.Command{
		Name: "stockade",
		Description: `Stockade: run programs inside a Linux process jail.

A spec file describes the jail: namespaces, filesystem confinement,
identity, resource ceilings, and the program to run.`,
		Subcommands: []*cli.Command{
			runCommand(),
			validateCommand(),
			showCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Run a jail from a spec file",
				Command:     "stockade run jail.json",
			},
			{
				Description: "Check a spec without running it",
				Command:     "stockade validate jail.yaml",
			},
		},
	}
}

func versionCommand() *cli.Command {
	var short bool

	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&short, "short", false, "print only the version number")
			return flagSet
		},
		Run: func(args []string) error {
			if short {
				fmt.Println(version.Short())
				return nil
			}
			fmt.Printf("stockade %s\n", version.Full())
			return nil
		},
	}
}

func runCommand() *cli.Command {
	var timeLimit uint64

	return &cli.Command{
		Name:    "run",
		Summary: "Run a jail from a spec file",
		Usage:   "stockade run [flags] <spec-file>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.Uint64Var(&timeLimit, "time-limit", 0,
				"wall-clock limit in seconds (overrides the spec)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Run with a 60 second ceiling regardless of the spec",
				Command:     "stockade run --time-limit 60 jail.json",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one spec file, got %d args", len(args))
			}

			spec, err := specfile.Load(args[0])
			if err != nil {
				return err
			}
			if timeLimit > 0 {
				spec.TimeLimit = timeLimit
			}

			logger := cli.NewCommandLogger().With("command", "run", "jail", spec.Name)

			supervisor, err := jail.NewSupervisor(spec, logger)
			if err != nil {
				return err
			}

			// SIGINT/SIGTERM cancel the run, which kills the jail's
			// whole process group.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			outcome, err := supervisor.Run(ctx)
			if err != nil {
				return err
			}

			switch outcome.State {
			case jail.OutcomeTimedOut:
				fmt.Fprintf(os.Stderr, "stockade: jail %s %s\n", spec.Name, outcome)
				return &cli.ExitError{Code: timeoutExitCode}
			case jail.OutcomeSignaled:
				fmt.Fprintf(os.Stderr, "stockade: jail %s %s\n", spec.Name, outcome)
				return &cli.ExitError{Code: signalExitCodeBase + int(outcome.Signal)}
			default:
				if outcome.Code != 0 {
					return &cli.ExitError{Code: outcome.Code}
				}
				return nil
			}
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Pre-flight check a spec file without running it",
		Usage:   "stockade validate <spec-file>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one spec file, got %d args", len(args))
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			spec, err := specfile.Decode(data, filepath.Ext(args[0]))
			if err != nil {
				return err
			}

			validator := jail.NewValidator()
			validator.ValidateAll(spec)
			validator.PrintResults(os.Stdout)

			if validator.HasErrors() {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func showCommand() *cli.Command {
	var format string

	return &cli.Command{
		Name:    "show",
		Summary: "Print the normalized spec (defaults applied)",
		Usage:   "stockade show [flags] <spec-file>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&format, "format", "yaml", "output format: yaml or json")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one spec file, got %d args", len(args))
			}

			spec, err := specfile.Load(args[0])
			if err != nil {
				return err
			}

			switch format {
			case "yaml":
				out, err := yaml.Marshal(spec)
				if err != nil {
					return err
				}
				os.Stdout.Write(out)
			case "json":
				out, err := json.MarshalIndent(spec, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
			return nil
		},
	}
}
