// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command agency serves the AI agency over HTTP and runs crews from the
// command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jllopis/agency/pkg/config"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help {
		printUsage()
		return
	}

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "help":
		printUsage()
		return
	case "version":
		fmt.Println(version)
		return
	case "validate":
		os.Exit(runValidate(ctx, global, args))
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		NewConfigError(err, configPath(global.ConfigArgs)).PrintError(global.JSON)
		os.Exit(1)
	}

	switch cmd {
	case "serve":
		ensureNoArgs(args)
		err = runServe(ctx, cfg)
	case "run":
		err = runPrompt(ctx, global, cfg, args)
	case "crew":
		err = runCrew(global, cfg, args)
	case "mcp":
		ensureNoArgs(args)
		err = runMCPStdio(ctx, cfg)
	default:
		err = NewInvalidArgumentError("command", fmt.Sprintf("unknown command %q", cmd))
	}
	if err != nil {
		PrintError(err, global.JSON)
		os.Exit(1)
	}
}

// parseGlobalFlags consumes flags up to the first command word. Config
// flags are kept verbatim for config.LoadWithCLI.
func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--profile" || arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--profile="), strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func configPath(args []string) string {
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func printUsage() {
	fmt.Println(`AI Agency

Usage:
  agency [global flags] [command] [args]

Global flags:
  --config <path>      YAML config file
  --profile <name>     Profile overlay (config.<profile>.yaml, .env.<profile>)
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  serve                Start the HTTP API (default)
  run [--process p] [--steps] <prompt>
                       Run the crew once; reads the prompt from stdin when piped
  crew [--output mermaid|json]
                       Show the configured crew
  validate             Check configuration and crew definition
  mcp                  Serve the run_agency tool over MCP stdio
  version`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}

func printJSON(value any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		fatal(err)
	}
}
