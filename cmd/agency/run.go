package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/jllopis/agency/pkg/config"
	"github.com/jllopis/agency/pkg/crew"
)

func runPrompt(ctx context.Context, global globalFlags, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	process := fs.String("process", "", "Override the crew process: sequential or hierarchical")
	verbose := fs.Bool("steps", false, "Include every agent step in the output")
	if err := fs.Parse(args); err != nil {
		return NewInvalidArgumentError("run", err.Error())
	}
	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" && !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, cfg.Server.MaxBodyBytes))
		if err != nil {
			return NewInvalidArgumentError("stdin", err.Error())
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return NewInvalidArgumentError("prompt", "a prompt is required")
	}
	if *process != "" {
		if _, err := crew.ParseProcess(*process); err != nil {
			return NewInvalidArgumentError("--process", err.Error())
		}
		cfg.Crew.Process = *process
	}

	comp, _, cleanup, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := comp.Service.Run(ctx, prompt)
	if err != nil {
		return err
	}

	if global.JSON {
		out := *res
		if !*verbose {
			out.Steps = nil
		}
		printJSON(out)
		return nil
	}

	if *verbose {
		for _, step := range res.Steps {
			marker := ""
			if step.Delegated {
				marker = " (delegated)"
			}
			fmt.Printf("## %s%s\n%s\n\n", step.Agent, marker, step.Output)
		}
	}
	fmt.Println(res.Output)
	return nil
}
