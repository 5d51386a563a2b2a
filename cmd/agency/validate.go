package main

import (
	"context"
	"fmt"

	"github.com/jllopis/agency/pkg/agency"
	"github.com/jllopis/agency/pkg/config"
	"github.com/jllopis/agency/pkg/crew"
)

type validateResult struct {
	Config  checkResult `json:"config"`
	Crew    checkResult `json:"crew"`
	LLM     checkResult `json:"llm"`
	Overall string      `json:"overall"`
}

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "error", "skip"
	Message string `json:"message,omitempty"`
}

// runValidate loads configuration, the crew definition and the model
// backend without sending a prompt. It returns the process exit code.
func runValidate(ctx context.Context, global globalFlags, args []string) int {
	ensureNoArgs(args)
	result := validate(ctx, global.ConfigArgs)

	if global.JSON {
		printJSON(result)
	} else {
		for _, c := range []checkResult{result.Config, result.Crew, result.LLM} {
			line := fmt.Sprintf("%-6s %-5s", c.Name, c.Status)
			if c.Message != "" {
				line += "  " + c.Message
			}
			fmt.Println(line)
		}
		fmt.Println("overall", result.Overall)
	}
	if result.Overall != "ok" {
		return 1
	}
	return 0
}

func validate(ctx context.Context, configArgs []string) validateResult {
	result := validateResult{Overall: "ok"}
	fail := func(c *checkResult, name string, err error) {
		*c = checkResult{Name: name, Status: "error", Message: err.Error()}
		result.Overall = "error"
	}

	cfg, err := config.LoadWithCLI(configArgs)
	if err != nil {
		fail(&result.Config, "config", err)
		result.Crew = checkResult{Name: "crew", Status: "skip", Message: "config not loaded"}
		result.LLM = checkResult{Name: "llm", Status: "skip", Message: "config not loaded"}
		return result
	}
	result.Config = checkResult{Name: "config", Status: "ok", Message: configPath(configArgs)}

	def := crew.DefaultDefinition()
	source := "built-in roster"
	if cfg.Crew.DefinitionFile != "" {
		source = cfg.Crew.DefinitionFile
		def, err = crew.LoadDefinition(cfg.Crew.DefinitionFile)
	}
	if err == nil {
		err = def.Validate()
	}
	if err != nil {
		fail(&result.Crew, "crew", err)
	} else {
		result.Crew = checkResult{
			Name:    "crew",
			Status:  "ok",
			Message: fmt.Sprintf("%s, %d agents, %s", source, len(def.Agents), cfg.Crew.Process),
		}
	}

	if _, err := agency.NewProvider(ctx, cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.APIKey); err != nil {
		fail(&result.LLM, "llm", err)
	} else {
		msg := cfg.LLM.Provider
		if cfg.LLM.Model != "" {
			msg += "/" + cfg.LLM.Model
		}
		result.LLM = checkResult{Name: "llm", Status: "ok", Message: msg}
	}
	return result
}
