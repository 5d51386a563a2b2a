// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/jllopis/agency/pkg/config"
	"github.com/jllopis/agency/pkg/crew"
	"github.com/jllopis/agency/pkg/planner"
)

type crewResult struct {
	Process    string                 `json:"process"`
	Manager    string                 `json:"manager,omitempty"`
	Agents     []crew.AgentDefinition `json:"agents"`
	Assignee   string                 `json:"assignee,omitempty"`
	Graph      *planner.Graph         `json:"graph"`
	Definition string                 `json:"definition_file,omitempty"`
}

func runCrew(global globalFlags, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("crew", flag.ContinueOnError)
	output := fs.String("output", "mermaid", "Output format: mermaid or json")
	if err := fs.Parse(args); err != nil {
		return NewInvalidArgumentError("crew", err.Error())
	}

	def := crew.DefaultDefinition()
	if cfg.Crew.DefinitionFile != "" {
		var err error
		if def, err = crew.LoadDefinition(cfg.Crew.DefinitionFile); err != nil {
			return NewConfigError(err, cfg.Crew.DefinitionFile)
		}
	}
	process, err := crew.ParseProcess(cfg.Crew.Process)
	if err != nil {
		return NewConfigError(err, "")
	}

	graph := crewGraph(def, process)
	if global.JSON || *output == "json" {
		printJSON(crewResult{
			Process:    string(process),
			Manager:    def.Manager,
			Agents:     def.Agents,
			Assignee:   def.Task.Agent,
			Graph:      graph,
			Definition: cfg.Crew.DefinitionFile,
		})
		return nil
	}
	if *output != "mermaid" {
		return NewInvalidArgumentError("--output", fmt.Sprintf("unknown format %q; use mermaid or json", *output))
	}
	fmt.Print(toMermaid(graph))
	return nil
}

// crewGraph lays the roster out the way the process runs it: a chain in
// declaration order, or a manager fanning out to its coworkers.
func crewGraph(def crew.Definition, process crew.Process) *planner.Graph {
	if process == crew.ProcessSequential {
		nodes := make([]planner.Node, 0, len(def.Agents))
		for _, a := range def.Agents {
			nodes = append(nodes, agentNode(a, "agent"))
		}
		return planner.NewLinearGraph("sequential", nodes...)
	}

	g := &planner.Graph{ID: "hierarchical", Nodes: map[string]planner.Node{}}
	manager := def.Manager
	if manager == "" {
		manager = "manager"
		g.Nodes[manager] = planner.Node{ID: manager, Type: "manager", Metadata: map[string]string{"role": "Crew Manager"}}
	}
	g.Start = manager
	for _, a := range def.Agents {
		if a.ID == manager {
			g.Nodes[a.ID] = agentNode(a, "manager")
			continue
		}
		g.Nodes[a.ID] = agentNode(a, "agent")
		g.Edges = append(g.Edges, planner.Edge{From: manager, To: a.ID})
	}
	return g
}

func agentNode(a crew.AgentDefinition, typ string) planner.Node {
	return planner.Node{ID: a.ID, Type: typ, Metadata: map[string]string{"role": a.Role}}
}

func toMermaid(g *planner.Graph) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, id := range g.NodeIDs() {
		label := g.Nodes[id].Metadata["role"]
		if label == "" {
			label = id
		}
		fmt.Fprintf(&sb, "    %s[%s: %s]\n", id, label, g.Nodes[id].Type)
	}

	for _, edge := range g.Edges {
		if g.Nodes[edge.From].Type == "manager" {
			fmt.Fprintf(&sb, "    %s -->|delegate| %s\n", edge.From, edge.To)
			continue
		}
		fmt.Fprintf(&sb, "    %s --> %s\n", edge.From, edge.To)
	}

	if g.Start != "" {
		fmt.Fprintf(&sb, "    style %s fill:#90EE90\n", g.Start)
	}
	return sb.String()
}
