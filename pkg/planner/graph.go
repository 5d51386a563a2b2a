package planner

import (
	"errors"
	"fmt"
	"sort"
)

// Graph is a set of typed nodes joined by edges. Executors only walk
// linear graphs; other shapes are still useful for describing a crew.
type Graph struct {
	ID    string          `json:"id"`
	Start string          `json:"start"`
	Nodes map[string]Node `json:"nodes"`
	Edges []Edge          `json:"edges"`
}

// Node is one step. Type selects the executor handler.
type Node struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Input    any               `json:"input,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewLinearGraph chains nodes in the given order, starting at the first.
func NewLinearGraph(id string, nodes ...Node) *Graph {
	g := &Graph{ID: id, Nodes: make(map[string]Node, len(nodes))}
	for i, n := range nodes {
		g.Nodes[n.ID] = n
		if i > 0 {
			g.Edges = append(g.Edges, Edge{From: nodes[i-1].ID, To: n.ID})
		}
	}
	if len(nodes) > 0 {
		g.Start = nodes[0].ID
	}
	return g
}

// Validate checks node ids, node types and edge endpoints. Nodes stored
// without an id take their map key. Every problem found is reported.
func (g *Graph) Validate() error {
	if g == nil {
		return errors.New("graph is nil")
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph %q has no nodes", g.ID)
	}

	var errs []error
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		switch {
		case id == "":
			errs = append(errs, errors.New("node id is required"))
			continue
		case n.ID == "":
			n.ID = id
			g.Nodes[id] = n
		case n.ID != id:
			errs = append(errs, fmt.Errorf("node %q registered under id %q", n.ID, id))
		}
		if n.Type == "" {
			errs = append(errs, fmt.Errorf("node %q missing type", id))
		}
	}
	for _, e := range g.Edges {
		for _, end := range []string{e.From, e.To} {
			if _, ok := g.Nodes[end]; !ok {
				errs = append(errs, fmt.Errorf("edge %q -> %q: node %q not found", e.From, e.To, end))
			}
		}
	}
	return errors.Join(errs...)
}

// NodeIDs returns the node ids in sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartNode is Start when set, otherwise the only node without incoming edges.
func (g *Graph) StartNode() (string, error) {
	if g.Start != "" {
		if _, ok := g.Nodes[g.Start]; !ok {
			return "", fmt.Errorf("start node %q not found", g.Start)
		}
		return g.Start, nil
	}
	hasIncoming := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		hasIncoming[e.To] = true
	}
	var roots []string
	for _, id := range g.NodeIDs() {
		if !hasIncoming[id] {
			roots = append(roots, id)
		}
	}
	switch len(roots) {
	case 1:
		return roots[0], nil
	case 0:
		return "", errors.New("no start node found")
	default:
		return "", fmt.Errorf("multiple start nodes found: %v", roots)
	}
}

// Path returns the node ids of a linear graph in execution order. Branches
// and cycles are errors.
func (g *Graph) Path() ([]string, error) {
	start, err := g.StartNode()
	if err != nil {
		return nil, err
	}
	next := make(map[string]string, len(g.Edges))
	for _, e := range g.Edges {
		if _, dup := next[e.From]; dup {
			return nil, fmt.Errorf("node %q has multiple outgoing edges", e.From)
		}
		next[e.From] = e.To
	}

	var path []string
	seen := make(map[string]bool, len(g.Nodes))
	for id := start; id != ""; id = next[id] {
		if seen[id] {
			return nil, fmt.Errorf("cycle detected at node %q", id)
		}
		seen[id] = true
		path = append(path, id)
	}
	return path, nil
}
