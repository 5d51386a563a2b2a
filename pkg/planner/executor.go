package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agency/pkg/core"
)

// Audit event statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Handler executes a node and can update state.
type Handler func(ctx context.Context, node Node, state *State) (any, error)

// State holds outputs produced during graph execution.
type State struct {
	Last    any
	Outputs map[string]any
	// Order lists executed node ids.
	Order []string
}

// NewState creates an initialized execution state.
func NewState() *State {
	return &State{Outputs: make(map[string]any)}
}

// Executor runs a graph using node handlers.
type Executor struct {
	Handlers map[string]Handler
	// Audit, when set, receives one event per executed node.
	Audit  AuditStore
	tracer trace.Tracer
}

// NewExecutor creates an executor with provided handlers.
func NewExecutor(handlers map[string]Handler) *Executor {
	return &Executor{
		Handlers: handlers,
		tracer:   otel.Tracer("agency/planner"),
	}
}

// WithAudit sets the audit store and returns the executor.
func (e *Executor) WithAudit(store AuditStore) *Executor {
	e.Audit = store
	return e
}

// Execute walks a linear graph from its start node. The graph shape and
// the handlers are checked before any node runs. When a node fails the
// state built so far is returned with the error.
func (e *Executor) Execute(ctx context.Context, graph *Graph, state *State) (*State, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	path, err := graph.Path()
	if err != nil {
		return nil, err
	}
	for _, id := range path {
		if t := graph.Nodes[id].Type; e.Handlers[t] == nil {
			return nil, fmt.Errorf("no handler for node type %q", t)
		}
	}
	if state == nil {
		state = NewState()
	}
	runID, _ := core.RunID(ctx)

	for _, id := range path {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		node := graph.Nodes[id]
		output, err := e.runNode(ctx, graph, node, runID, state)
		if err != nil {
			return state, fmt.Errorf("node %q failed: %w", id, err)
		}
		state.Outputs[id] = output
		state.Last = output
		state.Order = append(state.Order, id)
	}
	return state, nil
}

func (e *Executor) runNode(ctx context.Context, graph *Graph, node Node, runID string, state *State) (any, error) {
	started := time.Now().UTC()
	nodeCtx, span := e.tracer.Start(ctx, "Planner.Node", trace.WithAttributes(
		attribute.String("graph.id", graph.ID),
		attribute.String("node.id", node.ID),
		attribute.String("node.type", node.Type),
	))
	output, err := e.Handlers[node.Type](nodeCtx, node, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	e.record(ctx, graph, node, runID, output, err, started)
	return output, err
}

func (e *Executor) record(ctx context.Context, graph *Graph, node Node, runID string, output any, err error, started time.Time) {
	if e.Audit == nil {
		return
	}
	event := AuditEvent{
		GraphID:    graph.ID,
		RunID:      runID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     StatusCompleted,
		Output:     output,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		event.Status = StatusFailed
		event.Error = err.Error()
	}
	if recErr := e.Audit.Record(context.WithoutCancel(ctx), event); recErr != nil {
		slog.WarnContext(ctx, "planner.audit.error",
			slog.String("graph_id", graph.ID),
			slog.String("node_id", node.ID),
			slog.String("error", recErr.Error()),
		)
	}
}
