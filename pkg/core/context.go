package core

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// RunIDPrefix starts every generated run id.
const RunIDPrefix = "run-"

type runIDKey struct{}

// WithRunID returns a copy of ctx carrying id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID reports the run id carried by ctx. Empty ids count as absent.
func RunID(ctx context.Context) (string, bool) {
	if id, _ := ctx.Value(runIDKey{}).(string); id != "" {
		return id, true
	}
	return "", false
}

// EnsureRunID reuses the run id in ctx or attaches a new one.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

// NewRunID generates a run id of the form "run-<uuid>".
func NewRunID() string {
	return RunIDPrefix + uuid.NewString()
}

// IsRunID reports whether id looks like a generated run id.
func IsRunID(id string) bool {
	rest, ok := strings.CutPrefix(id, RunIDPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
