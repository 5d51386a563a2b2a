package planner

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// AuditEvent records the execution of one graph node.
type AuditEvent struct {
	GraphID    string    `json:"graph_id"`
	RunID      string    `json:"run_id,omitempty"`
	NodeID     string    `json:"node_id"`
	NodeType   string    `json:"node_type"`
	Status     string    `json:"status"`
	Output     any       `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the node ran.
func (e AuditEvent) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// AuditStore persists planner audit events.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// AuditFilter limits audit event queries.
type AuditFilter struct {
	GraphID string
	RunID   string
	NodeID  string
	Status  string
	Limit   int
}

func (f AuditFilter) match(ev AuditEvent) bool {
	return (f.GraphID == "" || ev.GraphID == f.GraphID) &&
		(f.RunID == "" || ev.RunID == f.RunID) &&
		(f.NodeID == "" || ev.NodeID == f.NodeID) &&
		(f.Status == "" || ev.Status == f.Status)
}

// DefaultMemoryAuditLimit bounds a MemoryAuditStore created without a limit.
const DefaultMemoryAuditLimit = 10000

// MemoryAuditStore keeps the most recent audit events in memory. Once the
// limit is reached the oldest event is dropped for every new one.
type MemoryAuditStore struct {
	mu     sync.Mutex
	limit  int
	events []AuditEvent
}

// NewMemoryAuditStore returns an in-memory store holding at most limit
// events. A non-positive limit means DefaultMemoryAuditLimit.
func NewMemoryAuditStore(limit ...int) *MemoryAuditStore {
	n := DefaultMemoryAuditLimit
	if len(limit) > 0 && limit[0] > 0 {
		n = limit[0]
	}
	return &MemoryAuditStore{limit: n}
}

// Record appends an audit event, evicting the oldest when full.
func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.limit {
		copy(s.events, s.events[1:])
		s.events = s.events[:len(s.events)-1]
	}
	s.events = append(s.events, event)
	return nil
}

// List returns matching events oldest first.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Len reports how many events are held.
func (s *MemoryAuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// encodeAuditOutput stores outputs as JSON; nil stays NULL.
func encodeAuditOutput(output any) ([]byte, error) {
	if output == nil {
		return nil, nil
	}
	return json.Marshal(output)
}

func decodeAuditOutput(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
