// ABOUTME: Trace store interface and record type for per-request bridge traces.
// ABOUTME: One row per supervised request: terminal state, error code, counts, timing.

package store

import (
	"context"
	"time"
)

// Trace is the persisted record of one bridge request.
type Trace struct {
	ID         string
	SessionID  string
	Question   string
	State      string
	ErrorCode  string
	ExitCode   int
	EventCount int
	DurationMs int64
	CreatedAt  time.Time
}

// TraceStore persists request traces. The bridge only appends and lists;
// conversation-level persistence lives elsewhere.
type TraceStore interface {
	SaveTrace(ctx context.Context, trace *Trace) error
	RecentTraces(ctx context.Context, limit int) ([]*Trace, error)
	Close() error
}
