// ABOUTME: Domain event types for the worker NDJSON protocol and their wire codec.
// ABOUTME: Decode validates at the boundary; Encode produces SSE data frames.

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType tags a StreamEvent. The set is closed: anything else on the
// worker's stdout is diagnostic text, not protocol.
type EventType string

// Lifecycle events emitted by the bridge itself.
const (
	EventStart    EventType = "start"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Per-participant events emitted by the worker.
const (
	EventAgentStart    EventType = "agent_start"
	EventAgentThinking EventType = "agent_thinking"
	EventAgentChunk    EventType = "agent_chunk"
	EventAgentComplete EventType = "agent_complete"
	EventAgentError    EventType = "agent_error"
)

// Arbiter events emitted by the worker.
const (
	EventJudgeStart    EventType = "judge_start"
	EventJudgeThinking EventType = "judge_thinking"
	EventJudgeChunk    EventType = "judge_chunk"
	EventJudgeComplete EventType = "judge_complete"
)

var knownTypes = map[EventType]struct{}{
	EventStart: {}, EventComplete: {}, EventError: {},
	EventAgentStart: {}, EventAgentThinking: {}, EventAgentChunk: {},
	EventAgentComplete: {}, EventAgentError: {},
	EventJudgeStart: {}, EventJudgeThinking: {}, EventJudgeChunk: {},
	EventJudgeComplete: {},
}

// Known reports whether t is part of the closed event-type set.
func Known(t EventType) bool {
	_, ok := knownTypes[t]
	return ok
}

// Terminal reports whether t ends the event subsequence for one agent id.
func Terminal(t EventType) bool {
	return t == EventAgentComplete || t == EventAgentError || t == EventJudgeComplete
}

// StreamEvent is one decoded protocol event. Data is the worker's payload,
// passed through unmodified.
type StreamEvent struct {
	Type      EventType       `json:"type"`
	AgentID   string          `json:"agentId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode failure classes. All of them mean "log and drop": the worker mixes
// diagnostic prints with protocol lines on the same channel, and non-protocol
// text must never reach the caller as a domain event.
var (
	ErrNotJSON     = errors.New("line is not a JSON object")
	ErrMissingType = errors.New("event has no type field")
	ErrUnknownType = errors.New("event type is not in the protocol set")
)

// Decode parses one framed line into a StreamEvent. A missing timestamp is
// synthesized from the current clock.
func Decode(line string) (*StreamEvent, error) {
	trimmed := bytes.TrimSpace([]byte(line))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotJSON
	}

	var ev StreamEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if ev.Type == "" {
		return nil, ErrMissingType
	}
	if !Known(ev.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return &ev, nil
}

// EncodeSSE serializes an event as one Server-Sent-Events frame:
//
//	data: <json>\n\n
//
// The blank line is the frame delimiter, so a payload whose serialized form
// contains a raw newline would corrupt the stream. json.Marshal escapes
// newlines inside strings, but the invariant is still checked and violations
// rejected rather than relayed.
func EncodeSSE(ev *StreamEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	if bytes.ContainsRune(payload, '\n') {
		return nil, fmt.Errorf("event payload contains a raw newline, refusing to frame")
	}

	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// NewEvent builds a bridge-synthesized event with the current timestamp.
// The data value must marshal cleanly; on failure the event carries no data.
func NewEvent(t EventType, agentID string, data any) *StreamEvent {
	ev := &StreamEvent{
		Type:      t,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}
