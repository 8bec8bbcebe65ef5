// ABOUTME: HTTP API handlers for the decision endpoint, streamed via SSE.
// ABOUTME: Validates the request, relays supervisor events, and emits one terminal event.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magi-system/magi-bridge/internal/protocol"
	"github.com/magi-system/magi-bridge/internal/store"
	"github.com/magi-system/magi-bridge/internal/supervisor"
)

// DecisionRequest is the JSON request body for POST /api/decision.
type DecisionRequest struct {
	Question  string         `json:"question"`
	SessionID string         `json:"sessionId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// TraceResponse is one entry in the GET /api/traces response.
type TraceResponse struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Question   string `json:"question"`
	State      string `json:"state"`
	ErrorCode  string `json:"error_code,omitempty"`
	ExitCode   int    `json:"exit_code"`
	EventCount int    `json:"event_count"`
	DurationMs int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

// handleDecision handles POST /api/decision requests.
// It accepts a JSON body with the question and streams worker events via SSE.
//
// Responsibilities:
//  1. Parse and validate the body - a non-empty question is mandatory
//  2. Verify flusher support before anything is streamed (fail fast)
//  3. Open the SSE stream and emit a start event with the session id
//  4. Run the Process Supervisor and relay every event it yields, in order
//  5. Emit exactly one terminal event (complete or error) and close
//  6. Record a trace of the request outcome
func (g *Gateway) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseDecisionRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// Caller disconnect cancels r.Context(); the total timeout bounds the
	// whole relay inside the supervisor's own process ceiling. Both funnel
	// into the supervisor's single teardown path.
	ctx, cancel := context.WithTimeout(r.Context(), g.policy.TotalTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	logger := g.logger.With("session_id", sessionID)
	logger.Info("decision stream opened", "question_len", len(req.Question))

	sink := &eventSink{w: w, flusher: flusher, logger: logger}
	sink.send(protocol.NewEvent(protocol.EventStart, "", map[string]string{
		"sessionId": sessionID,
	}))

	workerReq := protocol.WorkerRequest{
		Question:  req.Question,
		SessionID: sessionID,
		Context:   req.Context,
	}
	events, outcome := g.newSupervisor().Run(ctx, workerReq)

	started := time.Now()
	g.relay(ctx, cancel, sink, events, outcome, logger)
	g.recordTrace(sessionID, req.Question, sink, started)
}

// relay forwards supervisor events to the sink until the event channel
// closes or the stream stalls past the event-queue deadline. Completion is
// only ever decided by the supervisor's outcome, never by an empty wait.
func (g *Gateway) relay(ctx context.Context, cancel context.CancelFunc, sink *eventSink, events <-chan *protocol.StreamEvent, outcome <-chan supervisor.Outcome, logger *slog.Logger) {
	stall := time.NewTimer(g.policy.EventQueueTimeout)
	defer stall.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				o := <-outcome
				sink.outcome = &o
				g.sendTerminal(sink, o, logger)
				return
			}
			if !sink.send(ev) {
				// Caller is gone; tear the worker down and drain.
				cancel()
				drain(events, outcome, sink)
				return
			}
			stall.Reset(g.policy.EventQueueTimeout)

		case <-stall.C:
			logger.Warn("event stream stalled past event-queue deadline",
				"deadline", g.policy.EventQueueTimeout)
			cancel()
			sink.sendError(supervisor.CodeTimeout, "no events within event queue timeout")
			drain(events, outcome, sink)
			return

		case <-ctx.Done():
			// Total deadline or caller disconnect. Teardown is already in
			// flight via the shared context; report the timeout if the
			// caller is still listening.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				sink.sendError(supervisor.CodeTimeout, "total processing deadline exceeded")
			}
			drain(events, outcome, sink)
			return
		}
	}
}

// sendTerminal emits the single terminal event for a finished run. A
// synthesized error already relayed mid-stream counts as the stream's error:
// the caller never sees a second terminal.
func (g *Gateway) sendTerminal(sink *eventSink, o supervisor.Outcome, logger *slog.Logger) {
	logger.Info("decision stream finished",
		"state", o.State, "code", o.Code, "events", o.Events, "duration", o.Duration)

	switch o.State {
	case supervisor.StateCompleted:
		if sink.errorSent {
			return
		}
		sink.send(protocol.NewEvent(protocol.EventComplete, "", map[string]any{
			"message": "all agents completed",
			"events":  o.Events,
		}))
	case supervisor.StateTimedOut:
		sink.sendError(o.Code, "worker exceeded its processing deadline")
	default:
		detail := "worker failed"
		if o.Err != nil {
			detail = o.Err.Error()
		}
		code := o.Code
		if code == "" {
			code = supervisor.CodeRuntimeError
		}
		data := map[string]any{"code": code, "message": detail}
		if o.ExitCode >= 0 {
			data["exitCode"] = o.ExitCode
		}
		if sink.errorSent {
			return
		}
		sink.send(protocol.NewEvent(protocol.EventError, "", data))
	}
}

// drain consumes whatever the supervisor still yields so its goroutines can
// finish, and captures the outcome for the trace record.
func drain(events <-chan *protocol.StreamEvent, outcome <-chan supervisor.Outcome, sink *eventSink) {
	for range events {
	}
	if o, ok := <-outcome; ok {
		sink.outcome = &o
	}
}

// recordTrace persists the request outcome. Trace failures are logged, never
// surfaced: the stream to the caller is already closed.
func (g *Gateway) recordTrace(sessionID, question string, sink *eventSink, started time.Time) {
	if g.traces == nil {
		return
	}

	trace := &store.Trace{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Question:   question,
		State:      string(supervisor.StateFailed),
		ExitCode:   -1,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if o := sink.outcome; o != nil {
		trace.State = string(o.State)
		trace.ErrorCode = o.Code
		trace.ExitCode = o.ExitCode
		trace.EventCount = o.Events
		trace.DurationMs = o.Duration.Milliseconds()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.traces.SaveTrace(ctx, trace); err != nil {
		g.logger.Error("failed to save trace", "session_id", sessionID, "error", err)
	}
}

// handleTraces handles GET /api/traces requests, newest first.
func (g *Gateway) handleTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	response := make([]TraceResponse, 0, limit)
	if g.traces != nil {
		traces, err := g.traces.RecentTraces(r.Context(), limit)
		if err != nil {
			g.logger.Error("failed to list traces", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		for _, tr := range traces {
			response = append(response, TraceResponse{
				ID:         tr.ID,
				SessionID:  tr.SessionID,
				Question:   tr.Question,
				State:      tr.State,
				ErrorCode:  tr.ErrorCode,
				ExitCode:   tr.ExitCode,
				EventCount: tr.EventCount,
				DurationMs: tr.DurationMs,
				CreatedAt:  tr.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseDecisionRequest parses and validates a DecisionRequest from the given
// reader. The question field is mandatory and must be non-blank.
func parseDecisionRequest(r io.Reader) (*DecisionRequest, error) {
	var req DecisionRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("question is required")
	}
	return &req, nil
}
