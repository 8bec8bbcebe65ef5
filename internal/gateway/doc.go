// Package gateway implements the HTTP surface of magi-bridge.
//
// # Overview
//
// The gateway turns one POST /api/decision request into one supervised worker
// execution and relays the worker's events to the caller as Server-Sent
// Events. Every request gets its own Process Supervisor; the only shared
// state is the immutable timeout policy and the trace store.
//
// # Endpoints
//
//   - POST /api/decision: validate the question, open an SSE stream, emit a
//     start event carrying the session id, relay worker events in order, and
//     finish with exactly one terminal complete or error event.
//   - GET /api/traces: recent request traces, newest first.
//   - GET /health: synchronous liveness probe, never touches the supervisor.
//
// # Stream Contract
//
// Frames are data-only SSE:
//
//	data: {"type":"agent_chunk","agentId":"caspar",...}\n\n
//
// The caller is promised exactly one terminal event per stream. A terminal
// error is emitted for spawn failures, nonzero exits, timeouts, and stalls; a
// synthesized stderr error relayed mid-stream counts as the stream's error
// and suppresses the trailing terminal. Validation failures are plain JSON
// 400 responses: no stream is opened for a request that can never run.
//
// # Timeouts
//
// The relay runs under the total deadline, derived from the request context
// so caller disconnect and deadline share one cancellation path. A separate
// per-event stall timer (the event-queue timeout) aborts a worker that stays
// alive without producing anything. The supervisor's own process ceiling
// backstops both.
package gateway
