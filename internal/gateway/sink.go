// ABOUTME: SSE event sink that frames, writes, and flushes one event at a time.
// ABOUTME: Tracks write failures and whether a stream-level error was emitted.

package gateway

import (
	"log/slog"
	"net/http"

	"github.com/magi-system/magi-bridge/internal/protocol"
	"github.com/magi-system/magi-bridge/internal/supervisor"
)

// eventSink writes SSE frames to one response. It is confined to the handler
// goroutine and needs no locking. A failed write marks the sink closed and
// all further sends become no-ops: there is nobody left to read them.
type eventSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger

	closed    bool
	errorSent bool
	outcome   *supervisor.Outcome
}

// send frames and flushes one event. It returns false once the caller is
// unreachable. An event that cannot be framed is logged and skipped, which
// does not count as a dead connection.
func (s *eventSink) send(ev *protocol.StreamEvent) bool {
	if s.closed {
		return false
	}

	frame, err := protocol.EncodeSSE(ev)
	if err != nil {
		s.logger.Warn("dropping unframeable event", "type", ev.Type, "error", err)
		return true
	}
	if _, err := s.w.Write(frame); err != nil {
		s.logger.Debug("client write failed, closing stream", "error", err)
		s.closed = true
		return false
	}
	s.flusher.Flush()

	if ev.Type == protocol.EventError {
		s.errorSent = true
	}
	return true
}

// sendError emits a stream-level error event unless one was already sent.
// The stream carries at most one.
func (s *eventSink) sendError(code, message string) {
	if s.errorSent {
		return
	}
	s.send(protocol.NewEvent(protocol.EventError, "", map[string]string{
		"code":    code,
		"message": message,
	}))
}
