// ABOUTME: Tests for the HTTP API using shell-script stand-in workers.
// ABOUTME: Covers SSE relay, validation, terminal-event exclusivity, and traces.

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magi-system/magi-bridge/internal/config"
	"github.com/magi-system/magi-bridge/internal/protocol"
	"github.com/magi-system/magi-bridge/internal/store"
	"github.com/magi-system/magi-bridge/internal/supervisor"
	"github.com/magi-system/magi-bridge/internal/timeout"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() timeout.Policy {
	return timeout.Policy{
		ProcessTimeout:        10 * time.Second,
		TotalTimeout:          8 * time.Second,
		PerParticipantTimeout: 4 * time.Second,
		ArbiterTimeout:        3 * time.Second,
		EventQueueTimeout:     5 * time.Second,
	}
}

// newTestServer stands up a gateway whose worker is a shell script, backed by
// an in-memory trace store.
func newTestServer(t *testing.T, script string, policy timeout.Policy) (*httptest.Server, store.TraceStore) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	traces, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = traces.Close() })

	cfg := &config.Config{}
	cfg.Worker.Interpreter = "/bin/sh"
	cfg.Worker.Script = path

	g := New(cfg, policy, traces, discard())
	srv := httptest.NewServer(g.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv, traces
}

// postDecision sends a decision request and parses the SSE response into
// decoded events.
func postDecision(t *testing.T, srv *httptest.Server, body string) (*http.Response, []*protocol.StreamEvent) {
	t.Helper()

	resp, err := http.Post(srv.URL+"/api/decision", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var events []*protocol.StreamEvent
	for _, frame := range strings.Split(string(raw), "\n\n") {
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "unexpected frame %q", frame)
		var ev protocol.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, &ev)
	}
	return resp, events
}

func errorCode(t *testing.T, ev *protocol.StreamEvent) string {
	t.Helper()
	var data struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	return data.Code
}

func TestDecision_StreamsWorkerEvents(t *testing.T) {
	srv, _ := newTestServer(t, `
printf '{"type":"agent_start","agentId":"caspar"}\n'
printf '{"type":"agent_complete","agentId":"caspar","data":{"decision":"APPROVED"}}\n'
exit 0
`, testPolicy())

	resp, events := postDecision(t, srv, `{"question":"should we ship?"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	require.Len(t, events, 4)
	assert.Equal(t, protocol.EventStart, events[0].Type)
	assert.Equal(t, protocol.EventAgentStart, events[1].Type)
	assert.Equal(t, protocol.EventAgentComplete, events[2].Type)
	assert.Equal(t, protocol.EventComplete, events[3].Type)

	var startData struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(events[0].Data, &startData))
	assert.NotEmpty(t, startData.SessionID)
}

func TestDecision_EmptyQuestionIsRejectedWithoutStream(t *testing.T) {
	srv, _ := newTestServer(t, "exit 0\n", testPolicy())

	resp, err := http.Post(srv.URL+"/api/decision", "application/json",
		strings.NewReader(`{"question":"   "}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "question is required", body["error"])
}

func TestDecision_InvalidBodyIsRejected(t *testing.T) {
	srv, _ := newTestServer(t, "exit 0\n", testPolicy())

	resp, err := http.Post(srv.URL+"/api/decision", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDecision_GetIsNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, "exit 0\n", testPolicy())

	resp, err := http.Get(srv.URL + "/api/decision")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDecision_SpawnFailureYieldsStartThenError(t *testing.T) {
	// Point the worker at an interpreter that does not exist.
	cfg := &config.Config{}
	cfg.Worker.Interpreter = "/nonexistent/python3"
	cfg.Worker.Script = "worker.py"
	g := New(cfg, testPolicy(), nil, discard())
	srv := httptest.NewServer(g.httpServer.Handler)
	defer srv.Close()

	_, events := postDecision(t, srv, `{"question":"q"}`)

	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventStart, events[0].Type)
	assert.Equal(t, protocol.EventError, events[1].Type)
	assert.Equal(t, supervisor.CodeSpawnError, errorCode(t, events[1]))
}

func TestDecision_MalformedLinesNeverReachTheCaller(t *testing.T) {
	srv, _ := newTestServer(t, `
printf 'INFO: warming up model\n'
printf '{"type":"agent_chunk","agentId":"melchior","data":{"text":"hm"}}\n'
printf 'not even close to json\n'
exit 0
`, testPolicy())

	_, events := postDecision(t, srv, `{"question":"q"}`)

	require.Len(t, events, 3)
	assert.Equal(t, protocol.EventStart, events[0].Type)
	assert.Equal(t, protocol.EventAgentChunk, events[1].Type)
	assert.Equal(t, protocol.EventComplete, events[2].Type)
}

func TestDecision_NonZeroExitYieldsErrorNotComplete(t *testing.T) {
	srv, _ := newTestServer(t, `
printf '{"type":"agent_start","agentId":"balthasar"}\n'
exit 3
`, testPolicy())

	_, events := postDecision(t, srv, `{"question":"q"}`)

	require.Len(t, events, 3)
	last := events[len(events)-1]
	assert.Equal(t, protocol.EventError, last.Type)
	assert.Equal(t, supervisor.CodeRuntimeError, errorCode(t, last))

	var data struct {
		ExitCode int `json:"exitCode"`
	}
	require.NoError(t, json.Unmarshal(last.Data, &data))
	assert.Equal(t, 3, data.ExitCode)
}

func TestDecision_StallTripsEventQueueTimeout(t *testing.T) {
	policy := testPolicy()
	policy.EventQueueTimeout = 300 * time.Millisecond

	srv, _ := newTestServer(t, `
printf '{"type":"agent_start","agentId":"caspar"}\n'
sleep 30
`, policy)

	started := time.Now()
	_, events := postDecision(t, srv, `{"question":"q"}`)

	assert.Less(t, time.Since(started), 10*time.Second,
		"stalled worker must be torn down well before it finishes sleeping")

	last := events[len(events)-1]
	assert.Equal(t, protocol.EventError, last.Type)
	assert.Equal(t, supervisor.CodeTimeout, errorCode(t, last))

	for _, ev := range events {
		assert.NotEqual(t, protocol.EventComplete, ev.Type)
	}
}

func TestDecision_SynthesizedErrorSuppressesComplete(t *testing.T) {
	srv, _ := newTestServer(t, `
printf 'Traceback (most recent call last):\n' >&2
exit 0
`, testPolicy())

	_, events := postDecision(t, srv, `{"question":"q"}`)

	var errs, completes int
	for _, ev := range events {
		switch ev.Type {
		case protocol.EventError:
			errs++
		case protocol.EventComplete:
			completes++
		}
	}
	assert.Equal(t, 1, errs, "exactly one stream-level error")
	assert.Zero(t, completes, "no complete after an error was already relayed")
}

func TestDecision_RecordsTrace(t *testing.T) {
	srv, traces := newTestServer(t, `
printf '{"type":"agent_start","agentId":"caspar"}\n'
exit 0
`, testPolicy())

	postDecision(t, srv, `{"question":"did it persist?"}`)

	got, err := traces.RecentTraces(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "did it persist?", got[0].Question)
	assert.Equal(t, string(supervisor.StateCompleted), got[0].State)
	assert.Equal(t, 1, got[0].EventCount)
}

func TestTraces_ListsNewestFirst(t *testing.T) {
	srv, _ := newTestServer(t, `
printf '{"type":"agent_start","agentId":"caspar"}\n'
exit 0
`, testPolicy())

	postDecision(t, srv, `{"question":"first"}`)
	postDecision(t, srv, `{"question":"second"}`)

	resp, err := http.Get(srv.URL + "/api/traces?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []TraceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "second", listed[0].Question)
}

func TestTraces_PostIsNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, "exit 0\n", testPolicy())

	resp, err := http.Post(srv.URL+"/api/traces", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "exit 0\n", testPolicy())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime_seconds")
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, "exit 0\n", testPolicy())

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/decision", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
