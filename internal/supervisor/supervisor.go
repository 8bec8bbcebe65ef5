// ABOUTME: Owns the lifecycle of one worker process per request: spawn, pipe, drain, reap.
// ABOUTME: Single two-phase teardown path (SIGTERM, then SIGKILL after a grace period).

package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/magi-system/magi-bridge/internal/framer"
	"github.com/magi-system/magi-bridge/internal/protocol"
	"github.com/magi-system/magi-bridge/internal/timeout"
)

// State is the bridge-side lifecycle of one request.
type State string

const (
	StateCreated   State = "created"
	StateSpawning  State = "spawning"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateClosed    State = "closed"
)

// Machine-readable error codes surfaced in terminal error events.
const (
	CodeSpawnError   = "WORKER_SPAWN_ERROR"
	CodeRuntimeError = "WORKER_RUNTIME_ERROR"
	CodeTimeout      = "WORKER_TIMEOUT"
)

// termGracePeriodDefault is how long a signaled worker gets to exit before
// it is forcibly killed.
const termGracePeriodDefault = 5 * time.Second

// readBufSize is the chunk size for draining the worker's pipes. Chunk
// boundaries are arbitrary; the framer reassembles lines across them.
const readBufSize = 4096

// Environment entries stripped from the worker's environment. A worker that
// inherits these misidentifies its execution context as the host runtime.
var scrubbedEnvKeys = []string{
	"AWS_EXECUTION_ENV",
	"BEDROCK_AGENTCORE_RUNTIME",
	"LAMBDA_TASK_ROOT",
	"LAMBDA_RUNTIME_DIR",
}

const scrubbedEnvPrefix = "AWS_LAMBDA_"

// Config describes how to invoke the worker executable.
type Config struct {
	// Interpreter is the runtime binary, e.g. "python3".
	Interpreter string
	// Script is the worker entry point passed to the interpreter.
	Script string
	// GracePeriod overrides the SIGTERM-to-SIGKILL window. Zero means the
	// 5 second default.
	GracePeriod time.Duration
}

// Outcome is the terminal result of one supervised run.
type Outcome struct {
	State    State
	Code     string // error code, empty when State is StateCompleted
	ExitCode int    // -1 when the worker never ran or was killed pre-exit
	Err      error
	Events   int // decoded protocol events relayed
	Dropped  int // undecodable stdout lines logged and dropped
	Duration time.Duration
}

// Supervisor runs exactly one worker process per Run call. Instances are
// cheap and stateless between runs; they never share process handles.
type Supervisor struct {
	cfg    Config
	policy timeout.Policy
	logger *slog.Logger
}

// New creates a Supervisor bound to a worker invocation and timeout policy.
func New(cfg Config, policy timeout.Policy, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = termGracePeriodDefault
	}
	return &Supervisor{cfg: cfg, policy: policy, logger: logger}
}

// Run spawns the worker, writes the serialized request to its stdin, and
// drains both output pipes through per-pipe line framers. Decoded events
// arrive on the first channel in the order the worker produced them; when it
// closes, the second channel yields exactly one Outcome.
//
// Cancelling ctx (caller disconnect) and exceeding the process timeout both
// funnel into the same teardown: SIGTERM, then SIGKILL after the grace
// period. There is no other cleanup path.
func (s *Supervisor) Run(ctx context.Context, req protocol.WorkerRequest) (<-chan *protocol.StreamEvent, <-chan Outcome) {
	events := make(chan *protocol.StreamEvent, 64)
	outcome := make(chan Outcome, 1)

	go s.run(ctx, req, events, outcome)
	return events, outcome
}

func (s *Supervisor) run(ctx context.Context, req protocol.WorkerRequest, events chan<- *protocol.StreamEvent, outcome chan<- Outcome) {
	defer close(outcome)

	started := time.Now()
	logger := s.logger.With("session_id", req.SessionID)
	logger.Debug("request lifecycle", "state", StateCreated)

	finish := func(o Outcome) {
		o.Duration = time.Since(started)
		close(events)
		logger.Info("worker finished",
			"state", o.State, "code", o.Code, "exit_code", o.ExitCode,
			"events", o.Events, "dropped", o.Dropped, "duration", o.Duration)
		outcome <- o
		logger.Debug("request lifecycle", "state", StateClosed)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		finish(Outcome{State: StateFailed, Code: CodeSpawnError, ExitCode: -1,
			Err: fmt.Errorf("serializing worker request: %w", err)})
		return
	}

	// The process timeout is the hard ceiling from spawn to exit.
	procCtx, cancel := context.WithTimeout(ctx, s.policy.ProcessTimeout)
	defer cancel()

	cmd := exec.CommandContext(procCtx, s.cfg.Interpreter, s.cfg.Script)
	cmd.Env = scrubEnv(os.Environ(), s.policy)
	// stdin carries the single request object and is closed right after;
	// a worker waiting for more input runs until its own deadline.
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	// Two-phase teardown: graceful signal on cancellation, forced kill if
	// the worker is still alive after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.GracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		finish(Outcome{State: StateFailed, Code: CodeSpawnError, ExitCode: -1,
			Err: fmt.Errorf("opening stdout pipe: %w", err)})
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		finish(Outcome{State: StateFailed, Code: CodeSpawnError, ExitCode: -1,
			Err: fmt.Errorf("opening stderr pipe: %w", err)})
		return
	}

	logger.Debug("request lifecycle", "state", StateSpawning,
		"interpreter", s.cfg.Interpreter, "script", s.cfg.Script)

	if err := cmd.Start(); err != nil {
		finish(Outcome{State: StateFailed, Code: CodeSpawnError, ExitCode: -1,
			Err: fmt.Errorf("spawning worker: %w", err)})
		return
	}
	logger.Debug("request lifecycle", "state", StateStreaming, "pid", cmd.Process.Pid)

	emit := func(ev *protocol.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-procCtx.Done():
			return false
		}
	}

	var (
		wg      sync.WaitGroup
		decoded int
		dropped int
	)

	// Primary output channel: framed, decoded, relayed in order.
	wg.Add(1)
	go func() {
		defer wg.Done()
		d, dr := s.drainStdout(stdout, emit, logger)
		decoded, dropped = d, dr
	}()

	// Secondary (diagnostic) channel: framed, never relayed as-is. Lines
	// matching the error-signature heuristic become synthesized error
	// events; everything else is logged and discarded.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.drainStderr(stderr, emit, logger)
	}()

	// Watchdog: a worker that leaks children keeps the pipes open past its
	// own death. Once the deadline fires and the grace period passes, the
	// pipes are closed so the drains cannot hang on an orphan.
	watchdogDone := make(chan struct{})
	go func() {
		select {
		case <-procCtx.Done():
		case <-watchdogDone:
			return
		}
		select {
		case <-time.After(s.cfg.GracePeriod):
			_ = stdout.Close()
			_ = stderr.Close()
		case <-watchdogDone:
		}
	}()

	wg.Wait()
	close(watchdogDone)
	waitErr := cmd.Wait()

	o := Outcome{ExitCode: exitCode(cmd, waitErr), Events: decoded, Dropped: dropped}
	switch {
	case waitErr == nil:
		o.State = StateCompleted
	case errors.Is(procCtx.Err(), context.DeadlineExceeded):
		o.State = StateTimedOut
		o.Code = CodeTimeout
		o.Err = fmt.Errorf("worker exceeded process timeout (%s)", s.policy.ProcessTimeout)
	case errors.Is(procCtx.Err(), context.Canceled):
		// Caller disconnected; the same teardown already ran.
		o.State = StateFailed
		o.Err = context.Canceled
	default:
		o.State = StateFailed
		o.Code = CodeRuntimeError
		o.Err = fmt.Errorf("worker exited abnormally: %w", waitErr)
	}
	finish(o)
}

// drainStdout frames and decodes the worker's primary output. Undecodable
// lines are diagnostic noise on the wrong channel: logged, dropped, and the
// stream continues. At EOF the framer is flushed so a worker that forgot the
// final newline does not lose its last event.
func (s *Supervisor) drainStdout(r io.Reader, emit func(*protocol.StreamEvent) bool, logger *slog.Logger) (decoded, dropped int) {
	f := framer.New()
	buf := make([]byte, readBufSize)

	handle := func(line string) {
		ev, err := protocol.Decode(line)
		if err != nil {
			dropped++
			logger.Warn("dropping non-protocol stdout line", "error", err, "line", truncate(line, 200))
			return
		}
		if emit(ev) {
			decoded++
		}
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range f.Feed(buf[:n]) {
				handle(line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("stdout read error", "error", err)
			}
			break
		}
	}
	if last, ok := f.Flush(); ok {
		handle(last)
	}
	return decoded, dropped
}

// drainStderr frames the worker's diagnostic output. Error-signature lines
// are converted into synthesized error events carrying the runtime error
// code; the rest are logged at debug level and discarded.
func (s *Supervisor) drainStderr(r io.Reader, emit func(*protocol.StreamEvent) bool, logger *slog.Logger) {
	f := framer.New()
	buf := make([]byte, readBufSize)

	handle := func(line string) {
		if line == "" {
			return
		}
		if matchesErrorSignature(line) {
			logger.Error("worker diagnostic error", "line", truncate(line, 500))
			emit(protocol.NewEvent(protocol.EventError, "", map[string]string{
				"code":    CodeRuntimeError,
				"message": truncate(line, 500),
				"source":  "stderr",
			}))
			return
		}
		logger.Debug("worker diagnostic", "line", truncate(line, 500))
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range f.Feed(buf[:n]) {
				handle(line)
			}
		}
		if err != nil {
			break
		}
	}
	if last, ok := f.Flush(); ok {
		handle(last)
	}
}

// matchesErrorSignature reports whether a diagnostic line looks like a
// worker failure rather than routine logging.
func matchesErrorSignature(line string) bool {
	lower := strings.ToLower(line)
	for _, sig := range []string{"traceback", "error", "exception", "fatal", "panic"} {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// scrubEnv removes host-runtime identity variables from the inherited
// environment and appends the shared timeout policy entries.
func scrubEnv(environ []string, policy timeout.Policy) []string {
	out := make([]string, 0, len(environ)+5)
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, scrubbedEnvPrefix) || scrubbedKey(key) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, policy.Env()...)
}

func scrubbedKey(key string) bool {
	for _, k := range scrubbedEnvKeys {
		if key == k {
			return true
		}
	}
	return false
}

// exitCode extracts the worker's exit code, -1 when unavailable.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
