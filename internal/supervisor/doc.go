// Package supervisor manages the lifecycle of one worker process per
// inbound request.
//
// # Overview
//
// A Supervisor spawns the worker (interpreter + script), writes the
// serialized request to its stdin and closes it, then concurrently drains
// stdout (the protocol channel) and stderr (the diagnostic channel) through
// independent line framers. Decoded events flow into a single ordered sink,
// preserving each participant's event order.
//
// # Teardown
//
// There is exactly one teardown path, shared by normal completion, caller
// disconnect, and the process timeout: the worker is sent SIGTERM, and if it
// has not exited after the grace period it is killed. This is implemented
// with exec.Cmd's Cancel and WaitDelay on a context that carries the process
// deadline.
//
// # Outcome
//
//	exit 0                    -> Completed
//	non-zero exit             -> Failed (WORKER_RUNTIME_ERROR, exit code kept)
//	spawn failure             -> Failed (WORKER_SPAWN_ERROR)
//	process deadline exceeded -> TimedOut (WORKER_TIMEOUT)
//
// A trailing stdout fragment without a newline is decoded once at EOF before
// the outcome is reported.
package supervisor
