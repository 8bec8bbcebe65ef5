// Package timeout resolves and validates the bridge's timeout hierarchy.
//
// # Overview
//
// Five deadlines cooperate to keep the worker process inside the hosting
// platform's outer limit:
//
//	perParticipant < total < process
//	arbiter        < total
//
// The per-participant and arbiter deadlines are enforced inside the worker
// (the policy is exported to it via environment entries); the total and
// process deadlines are enforced by the bridge; the event-queue deadline
// bounds the stall between consecutive relayed events.
//
// # Resolution
//
// Resolve is a pure function of named second-count overrides. Invalid
// overrides degrade to defaults with a warning, never an error. FromEnv
// wraps Resolve with a process-wide sync.Once cache so every component
// observes the same immutable Policy.
//
// # Validation
//
// Validate returns a warning per ordering violation and never blocks
// startup. The defaults are always consistent; only operator overrides can
// misorder the hierarchy.
package timeout
