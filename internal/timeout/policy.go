// ABOUTME: Resolves the five-deadline timeout policy from environment-style overrides.
// ABOUTME: Validation is warn-only; the built-in defaults are always internally consistent.

package timeout

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// Environment entry names for the timeout hierarchy. The MAGI_* names are
// shared with the worker process, which reads the same entries.
const (
	EnvPerParticipant = "MAGI_SAGE_TIMEOUT_SECONDS"
	EnvArbiter        = "MAGI_SOLOMON_TIMEOUT_SECONDS"
	EnvTotal          = "MAGI_TOTAL_TIMEOUT_SECONDS"
	EnvEventQueue     = "MAGI_EVENT_QUEUE_TIMEOUT_SECONDS"
	EnvProcess        = "MAGI_PROCESS_TIMEOUT_SECONDS"
)

// Defaults, in seconds. Ordered so that every inner stage finishes inside
// its outer deadline: perParticipant < total < process, arbiter < total.
const (
	defaultPerParticipantSeconds = 90
	defaultArbiterSeconds        = 60
	defaultTotalSeconds          = 180
	defaultEventQueueSeconds     = 120
	defaultProcessSeconds        = 240
)

// Policy is the immutable set of cooperating deadlines for one bridge
// process. ProcessTimeout is the hard ceiling on the worker's lifetime;
// TotalTimeout bounds the whole relay; PerParticipantTimeout and
// ArbiterTimeout are enforced inside the worker; EventQueueTimeout is the
// maximum stall between consecutive relayed events.
type Policy struct {
	ProcessTimeout        time.Duration
	TotalTimeout          time.Duration
	PerParticipantTimeout time.Duration
	ArbiterTimeout        time.Duration
	EventQueueTimeout     time.Duration
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		ProcessTimeout:        defaultProcessSeconds * time.Second,
		TotalTimeout:          defaultTotalSeconds * time.Second,
		PerParticipantTimeout: defaultPerParticipantSeconds * time.Second,
		ArbiterTimeout:        defaultArbiterSeconds * time.Second,
		EventQueueTimeout:     defaultEventQueueSeconds * time.Second,
	}
}

// Resolve builds a Policy from named second-count overrides. A key that is
// absent, non-numeric, or non-positive degrades to the default for that
// deadline and logs a warning. Resolve never fails.
func Resolve(overrides map[string]string, logger *slog.Logger) Policy {
	if logger == nil {
		logger = slog.Default()
	}
	pick := func(key string, def int) time.Duration {
		raw, ok := overrides[key]
		if !ok || raw == "" {
			return time.Duration(def) * time.Second
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			logger.Warn("invalid timeout override, using default",
				"key", key, "value", raw, "default_seconds", def)
			return time.Duration(def) * time.Second
		}
		return time.Duration(n) * time.Second
	}

	return Policy{
		ProcessTimeout:        pick(EnvProcess, defaultProcessSeconds),
		TotalTimeout:          pick(EnvTotal, defaultTotalSeconds),
		PerParticipantTimeout: pick(EnvPerParticipant, defaultPerParticipantSeconds),
		ArbiterTimeout:        pick(EnvArbiter, defaultArbiterSeconds),
		EventQueueTimeout:     pick(EnvEventQueue, defaultEventQueueSeconds),
	}
}

// Validate checks the ordering invariants of the timeout hierarchy and
// returns a human-readable warning for each violation. It never mutates the
// policy and never fails: the defaults cannot violate the hierarchy, only
// operator overrides can, and a misordered hierarchy still runs (an inner
// stage may simply be cut off by its outer deadline).
func Validate(p Policy) []string {
	var warnings []string

	if p.PerParticipantTimeout >= p.TotalTimeout {
		warnings = append(warnings, fmt.Sprintf(
			"%s (%s) should be less than %s (%s)",
			EnvPerParticipant, p.PerParticipantTimeout, EnvTotal, p.TotalTimeout))
	}
	if p.TotalTimeout >= p.ProcessTimeout {
		warnings = append(warnings, fmt.Sprintf(
			"%s (%s) should be less than %s (%s)",
			EnvTotal, p.TotalTimeout, EnvProcess, p.ProcessTimeout))
	}
	if p.ArbiterTimeout >= p.TotalTimeout {
		warnings = append(warnings, fmt.Sprintf(
			"%s (%s) should be less than %s (%s)",
			EnvArbiter, p.ArbiterTimeout, EnvTotal, p.TotalTimeout))
	}

	return warnings
}

// Env returns the policy rendered as environment entries, suitable for
// passing to the worker process so both sides share one hierarchy.
func (p Policy) Env() []string {
	seconds := func(d time.Duration) string {
		return strconv.Itoa(int(d / time.Second))
	}
	return []string{
		EnvPerParticipant + "=" + seconds(p.PerParticipantTimeout),
		EnvArbiter + "=" + seconds(p.ArbiterTimeout),
		EnvTotal + "=" + seconds(p.TotalTimeout),
		EnvEventQueue + "=" + seconds(p.EventQueueTimeout),
		EnvProcess + "=" + seconds(p.ProcessTimeout),
	}
}

var (
	envOnce   sync.Once
	envPolicy Policy
)

// FromEnv resolves the policy from the process environment exactly once and
// returns the cached value on every subsequent call. The first caller pays
// the resolution cost and emits any ordering warnings; all callers observe
// an identical policy for the remainder of the process lifetime.
func FromEnv(logger *slog.Logger) Policy {
	envOnce.Do(func() {
		overrides := make(map[string]string, 5)
		for _, key := range []string{EnvPerParticipant, EnvArbiter, EnvTotal, EnvEventQueue, EnvProcess} {
			if v, ok := os.LookupEnv(key); ok {
				overrides[key] = v
			}
		}
		envPolicy = Resolve(overrides, logger)
		for _, w := range Validate(envPolicy) {
			if logger != nil {
				logger.Warn("timeout hierarchy violation", "detail", w)
			}
		}
	})
	return envPolicy
}
