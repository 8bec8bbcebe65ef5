// ABOUTME: Tests for timeout policy resolution and hierarchy validation.
// ABOUTME: Covers default fallback, invalid overrides, and ordering warnings.

package timeout

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolve_Defaults(t *testing.T) {
	p := Resolve(nil, discard())

	assert.Equal(t, 240*time.Second, p.ProcessTimeout)
	assert.Equal(t, 180*time.Second, p.TotalTimeout)
	assert.Equal(t, 90*time.Second, p.PerParticipantTimeout)
	assert.Equal(t, 60*time.Second, p.ArbiterTimeout)
	assert.Equal(t, 120*time.Second, p.EventQueueTimeout)
	assert.Equal(t, Default(), p)
}

func TestResolve_Overrides(t *testing.T) {
	p := Resolve(map[string]string{
		EnvPerParticipant: "30",
		EnvArbiter:        "20",
		EnvTotal:          "60",
		EnvEventQueue:     "40",
		EnvProcess:        "90",
	}, discard())

	assert.Equal(t, 30*time.Second, p.PerParticipantTimeout)
	assert.Equal(t, 20*time.Second, p.ArbiterTimeout)
	assert.Equal(t, 60*time.Second, p.TotalTimeout)
	assert.Equal(t, 40*time.Second, p.EventQueueTimeout)
	assert.Equal(t, 90*time.Second, p.ProcessTimeout)
}

func TestResolve_InvalidOverridesDegradeToDefaults(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"non-numeric", "ninety"},
		{"zero", "0"},
		{"negative", "-5"},
		{"float", "1.5"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Resolve(map[string]string{EnvTotal: tt.value}, discard())
			assert.Equal(t, 180*time.Second, p.TotalTimeout, "invalid value %q must fall back", tt.value)
		})
	}
}

func TestValidate_DefaultsAreConsistent(t *testing.T) {
	warnings := Validate(Default())
	assert.Empty(t, warnings)
}

func TestValidate_OrderingViolations(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]string
		warnings  int
	}{
		{
			name:      "participant exceeds total",
			overrides: map[string]string{EnvPerParticipant: "200"},
			warnings:  1,
		},
		{
			name:      "total exceeds process",
			overrides: map[string]string{EnvTotal: "300"},
			warnings:  1,
		},
		{
			name:      "arbiter exceeds total",
			overrides: map[string]string{EnvArbiter: "181"},
			warnings:  1,
		},
		{
			name:      "equal is still a violation",
			overrides: map[string]string{EnvPerParticipant: "180"},
			warnings:  1,
		},
		{
			name: "everything misordered",
			overrides: map[string]string{
				EnvPerParticipant: "500",
				EnvArbiter:        "500",
				EnvTotal:          "400",
				EnvProcess:        "100",
			},
			warnings: 3,
		},
		{
			name:      "valid override set",
			overrides: map[string]string{EnvPerParticipant: "10", EnvArbiter: "10", EnvTotal: "30", EnvProcess: "60"},
			warnings:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Resolve(tt.overrides, discard())
			warnings := Validate(p)
			assert.Len(t, warnings, tt.warnings)
		})
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	p := Resolve(map[string]string{EnvTotal: "9999"}, discard())
	before := p
	_ = Validate(p)
	assert.Equal(t, before, p)
}

func TestPolicy_Env(t *testing.T) {
	env := Default().Env()

	assert.Contains(t, env, "MAGI_SAGE_TIMEOUT_SECONDS=90")
	assert.Contains(t, env, "MAGI_SOLOMON_TIMEOUT_SECONDS=60")
	assert.Contains(t, env, "MAGI_TOTAL_TIMEOUT_SECONDS=180")
	assert.Contains(t, env, "MAGI_EVENT_QUEUE_TIMEOUT_SECONDS=120")
	assert.Contains(t, env, "MAGI_PROCESS_TIMEOUT_SECONDS=240")
}

func TestFromEnv_CachedAcrossCalls(t *testing.T) {
	first := FromEnv(discard())
	second := FromEnv(discard())
	assert.Equal(t, first, second)
}
