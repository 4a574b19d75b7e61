// Package lifecycle wires the durable store, transport, mutation queue,
// registry, engine, fast-push scheduler, and metrics sink into a single
// Core, owned and constructed explicitly — no package-level singletons
// anywhere in this module (§9).
package lifecycle

import (
	"fmt"
	"time"
)

// Config is the full configuration surface a caller supplies to build a
// Core (§6.4, §4.4.1).
type Config struct {
	// StorePath is the on-disk SQLite path, or ":memory:" for an
	// ephemeral store.
	StorePath string

	BaseURL      string
	AuthToken    string
	TechnicianID string

	// Dev selects zerolog.ConsoleWriter output instead of structured
	// JSON, mirroring cmd/server/main.go's dev-mode logging switch.
	Dev bool

	ParallelEntities     bool
	MaxParallelEntities  int
	ParallelSafeEntities []string
	SequentialEntities   []string

	FastPushOnly        bool
	FastPushDebounce    time.Duration
	FastPushMaxBuffer   int
	ScheduleFullSync    bool
	FullSyncThrottle    time.Duration
	FullSyncPreferWifi  bool

	// DiagnosticsAddr, if non-empty, starts a loopback diagnostics HTTP
	// server (chi) at this address (e.g. "127.0.0.1:9797").
	DiagnosticsAddr string

	// ConnectivityPollInterval tunes the transport connectivity monitor.
	ConnectivityPollInterval time.Duration

	// MetricsCapacity bounds the in-memory metrics ring buffer.
	MetricsCapacity int
}

// ErrNotConfigured mirrors the teacher's sentinel-error style
// (internal/mcpserver/config/errors.go) for construction-time misuse.
var ErrNotConfigured = fmt.Errorf("lifecycle: baseUrl, authToken, and technicianId are all required")

// Validate checks the fields required to construct a Core at all (engine
// runtime re-checks IsConfigured per cycle independently).
func (c Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("lifecycle: storePath is required")
	}
	if c.BaseURL == "" || c.AuthToken == "" || c.TechnicianID == "" {
		return ErrNotConfigured
	}
	return nil
}
