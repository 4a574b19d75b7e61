// Package engine implements the sync engine: the state machine, pull and
// push orchestration, the save-to-local-db conflict guard, and the bounded
// parallel-entity runner (§4.4, §5).
package engine

import "fmt"

// Config is the engine configuration required before any sync operation
// (§4.4.1). IsConfigured is true only once all three core fields are set.
type Config struct {
	BaseURL      string
	AuthToken    string
	TechnicianID string

	// ParallelEntities enables the parallel-entity pull path
	// (SYNC_OPT_PARALLEL_ENTITIES); otherwise every entity runs
	// sequentially in registration order.
	ParallelEntities bool
	// MaxParallelEntities caps concurrent entity cycles in the parallel
	// group (MAX_PARALLEL_ENTITIES, default 2).
	MaxParallelEntities int
	// ParallelSafeEntities lists entities eligible for the parallel
	// group (PARALLEL_SAFE_ENTITIES).
	ParallelSafeEntities []string
	// SequentialEntities lists entities that must run, in this order,
	// only after the parallel group has fully completed
	// (SEQUENTIAL_ENTITIES). An entity named in neither list defaults to
	// sequential.
	SequentialEntities []string
}

// IsConfigured reports whether the engine has everything it needs to sync
// (§4.4.1).
func (c Config) IsConfigured() bool {
	return c.BaseURL != "" && c.AuthToken != "" && c.TechnicianID != ""
}

// Validate returns an error describing the first missing required field,
// or nil.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("engine: config: baseUrl is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("engine: config: authToken is required")
	}
	if c.TechnicianID == "" {
		return fmt.Errorf("engine: config: technicianId is required")
	}
	return nil
}

func (c Config) maxParallel() int {
	if c.MaxParallelEntities <= 0 {
		return 2
	}
	return c.MaxParallelEntities
}

func (c Config) isParallelSafe(name string) bool {
	if !c.ParallelEntities {
		return false
	}
	for _, n := range c.ParallelSafeEntities {
		if n == name {
			return true
		}
	}
	return false
}
