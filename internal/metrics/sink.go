// Package metrics implements the correlation-id-tagged observability sink:
// a bounded ring buffer of recent cycle/entity/chunk records plus plain
// running counters, queryable by the diagnostics server.
package metrics

import "sync"

// Record is one observed event, correlation-tagged per cycle (§ [METRICS]).
type Record struct {
	CorrelationID string
	Kind          string // e.g. "conflict", "bulk_invalid_record", or an engine/queue event type
	Entity        string
	EntityID      string
	Message       string
	At            int64 // unix ms, stamped by the caller
}

// Counters mirrors the plain counters named in SPEC_FULL.md's [METRICS]
// section.
type Counters struct {
	Cycles             int
	EntitiesSynced     int
	PushesApplied      int
	PushesRejected     int
	PushesFailed       int
	ChunksBisected     int
	ThrottledFullSyncs int
}

// Sink is a bounded in-memory ring of recent records plus the running
// counters. Safe for concurrent use.
type Sink struct {
	mu       sync.Mutex
	capacity int
	records  []Record
	counters Counters
}

// DefaultCapacity is the default ring size.
const DefaultCapacity = 500

// New constructs a Sink with the given ring capacity (DefaultCapacity if
// capacity <= 0).
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{capacity: capacity}
}

// Record appends r to the ring, evicting the oldest entry once capacity is
// reached.
func (s *Sink) Record(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	if len(s.records) > s.capacity {
		s.records = s.records[len(s.records)-s.capacity:]
	}
}

// Recent returns up to n of the most recent records, newest last. n <= 0
// returns every buffered record.
func (s *Sink) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.records) {
		n = len(s.records)
	}
	out := make([]Record, n)
	copy(out, s.records[len(s.records)-n:])
	return out
}

// IncCycles, IncEntitiesSynced, etc. bump the matching counter by one.
func (s *Sink) IncCycles()             { s.bump(func(c *Counters) { c.Cycles++ }) }
func (s *Sink) IncEntitiesSynced()     { s.bump(func(c *Counters) { c.EntitiesSynced++ }) }
func (s *Sink) IncPushesApplied()      { s.bump(func(c *Counters) { c.PushesApplied++ }) }
func (s *Sink) IncPushesRejected()     { s.bump(func(c *Counters) { c.PushesRejected++ }) }
func (s *Sink) IncPushesFailed()       { s.bump(func(c *Counters) { c.PushesFailed++ }) }
func (s *Sink) IncChunksBisected()     { s.bump(func(c *Counters) { c.ChunksBisected++ }) }
func (s *Sink) IncThrottledFullSyncs() { s.bump(func(c *Counters) { c.ThrottledFullSyncs++ }) }

func (s *Sink) bump(f func(*Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.counters)
}

// Snapshot returns a copy of the current counters.
func (s *Sink) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}
