package engine

import "sync"

// Status is one of the engine's state-machine states (§4.4.2).
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSyncing  Status = "syncing"
	StatusError    Status = "error"
	StatusOffline  Status = "offline"
)

// state is the engine's state machine. All transitions are internal;
// callers observe it only through Engine.Status and the event bus.
type state struct {
	mu        sync.Mutex
	status    Status
	lastError string
}

func newState() *state {
	return &state{status: StatusIdle}
}

// tryBeginSync transitions idle/error/offline -> syncing, or reports false
// if a sync is already in progress (the re-entry guard of §4.4.2 step 1 /
// §5 "syncAll is single-flight globally").
func (s *state) tryBeginSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusSyncing {
		return false
	}
	s.status = StatusSyncing
	return true
}

// finishOK transitions syncing -> idle.
func (s *state) finishOK() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.lastError = ""
}

// finishErr transitions syncing -> error, recording msg.
func (s *state) finishErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.lastError = msg
}

// setOffline transitions any state -> offline.
func (s *state) setOffline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusOffline
}

// setOnline transitions offline -> idle. No-op from any other state.
func (s *state) setOnline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusOffline {
		s.status = StatusIdle
	}
}

// snapshot returns the current status and last error message.
func (s *state) snapshot() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastError
}

func (s *state) isOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusOffline
}
