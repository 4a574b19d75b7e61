package engine

import "time"

// ResultError is one error captured against a SyncResult, tagged with the
// operation it occurred under: "pull" or "push" (a transport failure is
// tagged with the operation it interrupted).
type ResultError struct {
	Operation string
	Message   string
}

// SyncResult is the per-entity outcome of a sync cycle (§4.4.4, §4.4.5).
// The engine never throws out of syncAll/syncEntity/syncWithRetry; every
// failure is captured here instead (§7 propagation policy).
type SyncResult struct {
	Success  bool
	Entity   string
	Pulled   int
	Pushed   int
	Errors   []ResultError
	Duration time.Duration
}

func errorResult(entity string, op string, err error, start time.Time) SyncResult {
	return SyncResult{
		Success:  false,
		Entity:   entity,
		Errors:   []ResultError{{Operation: op, Message: err.Error()}},
		Duration: time.Since(start),
	}
}
