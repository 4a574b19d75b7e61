// Package mutationqueue implements the durable, FIFO journal of local
// writes awaiting server acknowledgement (§3.2, §4.2): enqueue, retry
// eligibility, lifecycle transitions, and an observer bus that survives a
// misbehaving listener.
package mutationqueue

// Operation is the kind of write a mutation represents.
type Operation string

const (
	OpCreate       Operation = "create"
	OpUpdate       Operation = "update"
	OpUpdateStatus Operation = "update_status"
	OpDelete       Operation = "delete"
)

// Status is a mutation's position in its lifecycle (§3.2 Lifecycle).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// MaxRetries is the attempt ceiling after which a failed mutation is
// excluded from future pushes until reset (M3).
const MaxRetries = 5

// Mutation is one row of the journal (§3.2).
type Mutation struct {
	ID           int64
	Entity       string
	EntityID     string
	Operation    Operation
	Payload      string
	CreatedAt    int64 // local wall-clock ms at enqueue
	Attempts     int
	LastAttempt  *int64
	Status       Status
	ErrorMessage string

	// Terminal distinguishes a business rejection (never retried, the
	// spec's open-question decision #1) from a transient transport
	// failure (retried while Attempts < MaxRetries). Both reach
	// Status=StatusFailed; Terminal, not the error text, is what tells
	// them apart.
	Terminal bool
}

// Retryable reports whether m is eligible for the next push batch: it is
// either still pending, or failed-but-not-terminal with attempts left (the
// getPending contract, §4.2).
func (m Mutation) Retryable() bool {
	if m.Status == StatusPending {
		return true
	}
	return m.Status == StatusFailed && !m.Terminal && m.Attempts < MaxRetries
}
