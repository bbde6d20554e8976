package idempotency

import (
	"time"
)

// Status of an idempotency record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Response is the HTTP-shaped result cached under a key.
type Response struct {
	StatusCode int
	Body       []byte
}

// Record binds a key to one request hash for its whole lifetime.
type Record struct {
	Key         string
	RequestHash string
	Status      Status
	Response    *Response
	RequestedBy string
	CreatedAt   time.Time
	CompletedAt *time.Time
	ExpiresAt   time.Time
}

// Outcome of Begin.
type Outcome int

const (
	Proceed Outcome = iota
	Replay
	Conflict
	InProgress
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case Replay:
		return "replay"
	case Conflict:
		return "conflict"
	case InProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Decision is returned by Begin. Response is set only for Replay.
type Decision struct {
	Outcome  Outcome
	Response *Response
}

// Request is a keyed mutating request as seen by Guard.Do.
type Request struct {
	Key       string
	Method    string
	Path      string
	Body      []byte
	Requester string
}

// Hash returns the request hash bound to the key.
func (r Request) Hash() string {
	return HashRequest(r.Method, r.Path, r.Body, r.Requester)
}
