package models

import "time"

// ValidationState tracks the outcome of the asynchronous safety and
// reachability check that runs after a short URL is created. A record
// transitions from ValidationPending to exactly one terminal state.
type ValidationState string

const (
	ValidationPending         ValidationState = "PENDING"
	ValidationPass            ValidationState = "PASS"
	ValidationFailUnsafe      ValidationState = "FAIL_UNSAFE"
	ValidationFailUnreachable ValidationState = "FAIL_UNREACHABLE"
)

// ShortURL represents a shortened URL and its usage and expiry metadata.
type ShortURL struct {
	// Key is the short hash that identifies the record.
	Key string
	// TargetURL is the original, full-length URL that the key points to.
	TargetURL string
	// LeftUses is the number of redirects the record may still serve.
	// A nil value means the record has unlimited uses.
	LeftUses *int64
	// ExpiresAt is the instant after which the record is no longer served.
	// A nil value means the record never expires by time.
	ExpiresAt *time.Time
	// Validation is the current state of the post-creation URL check.
	Validation ValidationState
	// CreatedAt is the timestamp indicating when the record was created.
	CreatedAt time.Time
	// OwnerIP is the remote address the record was created from.
	OwnerIP string
	// Sponsor is an optional sponsor attribution for the record.
	Sponsor string
}

// Click is an append-only log entry recorded once per successful redirect.
type Click struct {
	ID        int64
	Key       string
	CreatedAt time.Time
	IP        string
}
