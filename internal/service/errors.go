package service

import "fmt"

// NotFoundError is returned when a key is unknown, or when the record behind
// it was deleted because it expired or ran out of uses. Callers cannot tell
// the two apart.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("[%s] is not known", e.Key)
}

// ValidationInProgressError is returned while the asynchronous URL check has
// not finished yet. The caller may retry later.
type ValidationInProgressError struct {
	Key string
}

func (e *ValidationInProgressError) Error() string {
	return fmt.Sprintf("[%s] is still being validated", e.Key)
}

// UnsafeError is returned when the target URL failed the threat check.
type UnsafeError struct {
	Key string
}

func (e *UnsafeError) Error() string {
	return fmt.Sprintf("[%s] points to an unsafe target", e.Key)
}

// UnreachableError is returned when the target URL failed the reachability
// probe.
type UnreachableError struct {
	Key string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("[%s] points to an unreachable target", e.Key)
}

// InvalidURLError is returned when a URL submitted for shortening does not
// follow a supported schema.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("[%s] does not follow a supported schema", e.URL)
}

// InvalidLeftUsesError is returned when the submitted use limit is not a
// positive number.
type InvalidLeftUsesError struct {
	Value string
}

func (e *InvalidLeftUsesError) Error() string {
	return fmt.Sprintf("[%s] is not a valid number of uses: it must be a number greater than 0", e.Value)
}

// InvalidExpirationError is returned when the submitted expiration is not a
// valid offset date-time.
type InvalidExpirationError struct {
	Value string
}

func (e *InvalidExpirationError) Error() string {
	return fmt.Sprintf("[%s] is not a valid date: it must follow the ISO-8601 offset date-time format", e.Value)
}
