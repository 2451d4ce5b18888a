package process

import "fmt"

// TransientError marks a failure that may resolve on retry, such as
// the job store being temporarily unreachable. The caller is expected
// to enqueue the event for a later attempt.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure no retry can fix, such as an event
// whose callback ID matches no known job. It routes straight to a
// terminal failed record without consuming retry budget.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

func transient(err error) error { return &TransientError{Err: err} }
func permanent(err error) error { return &PermanentError{Err: err} }
