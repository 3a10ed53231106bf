package ledger

import "fmt"

// PayloadError reports a payload that cannot be canonically encoded, such as
// a Record holding a channel or a NaN. The offending marshal error is wrapped.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("payload cannot be canonically encoded: %v", e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// AppendError wraps any failure during Append. When an AppendError is
// returned the chain is guaranteed to be exactly as it was before the call.
type AppendError struct {
	Err error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append failed, chain unchanged: %v", e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }
