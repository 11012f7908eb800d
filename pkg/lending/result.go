package lending

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a referenced book or reader that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a book in the wrong state for the requested operation.
	ErrConflict = errors.New("conflict")
	// ErrEmptyBatch marks a batch operation called without ids.
	ErrEmptyBatch = errors.New("empty batch")
)

type Status int

const (
	OK Status = iota
	Error
)

func (s Status) String() string {
	if s == OK {
		return "OK"
	}
	return "ERROR"
}

// MarshalText lets Status render as "OK" / "ERROR" in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of a domain operation. Err is set only when Status is Error
// and wraps ErrNotFound, ErrConflict or ErrEmptyBatch.
type Result struct {
	Status  Status
	Message string
	Err     error
}

func (r Result) OK() bool { return r.Status == OK }

func done(format string, args ...interface{}) Result {
	return Result{Status: OK, Message: fmt.Sprintf(format, args...)}
}

func failed(kind error, format string, args ...interface{}) Result {
	msg := fmt.Sprintf(format, args...)
	return Result{Status: Error, Message: msg, Err: fmt.Errorf("%w: %s", kind, msg)}
}

// StoreError is an infrastructure failure of the durable store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
