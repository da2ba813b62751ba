package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the medium cannot be used: it is disabled,
	// closed, or the process is not running in a context that has one.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrQuotaExceeded means the medium rejected a write for lack of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrNotListable is returned by wrappers whose underlying store does
	// not implement Lister.
	ErrNotListable = errors.New("storage cannot list keys")
)

// StoreError is returned by Store operations.
// Reason is ErrUnavailable or ErrQuotaExceeded; Cause is the medium's own
// error, if any.
type StoreError struct {
	Op     string
	Key    string
	Reason error
	Cause  error
}

func (e *StoreError) Error() string {
	msg := "storage: " + e.Op
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	msg += ": " + e.Reason.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the reason and the cause to errors.Is and errors.As.
func (e *StoreError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

// NewUnavailableError builds a StoreError with ErrUnavailable as reason.
func NewUnavailableError(op, key string, cause error) *StoreError {
	return &StoreError{Op: op, Key: key, Reason: ErrUnavailable, Cause: cause}
}

// NewQuotaError builds a StoreError with ErrQuotaExceeded as reason.
func NewQuotaError(op, key string, cause error) *StoreError {
	return &StoreError{Op: op, Key: key, Reason: ErrQuotaExceeded, Cause: cause}
}

// IsUnavailable reports whether err is, or wraps, ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsQuotaExceeded reports whether err is, or wraps, ErrQuotaExceeded.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// CodecError is returned by codecs when a value cannot be encoded or a raw
// string cannot be decoded.
type CodecError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// asCodecError wraps err in a CodecError unless it already is one.
func asCodecError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CodecError
	if errors.As(err, &ce) {
		return err
	}
	return &CodecError{Op: op, Err: err}
}

// CellError is what a Cell passes to its error callback.
type CellError struct {
	Key string
	// Op is one of "decode", "encode", "write", "write-default", "remove".
	Op  string
	Err error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("storage cell %q: %s: %v", e.Key, e.Op, e.Err)
}

func (e *CellError) Unwrap() error {
	return e.Err
}
