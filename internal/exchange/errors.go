package exchange

import (
	"errors"
	"fmt"
)

// ErrCode is the closed classification of port failures. Codes are
// append-only; callers branch on the code, never on venue error strings.
type ErrCode string

const (
	CodeTickSize          ErrCode = "TICK_SIZE"
	CodeMinNotional       ErrCode = "MIN_NOTIONAL"
	CodeDuplicateClientID ErrCode = "DUPLICATE_CLIENT_ID"
	CodeRateLimited       ErrCode = "RATE_LIMITED"
	CodeTimeout           ErrCode = "TIMEOUT"
	CodeAuth              ErrCode = "AUTH"
	CodeUnknownOrder      ErrCode = "UNKNOWN_ORDER"
	CodeUnknown           ErrCode = "UNKNOWN"
)

// PortError wraps a venue failure with its classification. Only
// CodeRateLimited and CodeTimeout are retryable; everything else must
// surface to the caller unchanged.
type PortError struct {
	Op   string
	Code ErrCode
	Err  error
}

func (e *PortError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exchange %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("exchange %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class permits a bounded retry with
// the same idempotency key.
func (e *PortError) Retryable() bool {
	return e.Code == CodeRateLimited || e.Code == CodeTimeout
}

func newPortError(op string, code ErrCode, err error) *PortError {
	return &PortError{Op: op, Code: code, Err: err}
}

// CodeOf extracts the classification from any error returned by a Port.
func CodeOf(err error) ErrCode {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether err may be retried with the same
// idempotency key.
func IsRetryable(err error) bool {
	var pe *PortError
	return errors.As(err, &pe) && pe.Retryable()
}
