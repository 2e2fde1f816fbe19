package envelope

import (
	"errors"
	"fmt"
	"time"
)

// Fault codes shared by the backend workers.
const (
	FaultCodeInternal      = "INTERNAL_ERROR"
	FaultCodeUnsupported   = "UNSUPPORTED_OPERATION"
	FaultCodeInsufficient  = "INSUFFICIENT_STOCK"
	FaultCodeNotFound      = "NOT_FOUND"
	FaultCodeBlacklisted   = "CLIENT_BLACKLISTED"
	FaultCodeLegacyRefused = "LEGACY_REFUSED"
)

// ErrBrokerUnavailable signals that the publish/subscribe infrastructure is
// down. Adapters translate it into their 5xx equivalent.
var ErrBrokerUnavailable = errors.New("orderlink: broker unavailable")

// Fault is the canonical representation of a backend-reported failure,
// independent of the originating protocol.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %s: %s", f.Code, f.Message)
}

// NewFault builds a fault with a formatted message.
func NewFault(code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// TimeoutError reports that no reply arrived within the deadline. The outcome
// at the backend is unknown; callers must not assume the operation failed.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting %s for reply to %s", e.Timeout, e.Operation)
}

// ValidationError rejects a malformed inbound request before it touches the
// broker. Adapters translate it into their 4xx equivalent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// AsFault unwraps err into a Fault, or nil when err is not backend-reported.
func AsFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}
