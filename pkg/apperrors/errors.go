// Package apperrors defines the sentinel errors shared by the exchange
// client and order executor, plus the classifier that maps a raw
// exchange error onto a retry decision.
package apperrors

import "errors"

// Standardized exchange errors.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")

	// ErrAmbiguousSubmission marks a network call that may or may not have
	// reached the exchange (timeout after send). The caller must resolve it
	// via GetOrder before retrying or giving up.
	ErrAmbiguousSubmission = errors.New("ambiguous order submission")

	// ErrInvariantViolation is returned by the store when a candidate
	// CycleState fails a §3 invariant check. Never retryable.
	ErrInvariantViolation = errors.New("cycle state invariant violation")

	// ErrVersionConflict is returned by the store when the optimistic
	// concurrency version does not match on apply.
	ErrVersionConflict = errors.New("cycle state version conflict")
)

// Class is the retry disposition the Order Executor and Cycle Controller
// use to decide whether to retry, give up, or reconcile via GetOrder.
type Class int

const (
	ClassRetryable Class = iota
	ClassNonRetryable
	ClassAmbiguous
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassNonRetryable:
		return "non_retryable"
	case ClassAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Classify maps a raw error returned by an exchange client into a Class.
// Unrecognized errors default to non-retryable: it is safer to surface an
// unknown failure to the controller than to spin retries against it.
func Classify(err error) Class {
	if err == nil {
		return ClassRetryable
	}
	switch {
	case errors.Is(err, ErrAmbiguousSubmission):
		return ClassAmbiguous
	case errors.Is(err, ErrNetwork),
		errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrSystemOverload),
		errors.Is(err, ErrExchangeMaintenance):
		return ClassRetryable
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrOrderRejected),
		errors.Is(err, ErrInvalidSymbol),
		errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrDuplicateOrder),
		errors.Is(err, ErrInvalidOrderParameter),
		errors.Is(err, ErrTimestampOutOfBounds),
		errors.Is(err, ErrInvariantViolation):
		return ClassNonRetryable
	default:
		return ClassNonRetryable
	}
}

// IsRetryable reports whether Classify returns ClassRetryable for err,
// as a bool rather than a Class.
func IsRetryable(err error) bool {
	return Classify(err) == ClassRetryable
}
