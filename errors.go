package serenpair

import (
	"errors"
	"fmt"
)

// Sentinel errors and typed error kinds returned by serenpair components.
// Callers discriminate behavior by wrapping/unwrapping with errors.Is/As.
var (
	// ErrRateLimited indicates a token bucket or upstream rate limit could not
	// be satisfied within the caller's wait budget.
	ErrRateLimited = errors.New("serenpair: rate limited")

	// ErrTransientNetwork indicates a retryable network failure talking to an
	// external provider (note source, chat LLM, embedder).
	ErrTransientNetwork = errors.New("serenpair: transient network failure")

	// ErrNotFound indicates a requested entity does not exist in the store.
	ErrNotFound = errors.New("serenpair: not found")

	// ErrFatalConfig indicates a configuration value makes the system unable
	// to start (missing credentials, unparsable connection string).
	ErrFatalConfig = errors.New("serenpair: fatal configuration error")

	// ErrStoredProcUnavailable indicates a database-side function a Store
	// prefers to call (e.g. mine_candidate_pairs) is not installed, so the
	// caller should fall back to the equivalent Go-side implementation.
	ErrStoredProcUnavailable = errors.New("serenpair: stored procedure unavailable")
)

// ValidationFailure means the LLM response could not be coerced into the
// expected schema even after the single simplified-prompt retry.
type ValidationFailure struct {
	Step   string
	Reason string
	Raw    string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("serenpair: validation failure in %s: %s", e.Step, e.Reason)
}

// PartialBatchError reports a batch operation that made progress but did not
// complete every item. Count fields let the caller decide whether to retry.
type PartialBatchError struct {
	Op        string
	Succeeded int
	Failed    int
	Err       error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("serenpair: %s partially failed (%d ok, %d failed): %v", e.Op, e.Succeeded, e.Failed, e.Err)
}

func (e *PartialBatchError) Unwrap() error {
	return e.Err
}

// RangeMisconfigurationError is returned by the miner when the requested
// percentile range is unusable: p_lo < 0, p_hi > 1, p_lo >= p_hi, or a
// band wider than 0.80.
type RangeMisconfigurationError struct {
	PLo, PHi float64
}

func (e *RangeMisconfigurationError) Error() string {
	return fmt.Sprintf("serenpair: mining range misconfigured: p_lo=%.3f p_hi=%.3f", e.PLo, e.PHi)
}

// NetworkError wraps a transport-level failure so callers can unwrap to
// ErrTransientNetwork while retaining the underlying cause.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("serenpair: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return ErrTransientNetwork
}

// Cause returns the underlying transport error for logging.
func (e *NetworkError) Cause() error {
	return e.Err
}
