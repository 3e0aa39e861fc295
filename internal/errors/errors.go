package errors

import "errors"

// Sync error taxonomy. Remote and storage operations wrap one of these
// sentinels so callers can pick a recovery strategy with errors.Is.
var (
	// ErrTransient covers network failures and 5xx responses. Safe to
	// retry through the scheduler.
	ErrTransient = errors.New("transient network error")

	// ErrAuthExpired means the session token was rejected. The caller
	// recovers the session once, then retries the original operation once.
	ErrAuthExpired = errors.New("session expired")

	// ErrValidation means the payload was malformed. Never retried.
	ErrValidation = errors.New("invalid payload")

	// ErrStorageQuota means local persistence failed for lack of space.
	// Logged and skipped, never fatal.
	ErrStorageQuota = errors.New("storage quota exceeded")

	// ErrInterrupted means a streaming response was cancelled mid-flight.
	// The partial result is kept, flagged as interrupted.
	ErrInterrupted = errors.New("stream interrupted")
)

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsAuthExpired reports whether err calls for session recovery.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}
