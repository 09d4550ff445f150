package models

import "errors"

// Error taxonomy shared across the service. Validation errors surface
// synchronously to the submitter; everything else is recorded against the
// affected request or result and reported asynchronously.
var (
	// ErrInvalidCampaign is returned when a campaign fails validation. No side
	// effects are performed before validation passes.
	ErrInvalidCampaign = errors.New("invalid campaign")

	// ErrResourceExhausted is returned when the session pool cap is reached.
	// Retryable with backoff.
	ErrResourceExhausted = errors.New("session pool exhausted")

	// ErrSessionLost means the underlying messaging client died or was closed.
	// Work depending on the session fails permanently until a new session is
	// created for the tenant.
	ErrSessionLost = errors.New("session lost")

	// ErrSessionNotReady means the tenant's session exists but has not
	// completed the auth handshake yet. Transient; work stays queued.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrSendFailed wraps a per-recipient send failure. Retried a bounded
	// number of times before the step is recorded FAILED.
	ErrSendFailed = errors.New("send failed")

	// ErrInvalidRecipient marks a recipient that can never be delivered to.
	// Permanent; never retried.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrStorageUnavailable wraps transient store failures. Callers retry
	// with backoff.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned for lookups of unknown keys or records.
	ErrNotFound = errors.New("not found")
)
