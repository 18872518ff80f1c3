// Package common defines shared constants and sentinel errors used across
// certdash components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Ingestion errors. Both reject a single record and never abort the batch.
	ErrInvalidDate     = errors.New("invalid or missing expiry date")
	ErrMalformedRecord = errors.New("missing natural key fields")

	// ErrPersistence wraps a failed store write. The reconciler does not
	// retry; the record is counted as a failure for the run.
	ErrPersistence = errors.New("persistence error")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Webhook errors.
	ErrBadSignature = errors.New("invalid webhook signature")
)
