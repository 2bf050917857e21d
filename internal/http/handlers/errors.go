// Package handlers defines HTTP-layer error codes used across all endpoints.
//
// These symbolic constants are mapped to HTTP responses via the fail()
// helper and give callers a stable, machine-readable taxonomy alongside the
// human-readable message.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeComposeFailed = "compose_failed"
	ErrCodeQueueClosed   = "queue_closed"
)
