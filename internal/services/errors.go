// Package services implements the relay core: inbound normalization with
// duplicate suppression and menu consistency, outbound composition, the
// serialized delivery queue, and the attachment relocation pipeline.
//
// This file centralizes service-level error values so they can be returned
// consistently and mapped to HTTP results at the handler layer.
package services

import "errors"

var (
	// ErrAttachmentUnavailable indicates the attachment pipeline could not
	// produce a durable reference (resolution, download, or upload failed).
	// Callers drop the attachment; this is never fatal.
	ErrAttachmentUnavailable = errors.New("attachment unavailable")

	// ErrInvalidAttachment indicates a bot-supplied attachment descriptor is
	// missing its type or source URL.
	ErrInvalidAttachment = errors.New("attachment missing type or url")

	// ErrEmptyReply indicates a bot reply produced no sendable payload
	// (unknown kind or no content).
	ErrEmptyReply = errors.New("reply has no sendable content")

	// ErrQueueClosed is returned by Enqueue after the delivery queue has
	// been shut down.
	ErrQueueClosed = errors.New("delivery queue closed")
)
