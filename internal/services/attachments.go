// Attachment relocation pipeline.
//
// Inbound media lives behind short-lived, token-authenticated channel URLs,
// so it is relayed into durable blob storage and referenced by a signed GET
// URL the bot backend can fetch on its own schedule. Outbound media goes by
// reference link by default; when native upload is enabled the bytes are
// pushed into the channel's media store instead, with an unconditional
// fallback to the link path.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

// ChannelMedia is the channel-API surface the pipeline needs. Implemented
// by whatsapp.Client.
type ChannelMedia interface {
	// MediaURL resolves a channel media id to a temporary download URL.
	MediaURL(ctx context.Context, mediaID string) (string, error)

	// DownloadMedia fetches a binary from a channel URL with credentials.
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)

	// Fetch retrieves a binary from an arbitrary URL without credentials.
	Fetch(ctx context.Context, url string) ([]byte, string, error)

	// UploadMedia stores a binary in the channel's media store and returns
	// the native media id.
	UploadMedia(ctx context.Context, data []byte, contentType string) (string, error)
}

// BlobStore is the durable storage surface the pipeline needs. Implemented
// by storage.S3Store.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// AttachmentPipeline relocates media between the channel and blob storage.
type AttachmentPipeline struct {
	Media         ChannelMedia
	Store         BlobStore
	SignedURLTTL  time.Duration
	UploadEnabled bool // outbound native upload feature flag
}

// NewAttachmentPipeline wires the pipeline's collaborators.
func NewAttachmentPipeline(media ChannelMedia, store BlobStore, signedTTL time.Duration, uploadEnabled bool) *AttachmentPipeline {
	return &AttachmentPipeline{
		Media:         media,
		Store:         store,
		SignedURLTTL:  signedTTL,
		UploadEnabled: uploadEnabled,
	}
}

// Ingest relays one inbound media object into blob storage and returns a
// time-limited signed access URL. Every failure maps to
// ErrAttachmentUnavailable; the caller drops the attachment and moves on.
func (p *AttachmentPipeline) Ingest(ctx context.Context, media *domain.InboundMedia) (string, error) {
	srcURL, err := p.Media.MediaURL(ctx, media.ID)
	if err != nil {
		attachmentOps.WithLabelValues("inbound", "error").Inc()
		log.Error().Err(err).Str("media_id", media.ID).Msg("media url resolution failed")
		return "", fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}

	data, headerType, err := p.Media.DownloadMedia(ctx, srcURL)
	if err != nil {
		attachmentOps.WithLabelValues("inbound", "error").Inc()
		log.Error().Err(err).Str("media_id", media.ID).Msg("media download failed")
		return "", fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}

	contentType, ext := inferContentType(data, media.MimeType, headerType)
	key := "whatsapp_" + uuid.NewString() + ext

	if err := p.Store.Put(ctx, key, data, contentType); err != nil {
		attachmentOps.WithLabelValues("inbound", "error").Inc()
		log.Error().Err(err).Str("key", key).Msg("blob upload failed")
		return "", fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}

	signedURL, err := p.Store.SignedGetURL(ctx, key, p.SignedURLTTL)
	if err != nil {
		attachmentOps.WithLabelValues("inbound", "error").Inc()
		log.Error().Err(err).Str("key", key).Msg("signed url generation failed")
		return "", fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}

	attachmentOps.WithLabelValues("inbound", "ok").Inc()
	log.Info().Str("key", key).Str("content_type", contentType).Msg("attachment relocated")
	return signedURL, nil
}

// ApplyOutbound fills the media field of an outbound payload from a
// bot-supplied attachment descriptor. With native upload enabled it tries
// the channel media store first and falls back to the link path on any
// failure; the fallback is unconditional and non-fatal.
func (p *AttachmentPipeline) ApplyOutbound(ctx context.Context, att *domain.Attachment, payload *domain.SendPayload) error {
	if att == nil || att.Type == "" || att.URL == "" {
		return ErrInvalidAttachment
	}

	if p.UploadEnabled {
		mediaID, err := p.uploadNative(ctx, att.URL)
		if err == nil {
			attachmentOps.WithLabelValues("outbound", "native").Inc()
			setMedia(payload, att, domain.MediaRef{ID: mediaID})
			return nil
		}
		log.Error().Err(err).Str("url", att.URL).Msg("native upload failed, sending by link")
	}

	attachmentOps.WithLabelValues("outbound", "link").Inc()
	setMedia(payload, att, domain.MediaRef{Link: att.URL})
	return nil
}

// uploadNative fetches the attachment bytes and pushes them into the
// channel media store.
func (p *AttachmentPipeline) uploadNative(ctx context.Context, url string) (string, error) {
	data, contentType, err := p.Media.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}
	return p.Media.UploadMedia(ctx, data, contentType)
}

// setMedia routes the reference into the payload field matching the
// attachment type. Captions are carried on everything but audio, which the
// channel does not caption.
func setMedia(payload *domain.SendPayload, att *domain.Attachment, ref domain.MediaRef) {
	switch att.Type {
	case domain.AttachmentImage:
		ref.Caption = att.Title
		payload.Type = "image"
		payload.Image = &ref
	case domain.AttachmentVideo:
		ref.Caption = att.Title
		payload.Type = "video"
		payload.Video = &ref
	case domain.AttachmentAudio:
		payload.Type = "audio"
		payload.Audio = &ref
	default:
		ref.Caption = att.Title
		payload.Type = "document"
		payload.Document = &ref
	}
}

// inferContentType picks the best available content type and a matching
// file extension for the storage key. The channel's own mime hint wins,
// then the transport header, then detection from the bytes.
func inferContentType(data []byte, mediaHint, headerHint string) (contentType, ext string) {
	contentType = mediaHint
	if contentType == "" {
		contentType = headerHint
	}
	if contentType == "" || contentType == "application/octet-stream" {
		mt := mimetype.Detect(data)
		return mt.String(), mt.Extension()
	}
	// Strip parameters such as "; codecs=opus" before the registry lookup.
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if mt := mimetype.Lookup(contentType); mt != nil && mt.Extension() != "" {
		return contentType, mt.Extension()
	}
	return contentType, ".bin"
}
