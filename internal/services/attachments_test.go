package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

// ----- Fakes -----

type fakeMedia struct {
	mediaURL    string
	mediaURLErr error

	downloadData []byte
	downloadType string
	downloadErr  error

	fetchData []byte
	fetchType string
	fetchErr  error

	uploadID  string
	uploadErr error

	// capture args
	gotMediaID     string
	gotDownloadURL string
	gotFetchURL    string
	gotUploadType  string
}

func (m *fakeMedia) MediaURL(ctx context.Context, mediaID string) (string, error) {
	m.gotMediaID = mediaID
	return m.mediaURL, m.mediaURLErr
}

func (m *fakeMedia) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	m.gotDownloadURL = url
	return m.downloadData, m.downloadType, m.downloadErr
}

func (m *fakeMedia) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	m.gotFetchURL = url
	return m.fetchData, m.fetchType, m.fetchErr
}

func (m *fakeMedia) UploadMedia(ctx context.Context, data []byte, contentType string) (string, error) {
	m.gotUploadType = contentType
	return m.uploadID, m.uploadErr
}

type fakeStore struct {
	putErr  error
	signErr error

	// capture args
	gotKey  string
	gotType string
	gotData []byte
	gotTTL  time.Duration
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.gotKey, s.gotData, s.gotType = key, data, contentType
	return s.putErr
}

func (s *fakeStore) SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.gotTTL = ttl
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://signed.example/" + key, nil
}

// ----- Inbound -----

func TestIngest_RelocatesMediaAndSigns(t *testing.T) {
	media := &fakeMedia{
		mediaURL:     "https://lookaside.example/v16.0/media123",
		downloadData: []byte("binary"),
		downloadType: "image/jpeg",
	}
	store := &fakeStore{}
	p := NewAttachmentPipeline(media, store, time.Hour, false)

	url, err := p.Ingest(context.Background(), &domain.InboundMedia{ID: "media123", MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if media.gotMediaID != "media123" {
		t.Fatalf("media id not resolved, got %q", media.gotMediaID)
	}
	if media.gotDownloadURL != media.mediaURL {
		t.Fatalf("download must use the resolved url, got %q", media.gotDownloadURL)
	}
	if store.gotType != "image/jpeg" {
		t.Fatalf("content type not propagated, got %q", store.gotType)
	}
	if !strings.HasPrefix(store.gotKey, "whatsapp_") || !strings.HasSuffix(store.gotKey, ".jpg") {
		t.Fatalf("unexpected object key %q", store.gotKey)
	}
	if store.gotTTL != time.Hour {
		t.Fatalf("signed url ttl not propagated, got %v", store.gotTTL)
	}
	if !strings.HasPrefix(url, "https://signed.example/") {
		t.Fatalf("expected signed url, got %q", url)
	}
}

func TestIngest_FailuresMapToAttachmentUnavailable(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name  string
		media *fakeMedia
		store *fakeStore
	}{
		{"resolution", &fakeMedia{mediaURLErr: boom}, &fakeStore{}},
		{"download", &fakeMedia{mediaURL: "u", downloadErr: boom}, &fakeStore{}},
		{"put", &fakeMedia{mediaURL: "u", downloadData: []byte("x")}, &fakeStore{putErr: boom}},
		{"sign", &fakeMedia{mediaURL: "u", downloadData: []byte("x")}, &fakeStore{signErr: boom}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewAttachmentPipeline(tc.media, tc.store, time.Hour, false)
			url, err := p.Ingest(context.Background(), &domain.InboundMedia{ID: "m"})
			if !errors.Is(err, ErrAttachmentUnavailable) {
				t.Fatalf("expected ErrAttachmentUnavailable, got %v", err)
			}
			if url != "" {
				t.Fatalf("failed ingest must return no reference, got %q", url)
			}
		})
	}
}

// ----- Outbound -----

func TestApplyOutbound_LinkPathByDefault(t *testing.T) {
	p := NewAttachmentPipeline(&fakeMedia{}, &fakeStore{}, time.Hour, false)
	payload := domain.SendPayload{To: "551199"}

	att := &domain.Attachment{Type: domain.AttachmentImage, URL: "https://cdn.example/pic.png", Title: "A picture"}
	if err := p.ApplyOutbound(context.Background(), att, &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Type != "image" || payload.Image == nil {
		t.Fatalf("expected image payload, got %+v", payload)
	}
	if payload.Image.Link != att.URL || payload.Image.ID != "" {
		t.Fatalf("expected link reference, got %+v", payload.Image)
	}
	if payload.Image.Caption != "A picture" {
		t.Fatalf("caption not carried, got %q", payload.Image.Caption)
	}
}

func TestApplyOutbound_NativeUpload(t *testing.T) {
	media := &fakeMedia{fetchData: []byte("bytes"), fetchType: "video/mp4", uploadID: "native-77"}
	p := NewAttachmentPipeline(media, &fakeStore{}, time.Hour, true)
	payload := domain.SendPayload{To: "551199"}

	att := &domain.Attachment{Type: domain.AttachmentVideo, URL: "https://cdn.example/v.mp4"}
	if err := p.ApplyOutbound(context.Background(), att, &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Video == nil || payload.Video.ID != "native-77" || payload.Video.Link != "" {
		t.Fatalf("expected native media id, got %+v", payload.Video)
	}
	if media.gotFetchURL != att.URL {
		t.Fatalf("native path must fetch the source url, got %q", media.gotFetchURL)
	}
}

func TestApplyOutbound_FallsBackToLinkOnUploadFailure(t *testing.T) {
	media := &fakeMedia{fetchData: []byte("bytes"), uploadErr: errors.New("denied")}
	p := NewAttachmentPipeline(media, &fakeStore{}, time.Hour, true)
	payload := domain.SendPayload{To: "551199"}

	att := &domain.Attachment{Type: domain.AttachmentAudio, URL: "https://cdn.example/a.ogg"}
	if err := p.ApplyOutbound(context.Background(), att, &payload); err != nil {
		t.Fatalf("fallback must be non-fatal, got %v", err)
	}
	if payload.Type != "audio" || payload.Audio == nil || payload.Audio.Link != att.URL {
		t.Fatalf("expected link fallback, got %+v", payload)
	}
}

func TestApplyOutbound_FallsBackToLinkOnFetchFailure(t *testing.T) {
	media := &fakeMedia{fetchErr: errors.New("unreachable")}
	p := NewAttachmentPipeline(media, &fakeStore{}, time.Hour, true)
	payload := domain.SendPayload{To: "551199"}

	att := &domain.Attachment{Type: domain.AttachmentFile, URL: "https://cdn.example/doc.pdf", Title: "Contract"}
	if err := p.ApplyOutbound(context.Background(), att, &payload); err != nil {
		t.Fatalf("fallback must be non-fatal, got %v", err)
	}
	if payload.Type != "document" || payload.Document == nil || payload.Document.Link != att.URL {
		t.Fatalf("expected document link fallback, got %+v", payload)
	}
	if payload.Document.Caption != "Contract" {
		t.Fatalf("caption not carried on fallback, got %q", payload.Document.Caption)
	}
}

func TestApplyOutbound_RejectsInvalidDescriptor(t *testing.T) {
	p := NewAttachmentPipeline(&fakeMedia{}, &fakeStore{}, time.Hour, false)
	payload := domain.SendPayload{}

	for _, att := range []*domain.Attachment{
		nil,
		{Type: domain.AttachmentImage}, // no URL
		{URL: "https://cdn.example/x"}, // no type
	} {
		if err := p.ApplyOutbound(context.Background(), att, &payload); !errors.Is(err, ErrInvalidAttachment) {
			t.Fatalf("expected ErrInvalidAttachment for %+v, got %v", att, err)
		}
	}
}

// ----- Content type inference -----

func TestInferContentType(t *testing.T) {
	pngHeader := []byte("\x89PNG\r\n\x1a\n")

	ct, ext := inferContentType(pngHeader, "image/png", "")
	if ct != "image/png" || ext != ".png" {
		t.Fatalf("hint path: got %q %q", ct, ext)
	}

	ct, ext = inferContentType(pngHeader, "", "image/png; charset=binary")
	if ct != "image/png" || ext != ".png" {
		t.Fatalf("header path with parameters: got %q %q", ct, ext)
	}

	ct, ext = inferContentType(pngHeader, "", "")
	if ct != "image/png" || ext != ".png" {
		t.Fatalf("detection path: got %q %q", ct, ext)
	}

	ct, ext = inferContentType([]byte{0x00, 0x01}, "application/x-unknown-thing", "")
	if ct != "application/x-unknown-thing" || ext != ".bin" {
		t.Fatalf("unknown type must keep hint with .bin, got %q %q", ct, ext)
	}
}
