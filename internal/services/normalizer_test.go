package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

type fakeQueue struct {
	sent []domain.SendPayload
	err  error
}

func (q *fakeQueue) Enqueue(payload domain.SendPayload) error {
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, payload)
	return nil
}

func newTestNormalizer() (*Normalizer, *fakeQueue, *MenuTracker) {
	queue := &fakeQueue{}
	tracker := NewMenuTracker(time.Hour)
	pipeline := NewAttachmentPipeline(&fakeMedia{}, &fakeStore{}, time.Hour, false)
	n := NewNormalizer(NewDeduper(120*time.Second), tracker, pipeline, queue, 60*time.Second)
	return n, queue, tracker
}

func webhookBatch(messages ...domain.InboundMessage) domain.WebhookPayload {
	contact := domain.WebhookContact{WaID: "551199"}
	contact.Profile.Name = "Maria"
	return domain.WebhookPayload{
		Object: "whatsapp_business_account",
		Entries: []domain.WebhookEntry{{
			Changes: []domain.WebhookChange{{
				Field: "messages",
				Value: domain.WebhookValue{
					Contacts: []domain.WebhookContact{contact},
					Messages: messages,
				},
			}},
		}},
	}
}

func textMessage(id, body string) domain.InboundMessage {
	return domain.InboundMessage{ID: id, Type: "text", Text: &domain.InboundText{Body: body}}
}

func buttonReply(id, optionID, title string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:   id,
		Type: "interactive",
		Interactive: &domain.InboundInteract{
			Type:        "button_reply",
			ButtonReply: &domain.InteractiveReply{ID: optionID, Title: title},
		},
	}
}

func TestNormalize_TextMessage(t *testing.T) {
	n, _, _ := newTestNormalizer()

	out := n.Normalize(context.Background(), webhookBatch(textMessage("wamid.1", "hello")))
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	cm := out[0]
	if cm.Kind != domain.KindText || cm.Text != "hello" {
		t.Fatalf("unexpected canonical message: %+v", cm)
	}
	if cm.ConversationKey != "551199" || cm.Extensions.Source != "whatsapp" {
		t.Fatalf("envelope not populated: %+v", cm)
	}
	if cm.Profile.ContactName != "Maria" {
		t.Fatalf("contact name not carried, got %q", cm.Profile.ContactName)
	}
}

func TestNormalize_DuplicateDeliveryIgnored(t *testing.T) {
	n, _, _ := newTestNormalizer()

	msg := textMessage("wamid.dup", "hello")
	if got := n.Normalize(context.Background(), webhookBatch(msg)); len(got) != 1 {
		t.Fatalf("first delivery must forward, got %d", len(got))
	}
	if got := n.Normalize(context.Background(), webhookBatch(msg)); len(got) != 0 {
		t.Fatalf("retried delivery must be dropped, got %d", len(got))
	}
}

func TestNormalize_MenuPolicy(t *testing.T) {
	n, queue, tracker := newTestNormalizer()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n.Now = func() time.Time { return base }
	tracker.Now = func() time.Time { return base }

	menu := domain.SendPayload{Type: "interactive", To: "551199"}
	tracker.CreateSession("menu_1", menu)
	tracker.RememberLastMenu("551199", menu)

	// First choice: forwarded with the menu prefix stripped.
	out := n.Normalize(context.Background(), webhookBatch(buttonReply("wamid.a", "menu_1|act_billing", "Billing")))
	if len(out) != 1 || out[0].Kind != domain.KindPostback || out[0].Postback.Action != "act_billing" {
		t.Fatalf("first choice must forward a clean postback, got %+v", out)
	}

	// Same choice again: suppressed without any side effects.
	out = n.Normalize(context.Background(), webhookBatch(buttonReply("wamid.b", "menu_1|act_billing", "Billing")))
	if len(out) != 0 {
		t.Fatalf("repeated choice must be suppressed, got %+v", out)
	}
	if len(queue.sent) != 0 {
		t.Fatalf("repeated choice must not enqueue anything, got %d", len(queue.sent))
	}

	// Different choice within the window: suppressed, notice + menu resent.
	n.Now = func() time.Time { return base.Add(30 * time.Second) }
	out = n.Normalize(context.Background(), webhookBatch(buttonReply("wamid.c", "menu_1|act_support", "Support")))
	if len(out) != 0 {
		t.Fatalf("differing choice must be suppressed, got %+v", out)
	}
	if len(queue.sent) != 2 {
		t.Fatalf("expected notice + menu resend, got %d payloads", len(queue.sent))
	}
	notice := queue.sent[0]
	if notice.Type != "text" || !strings.Contains(notice.Text.Body, `"Billing"`) || !strings.Contains(notice.Text.Body, `"Support"`) {
		t.Fatalf("notice must name both choices, got %+v", notice)
	}
	if queue.sent[1].Type != "interactive" {
		t.Fatalf("second payload must resend the last menu, got %+v", queue.sent[1])
	}

	// A third differing choice: suppressed, the notice goes out only once.
	out = n.Normalize(context.Background(), webhookBatch(buttonReply("wamid.d", "menu_1|act_sales", "Sales")))
	if len(out) != 0 || len(queue.sent) != 2 {
		t.Fatalf("notice must be one-time, got out=%d sent=%d", len(out), len(queue.sent))
	}
}

func TestNormalize_DifferingChoiceAfterWindowIsSilent(t *testing.T) {
	n, queue, tracker := newTestNormalizer()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n.Now = func() time.Time { return base }
	tracker.Now = func() time.Time { return base }
	tracker.CreateSession("menu_1", domain.SendPayload{Type: "interactive"})

	n.Normalize(context.Background(), webhookBatch(buttonReply("wamid.a", "menu_1|first", "First")))

	n.Now = func() time.Time { return base.Add(61 * time.Second) }
	out := n.Normalize(context.Background(), webhookBatch(buttonReply("wamid.b", "menu_1|second", "Second")))
	if len(out) != 0 {
		t.Fatalf("late differing choice must be suppressed, got %+v", out)
	}
	if len(queue.sent) != 0 {
		t.Fatalf("late differing choice must not trigger the notice, got %d", len(queue.sent))
	}
}

func TestNormalize_BareOptionIDForwarded(t *testing.T) {
	n, _, _ := newTestNormalizer()

	out := n.Normalize(context.Background(), webhookBatch(buttonReply("wamid.a", "legacy_action", "Legacy")))
	if len(out) != 1 || out[0].Postback.Action != "legacy_action" {
		t.Fatalf("bare option id must forward untouched, got %+v", out)
	}
}

func TestNormalize_ListReply(t *testing.T) {
	n, _, _ := newTestNormalizer()

	msg := domain.InboundMessage{
		ID:   "wamid.l",
		Type: "interactive",
		Interactive: &domain.InboundInteract{
			Type:      "list_reply",
			ListReply: &domain.InteractiveReply{ID: "menu_9|row_2", Title: "Row two"},
		},
	}
	out := n.Normalize(context.Background(), webhookBatch(msg))
	if len(out) != 1 || out[0].Postback.Action != "row_2" {
		t.Fatalf("list reply must forward a clean postback, got %+v", out)
	}
}

func TestNormalize_Location(t *testing.T) {
	n, _, _ := newTestNormalizer()

	msg := domain.InboundMessage{
		ID:       "wamid.loc",
		Type:     "location",
		Location: &domain.Location{Latitude: -23.55, Longitude: -46.63},
	}
	out := n.Normalize(context.Background(), webhookBatch(msg))
	if len(out) != 1 || out[0].Kind != domain.KindLocation {
		t.Fatalf("expected location message, got %+v", out)
	}
	if out[0].Location.Latitude != -23.55 {
		t.Fatalf("coordinates not carried, got %+v", out[0].Location)
	}
}

func TestNormalize_AttachmentRelocated(t *testing.T) {
	n, _, _ := newTestNormalizer()
	n.Attachments = NewAttachmentPipeline(
		&fakeMedia{mediaURL: "https://lookaside.example/m", downloadData: []byte("data"), downloadType: "image/png"},
		&fakeStore{},
		time.Hour, false,
	)

	msg := domain.InboundMessage{
		ID:    "wamid.img",
		Type:  "image",
		Image: &domain.InboundMedia{ID: "media-1", MimeType: "image/png", Caption: "Receipt"},
	}
	out := n.Normalize(context.Background(), webhookBatch(msg))
	if len(out) != 1 || out[0].Kind != domain.KindAttachment {
		t.Fatalf("expected attachment message, got %+v", out)
	}
	att := out[0].Attachment
	if att.Type != domain.AttachmentImage || att.Title != "Receipt" {
		t.Fatalf("unexpected attachment: %+v", att)
	}
	if !strings.HasPrefix(att.URL, "https://signed.example/") {
		t.Fatalf("attachment must reference the relocated object, got %q", att.URL)
	}
}

func TestNormalize_AudioDefaultTitle(t *testing.T) {
	n, _, _ := newTestNormalizer()
	n.Attachments = NewAttachmentPipeline(
		&fakeMedia{mediaURL: "u", downloadData: []byte("ogg"), downloadType: "audio/ogg"},
		&fakeStore{},
		time.Hour, false,
	)

	msg := domain.InboundMessage{
		ID:    "wamid.voice",
		Type:  "audio",
		Audio: &domain.InboundMedia{ID: "media-2", MimeType: "audio/ogg"},
	}
	out := n.Normalize(context.Background(), webhookBatch(msg))
	if len(out) != 1 || out[0].Attachment.Title != "audio.ogg" {
		t.Fatalf("untitled audio must default its title, got %+v", out)
	}
}

func TestNormalize_AttachmentFailureDropsEvent(t *testing.T) {
	n, _, _ := newTestNormalizer()
	n.Attachments = NewAttachmentPipeline(
		&fakeMedia{mediaURLErr: errors.New("expired")},
		&fakeStore{},
		time.Hour, false,
	)

	out := n.Normalize(context.Background(), webhookBatch(
		domain.InboundMessage{ID: "wamid.bad", Type: "image", Image: &domain.InboundMedia{ID: "gone"}},
		textMessage("wamid.ok", "still here"),
	))
	if len(out) != 1 || out[0].Text != "still here" {
		t.Fatalf("failed attachment must not stop the batch, got %+v", out)
	}
}

func TestNormalize_UnsupportedAndMalformedEventsSkipped(t *testing.T) {
	n, _, _ := newTestNormalizer()

	out := n.Normalize(context.Background(), webhookBatch(
		domain.InboundMessage{ID: "wamid.1", Type: "sticker"},
		domain.InboundMessage{ID: "wamid.2", Type: "text"},        // no body
		domain.InboundMessage{ID: "wamid.3", Type: "interactive"}, // no payload
		textMessage("wamid.4", "survivor"),
	))
	if len(out) != 1 || out[0].Text != "survivor" {
		t.Fatalf("malformed events must be skipped in place, got %+v", out)
	}
}

func TestNormalize_EmptyBatch(t *testing.T) {
	n, _, _ := newTestNormalizer()

	if out := n.Normalize(context.Background(), domain.WebhookPayload{}); len(out) != 0 {
		t.Fatalf("empty delivery must yield nothing, got %+v", out)
	}
}
