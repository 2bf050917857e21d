// Inbound normalization.
//
// Webhook deliveries retry, users double-tap menus, and one malformed event
// must never take its siblings down with it. The normalizer walks a webhook
// batch in order, drops duplicate message ids, applies the menu consistency
// policy to interactive replies, relays media through the attachment
// pipeline, and emits canonical messages for the bot backend.
//
// Menu policy (one forwarded choice per menu instance):
//   - first choice  -> recorded, forwarded as a clean postback
//   - same choice   -> suppressed, it was already forwarded once
//   - different choice within the notice window, notice not yet sent ->
//     suppressed; a one-time notice naming the original choice plus a
//     resend of the conversation's last menu go out via the delivery queue
//   - anything after that -> suppressed silently
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

// OutboundQueue is the delivery surface the normalizer uses for menu
// notices. Implemented by DeliveryQueue.
type OutboundQueue interface {
	Enqueue(payload domain.SendPayload) error
}

// Normalizer converts webhook batches into canonical messages.
type Normalizer struct {
	Deduper     *Deduper
	Tracker     *MenuTracker
	Attachments *AttachmentPipeline
	Outbound    OutboundQueue

	// NoticeWindow bounds how long after a menu's first choice a differing
	// choice still triggers the one-time notice.
	NoticeWindow time.Duration

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewNormalizer wires a Normalizer with its collaborators.
func NewNormalizer(dedupe *Deduper, tracker *MenuTracker, attachments *AttachmentPipeline, outbound OutboundQueue, noticeWindow time.Duration) *Normalizer {
	return &Normalizer{
		Deduper:      dedupe,
		Tracker:      tracker,
		Attachments:  attachments,
		Outbound:     outbound,
		NoticeWindow: noticeWindow,
		Now:          time.Now,
	}
}

// Normalize walks one webhook delivery and returns the canonical messages
// to forward, in source order. Per-event failures are logged and skipped;
// the batch always completes.
func (n *Normalizer) Normalize(ctx context.Context, payload domain.WebhookPayload) []domain.CanonicalMessage {
	var out []domain.CanonicalMessage

	for _, entry := range payload.Entries {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}

			var userID, contactName string
			if len(change.Value.Contacts) > 0 {
				userID = change.Value.Contacts[0].WaID
				contactName = change.Value.Contacts[0].Profile.Name
			}

			for _, msg := range change.Value.Messages {
				if n.Deduper.Seen(msg.ID) {
					inboundEvents.WithLabelValues(msg.Type, "duplicate").Inc()
					log.Debug().Str("message_id", msg.ID).Msg("duplicate delivery ignored")
					continue
				}
				if cm := n.processMessage(ctx, msg, userID, contactName); cm != nil {
					out = append(out, *cm)
				}
			}
		}
	}
	return out
}

// processMessage converts one raw event, or returns nil when the event is
// suppressed, dropped, or unsupported.
func (n *Normalizer) processMessage(ctx context.Context, msg domain.InboundMessage, userID, contactName string) *domain.CanonicalMessage {
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			inboundEvents.WithLabelValues(msg.Type, "dropped").Inc()
			log.Warn().Str("message_id", msg.ID).Msg("text message without body")
			return nil
		}
		inboundEvents.WithLabelValues(msg.Type, "forwarded").Inc()
		cm := n.canonical(userID, contactName, domain.KindText)
		cm.Text = msg.Text.Body
		return cm

	case "interactive":
		return n.interactiveMessage(msg, userID, contactName)

	case "location":
		if msg.Location == nil {
			inboundEvents.WithLabelValues(msg.Type, "dropped").Inc()
			log.Warn().Str("message_id", msg.ID).Msg("location message without coordinates")
			return nil
		}
		inboundEvents.WithLabelValues(msg.Type, "forwarded").Inc()
		cm := n.canonical(userID, contactName, domain.KindLocation)
		cm.Location = &domain.Location{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude}
		return cm

	case "audio":
		return n.attachmentMessage(ctx, msg.Audio, msg, userID, contactName, domain.AttachmentAudio)
	case "image":
		return n.attachmentMessage(ctx, msg.Image, msg, userID, contactName, domain.AttachmentImage)
	case "video":
		return n.attachmentMessage(ctx, msg.Video, msg, userID, contactName, domain.AttachmentVideo)
	case "document":
		return n.attachmentMessage(ctx, msg.Document, msg, userID, contactName, domain.AttachmentFile)

	default:
		inboundEvents.WithLabelValues(msg.Type, "unsupported").Inc()
		log.Warn().Str("type", msg.Type).Str("message_id", msg.ID).Msg("unsupported message type")
		return nil
	}
}

// interactiveMessage applies the menu consistency policy to a button or
// list selection.
func (n *Normalizer) interactiveMessage(msg domain.InboundMessage, userID, contactName string) *domain.CanonicalMessage {
	if msg.Interactive == nil {
		inboundEvents.WithLabelValues(msg.Type, "dropped").Inc()
		log.Warn().Str("message_id", msg.ID).Msg("interactive message without payload")
		return nil
	}

	var reply *domain.InteractiveReply
	switch msg.Interactive.Type {
	case "button_reply":
		reply = msg.Interactive.ButtonReply
	case "list_reply":
		reply = msg.Interactive.ListReply
	default:
		inboundEvents.WithLabelValues(msg.Type, "unsupported").Inc()
		log.Warn().Str("subtype", msg.Interactive.Type).Msg("unsupported interactive type")
		return nil
	}
	if reply == nil {
		inboundEvents.WithLabelValues(msg.Type, "dropped").Inc()
		log.Warn().Str("subtype", msg.Interactive.Type).Msg("interactive reply without body")
		return nil
	}

	menuID, actionID := splitMenuActionID(reply.ID)

	// A bare action id (legacy menu or a session lost to eviction) has no
	// session to consult: forward it as-is.
	if menuID != "" {
		if forward := n.applyMenuPolicy(menuID, actionID, reply.Title, userID); !forward {
			return nil
		}
	}

	inboundEvents.WithLabelValues(msg.Type, "forwarded").Inc()
	cm := n.canonical(userID, contactName, domain.KindPostback)
	cm.Postback = &domain.Postback{Action: actionID}
	return cm
}

// applyMenuPolicy reports whether a menu reply should be forwarded,
// sending the one-time notice and menu resend as a side effect.
func (n *Normalizer) applyMenuPolicy(menuID, actionID, title, userID string) bool {
	sess, ok := n.Tracker.Session(menuID)
	if !ok || sess.FirstActionID == "" {
		n.Tracker.RecordFirstChoice(menuID, actionID, title)
		return true
	}

	// Repeated tap on the already-accepted option: it was forwarded once.
	if actionID == sess.FirstActionID {
		inboundEvents.WithLabelValues("interactive", "suppressed").Inc()
		log.Debug().Str("menu_id", menuID).Str("action", actionID).Msg("repeated menu choice suppressed")
		return false
	}

	withinWindow := n.Now().Sub(sess.FirstChosenAt) <= n.NoticeWindow
	if withinWindow && !sess.NoticeSent {
		n.sendChangeNotice(menuID, userID, sess, title)
		n.Tracker.MarkNoticeSent(menuID)
	}
	inboundEvents.WithLabelValues("interactive", "suppressed").Inc()
	return false
}

// sendChangeNotice enqueues the one-time "topic changed" text naming the
// original choice, then resends the conversation's last interactive menu.
func (n *Normalizer) sendChangeNotice(menuID, userID string, sess MenuSession, newTitle string) {
	previous := sess.FirstLabel
	if previous == "" {
		previous = "a previous option"
	}
	body := fmt.Sprintf(
		"I see we were already talking about %q.\nIf you would rather talk about %q, please pick an option from the menu below.",
		previous, newTitle,
	)

	notice := domain.SendPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               userID,
		Type:             "text",
		Text:             &domain.TextBody{Body: body},
	}
	if err := n.Outbound.Enqueue(notice); err != nil {
		log.Error().Err(err).Str("menu_id", menuID).Msg("enqueue menu notice failed")
		return
	}

	lastMenu, ok := n.Tracker.LastMenu(userID)
	if !ok && sess.Payload.Type != "" {
		lastMenu, ok = sess.Payload, true
	}
	if ok {
		if err := n.Outbound.Enqueue(lastMenu); err != nil {
			log.Error().Err(err).Str("menu_id", menuID).Msg("enqueue menu resend failed")
		}
	}
}

// attachmentMessage relays inbound media through the pipeline. Pipeline
// failure drops the event silently on the user's side; the error has
// already been logged.
func (n *Normalizer) attachmentMessage(ctx context.Context, media *domain.InboundMedia, msg domain.InboundMessage, userID, contactName string, attType domain.AttachmentType) *domain.CanonicalMessage {
	if media == nil {
		inboundEvents.WithLabelValues(msg.Type, "dropped").Inc()
		log.Warn().Str("message_id", msg.ID).Str("type", msg.Type).Msg("media message without payload")
		return nil
	}

	url, err := n.Attachments.Ingest(ctx, media)
	if err != nil {
		inboundEvents.WithLabelValues(msg.Type, "dropped").Inc()
		return nil
	}

	title := media.Caption
	if title == "" {
		title = media.Filename
	}
	if title == "" && attType == domain.AttachmentAudio {
		title = "audio.ogg"
	}

	inboundEvents.WithLabelValues(msg.Type, "forwarded").Inc()
	cm := n.canonical(userID, contactName, domain.KindAttachment)
	cm.Attachment = &domain.Attachment{Type: attType, URL: url, Title: title}
	return cm
}

// canonical builds the shared envelope of every canonical message.
func (n *Normalizer) canonical(userID, contactName string, kind domain.MessageKind) *domain.CanonicalMessage {
	return &domain.CanonicalMessage{
		ConversationKey: userID,
		Kind:            kind,
		Extensions: domain.ChannelExtensions{
			Source:           "whatsapp",
			ConversationKey:  userID,
			ExternalUserID:   userID,
			ExternalUserName: contactName,
		},
		Profile: domain.SenderProfile{WhatsAppNumber: userID, ContactName: contactName},
	}
}

// splitMenuActionID splits a compound "<menuId>|<actionId>" option id. A
// bare id with no separator is the legacy form: no menu id.
func splitMenuActionID(id string) (menuID, actionID string) {
	if i := strings.IndexByte(id, '|'); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}
