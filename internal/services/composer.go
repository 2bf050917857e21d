// Outbound message composition.
//
// The channel imposes hard cardinality limits on interactive affordances:
// at most 3 reply buttons, at most 10 list rows, nothing larger. The
// composer picks the widest representation the action count allows and
// degrades to enumerated plain text beyond that. Non-postback actions (open
// URL, dial) have no interactive equivalent and always render as appended
// text lines; share actions are dropped.
//
// Every interactive payload is one menu instance: it gets a fresh menu id,
// every option id is prefixed "<menuId>|", and the finished payload is
// registered with the MenuTracker and remembered as the conversation's last
// menu so it can be resent alongside a topic-change notice.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

// Channel display limits, ellipsis included.
const (
	buttonLabelMax  = 20
	buttonLabelKeep = 16
	listLabelMax    = 23
	listLabelKeep   = 20

	maxButtons  = 3
	maxListRows = 10
)

// Composer converts bot replies into channel wire payloads.
type Composer struct {
	Tracker     *MenuTracker
	Attachments *AttachmentPipeline

	// ListButtonLabel is the opener label of list payloads.
	ListButtonLabel string

	// NewMenuID generates opaque per-send menu ids; tests override it.
	NewMenuID func() string
}

// NewComposer wires a Composer with its collaborators.
func NewComposer(tracker *MenuTracker, attachments *AttachmentPipeline, listButtonLabel string) *Composer {
	return &Composer{
		Tracker:         tracker,
		Attachments:     attachments,
		ListButtonLabel: listButtonLabel,
		NewMenuID:       func() string { return "menu_" + uuid.NewString() },
	}
}

// Compose selects the wire representation for one bot reply and returns the
// payload ready for the delivery queue.
func (c *Composer) Compose(ctx context.Context, reply domain.BotReply) (domain.SendPayload, error) {
	payload := domain.SendPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               reply.ConversationKey,
	}

	switch {
	case reply.Kind == domain.KindText && len(reply.Actions) == 0 && len(reply.GlobalActions) == 0:
		if reply.Location != nil {
			payload.Type = "location"
			payload.Location = reply.Location
			return payload, nil
		}
		if strings.TrimSpace(reply.Text) == "" {
			return payload, ErrEmptyReply
		}
		payload.Type = "text"
		payload.Text = &domain.TextBody{Body: reply.Text}
		return payload, nil

	case reply.Kind == domain.KindText:
		c.composeWithActions(&payload, actionSet{
			body:    reply.Text,
			header:  reply.HeaderText,
			footer:  reply.FooterText,
			actions: concatActions(reply.Actions, reply.GlobalActions),
		})
		return payload, nil

	case reply.Kind == domain.KindCard && len(reply.Cards) > 0:
		set := actionSet{
			header:  reply.HeaderText,
			footer:  reply.FooterText,
			actions: concatActions(flattenCardActions(reply.Cards), reply.GlobalActions),
		}
		// The channel has no carousel: the first card lends its image and
		// title to the single payload the cards collapse into.
		set.headerImage = reply.Cards[0].ImageURL
		if set.body = reply.Cards[0].Title; set.body == "" {
			set.body = reply.HeaderText
		}
		c.composeWithActions(&payload, set)
		return payload, nil

	case reply.Kind == domain.KindAttachment && reply.Attachment != nil:
		if err := c.Attachments.ApplyOutbound(ctx, reply.Attachment, &payload); err != nil {
			return payload, err
		}
		return payload, nil
	}

	return payload, ErrEmptyReply
}

// actionSet is the composition input shared by the text and card paths.
type actionSet struct {
	body        string
	header      string
	headerImage string
	footer      string
	actions     []domain.Action
}

// composeWithActions routes an action-carrying reply by postback count:
// 1-3 buttons, 4-10 list rows, anything else enumerated plain text.
func (c *Composer) composeWithActions(payload *domain.SendPayload, set actionSet) {
	postbacks := filterPostbacks(set.actions)

	switch n := len(postbacks); {
	case n >= 1 && n <= maxButtons:
		c.composeButtons(payload, set, postbacks)
	case n > maxButtons && n <= maxListRows:
		c.composeList(payload, set, postbacks)
	default:
		c.composeTextFallback(payload, set, postbacks)
	}
}

// composeButtons builds a reply-button interactive payload.
func (c *Composer) composeButtons(payload *domain.SendPayload, set actionSet, postbacks []domain.Action) {
	menuID := c.NewMenuID()

	buttons := make([]domain.Button, 0, len(postbacks))
	for _, a := range postbacks {
		buttons = append(buttons, domain.Button{
			Type: "reply",
			Reply: domain.ButtonReply{
				ID:    menuID + "|" + a.Postback.Action,
				Title: truncateLabel(a.Label, buttonLabelMax, buttonLabelKeep),
			},
		})
	}

	payload.Type = "interactive"
	payload.Interactive = &domain.Interactive{
		Type:   "button",
		Body:   &domain.TextBody{Body: set.body},
		Action: domain.InteractiveAction{Buttons: buttons},
	}
	applyHeaderFooter(payload.Interactive, set)
	c.registerMenu(menuID, payload)
}

// composeList builds a single-section selection-list payload.
func (c *Composer) composeList(payload *domain.SendPayload, set actionSet, postbacks []domain.Action) {
	menuID := c.NewMenuID()

	rows := make([]domain.Row, 0, len(postbacks))
	for _, a := range postbacks {
		rows = append(rows, domain.Row{
			ID:    menuID + "|" + a.Postback.Action,
			Title: truncateLabel(a.Label, listLabelMax, listLabelKeep),
		})
	}

	payload.Type = "interactive"
	payload.Interactive = &domain.Interactive{
		Type: "list",
		Body: &domain.TextBody{Body: set.body},
		Action: domain.InteractiveAction{
			Button:   c.ListButtonLabel,
			Sections: []domain.Section{{Rows: rows}},
		},
	}
	applyHeaderFooter(payload.Interactive, set)
	c.registerMenu(menuID, payload)
}

// composeTextFallback renders the reply as plain text: postback actions as
// 1-indexed numbered lines (the channel has no selection widget past 10
// rows), other actions as "Label: target" lines.
func (c *Composer) composeTextFallback(payload *domain.SendPayload, set actionSet, postbacks []domain.Action) {
	var b strings.Builder
	if set.header != "" {
		b.WriteString(set.header)
		b.WriteString("\n\n")
	}
	b.WriteString(set.body)
	b.WriteString("\n")

	for i, a := range postbacks {
		fmt.Fprintf(&b, "\n%d. %s", i+1, a.Label)
	}
	for _, a := range set.actions {
		line, ok := inlineActionLine(a, payload)
		if !ok {
			continue
		}
		b.WriteString("\n")
		b.WriteString(line)
	}

	if set.footer != "" {
		b.WriteString("\n\n")
		b.WriteString(set.footer)
	}

	payload.Type = "text"
	payload.Text = &domain.TextBody{Body: b.String()}
}

// registerMenu records a finished interactive payload with the tracker and
// as the conversation's last menu.
func (c *Composer) registerMenu(menuID string, payload *domain.SendPayload) {
	c.Tracker.CreateSession(menuID, *payload)
	c.Tracker.RememberLastMenu(payload.To, *payload)
}

// inlineActionLine renders one non-postback action as a text line. Share
// actions have no text rendition and report ok=false; URL actions turn on
// link previews for the whole payload.
func inlineActionLine(a domain.Action, payload *domain.SendPayload) (string, bool) {
	switch a.Type {
	case domain.ActionURL:
		payload.PreviewURL = true
		return a.Label + ": " + a.URL, true
	case domain.ActionCall:
		return a.Label + ": " + a.PhoneNumber, true
	case domain.ActionShare, domain.ActionPostback:
		return "", false
	}
	return a.Label, true
}

// filterPostbacks keeps the postback subset of an action list, dropping
// malformed entries with no action id.
func filterPostbacks(actions []domain.Action) []domain.Action {
	out := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == domain.ActionPostback && a.Postback != nil && a.Postback.Action != "" {
			out = append(out, a)
		}
	}
	return out
}

// flattenCardActions collects the actions of every card in order.
func flattenCardActions(cards []domain.Card) []domain.Action {
	var out []domain.Action
	for _, card := range cards {
		out = append(out, card.Actions...)
	}
	return out
}

// concatActions appends globalActions after actions without mutating either.
func concatActions(actions, globalActions []domain.Action) []domain.Action {
	out := make([]domain.Action, 0, len(actions)+len(globalActions))
	out = append(out, actions...)
	out = append(out, globalActions...)
	return out
}

// applyHeaderFooter attaches the optional header (image beats text) and
// footer to an interactive payload.
func applyHeaderFooter(iv *domain.Interactive, set actionSet) {
	switch {
	case set.headerImage != "":
		iv.Header = &domain.InteractiveHeader{Type: "image", Image: &domain.MediaRef{Link: set.headerImage}}
	case set.header != "":
		iv.Header = &domain.InteractiveHeader{Type: "text", Text: set.header}
	}
	if set.footer != "" {
		iv.Footer = &domain.TextBody{Body: set.footer}
	}
}

// truncateLabel caps a display label at max runes, keeping keep runes and
// appending an ellipsis marker when over.
func truncateLabel(s string, max, keep int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:keep]) + "..."
}
