// WhatsApp Cloud API wire types.
//
// This file mirrors the JSON shapes of the Graph API messages endpoint in
// both directions: the webhook batch WhatsApp POSTs to the connector and the
// payloads the connector POSTs back. Field names follow the Cloud API
// documentation; optional fields are omitted when empty so payloads stay
// minimal on the wire.
package domain

// ---- Inbound webhook ----

// WebhookPayload is the top-level body of a WhatsApp webhook delivery:
// a batch of entries, each carrying one or more changes.
type WebhookPayload struct {
	Object  string         `json:"object,omitempty"`
	Entries []WebhookEntry `json:"entry"`
}

// WebhookEntry groups changes for one WhatsApp business account.
type WebhookEntry struct {
	ID      string          `json:"id,omitempty"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange wraps one changed value; only "messages" changes carry
// user events.
type WebhookChange struct {
	Field string       `json:"field,omitempty"`
	Value WebhookValue `json:"value"`
}

// WebhookValue holds the messages and contact profiles of one change.
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product,omitempty"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
}

// WebhookContact identifies the sender of the messages in the same change.
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one raw user event. Type selects which of the payload
// fields is populated.
type InboundMessage struct {
	ID          string            `json:"id"`
	From        string            `json:"from,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
	Type        string            `json:"type"`
	Text        *InboundText      `json:"text,omitempty"`
	Interactive *InboundInteract  `json:"interactive,omitempty"`
	Location    *Location         `json:"location,omitempty"`
	Audio       *InboundMedia     `json:"audio,omitempty"`
	Image       *InboundMedia     `json:"image,omitempty"`
	Video       *InboundMedia     `json:"video,omitempty"`
	Document    *InboundMedia     `json:"document,omitempty"`
	Errors      []map[string]any  `json:"errors,omitempty"`
}

// InboundText is the body of a plain text message.
type InboundText struct {
	Body string `json:"body"`
}

// InboundInteract is an interactive reply; Type is "button_reply" or
// "list_reply" and selects the populated field.
type InboundInteract struct {
	Type        string            `json:"type"`
	ButtonReply *InteractiveReply `json:"button_reply,omitempty"`
	ListReply   *InteractiveReply `json:"list_reply,omitempty"`
}

// InteractiveReply carries the compound option id ("<menuId>|<actionId>")
// and the display title of the chosen option.
type InteractiveReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// InboundMedia references a media object held by WhatsApp. The binary is
// fetched separately through the Graph media endpoints.
type InboundMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ---- Outbound wire payload ----

// SendPayload is one message POSTed to the Graph messages endpoint. Type
// selects which payload field is populated.
type SendPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	PreviewURL       bool         `json:"preview_url,omitempty"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextBody    `json:"text,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
	Location         *Location    `json:"location,omitempty"`
	Image            *MediaRef    `json:"image,omitempty"`
	Audio            *MediaRef    `json:"audio,omitempty"`
	Video            *MediaRef    `json:"video,omitempty"`
	Document         *MediaRef    `json:"document,omitempty"`
}

// TextBody wraps the body of an outbound text message.
type TextBody struct {
	Body string `json:"body"`
}

// MediaRef points at outbound media either by externally hosted link or by
// native media id obtained from an upload, never both.
type MediaRef struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Interactive is a button or list payload. Type is "button" or "list".
type Interactive struct {
	Type   string             `json:"type"`
	Header *InteractiveHeader `json:"header,omitempty"`
	Body   *TextBody          `json:"body,omitempty"`
	Footer *TextBody          `json:"footer,omitempty"`
	Action InteractiveAction  `json:"action"`
}

// InteractiveHeader is an optional header, either text or an image link.
type InteractiveHeader struct {
	Type  string    `json:"type"`
	Text  string    `json:"text,omitempty"`
	Image *MediaRef `json:"image,omitempty"`
}

// InteractiveAction carries up to 3 reply buttons or one section of up to
// 10 list rows. Button is the list-opener label, list payloads only.
type InteractiveAction struct {
	Buttons  []Button  `json:"buttons,omitempty"`
	Button   string    `json:"button,omitempty"`
	Sections []Section `json:"sections,omitempty"`
}

// Button is one interactive reply button.
type Button struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

// ButtonReply is the id/title pair of a reply button. ID carries the
// compound "<menuId>|<actionId>" identifier.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Section groups list rows; the Cloud API allows several but the composer
// always emits exactly one.
type Section struct {
	Title string `json:"title,omitempty"`
	Rows  []Row  `json:"rows"`
}

// Row is one selectable list entry.
type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}
