// Package domain defines the channel-agnostic message model exchanged with
// the bot backend and the WhatsApp Cloud API wire types. These types are
// shared across the normalization, composition, and delivery layers.
package domain

// MessageKind is the closed set of canonical message types relayed between
// the channel and the bot backend. Dispatch on this tag instead of raw
// strings so unsupported kinds fail loudly in one place.
type MessageKind string

const (
	KindText       MessageKind = "text"
	KindPostback   MessageKind = "postback"
	KindLocation   MessageKind = "location"
	KindAttachment MessageKind = "attachment"
	KindCard       MessageKind = "card"
)

// AttachmentType classifies canonical attachments. WhatsApp "document"
// media maps to TypeFile on the bot side.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// SenderProfile carries the end-user identity attached to every inbound
// canonical message so the bot backend can personalize replies.
type SenderProfile struct {
	WhatsAppNumber string `json:"whatsAppNumber"`
	ContactName    string `json:"contactName,omitempty"`
}

// Location is a geographic point shared by a user or sent by the bot.
// Name and Address are only populated on the outbound path.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Postback is the structured action identifier forwarded to the bot backend
// when the user selects a button or list row. Action is the clean id with
// any menu prefix already stripped.
type Postback struct {
	Action string `json:"action"`
}

// Attachment references a media object carried by a canonical message. URL
// is a durable (possibly time-limited signed) reference; the underlying
// storage object outlives the process.
type Attachment struct {
	Type  AttachmentType `json:"type"`
	URL   string         `json:"url"`
	Title string         `json:"title,omitempty"`
}

// ChannelExtensions links a canonical message back to its source channel
// conversation so the bot backend can address replies.
type ChannelExtensions struct {
	Source           string `json:"source"`
	ConversationKey  string `json:"conversationKey"`
	ExternalUserID   string `json:"externalUserId"`
	ExternalUserName string `json:"externalUserName,omitempty"`
}

// CanonicalMessage is one normalized user turn delivered to the bot backend.
// Exactly one of Text, Postback, Location, Attachment is set, matching Kind.
type CanonicalMessage struct {
	ConversationKey string            `json:"conversationKey"`
	Kind            MessageKind       `json:"type"`
	Text            string            `json:"text,omitempty"`
	Postback        *Postback         `json:"postback,omitempty"`
	Location        *Location         `json:"location,omitempty"`
	Attachment      *Attachment       `json:"attachment,omitempty"`
	Extensions      ChannelExtensions `json:"channelExtensions"`
	Profile         SenderProfile     `json:"profile"`
}

// ActionType enumerates the bot-reply action kinds the composer understands.
// Only postback actions become interactive controls; url and call render as
// plain text lines and share is dropped.
type ActionType string

const (
	ActionPostback ActionType = "postback"
	ActionURL      ActionType = "url"
	ActionCall     ActionType = "call"
	ActionShare    ActionType = "share"
)

// Action is one option offered by a bot reply.
type Action struct {
	Type        ActionType `json:"type"`
	Label       string     `json:"label"`
	Postback    *Postback  `json:"postback,omitempty"`
	URL         string     `json:"url,omitempty"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
}

// Card is one entry of a card-carousel bot reply. WhatsApp has no carousel
// widget, so the composer folds cards into a single interactive payload.
type Card struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Actions     []Action `json:"actions,omitempty"`
}

// BotReply is one outbound message received from the bot backend, before
// composition into a WhatsApp wire payload.
type BotReply struct {
	ConversationKey string      `json:"conversationKey"`
	Kind            MessageKind `json:"type"`
	Text            string      `json:"text,omitempty"`
	HeaderText      string      `json:"headerText,omitempty"`
	FooterText      string      `json:"footerText,omitempty"`
	Actions         []Action    `json:"actions,omitempty"`
	GlobalActions   []Action    `json:"globalActions,omitempty"`
	Cards           []Card      `json:"cards,omitempty"`
	Attachment      *Attachment `json:"attachment,omitempty"`
	Location        *Location   `json:"location,omitempty"`
}
