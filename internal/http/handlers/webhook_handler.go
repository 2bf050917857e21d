// WhatsApp webhook handlers.
//
// Two endpoints face the channel:
//
//   - GET  /webhook  — the Cloud API verification handshake: echo
//     hub.challenge when hub.mode is "subscribe" and hub.verify_token
//     matches the configured token.
//   - POST /webhook  — event deliveries. The batch is normalized
//     (dedupe, menu policy, attachment relocation) and every canonical
//     message is relayed to the bot backend. The channel only needs a 200;
//     per-message relay failures are logged, not surfaced, so WhatsApp does
//     not redeliver a batch the normalizer already consumed.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
	"github.com/tbourn/go-whatsapp-connector/internal/http/middleware"
	"github.com/tbourn/go-whatsapp-connector/internal/services"
)

// BotRelay forwards canonical messages to the bot backend. Implemented by
// bot.Client.
type BotRelay interface {
	Deliver(ctx context.Context, msg domain.CanonicalMessage) error
}

// WebhookHandler serves the channel-facing endpoints.
type WebhookHandler struct {
	Normalizer  *services.Normalizer
	Relay       BotRelay
	VerifyToken string
}

// NewWebhookHandler wires the webhook endpoints.
func NewWebhookHandler(n *services.Normalizer, relay BotRelay, verifyToken string) *WebhookHandler {
	return &WebhookHandler{Normalizer: n, Relay: relay, VerifyToken: verifyToken}
}

// Verify implements the subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.VerifyToken {
		middleware.LoggerFrom(c).Info().Msg("webhook verification accepted")
		c.String(http.StatusOK, challenge)
		return
	}
	middleware.LoggerFrom(c).Warn().Str("mode", mode).Msg("webhook verification rejected")
	fail(c, http.StatusForbidden, ErrCodeForbidden, "verification token mismatch")
}

// Receive consumes one webhook delivery.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload domain.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed webhook payload")
		return
	}

	lg := middleware.LoggerFrom(c)
	messages := h.Normalizer.Normalize(c.Request.Context(), payload)

	delivered := 0
	for _, msg := range messages {
		if err := h.Relay.Deliver(c.Request.Context(), msg); err != nil {
			// One failed relay must not block sibling messages or trigger a
			// channel-side redelivery of the whole batch.
			lg.Error().Err(err).
				Str("conversation", msg.ConversationKey).
				Str("kind", string(msg.Kind)).
				Msg("bot relay failed")
			continue
		}
		delivered++
	}

	lg.Info().Int("normalized", len(messages)).Int("delivered", delivered).Msg("webhook processed")
	ok(c, http.StatusOK, gin.H{"received": len(messages), "delivered": delivered})
}
