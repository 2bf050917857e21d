// Bot-backend reply handler.
//
// POST /bot/message receives one reply from the bot backend, composes the
// channel wire payload (shape selection plus menu registration), and hands
// it to the serialized delivery queue. Acceptance means "queued", not
// "delivered": delivery happens asynchronously, one message at a time.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
	"github.com/tbourn/go-whatsapp-connector/internal/http/middleware"
	"github.com/tbourn/go-whatsapp-connector/internal/services"
)

// BotHandler serves the bot-backend-facing endpoint.
type BotHandler struct {
	Composer *services.Composer
	Queue    services.OutboundQueue
	Secret   string // shared secret; empty disables the check
}

// NewBotHandler wires the bot reply endpoint.
func NewBotHandler(composer *services.Composer, queue services.OutboundQueue, secret string) *BotHandler {
	return &BotHandler{Composer: composer, Queue: queue, Secret: secret}
}

// Reply accepts one bot reply for composition and delivery.
func (h *BotHandler) Reply(c *gin.Context) {
	if h.Secret != "" && c.GetHeader("X-Hub-Secret") != h.Secret {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "secret mismatch")
		return
	}

	var reply domain.BotReply
	if err := c.ShouldBindJSON(&reply); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed bot reply")
		return
	}
	if strings.TrimSpace(reply.ConversationKey) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversationKey is required")
		return
	}

	payload, err := h.Composer.Compose(c.Request.Context(), reply)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyReply), errors.Is(err, services.ErrInvalidAttachment):
			fail(c, http.StatusBadRequest, ErrCodeComposeFailed, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeComposeFailed, "composition failed")
		}
		return
	}

	if err := h.Queue.Enqueue(payload); err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeQueueClosed, "delivery queue unavailable")
		return
	}

	middleware.LoggerFrom(c).Info().
		Str("conversation", reply.ConversationKey).
		Str("wire_type", payload.Type).
		Msg("reply queued")
	ok(c, http.StatusAccepted, gin.H{"queued": true, "type": payload.Type})
}
