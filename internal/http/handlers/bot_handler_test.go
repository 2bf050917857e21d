package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
	"github.com/tbourn/go-whatsapp-connector/internal/services"
)

type captureQueue struct {
	payloads []domain.SendPayload
	err      error
}

func (q *captureQueue) Enqueue(payload domain.SendPayload) error {
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, payload)
	return nil
}

func botRouter(queue services.OutboundQueue, secret string) *gin.Engine {
	tracker := services.NewMenuTracker(time.Hour)
	pipeline := services.NewAttachmentPipeline(stubMedia{}, stubStore{}, time.Hour, false)
	composer := services.NewComposer(tracker, pipeline, "Select one")

	h := NewBotHandler(composer, queue, secret)
	r := gin.New()
	r.POST("/bot/message", h.Reply)
	return r
}

func postReply(t *testing.T, r *gin.Engine, secret string, reply domain.BotReply) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/bot/message", strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Hub-Secret", secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReply_QueuesComposedPayload(t *testing.T) {
	queue := &captureQueue{}
	r := botRouter(queue, "shh")

	w := postReply(t, r, "shh", domain.BotReply{
		ConversationKey: "551199",
		Kind:            domain.KindText,
		Text:            "Hello!",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d body=%s", w.Code, w.Body.String())
	}
	if len(queue.payloads) != 1 {
		t.Fatalf("queued payloads: got %d", len(queue.payloads))
	}
	p := queue.payloads[0]
	if p.To != "551199" || p.Type != "text" || p.Text.Body != "Hello!" {
		t.Fatalf("payload: %+v", p)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["queued"] != true || resp["type"] != "text" {
		t.Fatalf("response: %v", resp)
	}
}

func TestReply_SecretMismatch(t *testing.T) {
	r := botRouter(&captureQueue{}, "shh")

	w := postReply(t, r, "wrong", domain.BotReply{ConversationKey: "551199", Kind: domain.KindText, Text: "x"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status: got %d", w.Code)
	}
}

func TestReply_SecretCheckDisabledWhenUnset(t *testing.T) {
	queue := &captureQueue{}
	r := botRouter(queue, "")

	w := postReply(t, r, "", domain.BotReply{ConversationKey: "551199", Kind: domain.KindText, Text: "x"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d", w.Code)
	}
}

func TestReply_MissingConversationKey(t *testing.T) {
	r := botRouter(&captureQueue{}, "")

	w := postReply(t, r, "", domain.BotReply{Kind: domain.KindText, Text: "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", w.Code)
	}
}

func TestReply_EmptyReplyRejected(t *testing.T) {
	r := botRouter(&captureQueue{}, "")

	w := postReply(t, r, "", domain.BotReply{ConversationKey: "551199", Kind: domain.KindText, Text: "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d body=%s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != ErrCodeComposeFailed {
		t.Fatalf("error code: got %q", resp.Code)
	}
}

func TestReply_QueueUnavailable(t *testing.T) {
	r := botRouter(&captureQueue{err: services.ErrQueueClosed}, "")

	w := postReply(t, r, "", domain.BotReply{ConversationKey: "551199", Kind: domain.KindText, Text: "x"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != ErrCodeQueueClosed {
		t.Fatalf("error code: got %q", resp.Code)
	}
}

func TestReply_InteractiveComposition(t *testing.T) {
	queue := &captureQueue{}
	r := botRouter(queue, "")

	w := postReply(t, r, "", domain.BotReply{
		ConversationKey: "551199",
		Kind:            domain.KindText,
		Text:            "Pick a topic",
		Actions: []domain.Action{
			{Type: domain.ActionPostback, Label: "Billing", Postback: &domain.Postback{Action: "act_billing"}},
			{Type: domain.ActionPostback, Label: "Support", Postback: &domain.Postback{Action: "act_support"}},
		},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d body=%s", w.Code, w.Body.String())
	}
	if len(queue.payloads) != 1 || queue.payloads[0].Type != "interactive" {
		t.Fatalf("expected an interactive payload, got %+v", queue.payloads)
	}
}
