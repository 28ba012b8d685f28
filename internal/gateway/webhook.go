package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luizcarelo/nps-saas/pkg/logger"
)

// inboundPayload is the JSON body the messaging gateway posts for each
// received chat message.
type inboundPayload struct {
	TenantID  string `json:"tenant_id"`
	From      string `json:"from"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
	PushName  string `json:"push_name"`
}

// WebhookHandler receives inbound-message callbacks from the gateway and
// hands them to the conversation layer. No dialogue logic lives here.
//
// NOTE: In production this endpoint should be protected by gateway
// signature validation.
type WebhookHandler struct {
	Inbound InboundHandler

	// TenantIDResolver maps the callback to a tenant when the payload
	// does not carry one (single-tenant gateway deployments).
	TenantIDResolver func(c *gin.Context) (string, error)

	clock func() time.Time
}

func NewWebhookHandler(inbound InboundHandler) *WebhookHandler {
	return &WebhookHandler{Inbound: inbound, clock: time.Now}
}

func (h *WebhookHandler) HandleInbound(c *gin.Context) {
	log := logger.FromGin(c)

	var p inboundPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	tenantID := p.TenantID
	if tenantID == "" && h.TenantIDResolver != nil {
		id, err := h.TenantIDResolver(c)
		if err != nil {
			log.Warn("webhook tenant resolution failed", "err", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tenant"})
			return
		}
		tenantID = id
	}
	if tenantID == "" || p.From == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and from are required"})
		return
	}
	if p.Text == "" {
		// Media-only and reaction events carry no text; acknowledge and drop.
		c.Status(http.StatusAccepted)
		return
	}

	now := h.clock
	if now == nil {
		now = time.Now
	}
	msg := InboundMessage{
		TenantID:   tenantID,
		From:       p.From,
		Text:       p.Text,
		MessageID:  p.MessageID,
		PushName:   p.PushName,
		ReceivedAt: now().UTC(),
	}

	if h.Inbound == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inbound handler not configured"})
		return
	}

	// The conversation layer contains its own failures; delivery is
	// acknowledged either way so the gateway does not redeliver.
	if err := h.Inbound.HandleMessage(c.Request.Context(), msg); err != nil {
		log.Error("inbound message handling failed", "tenant_id", tenantID, "err", err)
	}
	c.Status(http.StatusAccepted)
}
