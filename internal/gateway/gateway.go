package gateway

import (
	"context"
	"errors"
	"time"
)

// Gateway is the provider-agnostic messaging contract used by business logic.
//
// Rules:
// - No provider SDK or wire-protocol calls outside gateway adapters.
// - All requests are tenant-scoped (tenant_id required).
// - Addresses are passed as received; normalization belongs to the
//   identity resolver, not to the transport.
type Gateway interface {
	Name() string

	Send(ctx context.Context, req SendRequest) (SendResult, error)

	// SessionStatus reports the tenant's channel connection state.
	SessionStatus(ctx context.Context, tenantID string) (SessionStatus, error)
}

var (
	ErrNotConnected   = errors.New("gateway: tenant session not connected")
	ErrInvalidAddress = errors.New("gateway: invalid address")
	ErrSendRejected   = errors.New("gateway: send rejected")
)

type SendRequest struct {
	TenantID string `json:"tenant_id"`
	Address  string `json:"address"`
	Text     string `json:"text"`
}

type SendResult struct {
	// MessageID is the provider's identifier for the delivered message.
	MessageID string `json:"message_id"`
}

type SessionStatus struct {
	TenantID        string `json:"tenant_id"`
	Status          string `json:"status"`
	Connected       bool   `json:"connected"`
	ConnectedNumber string `json:"connected_number,omitempty"`
}

// InboundMessage is one chat message delivered by the gateway, at most
// once per physical message, ordered per sender only.
type InboundMessage struct {
	TenantID string `json:"tenant_id"`

	// From is the sender address as the gateway saw it. May be an opaque
	// internal identifier rather than a dialable number.
	From string `json:"from"`

	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`

	// PushName is the sender's self-reported display name, if any.
	PushName string `json:"push_name,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// InboundHandler consumes inbound messages. Implementations must contain
// their own failures; the webhook acknowledges delivery regardless.
type InboundHandler interface {
	HandleMessage(ctx context.Context, msg InboundMessage) error
}
