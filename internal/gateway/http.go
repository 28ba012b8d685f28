package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPGateway talks to the external messaging-gateway service over JSON.
// The wire-level chat protocol (session management, QR pairing, delivery
// receipts) lives entirely in that service.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type HTTPOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewHTTPGateway(opts HTTPOptions) (*HTTPGateway, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("gateway: base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &HTTPGateway{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (g *HTTPGateway) Name() string { return "http" }

type sendEnvelope struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (g *HTTPGateway) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.TenantID == "" || req.Address == "" {
		return SendResult{}, ErrInvalidAddress
	}

	body, err := json.Marshal(req)
	if err != nil {
		return SendResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	var env sendEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return SendResult{}, fmt.Errorf("gateway: decode send response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		if env.Error == "NOT_CONNECTED" {
			return SendResult{}, ErrNotConnected
		}
		return SendResult{}, fmt.Errorf("%w: %s", ErrSendRejected, env.Error)
	}
	return SendResult{MessageID: env.MessageID}, nil
}

func (g *HTTPGateway) SessionStatus(ctx context.Context, tenantID string) (SessionStatus, error) {
	if tenantID == "" {
		return SessionStatus{}, ErrInvalidAddress
	}

	u := g.baseURL + "/sessions/" + url.PathEscape(tenantID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SessionStatus{}, err
	}
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return SessionStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return SessionStatus{}, fmt.Errorf("gateway: session status %d for tenant %s", resp.StatusCode, tenantID)
	}

	var out SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SessionStatus{}, fmt.Errorf("gateway: decode session status: %w", err)
	}
	out.TenantID = tenantID
	return out, nil
}
