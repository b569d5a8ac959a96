package paystack

import (
	"encoding/json"
	"fmt"
	"time"
)

// Webhook event names.
const (
	EventChargeSuccess   = "charge.success"
	EventChargeFailed    = "charge.failed"
	EventRefundProcessed = "refund.processed"
)

type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	ID                   json.Number `json:"id"`
	Reference            string      `json:"reference"`
	TransactionReference string      `json:"transaction_reference"`
	Status               string      `json:"status"`
	Amount               int64       `json:"amount"`
	Currency             string      `json:"currency"`
	GatewayResponse      string      `json:"gateway_response"`
	Message              string      `json:"message"`
	PaidAt               *time.Time  `json:"paid_at"`
}

// ProviderReference is the reference used to find the local transaction.
// Refund payloads carry it as transaction_reference.
func (e *WebhookEvent) ProviderReference() string {
	if e.Data.Reference != "" {
		return e.Data.Reference
	}
	return e.Data.TransactionReference
}

// FailureReason is the gateway's explanation for a failed charge.
func (e *WebhookEvent) FailureReason() string {
	if e.Data.GatewayResponse != "" {
		return e.Data.GatewayResponse
	}
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return "payment failed"
}

func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("decode webhook event: missing event name")
	}
	return &event, nil
}
