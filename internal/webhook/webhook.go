// Package webhook manages outbound event subscriptions and their delivery.
package webhook

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound signals that the requested webhook does not exist.
	ErrNotFound = errors.New("webhook not found")
)

// Webhook is one registered event subscription. The last response fields
// reflect the most recent delivery attempt and are nil until one happens.
type Webhook struct {
	ID                 int64     `json:"id"`
	URL                string    `json:"url"`
	EventType          string    `json:"event_type"`
	Enabled            bool      `json:"enabled"`
	LastResponseCode   *int      `json:"last_response_code"`
	LastResponseTimeMs *int64    `json:"last_response_time_ms"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Update carries partial changes; nil fields are left untouched.
type Update struct {
	URL       *string `json:"url"`
	EventType *string `json:"event_type"`
	Enabled   *bool   `json:"enabled"`
}

// Registry is the store of webhook subscriptions.
type Registry interface {
	Create(ctx context.Context, hook Webhook) (Webhook, error)
	Get(ctx context.Context, id int64) (Webhook, error)
	List(ctx context.Context) ([]Webhook, error)
	// ListByEvent returns the enabled webhooks subscribed to event.
	ListByEvent(ctx context.Context, event string) ([]Webhook, error)
	Update(ctx context.Context, id int64, upd Update) (Webhook, error)
	Delete(ctx context.Context, id int64) error
	// RecordResult stores the outcome of the latest delivery attempt. A code
	// of zero means the request never produced a response.
	RecordResult(ctx context.Context, id int64, code int, elapsedMs int64) error
}
