// Package notify delivers payment events to merchants. The store-backed
// notifier writes to the notifications collection that the merchant
// dashboard polls; delivery failures never block reconciliation.
package notify

import (
	"context"
	"time"

	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/types"
)

const collection = "notifications"

// Notifier delivers a payment event to a merchant.
type Notifier interface {
	Notify(ctx context.Context, merchantID string, event types.PaymentEvent) error
}

// NoopNotifier drops every event.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, types.PaymentEvent) error { return nil }

// StoreNotifier appends events as unread notification documents.
type StoreNotifier struct {
	store docstore.Store
	now   func() time.Time
}

func NewStoreNotifier(store docstore.Store, now func() time.Time) *StoreNotifier {
	if now == nil {
		now = time.Now
	}
	return &StoreNotifier{store: store, now: now}
}

func (n *StoreNotifier) Notify(ctx context.Context, merchantID string, event types.PaymentEvent) error {
	doc := map[string]any{
		"merchantId": merchantID,
		"type":       event.Type,
		"title":      event.Title,
		"message":    event.Message,
		"data":       event.Data,
		"read":       false,
		"createdAt":  n.now().Format(time.RFC3339Nano),
	}
	_, err := n.store.Add(ctx, collection, doc)
	return err
}
