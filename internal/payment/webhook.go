package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/multiplehats/jobboard-starter-sub000/internal/order"
)

// Pipeline ingests provider webhooks: verify, parse, normalize, deduplicate,
// mutate order/payment state, emit the canonical lifecycle event. Provider
// delivery is at-least-once; every consistency anomaly (duplicate, refund for
// an unknown payment, failure without an order reference) resolves as a
// logged no-op so the provider gets its acknowledgement instead of a retry
// storm.
type Pipeline struct {
	store    order.Repository
	registry *Registry
}

func NewPipeline(store order.Repository, reg *Registry) *Pipeline {
	return &Pipeline{store: store, registry: reg}
}

// Process handles one inbound delivery. A returned error means the boundary
// must not acknowledge: ErrInvalidSignature, ErrMalformedPayload and
// ErrAdapterNotFound map to 400, everything else to 500 so the provider
// retries.
func (p *Pipeline) Process(ctx context.Context, provider string, req *WebhookRequest) error {
	adapter, err := p.registry.Get(provider)
	if err != nil {
		return err
	}

	// parse verifies internally; unverified data is unreachable
	ev, err := adapter.ParseWebhook(req)
	if err != nil {
		return err
	}

	eventType, ok := adapter.EventType(ev.Type)
	if !ok {
		log.Printf("[webhook] provider=%s event=%s type=%q not mapped, ignoring", provider, ev.ID, ev.Type)
		return nil
	}

	switch eventType {
	case EventPaymentSucceeded:
		return p.handleSucceeded(ctx, adapter, ev)
	case EventPaymentFailed:
		return p.handleFailed(ctx, adapter, ev)
	case EventPaymentRefunded:
		return p.handleRefunded(ctx, adapter, ev)
	default:
		return fmt.Errorf("unreachable event type %q", eventType)
	}
}

func (p *Pipeline) handleSucceeded(ctx context.Context, adapter Adapter, ev *WebhookEvent) error {
	orderID := ev.Metadata[MetadataOrderID]
	if orderID == "" {
		return fmt.Errorf("%w: event %s", ErrMissingOrderRef, ev.ID)
	}
	providerPaymentID, customerID := adapter.PaymentRef(ev)
	if providerPaymentID == "" {
		return fmt.Errorf("%w: event %s has no payment id", ErrMalformedPayload, ev.ID)
	}

	// replayed delivery: the payment is already on file, acknowledge and stop
	if _, err := p.store.GetPaymentByProviderPaymentID(ctx, providerPaymentID); err == nil {
		log.Printf("[webhook] provider=%s event=%s duplicate payment %s, no-op",
			adapter.Name(), ev.ID, providerPaymentID)
		return nil
	} else if !errors.Is(err, order.ErrPaymentNotFound) {
		return err
	}

	o, items, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}

	now := time.Now().UTC()
	pm := &order.Payment{
		ID:                 "pay_" + uuid.NewString(),
		OrderID:            o.ID,
		Provider:           adapter.Name(),
		ProviderPaymentID:  providerPaymentID,
		ProviderCustomerID: customerID,
		Amount:             o.TotalAmount,
		Currency:           o.Currency,
		Status:             order.PaymentSucceeded,
		Metadata:           order.Metadata{"eventId": ev.ID},
		CreatedAt:          now,
		UpdatedAt:          now,
		CompletedAt:        &now,
	}
	if err := p.store.CreatePayment(ctx, pm); err != nil {
		if errors.Is(err, order.ErrDuplicatePayment) {
			// concurrent duplicate delivery lost the insert race; the unique
			// constraint is the arbiter, first writer won
			log.Printf("[webhook] provider=%s event=%s lost insert race for %s, no-op",
				adapter.Name(), ev.ID, providerPaymentID)
			return nil
		}
		return err
	}

	paid := order.StatusPaid
	if err := p.store.UpdateOrder(ctx, o.ID, order.OrderUpdate{
		Status:      &paid,
		CompletedAt: &now,
	}); err != nil {
		return err
	}
	o.Status = paid
	o.CompletedAt = &now

	return p.registry.Emit(ctx, EventPaymentSucceeded, &EventContext{
		Event:    ev,
		Order:    o,
		Items:    items,
		Payment:  pm,
		Provider: adapter.Name(),
	})
}

func (p *Pipeline) handleFailed(ctx context.Context, adapter Adapter, ev *WebhookEvent) error {
	orderID := ev.Metadata[MetadataOrderID]
	if orderID == "" {
		// a failure for an unknown order is not actionable, and not an error
		log.Printf("[webhook] provider=%s event=%s failed payment without order reference, ignoring",
			adapter.Name(), ev.ID)
		return nil
	}

	o, items, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			log.Printf("[webhook] provider=%s event=%s failed payment for unknown order %s, ignoring",
				adapter.Name(), ev.ID, orderID)
			return nil
		}
		return err
	}

	failed := order.StatusFailed
	if err := p.store.UpdateOrder(ctx, o.ID, order.OrderUpdate{Status: &failed}); err != nil {
		return err
	}
	o.Status = failed

	// Payment stays nil: no row is ever created for a failed attempt
	return p.registry.Emit(ctx, EventPaymentFailed, &EventContext{
		Event:    ev,
		Order:    o,
		Items:    items,
		Provider: adapter.Name(),
	})
}

func (p *Pipeline) handleRefunded(ctx context.Context, adapter Adapter, ev *WebhookEvent) error {
	providerPaymentID, _ := adapter.PaymentRef(ev)
	if providerPaymentID == "" {
		return fmt.Errorf("%w: event %s has no payment id", ErrMalformedPayload, ev.ID)
	}

	pm, err := p.store.GetPaymentByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		if errors.Is(err, order.ErrPaymentNotFound) {
			// out-of-band refund, or the refund raced ahead of the succeeded
			// delivery; tolerated, the system converges on replay
			log.Printf("[webhook] provider=%s event=%s refund for unknown payment %s, ignoring",
				adapter.Name(), ev.ID, providerPaymentID)
			return nil
		}
		return err
	}

	o, items, err := p.store.GetOrder(ctx, pm.OrderID)
	if err != nil {
		return err
	}

	refunded := order.StatusRefunded
	if err := p.store.UpdatePayment(ctx, pm.ID, order.PaymentUpdate{Status: &refunded}); err != nil {
		return err
	}
	pm.Status = order.PaymentRefunded
	if err := p.store.UpdateOrder(ctx, o.ID, order.OrderUpdate{Status: &refunded}); err != nil {
		return err
	}
	o.Status = order.StatusRefunded

	return p.registry.Emit(ctx, EventPaymentRefunded, &EventContext{
		Event:    ev,
		Order:    o,
		Items:    items,
		Payment:  pm,
		Provider: adapter.Name(),
	})
}
