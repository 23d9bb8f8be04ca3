package payment

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/multiplehats/jobboard-starter-sub000/internal/config"
	"github.com/multiplehats/jobboard-starter-sub000/internal/order"
)

// EventContext is handed to every lifecycle handler. Payment is nil for
// payment.failed, where no row is ever created.
type EventContext struct {
	Event    *WebhookEvent
	Order    *order.Order
	Items    []order.Item
	Payment  *order.Payment
	Provider string
}

type Handler func(ctx context.Context, ec *EventContext) error

// Registry holds the configured adapters and the lifecycle-event handler
// lists. One instance is built in main and injected everywhere; it is
// read-mostly after startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	handlers map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: map[string]Adapter{},
		handlers: map[string][]Handler{},
	}
}

// NewRegistryFromConfig registers one adapter per provider whose credentials
// are present. A provider with no credentials is simply absent and surfaces
// as ErrAdapterNotFound at use.
func NewRegistryFromConfig(cfg config.Config) *Registry {
	r := NewRegistry()
	if cfg.StripeSecretKey != "" {
		r.Register(NewStripeAdapter(cfg.StripeSecretKey, cfg.StripeWebhookSecret))
	}
	if cfg.LemonSqueezyAPIKey != "" {
		r.Register(NewLemonSqueezyAdapter(cfg.LemonSqueezyAPIKey, cfg.LemonSqueezyStoreID, cfg.LemonSqueezyWebhookSecret))
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	log.Printf("[payments] registered adapter provider=%s", a.Name())
}

func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, name)
	}
	return a, nil
}

// On appends a handler for a canonical event. Registration order is the
// execution order.
func (r *Registry) On(event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], h)
}

// Emit runs the handlers for event sequentially in registration order. The
// first handler error aborts the remainder and propagates to the caller:
// the lifecycle bus is fail-fast, not best-effort.
func (r *Registry) Emit(ctx context.Context, event string, ec *EventContext) error {
	r.mu.RLock()
	hs := r.handlers[event]
	r.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, ec); err != nil {
			return fmt.Errorf("handler for %s: %w", event, err)
		}
	}
	return nil
}
