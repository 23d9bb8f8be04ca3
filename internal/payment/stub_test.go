package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/multiplehats/jobboard-starter-sub000/internal/catalog"
	"github.com/multiplehats/jobboard-starter-sub000/internal/order"
)

//
// ---------- STUBS & FAKES ----------
//

// memStore implements order.Repository in memory with the same uniqueness
// guarantee on provider payment ids the real store enforces.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	items    map[string][]order.Item
	payments map[string]*order.Payment // keyed by provider payment id

	orderUpdates int
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[string]*order.Order{},
		items:    map[string][]order.Item{},
		payments: map[string]*order.Payment{},
	}
}

func (s *memStore) CreateOrder(ctx context.Context, o *order.Order, items []order.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	s.items[o.ID] = append([]order.Item(nil), items...)
	return nil
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*order.Order, []order.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil, order.ErrNotFound
	}
	cp := *o
	return &cp, s.items[id], nil
}

func (s *memStore) UpdateOrder(ctx context.Context, id string, upd order.OrderUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	s.orderUpdates++
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.Provider != nil {
		o.Provider = *upd.Provider
	}
	if upd.ProviderSessionID != nil {
		o.ProviderSessionID = *upd.ProviderSessionID
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		o.CompletedAt = &t
	}
	return nil
}

func (s *memStore) CreatePayment(ctx context.Context, p *order.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[p.ProviderPaymentID]; exists {
		return order.ErrDuplicatePayment
	}
	cp := *p
	s.payments[p.ProviderPaymentID] = &cp
	return nil
}

func (s *memStore) GetPaymentByProviderPaymentID(ctx context.Context, providerPaymentID string) (*order.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[providerPaymentID]
	if !ok {
		return nil, order.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) UpdatePayment(ctx context.Context, id string, upd order.PaymentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID != id {
			continue
		}
		if upd.Status != nil {
			p.Status = *upd.Status
		}
		if upd.CompletedAt != nil {
			t := *upd.CompletedAt
			p.CompletedAt = &t
		}
		return nil
	}
	return order.ErrPaymentNotFound
}

// fakeAdapter is a controllable provider. ParseWebhook decodes the body
// directly into a WebhookEvent; set verify=false to simulate a bad signature.
type fakeAdapter struct {
	name        string
	verify      bool
	session     *CheckoutSession
	createErr   error
	createCalls int
	lastParams  CheckoutParams
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:    name,
		verify:  true,
		session: &CheckoutSession{SessionID: "sess_test", URL: "https://pay.example/sess_test"},
	}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	f.createCalls++
	f.lastParams = p
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.session, nil
}

func (f *fakeAdapter) VerifyWebhook(req *WebhookRequest) (bool, error) { return f.verify, nil }

func (f *fakeAdapter) ParseWebhook(req *WebhookRequest) (*WebhookEvent, error) {
	ok, err := f.VerifyWebhook(req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidSignature
	}
	var ev WebhookEvent
	if err := json.Unmarshal(req.Body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &ev, nil
}

func (f *fakeAdapter) Refund(ctx context.Context, p RefundParams) (*Refund, error) {
	return &Refund{RefundID: "re_test", Amount: p.Amount, Status: "succeeded"}, nil
}

func (f *fakeAdapter) EventType(raw string) (string, bool) {
	m := map[string]string{
		"checkout.done": EventPaymentSucceeded,
		"payment.oops":  EventPaymentFailed,
		"refund.done":   EventPaymentRefunded,
	}
	t, ok := m[raw]
	return t, ok
}

func (f *fakeAdapter) PaymentRef(ev *WebhookEvent) (string, string) {
	id, _ := ev.Data["payment_id"].(string)
	cust, _ := ev.Data["customer_id"].(string)
	return id, cust
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Product{
		{
			ID: "job_posting_base", Type: catalog.ProductTypeJobPosting,
			Price: "99.00", Currency: "USD", DurationDays: 30,
			Providers: map[string]string{"testpay": "price_base", "stripe": "price_stripe_base"},
		},
		{
			ID: "upsell_highlight", Type: catalog.ProductTypeUpsell,
			Price: "50.00", Currency: "USD",
			Providers: map[string]string{"testpay": "price_highlight"},
		},
	}, "testpay")
	if err != nil {
		t.Fatalf("catalog fixture: %v", err)
	}
	return cat
}

// eventBody builds the payload fakeAdapter.ParseWebhook understands.
func eventBody(t *testing.T, id, typ string, data map[string]any, meta map[string]string) []byte {
	t.Helper()
	b, err := json.Marshal(WebhookEvent{ID: id, Type: typ, Data: data, Metadata: meta})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}
