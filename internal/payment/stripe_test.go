package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeSign(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(t *testing.T, typ string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":   "evt_stripe_1",
		"type": typ,
		"data": map[string]any{"object": object},
	})
	require.NoError(t, err)
	return b
}

func TestStripeVerifyWebhook(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewStripeAdapter("sk_test", "whsec_test")
	a.now = func() time.Time { return now }
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	cases := []struct {
		name   string
		header string
		want   bool
	}{
		{"valid", stripeSign("whsec_test", now, body), true},
		{"wrong secret", stripeSign("whsec_other", now, body), false},
		{"stale timestamp", stripeSign("whsec_test", now.Add(-10*time.Minute), body), false},
		{"future timestamp", stripeSign("whsec_test", now.Add(10*time.Minute), body), false},
		{"inside tolerance", stripeSign("whsec_test", now.Add(-4*time.Minute), body), true},
		{"missing header", "", false},
		{"garbage header", "t=abc,v1=zz", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := &WebhookRequest{Body: body, Header: http.Header{}}
			if tc.header != "" {
				req.Header.Set("Stripe-Signature", tc.header)
			}
			ok, err := a.VerifyWebhook(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestStripeVerifyWebhookMissingSecret(t *testing.T) {
	t.Parallel()

	a := NewStripeAdapter("sk_test", "")
	_, err := a.VerifyWebhook(&WebhookRequest{Body: []byte(`{}`), Header: http.Header{}})
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStripeParseWebhookRejectsUnverified(t *testing.T) {
	t.Parallel()

	a := NewStripeAdapter("sk_test", "whsec_test")
	body := stripeEvent(t, "checkout.session.completed", map[string]any{"id": "cs_1"})
	req := &WebhookRequest{Body: body, Header: http.Header{}}
	req.Header.Set("Stripe-Signature", "t=1,v1=00")

	_, err := a.ParseWebhook(req)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeParseWebhook(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := NewStripeAdapter("sk_test", "whsec_test")
	body := stripeEvent(t, "checkout.session.completed", map[string]any{
		"id":             "cs_1",
		"payment_intent": "pi_42",
		"customer":       "cus_7",
		"metadata":       map[string]any{"orderId": "ord_9"},
	})
	req := &WebhookRequest{Body: body, Header: http.Header{}}
	req.Header.Set("Stripe-Signature", stripeSign("whsec_test", now, body))

	ev, err := a.ParseWebhook(req)
	require.NoError(t, err)
	assert.Equal(t, "evt_stripe_1", ev.ID)
	assert.Equal(t, "checkout.session.completed", ev.Type)
	assert.Equal(t, "ord_9", ev.Metadata["orderId"])

	paymentID, customerID := a.PaymentRef(ev)
	assert.Equal(t, "pi_42", paymentID)
	assert.Equal(t, "cus_7", customerID)
}

func TestStripePaymentRefFallsBackToObjectID(t *testing.T) {
	t.Parallel()

	a := NewStripeAdapter("sk_test", "whsec_test")
	ev := &WebhookEvent{Data: map[string]any{"object": map[string]any{"id": "ch_1"}}}
	paymentID, _ := a.PaymentRef(ev)
	assert.Equal(t, "ch_1", paymentID)
}

func TestStripeEventTypeTable(t *testing.T) {
	t.Parallel()

	a := NewStripeAdapter("sk_test", "whsec_test")
	got, ok := a.EventType("checkout.session.completed")
	require.True(t, ok)
	assert.Equal(t, EventPaymentSucceeded, got)

	got, ok = a.EventType("charge.refunded")
	require.True(t, ok)
	assert.Equal(t, EventPaymentRefunded, got)

	_, ok = a.EventType("customer.created")
	assert.False(t, ok)
}

func TestStripeCreateCheckoutSession(t *testing.T) {
	t.Parallel()

	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_live_1",
			"url": "https://checkout.stripe.test/cs_live_1",
		})
	}))
	defer srv.Close()

	a := NewStripeAdapter("sk_test", "whsec_test")
	a.baseURL = srv.URL

	sess, err := a.CreateCheckoutSession(context.Background(), CheckoutParams{
		LineItems:  []LineItem{{PriceRef: "price_base", Quantity: 2}},
		SuccessURL: "https://board.example/ok",
		CancelURL:  "https://board.example/cancel",
		Metadata:   map[string]string{"orderId": "ord_9"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_live_1", sess.SessionID)
	assert.Equal(t, "https://checkout.stripe.test/cs_live_1", sess.URL)

	assert.Equal(t, "payment", gotForm["mode"][0])
	assert.Equal(t, "price_base", gotForm["line_items[0][price]"][0])
	assert.Equal(t, "2", gotForm["line_items[0][quantity]"][0])
	assert.Equal(t, "ord_9", gotForm["metadata[orderId]"][0])
	assert.Equal(t, "ord_9", gotForm["payment_intent_data[metadata][orderId]"][0])
}

func TestStripeCreateCheckoutSessionAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"no such price"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewStripeAdapter("sk_test", "whsec_test")
	a.baseURL = srv.URL

	_, err := a.CreateCheckoutSession(context.Background(), CheckoutParams{
		LineItems:  []LineItem{{PriceRef: "price_bad", Quantity: 1}},
		SuccessURL: "https://board.example/ok",
		CancelURL:  "https://board.example/cancel",
	})
	var apiErr *ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "stripe", apiErr.Provider)
}

func TestStripeCreateCheckoutSessionMissingKey(t *testing.T) {
	t.Parallel()

	a := NewStripeAdapter("", "whsec_test")
	_, err := a.CreateCheckoutSession(context.Background(), CheckoutParams{})
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStripeRefund(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_42", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "5000", r.PostForm.Get("amount"))
		assert.Equal(t, "requested_by_customer", r.PostForm.Get("reason"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "re_1", "amount": 5000, "status": "succeeded",
		})
	}))
	defer srv.Close()

	a := NewStripeAdapter("sk_test", "whsec_test")
	a.baseURL = srv.URL

	ref, err := a.Refund(context.Background(), RefundParams{
		ProviderPaymentID: "pi_42",
		Amount:            5000,
		Reason:            "requested_by_customer",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", ref.RefundID)
	assert.Equal(t, int64(5000), ref.Amount)
	assert.Equal(t, "succeeded", ref.Status)
}
