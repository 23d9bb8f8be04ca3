package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// signatureTolerance bounds clock skew on timestamped webhook signatures.
// Outside the window a replayed request is rejected even with a valid MAC.
const signatureTolerance = 5 * time.Minute

var stripeEventTypes = map[string]string{
	"checkout.session.completed":            EventPaymentSucceeded,
	"checkout.session.async_payment_failed": EventPaymentFailed,
	"payment_intent.payment_failed":         EventPaymentFailed,
	"charge.refunded":                       EventPaymentRefunded,
}

// StripeAdapter talks to the card-network processor over its form-encoded
// REST API and checks webhooks against the timestamped Stripe-Signature
// scheme.
type StripeAdapter struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	http          *http.Client
	now           func() time.Time
}

func NewStripeAdapter(secretKey, webhookSecret string) *StripeAdapter {
	return &StripeAdapter{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       "https://api.stripe.com",
		http:          &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
	}
}

func (a *StripeAdapter) Name() string { return "stripe" }

func (a *StripeAdapter) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if a.secretKey == "" {
		return nil, &ConfigError{Provider: a.Name(), Missing: "STRIPE_SECRET_KEY"}
	}
	mode := p.Mode
	if mode == "" {
		mode = ModePayment
	}

	form := url.Values{}
	form.Set("mode", string(mode))
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	for i, li := range p.LineItems {
		form.Set(fmt.Sprintf("line_items[%d][price]", i), li.PriceRef)
		form.Set(fmt.Sprintf("line_items[%d][quantity]", i), strconv.Itoa(li.Quantity))
	}
	for k, v := range p.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
		// sessions complete asynchronously; the metadata must also ride on the
		// resulting payment intent so every later webhook carries it
		form.Set(fmt.Sprintf("payment_intent_data[metadata][%s]", k), v)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := a.post(ctx, "/v1/checkout/sessions", form, &out); err != nil {
		return nil, err
	}
	return &CheckoutSession{SessionID: out.ID, URL: out.URL}, nil
}

func (a *StripeAdapter) VerifyWebhook(req *WebhookRequest) (bool, error) {
	if a.webhookSecret == "" {
		return false, &ConfigError{Provider: a.Name(), Missing: "STRIPE_WEBHOOK_SECRET"}
	}
	header := req.Header.Get("Stripe-Signature")
	if header == "" {
		return false, nil
	}

	var (
		ts   int64
		macs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, _ = strconv.ParseInt(v, 10, 64)
		case "v1":
			if mac, err := hex.DecodeString(v); err == nil {
				macs = append(macs, mac)
			}
		}
	}
	if ts == 0 || len(macs) == 0 {
		return false, nil
	}

	skew := a.now().Sub(time.Unix(ts, 0))
	if skew < -signatureTolerance || skew > signatureTolerance {
		return false, nil
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(req.Body)
	expected := mac.Sum(nil)
	for _, got := range macs {
		if hmac.Equal(expected, got) {
			return true, nil
		}
	}
	return false, nil
}

func (a *StripeAdapter) ParseWebhook(req *WebhookRequest) (*WebhookEvent, error) {
	ok, err := a.VerifyWebhook(req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidSignature
	}

	var raw struct {
		ID   string         `json:"id"`
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(req.Body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	ev := &WebhookEvent{
		ID:       raw.ID,
		Type:     raw.Type,
		Data:     raw.Data,
		Metadata: map[string]string{},
	}
	if obj, ok := raw.Data["object"].(map[string]any); ok {
		if md, ok := obj["metadata"].(map[string]any); ok {
			for k, v := range md {
				if s, ok := v.(string); ok {
					ev.Metadata[k] = s
				}
			}
		}
	}
	return ev, nil
}

func (a *StripeAdapter) Refund(ctx context.Context, p RefundParams) (*Refund, error) {
	if a.secretKey == "" {
		return nil, &ConfigError{Provider: a.Name(), Missing: "STRIPE_SECRET_KEY"}
	}
	form := url.Values{}
	form.Set("payment_intent", p.ProviderPaymentID)
	if p.Amount > 0 {
		form.Set("amount", strconv.FormatInt(p.Amount, 10))
	}
	if p.Reason != "" {
		form.Set("reason", p.Reason)
	}

	var out struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	if err := a.post(ctx, "/v1/refunds", form, &out); err != nil {
		return nil, err
	}
	return &Refund{RefundID: out.ID, Amount: out.Amount, Status: out.Status}, nil
}

func (a *StripeAdapter) EventType(raw string) (string, bool) {
	t, ok := stripeEventTypes[raw]
	return t, ok
}

// PaymentRef prefers the payment intent id: checkout sessions and charges
// both reference it, so succeeded and refunded events key on the same value.
func (a *StripeAdapter) PaymentRef(ev *WebhookEvent) (string, string) {
	obj, ok := ev.Data["object"].(map[string]any)
	if !ok {
		return "", ""
	}
	var customerID string
	if c, ok := obj["customer"].(string); ok {
		customerID = c
	}
	if pi, ok := obj["payment_intent"].(string); ok && pi != "" {
		return pi, customerID
	}
	if id, ok := obj["id"].(string); ok {
		return id, customerID
	}
	return "", customerID
}

func (a *StripeAdapter) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &ProviderAPIError{Provider: a.Name(), Status: res.StatusCode, Body: string(body)}
	}
	return json.Unmarshal(body, out)
}
