// Package payment contains the provider-agnostic payments core: the adapter
// contract, the adapter/event registry, checkout orchestration and the
// webhook ingestion pipeline.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Canonical lifecycle events. Provider event vocabularies are normalized to
// these three before any state is touched.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)

// MetadataOrderID is the metadata key carrying our order id through the
// provider's checkout session and back on its webhooks.
const MetadataOrderID = "orderId"

type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

// LineItem is a provider-specific price reference plus quantity, derived from
// an order item via the catalog.
type LineItem struct {
	PriceRef string
	Quantity int
}

type CheckoutParams struct {
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	Mode       Mode
}

type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// WebhookRequest is the raw inbound notification: body bytes plus headers,
// exactly as received. Adapters need both to check signatures.
type WebhookRequest struct {
	Body   []byte
	Header http.Header
}

// WebhookEvent is a parsed, signature-verified provider notification. Type is
// the provider's raw event name; Data keeps the provider-shaped payload for
// the per-provider extractor.
type WebhookEvent struct {
	ID       string
	Type     string
	Data     map[string]any
	Metadata map[string]string
}

type RefundParams struct {
	ProviderPaymentID string
	Amount            int64 // minor units; 0 means full refund
	Reason            string
}

type Refund struct {
	RefundID string
	Amount   int64
	Status   string
}

var (
	ErrAdapterNotFound = errors.New("payment adapter not registered")
	// ErrInvalidSignature is a protocol failure: the boundary answers 400 and
	// the provider gives up or alerts, it must not be retried as a 500.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrMissingOrderRef  = errors.New("webhook missing order reference")
)

// ConfigError means required provider credentials are absent. It is a startup
// or registration problem, never a per-request one.
type ConfigError struct {
	Provider string
	Missing  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s adapter not configured: missing %s", e.Provider, e.Missing)
}

// ProviderAPIError wraps a rejection from the provider's API. Callers decide
// retry policy; the core never retries.
type ProviderAPIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s api error: status=%d body=%s", e.Provider, e.Status, e.Body)
}

// Adapter is the per-provider implementation of the four payment
// capabilities, plus the provider's event normalization table and payload
// extractor. Adapters carry their own credentials and HTTP client and hold no
// shared state.
type Adapter interface {
	Name() string

	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)

	// VerifyWebhook reports whether the request signature is valid. An invalid
	// signature is (false, nil), never an error; only a missing verification
	// secret produces a ConfigError.
	VerifyWebhook(req *WebhookRequest) (bool, error)

	// ParseWebhook verifies then decodes the request. Parsed data is never
	// obtainable from an unverified request: verification failure yields
	// ErrInvalidSignature.
	ParseWebhook(req *WebhookRequest) (*WebhookEvent, error)

	Refund(ctx context.Context, p RefundParams) (*Refund, error)

	// EventType maps the provider's raw event name to a canonical lifecycle
	// event. Unmapped names report ok=false and are ignored upstream.
	EventType(raw string) (string, bool)

	// PaymentRef extracts the provider's payment identifier (the idempotency
	// key) and, when present, the provider's customer identifier from a
	// parsed event.
	PaymentRef(ev *WebhookEvent) (paymentID, customerID string)
}
