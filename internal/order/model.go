package order

import "time"

const (
	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
	StatusCanceled = "canceled"
)

const (
	PaymentPending    = "pending"
	PaymentProcessing = "processing"
	PaymentSucceeded  = "succeeded"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
)

// Metadata is an open JSON document; new product types must not require a
// schema migration.
type Metadata map[string]any

// Strings reads a string-slice key, tolerating the []any shape JSONB
// round-trips produce.
func (m Metadata) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

type Order struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Status            string     `json:"status"`
	Provider          string     `json:"provider,omitempty"`
	ProviderSessionID string     `json:"provider_session_id,omitempty"`
	TotalAmount       int64      `json:"total_amount"` // minor currency units
	Currency          string     `json:"currency"`
	Metadata          Metadata   `json:"metadata"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

type Item struct {
	ID        string   `json:"id"`
	OrderID   string   `json:"order_id"`
	ProductID string   `json:"product_id"`
	Quantity  int      `json:"quantity"`
	Metadata  Metadata `json:"metadata,omitempty"`
}

// Payment records one provider transaction against an Order. Amount and
// currency are copied from the Order when the row is created, never
// recomputed. Rows are unique per ProviderPaymentID and never deleted.
type Payment struct {
	ID                 string     `json:"id"`
	OrderID            string     `json:"order_id"`
	Provider           string     `json:"provider"`
	ProviderPaymentID  string     `json:"provider_payment_id"`
	ProviderCustomerID string     `json:"provider_customer_id,omitempty"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	Metadata           Metadata   `json:"metadata,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}
