package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/multiplehats/jobboard-starter-sub000/internal/catalog"
	"github.com/multiplehats/jobboard-starter-sub000/internal/order"
)

// FallbackProvider is the last resort when neither the request nor the
// catalog names a provider.
const FallbackProvider = "stripe"

// Checkout builds orders from catalog prices and opens provider checkout
// sessions for them.
type Checkout struct {
	store    order.Repository
	catalog  *catalog.Catalog
	registry *Registry
}

func NewCheckout(store order.Repository, cat *catalog.Catalog, reg *Registry) *Checkout {
	return &Checkout{store: store, catalog: cat, registry: reg}
}

type OrderItemInput struct {
	ProductID string         `json:"product_id"`
	Quantity  int            `json:"quantity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CreateOrder prices every item against the catalog, derives the jobIds and
// upsells metadata from the item product types, and persists a pending
// order. The total is fixed here and never recomputed.
func (c *Checkout) CreateOrder(ctx context.Context, userID string, items []OrderItemInput) (*order.Order, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if len(items) == 0 {
		return nil, errors.New("order needs at least one item")
	}

	var (
		total    int64
		currency string
		jobIDs   []string
		upsells  []string
		rows     []order.Item
	)
	orderID := "ord_" + uuid.NewString()
	for _, in := range items {
		if in.Quantity < 1 {
			return nil, fmt.Errorf("product %q: quantity must be at least 1", in.ProductID)
		}
		amount, cur, err := c.catalog.Amount(in.ProductID)
		if err != nil {
			return nil, err
		}
		if currency == "" {
			currency = cur
		} else if currency != cur {
			return nil, fmt.Errorf("mixed currencies in one order: %s and %s", currency, cur)
		}
		total += amount * int64(in.Quantity)

		if p, ok := c.catalog.Product(in.ProductID); ok {
			switch p.Type {
			case catalog.ProductTypeJobPosting:
				if jobID, _ := in.Metadata["jobId"].(string); jobID != "" {
					jobIDs = append(jobIDs, jobID)
				}
			case catalog.ProductTypeUpsell:
				upsells = append(upsells, in.ProductID)
			}
		}

		rows = append(rows, order.Item{
			ID:        "itm_" + uuid.NewString(),
			OrderID:   orderID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Metadata:  in.Metadata,
		})
	}

	now := time.Now().UTC()
	o := &order.Order{
		ID:          orderID,
		UserID:      userID,
		Status:      order.StatusPending,
		TotalAmount: total,
		Currency:    currency,
		Metadata: order.Metadata{
			"jobIds":  jobIDs,
			"upsells": upsells,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateOrder(ctx, o, rows); err != nil {
		return nil, err
	}
	return o, nil
}

type CheckoutRequest struct {
	OrderID    string `json:"order_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Provider   string `json:"provider,omitempty"`
	Mode       Mode   `json:"mode,omitempty"`
}

// CreateCheckoutSession resolves the provider, converts the order's items to
// provider line items and opens the session. Price mapping is all-or-nothing:
// one unmapped item fails the whole request before any provider call. No
// retries happen here.
func (c *Checkout) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	provider := req.Provider
	if provider == "" {
		provider = c.catalog.DefaultProvider()
	}
	if provider == "" {
		provider = FallbackProvider
	}
	adapter, err := c.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	o, items, err := c.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	lineItems := make([]LineItem, 0, len(items))
	for _, it := range items {
		price, err := c.catalog.ResolvePrice(it.ProductID, provider)
		if err != nil {
			return nil, err
		}
		lineItems = append(lineItems, LineItem{PriceRef: price.PriceRef, Quantity: it.Quantity})
	}

	sess, err := adapter.CreateCheckoutSession(ctx, CheckoutParams{
		LineItems:  lineItems,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Metadata: map[string]string{
			MetadataOrderID: o.ID,
			"userId":        o.UserID,
		},
		Mode: req.Mode,
	})
	if err != nil {
		return nil, err
	}

	// session reference only; status stays pending until a webhook says otherwise
	if err := c.store.UpdateOrder(ctx, o.ID, order.OrderUpdate{
		Provider:          &provider,
		ProviderSessionID: &sess.SessionID,
	}); err != nil {
		return nil, err
	}
	return sess, nil
}
