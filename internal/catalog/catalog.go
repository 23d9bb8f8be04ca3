// Package catalog resolves product identifiers to prices, provider price
// references and posting durations. It is loaded once at startup and read-only
// afterwards.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

var ErrUnknownProduct = errors.New("unknown product")

// PriceNotConfiguredError means a product exists but has no price reference
// for the requested provider. Checkout treats this as a hard failure.
type PriceNotConfiguredError struct {
	ProductID string
	Provider  string
}

func (e *PriceNotConfiguredError) Error() string {
	return fmt.Sprintf("no %s price configured for product %q", e.Provider, e.ProductID)
}

const (
	ProductTypeJobPosting = "job_posting"
	ProductTypeUpsell     = "upsell"
)

type Product struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Price        string            `json:"price"` // display units, e.g. "99.00"
	Currency     string            `json:"currency"`
	DurationDays int               `json:"duration_days"`
	Providers    map[string]string `json:"providers"` // provider -> price reference

	amount int64 // minor units, derived from Price at load time
}

// Price is a resolved amount for one product under one provider.
type Price struct {
	PriceRef string
	Amount   int64 // minor units
	Currency string
}

type Catalog struct {
	products        map[string]Product
	defaultProvider string
}

func New(products []Product, defaultProvider string) (*Catalog, error) {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		amount, err := parseAmount(p.Price)
		if err != nil {
			return nil, fmt.Errorf("product %q: %w", p.ID, err)
		}
		p.amount = amount
		m[p.ID] = p
	}
	return &Catalog{products: m, defaultProvider: defaultProvider}, nil
}

type fileSchema struct {
	DefaultProvider string    `json:"default_provider"`
	Products        []Product `json:"products"`
}

func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f fileSchema
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Products, f.DefaultProvider)
}

// parseAmount converts a display-unit price string to minor units.
// "99.00" -> 9900. Fractions of a cent are rejected.
func parseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative price %q", s)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("price %q has sub-cent precision", s)
	}
	return cents.IntPart(), nil
}

func (c *Catalog) DefaultProvider() string { return c.defaultProvider }

func (c *Catalog) Product(id string) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// ResolvePrice returns the price for productID under provider. The provider
// mapping is mandatory: a product without a reference for the chosen provider
// yields a PriceNotConfiguredError.
func (c *Catalog) ResolvePrice(productID, provider string) (Price, error) {
	p, ok := c.products[productID]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	ref, ok := p.Providers[provider]
	if !ok || ref == "" {
		return Price{}, &PriceNotConfiguredError{ProductID: productID, Provider: provider}
	}
	return Price{PriceRef: ref, Amount: p.amount, Currency: p.Currency}, nil
}

// Amount returns the catalog amount in minor units regardless of provider.
func (c *Catalog) Amount(productID string) (int64, string, error) {
	p, ok := c.products[productID]
	if !ok {
		return 0, "", fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return p.amount, p.Currency, nil
}

// Duration returns the posting duration in days for productID.
func (c *Catalog) Duration(productID string) (int, error) {
	p, ok := c.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return p.DurationDays, nil
}
