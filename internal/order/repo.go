// Package order provides the repository interface and PostgreSQL
// implementation for orders and payments.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicatePayment is returned when an insert hits the unique
	// constraint on provider_payment_id. The webhook pipeline relies on the
	// constraint, not a read-then-write check, to stay correct under
	// concurrent duplicate deliveries.
	ErrDuplicatePayment = errors.New("payment already recorded for provider payment id")
)

type OrderUpdate struct {
	Status            *string
	Provider          *string
	ProviderSessionID *string
	CompletedAt       *time.Time
}

type PaymentUpdate struct {
	Status      *string
	CompletedAt *time.Time
}

type Repository interface {
	CreateOrder(ctx context.Context, o *Order, items []Item) error
	GetOrder(ctx context.Context, id string) (*Order, []Item, error)
	UpdateOrder(ctx context.Context, id string, upd OrderUpdate) error
	CreatePayment(ctx context.Context, p *Payment) error
	GetPaymentByProviderPaymentID(ctx context.Context, providerPaymentID string) (*Payment, error)
	UpdatePayment(ctx context.Context, id string, upd PaymentUpdate) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) CreateOrder(ctx context.Context, o *Order, items []Item) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
    INSERT INTO orders (id, user_id, status, total_amount, currency, metadata, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
  `, o.ID, o.UserID, o.Status, o.TotalAmount, o.Currency, meta); err != nil {
		return err
	}

	for _, it := range items {
		im, err := json.Marshal(it.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_items (id, order_id, product_id, quantity, metadata)
      VALUES ($1,$2,$3,$4,$5)
    `, it.ID, o.ID, it.ProductID, it.Quantity, im); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) GetOrder(ctx context.Context, id string) (*Order, []Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		o    Order
		meta []byte
	)
	err := r.db.QueryRow(ctx, `
    SELECT id, user_id, status, COALESCE(provider,''), COALESCE(provider_session_id,''),
           total_amount, currency, metadata, created_at, updated_at, completed_at
    FROM orders WHERE id=$1
  `, id).Scan(&o.ID, &o.UserID, &o.Status, &o.Provider, &o.ProviderSessionID,
		&o.TotalAmount, &o.Currency, &meta, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &o.Metadata); err != nil {
			return nil, nil, fmt.Errorf("order %s metadata: %w", id, err)
		}
	}

	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, product_id, quantity, metadata
    FROM order_items WHERE order_id=$1
  `, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var (
			it Item
			im []byte
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &im); err != nil {
			return nil, nil, err
		}
		if len(im) > 0 {
			if err := json.Unmarshal(im, &it.Metadata); err != nil {
				return nil, nil, err
			}
		}
		items = append(items, it)
	}
	return &o, items, rows.Err()
}

func (r *PGRepo) UpdateOrder(ctx context.Context, id string, upd OrderUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := "updated_at = NOW()"
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Provider != nil {
		add("provider", *upd.Provider)
	}
	if upd.ProviderSessionID != nil {
		add("provider_session_id", *upd.ProviderSessionID)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}

	tag, err := r.db.Exec(ctx, `UPDATE orders SET `+set+` WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) CreatePayment(ctx context.Context, p *Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
    INSERT INTO payments (id, order_id, provider, provider_payment_id, provider_customer_id,
                          amount, currency, status, metadata, created_at, updated_at, completed_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW(),$10)
  `, p.ID, p.OrderID, p.Provider, p.ProviderPaymentID, p.ProviderCustomerID,
		p.Amount, p.Currency, p.Status, meta, p.CompletedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePayment
		}
		return err
	}
	return nil
}

func (r *PGRepo) GetPaymentByProviderPaymentID(ctx context.Context, providerPaymentID string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		p    Payment
		meta []byte
	)
	err := r.db.QueryRow(ctx, `
    SELECT id, order_id, provider, provider_payment_id, COALESCE(provider_customer_id,''),
           amount, currency, status, metadata, created_at, updated_at, completed_at
    FROM payments WHERE provider_payment_id=$1
  `, providerPaymentID).Scan(&p.ID, &p.OrderID, &p.Provider, &p.ProviderPaymentID,
		&p.ProviderCustomerID, &p.Amount, &p.Currency, &p.Status, &meta,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (r *PGRepo) UpdatePayment(ctx context.Context, id string, upd PaymentUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := "updated_at = NOW()"
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}

	tag, err := r.db.Exec(ctx, `UPDATE payments SET `+set+` WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
