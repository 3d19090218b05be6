package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-market/internal/cart"
	"github.com/noah-isme/backend-market/internal/checkout"
	"github.com/noah-isme/backend-market/internal/order"
)

// OrderStore persists order aggregates. Line items, adjustments, and address
// snapshots live as JSON on the order row; the row's state column is the
// single source of truth for CAS guards.
type OrderStore struct {
	Pool *pgxpool.Pool
}

const orderColumns = `id, number, revision, state, currency, customer_id, email, last_ip,
coupon_code, shipping_method_handle, gateway_handle,
shipping_address, billing_address, line_items, adjustments,
item_total, total_discount, total_tax, total_tax_included, total_shipping,
adjustments_total, final_price, paid_total,
date_ordered, date_paid, date_completed, created_at, updated_at`

// ByNumber loads a full order by its public number.
func (s *OrderStore) ByNumber(ctx context.Context, number string) (*order.Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE number = $1`, number)
	return scanOrder(row)
}

// ByID loads a full order by id.
func (s *OrderStore) ByID(ctx context.Context, id string) (*order.Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// Save upserts the order. Every write bumps the revision counter.
func (s *OrderStore) Save(ctx context.Context, o *order.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
INSERT INTO orders (id, number, state, currency, customer_id, email, last_ip,
  coupon_code, shipping_method_handle, gateway_handle,
  shipping_address, billing_address, line_items, adjustments,
  item_total, total_discount, total_tax, total_tax_included, total_shipping,
  adjustments_total, final_price, paid_total,
  date_ordered, date_paid, date_completed, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,now())
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  currency = EXCLUDED.currency,
  customer_id = EXCLUDED.customer_id,
  email = EXCLUDED.email,
  last_ip = EXCLUDED.last_ip,
  coupon_code = EXCLUDED.coupon_code,
  shipping_method_handle = EXCLUDED.shipping_method_handle,
  gateway_handle = EXCLUDED.gateway_handle,
  shipping_address = EXCLUDED.shipping_address,
  billing_address = EXCLUDED.billing_address,
  line_items = EXCLUDED.line_items,
  adjustments = EXCLUDED.adjustments,
  item_total = EXCLUDED.item_total,
  total_discount = EXCLUDED.total_discount,
  total_tax = EXCLUDED.total_tax,
  total_tax_included = EXCLUDED.total_tax_included,
  total_shipping = EXCLUDED.total_shipping,
  adjustments_total = EXCLUDED.adjustments_total,
  final_price = EXCLUDED.final_price,
  paid_total = EXCLUDED.paid_total,
  date_ordered = EXCLUDED.date_ordered,
  date_paid = EXCLUDED.date_paid,
  date_completed = EXCLUDED.date_completed,
  revision = orders.revision + 1,
  updated_at = now()`, args...)
	if err != nil {
		return fmt.Errorf("repo: save order: %w", err)
	}
	return nil
}

// MostRecentIncomplete returns the customer's newest cart-state order.
func (s *OrderStore) MostRecentIncomplete(ctx context.Context, customerID string) (*order.Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders
WHERE customer_id = $1 AND state = $2
ORDER BY updated_at DESC LIMIT 1`, customerID, order.StateCart)
	return scanOrder(row)
}

// PurgeStale deletes cart-state orders untouched since the cutoff.
func (s *OrderStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM orders WHERE state = $1 AND updated_at < $2`, order.StateCart, cutoff)
	if err != nil {
		return 0, fmt.Errorf("repo: purge stale carts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Transition persists the order only if its stored state still matches from.
func (s *OrderStore) Transition(ctx context.Context, o *order.Order, from, to order.State) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	args = append(args, from)
	tag, err := s.Pool.Exec(ctx, transitionSQL, args...)
	if err != nil {
		return fmt.Errorf("repo: transition order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkout.ErrStateChanged
	}
	return nil
}

// Complete performs the terminal state change and the discount usage commits
// inside one transaction, so quota can never advance without a completed
// order and vice versa.
func (s *OrderStore) Complete(ctx context.Context, o *order.Order, from order.State, uses []checkout.DiscountUse) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	args = append(args, from)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("repo: begin complete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, transitionSQL, args...)
	if err != nil {
		return fmt.Errorf("repo: complete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkout.ErrStateChanged
	}

	for _, use := range uses {
		if _, err := tx.Exec(ctx,
			`INSERT INTO discount_usages (discount_id, order_id, customer_id, email) VALUES ($1,$2,$3,$4)`,
			use.DiscountID, o.ID, use.CustomerID, use.Email); err != nil {
			return fmt.Errorf("repo: record discount usage: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE discounts SET total_uses = total_uses + 1 WHERE id = $1`, use.DiscountID); err != nil {
			return fmt.Errorf("repo: bump discount uses: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// transitionSQL is the CAS write: the final bind is the expected source
// state. Every placeholder produced by orderArgs is referenced so the
// server can infer a type for each parameter.
const transitionSQL = `
UPDATE orders SET
  state = $3, currency = $4, customer_id = $5, email = $6, last_ip = $7,
  coupon_code = $8, shipping_method_handle = $9, gateway_handle = $10,
  shipping_address = $11, billing_address = $12, line_items = $13, adjustments = $14,
  item_total = $15, total_discount = $16, total_tax = $17, total_tax_included = $18,
  total_shipping = $19, adjustments_total = $20, final_price = $21, paid_total = $22,
  date_ordered = $23, date_paid = $24, date_completed = $25,
  revision = orders.revision + 1, updated_at = now()
WHERE id = $1 AND number = $2 AND state = $26`

func orderArgs(o *order.Order) ([]any, error) {
	shippingAddr, err := encodeJSON(o.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("repo: encode shipping address: %w", err)
	}
	billingAddr, err := encodeJSON(o.BillingAddress)
	if err != nil {
		return nil, fmt.Errorf("repo: encode billing address: %w", err)
	}
	lineItems, err := json.Marshal(o.LineItems)
	if err != nil {
		return nil, fmt.Errorf("repo: encode line items: %w", err)
	}
	adjustments, err := json.Marshal(o.Adjustments)
	if err != nil {
		return nil, fmt.Errorf("repo: encode adjustments: %w", err)
	}
	return []any{
		o.ID, o.Number, o.State, o.Currency, o.CustomerID, o.Email, o.LastIP,
		o.CouponCode, o.ShippingMethodHandle, o.GatewayHandle,
		shippingAddr, billingAddr, lineItems, adjustments,
		o.ItemTotal, o.TotalDiscount, o.TotalTax, o.TotalTaxIncluded, o.TotalShipping,
		o.AdjustmentsTotal, o.FinalPrice, o.PaidTotal,
		o.DateOrdered, o.DatePaid, o.DateCompleted,
	}, nil
}

func encodeJSON(a *order.Address) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o                         order.Order
		shippingAddr, billingAddr []byte
		lineItems, adjustments    []byte
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Revision, &o.State, &o.Currency, &o.CustomerID, &o.Email, &o.LastIP,
		&o.CouponCode, &o.ShippingMethodHandle, &o.GatewayHandle,
		&shippingAddr, &billingAddr, &lineItems, &adjustments,
		&o.ItemTotal, &o.TotalDiscount, &o.TotalTax, &o.TotalTaxIncluded, &o.TotalShipping,
		&o.AdjustmentsTotal, &o.FinalPrice, &o.PaidTotal,
		&o.DateOrdered, &o.DatePaid, &o.DateCompleted, &o.DateCreated, &o.DateUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan order: %w", err)
	}
	if len(shippingAddr) > 0 {
		o.ShippingAddress = &order.Address{}
		if err := json.Unmarshal(shippingAddr, o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("repo: decode shipping address: %w", err)
		}
	}
	if len(billingAddr) > 0 {
		o.BillingAddress = &order.Address{}
		if err := json.Unmarshal(billingAddr, o.BillingAddress); err != nil {
			return nil, fmt.Errorf("repo: decode billing address: %w", err)
		}
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &o.LineItems); err != nil {
			return nil, fmt.Errorf("repo: decode line items: %w", err)
		}
	}
	if len(adjustments) > 0 {
		if err := json.Unmarshal(adjustments, &o.Adjustments); err != nil {
			return nil, fmt.Errorf("repo: decode adjustments: %w", err)
		}
	}
	return &o, nil
}
