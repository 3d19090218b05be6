package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-market/internal/admin"
	"github.com/noah-isme/backend-market/internal/catalog"
	"github.com/noah-isme/backend-market/internal/promo"
	"github.com/noah-isme/backend-market/internal/shipping"
	"github.com/noah-isme/backend-market/internal/tax"
)

// CatalogStore loads and saves the pricing configuration: discounts, tax
// zones and rates, shipping methods, and purchasable snapshots. Discount
// rule bodies are stored as JSON; the queryable bits (enabled, coupon code,
// usage counter) are mirrored into columns.
type CatalogStore struct {
	Pool *pgxpool.Pool
}

// ActiveDiscounts returns every enabled discount, rules decoded.
func (s *CatalogStore) ActiveDiscounts(ctx context.Context) ([]promo.Discount, error) {
	return s.discounts(ctx,
		`SELECT id, total_uses, body FROM discounts WHERE enabled ORDER BY sort_order, id`)
}

// Discounts returns every discount, including disabled ones.
func (s *CatalogStore) Discounts(ctx context.Context) ([]promo.Discount, error) {
	return s.discounts(ctx,
		`SELECT id, total_uses, body FROM discounts ORDER BY sort_order, id`)
}

func (s *CatalogStore) discounts(ctx context.Context, query string) ([]promo.Discount, error) {
	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repo: load discounts: %w", err)
	}
	defer rows.Close()

	var out []promo.Discount
	for rows.Next() {
		var (
			id        int64
			totalUses int
			body      []byte
		)
		if err := rows.Scan(&id, &totalUses, &body); err != nil {
			return nil, fmt.Errorf("repo: scan discount: %w", err)
		}
		var d promo.Discount
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("repo: decode discount %d: %w", id, err)
		}
		d.ID = id
		d.TotalUses = totalUses
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveDiscount upserts a discount. A zero ID inserts and returns the new id.
func (s *CatalogStore) SaveDiscount(ctx context.Context, d promo.Discount) (int64, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("repo: encode discount: %w", err)
	}
	if d.ID == 0 {
		var id int64
		err := s.Pool.QueryRow(ctx, `
INSERT INTO discounts (name, enabled, coupon_code, sort_order, total_uses, body)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			d.Name, d.Enabled, d.CouponCode, d.SortOrder, d.TotalUses, body).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("repo: insert discount: %w", err)
		}
		return id, nil
	}
	tag, err := s.Pool.Exec(ctx, `
UPDATE discounts SET name=$2, enabled=$3, coupon_code=$4, sort_order=$5, body=$6, updated_at=now()
WHERE id=$1`, d.ID, d.Name, d.Enabled, d.CouponCode, d.SortOrder, body)
	if err != nil {
		return 0, fmt.Errorf("repo: update discount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, admin.ErrNotFound
	}
	return d.ID, nil
}

// DeleteDiscount removes a discount. Usage rows are kept for the audit
// trail.
func (s *CatalogStore) DeleteDiscount(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM discounts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("repo: delete discount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return admin.ErrNotFound
	}
	return nil
}

// Usage preloads consumption counters for the given customer and email and
// returns a lookup the discount resolver calls per candidate.
func (s *CatalogStore) Usage(ctx context.Context, customerID, email string) (promo.UsageLookup, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT discount_id,
  COUNT(*) AS total,
  COUNT(*) FILTER (WHERE customer_id = $1 AND $1 <> '') AS by_customer,
  COUNT(*) FILTER (WHERE email = $2 AND $2 <> '') AS by_email
FROM discount_usages GROUP BY discount_id`, customerID, email)
	if err != nil {
		return nil, fmt.Errorf("repo: load discount usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[int64]promo.Usage)
	for rows.Next() {
		var (
			id int64
			u  promo.Usage
		)
		if err := rows.Scan(&id, &u.Total, &u.ByCustomer, &u.ByEmail); err != nil {
			return nil, fmt.Errorf("repo: scan discount usage: %w", err)
		}
		usage[id] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return func(discountID int64) promo.Usage { return usage[discountID] }, nil
}

// TaxZones returns all zones, condition trees decoded.
func (s *CatalogStore) TaxZones(ctx context.Context) ([]tax.Zone, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, name, is_default, condition FROM tax_zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repo: load tax zones: %w", err)
	}
	defer rows.Close()

	var out []tax.Zone
	for rows.Next() {
		var (
			z    tax.Zone
			cond []byte
		)
		if err := rows.Scan(&z.ID, &z.Name, &z.Default, &cond); err != nil {
			return nil, fmt.Errorf("repo: scan tax zone: %w", err)
		}
		if err := json.Unmarshal(cond, &z.Condition); err != nil {
			return nil, fmt.Errorf("repo: decode tax zone %d condition: %w", z.ID, err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// SaveZone upserts a zone. Marking a zone default demotes the previous
// default inside the same transaction, so at most one default ever exists.
func (s *CatalogStore) SaveZone(ctx context.Context, z tax.Zone) (int64, error) {
	cond, err := json.Marshal(z.Condition)
	if err != nil {
		return 0, fmt.Errorf("repo: encode zone condition: %w", err)
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("repo: begin save zone: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if z.Default {
		if _, err := tx.Exec(ctx,
			`UPDATE tax_zones SET is_default = false WHERE is_default AND id <> $1`, z.ID); err != nil {
			return 0, fmt.Errorf("repo: demote default zone: %w", err)
		}
	}

	id := z.ID
	if id == 0 {
		err = tx.QueryRow(ctx,
			`INSERT INTO tax_zones (name, is_default, condition) VALUES ($1,$2,$3) RETURNING id`,
			z.Name, z.Default, cond).Scan(&id)
	} else {
		var tag int64
		tag, err = execAffected(ctx, tx,
			`UPDATE tax_zones SET name=$2, is_default=$3, condition=$4 WHERE id=$1`,
			z.ID, z.Name, z.Default, cond)
		if err == nil && tag == 0 {
			err = admin.ErrNotFound
		}
	}
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

// TaxRates returns all configured rates.
func (s *CatalogStore) TaxRates(ctx context.Context) ([]tax.Rate, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, name, code, zone_id, category_id, rate, include, is_vat, remove_included, remove_vat_included
FROM tax_rates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repo: load tax rates: %w", err)
	}
	defer rows.Close()

	var out []tax.Rate
	for rows.Next() {
		var r tax.Rate
		if err := rows.Scan(&r.ID, &r.Name, &r.Code, &r.ZoneID, &r.CategoryID, &r.Rate,
			&r.Include, &r.IsVat, &r.RemoveIncluded, &r.RemoveVatIncluded); err != nil {
			return nil, fmt.Errorf("repo: scan tax rate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRate upserts a tax rate. Callers normalize and validate first.
func (s *CatalogStore) SaveRate(ctx context.Context, r tax.Rate) (int64, error) {
	if r.ID == 0 {
		var id int64
		err := s.Pool.QueryRow(ctx, `
INSERT INTO tax_rates (name, code, zone_id, category_id, rate, include, is_vat, remove_included, remove_vat_included)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			r.Name, r.Code, r.ZoneID, r.CategoryID, r.Rate, r.Include, r.IsVat, r.RemoveIncluded, r.RemoveVatIncluded).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("repo: insert tax rate: %w", err)
		}
		return id, nil
	}
	tag, err := s.Pool.Exec(ctx, `
UPDATE tax_rates SET name=$2, code=$3, zone_id=$4, category_id=$5, rate=$6,
  include=$7, is_vat=$8, remove_included=$9, remove_vat_included=$10
WHERE id=$1`,
		r.ID, r.Name, r.Code, r.ZoneID, r.CategoryID, r.Rate, r.Include, r.IsVat, r.RemoveIncluded, r.RemoveVatIncluded)
	if err != nil {
		return 0, fmt.Errorf("repo: update tax rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, admin.ErrNotFound
	}
	return r.ID, nil
}

// ShippingMethod loads one enabled method by handle, or nil when absent.
func (s *CatalogStore) ShippingMethod(ctx context.Context, handle string) (*shipping.Method, error) {
	row := s.Pool.QueryRow(ctx, `
SELECT id, name, handle, enabled, condition, base_rate, per_item_rate, weight_rate
FROM shipping_methods WHERE handle = $1`, handle)
	m, err := scanMethod(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ShippingMethods returns all configured methods.
func (s *CatalogStore) ShippingMethods(ctx context.Context) ([]shipping.Method, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, name, handle, enabled, condition, base_rate, per_item_rate, weight_rate
FROM shipping_methods ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repo: load shipping methods: %w", err)
	}
	defer rows.Close()

	var out []shipping.Method
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SaveMethod upserts a shipping method keyed by handle.
func (s *CatalogStore) SaveMethod(ctx context.Context, m shipping.Method) (int64, error) {
	cond, err := json.Marshal(m.Condition)
	if err != nil {
		return 0, fmt.Errorf("repo: encode method condition: %w", err)
	}
	var id int64
	err = s.Pool.QueryRow(ctx, `
INSERT INTO shipping_methods (name, handle, enabled, condition, base_rate, per_item_rate, weight_rate)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (handle) DO UPDATE SET
  name = EXCLUDED.name,
  enabled = EXCLUDED.enabled,
  condition = EXCLUDED.condition,
  base_rate = EXCLUDED.base_rate,
  per_item_rate = EXCLUDED.per_item_rate,
  weight_rate = EXCLUDED.weight_rate
RETURNING id`,
		m.Name, m.Handle, m.Enabled, cond, m.BaseRate, m.PerItemRate, m.WeightRate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("repo: save shipping method: %w", err)
	}
	return id, nil
}

// PurchasableByID loads one purchasable, or catalog.ErrNotFound.
func (s *CatalogStore) PurchasableByID(ctx context.Context, id int64) (*catalog.Purchasable, error) {
	var p catalog.Purchasable
	err := s.Pool.QueryRow(ctx, `
SELECT id, sku, description, price, category_id, weight, length, width, height
FROM purchasables WHERE id = $1`, id).
		Scan(&p.ID, &p.SKU, &p.Description, &p.Price, &p.CategoryID, &p.Weight, &p.Length, &p.Width, &p.Height)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo: load purchasable: %w", err)
	}
	return &p, nil
}

func scanMethod(row pgx.Row) (*shipping.Method, error) {
	var (
		m    shipping.Method
		cond []byte
	)
	err := row.Scan(&m.ID, &m.Name, &m.Handle, &m.Enabled, &cond, &m.BaseRate, &m.PerItemRate, &m.WeightRate)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cond, &m.Condition); err != nil {
		return nil, fmt.Errorf("repo: decode method %d condition: %w", m.ID, err)
	}
	return &m, nil
}

func execAffected(ctx context.Context, tx pgx.Tx, sql string, args ...any) (int64, error) {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
