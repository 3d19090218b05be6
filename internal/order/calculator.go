package order

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/backend-market/internal/catalog"
	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/condition"
	"github.com/noah-isme/backend-market/internal/money"
	"github.com/noah-isme/backend-market/internal/obs"
	"github.com/noah-isme/backend-market/internal/promo"
	"github.com/noah-isme/backend-market/internal/shipping"
	"github.com/noah-isme/backend-market/internal/tax"
)

// Catalog loads the pricing configuration the calculator needs. One load per
// recomputation; the calculator itself performs no I/O beyond these calls.
type Catalog interface {
	ActiveDiscounts(ctx context.Context) ([]promo.Discount, error)
	TaxZones(ctx context.Context) ([]tax.Zone, error)
	TaxRates(ctx context.Context) ([]tax.Rate, error)
	ShippingMethod(ctx context.Context, handle string) (*shipping.Method, error)
}

// UsageSource reports committed discount usage counters for the order's
// customer and email. Counters advance only on order completion.
type UsageSource interface {
	Usage(ctx context.Context, customerID, email string) (promo.UsageLookup, error)
}

// Calculator recomputes order adjustments and totals. Recomputation is the
// single write path for derived state: it discards every stored adjustment
// and regenerates the full set, so stale rows can never survive an edit.
type Calculator struct {
	Catalog Catalog
	Usage   UsageSource
	// Prices, when set, refreshes cart-stage line prices from the catalog
	// on every recomputation. Orders past the cart state keep their
	// add-time price snapshots.
	Prices catalog.Source
	// TaxSource selects which address drives tax zone resolution.
	TaxSource tax.AddressSource
	Now       func() time.Time
}

// Recompute rebuilds the order's adjustments and totals in place. It is
// deterministic and idempotent: running it twice on the same input state
// produces identical output. A coupon problem is returned as a validation
// error while the recomputation still completes without the coupon, so the
// cart stays usable. Completed orders are immutable and are rejected.
func (c *Calculator) Recompute(ctx context.Context, o *Order) error {
	if c == nil || c.Catalog == nil {
		return common.NewConfiguration("CALCULATOR_NOT_CONFIGURED", "calculator requires a catalog", nil)
	}
	if o == nil {
		return common.NewValidation("ORDER_REQUIRED", "no order to recompute", nil)
	}
	if o.IsCompleted() {
		return common.NewStateConflict("ORDER_COMPLETED", "completed orders cannot be recalculated", nil)
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	started := time.Now()
	defer func() {
		if obs.RecomputeDuration != nil {
			obs.RecomputeDuration.Observe(obs.DurationMillis(time.Since(started)))
		}
	}()

	if err := c.refreshPrices(ctx, o); err != nil {
		c.countOutcome("error")
		return err
	}

	// Line subtotals first; every later step reads them.
	for i := range o.LineItems {
		li := &o.LineItems[i]
		qty := money.FromInt(int64(li.Qty))
		li.Subtotal = money.RoundCurrency(li.SalePrice.Mul(qty), o.Currency)
	}
	itemTotal := money.Zero
	for i := range o.LineItems {
		itemTotal = itemTotal.Add(o.LineItems[i].Subtotal)
	}
	o.ItemTotal = itemTotal

	adjustments := make([]Adjustment, 0, len(o.LineItems)*2)

	promoResult, couponErr := c.resolveDiscounts(ctx, o, now, &adjustments)
	if couponErr != nil && !common.IsKind(couponErr, common.KindValidation) {
		c.countOutcome("error")
		return couponErr
	}
	if couponErr != nil && obs.CouponRejectedTotal != nil {
		obs.CouponRejectedTotal.Inc()
	}

	if err := c.resolveTaxes(ctx, o, promoResult, &adjustments); err != nil {
		c.countOutcome("error")
		return err
	}

	if err := c.resolveShipping(ctx, o, promoResult, &adjustments); err != nil {
		c.countOutcome("error")
		return err
	}

	o.Adjustments = adjustments
	c.sumTotals(o)
	c.countOutcome("ok")
	return couponErr
}

// refreshPrices pulls the current catalog price onto cart-stage lines. A
// purchasable that has since disappeared keeps its add-time snapshot.
func (c *Calculator) refreshPrices(ctx context.Context, o *Order) error {
	if c.Prices == nil || o.State != StateCart {
		return nil
	}
	for i := range o.LineItems {
		li := &o.LineItems[i]
		p, err := c.Prices.PurchasableByID(ctx, li.PurchasableID)
		if errors.Is(err, catalog.ErrNotFound) {
			continue
		}
		if err != nil {
			return common.NewExternal("CATALOG_LOAD_FAILED", "could not refresh line prices", err)
		}
		li.SalePrice = p.Price
	}
	return nil
}

func (c *Calculator) countOutcome(result string) {
	if obs.RecomputeTotal != nil {
		obs.RecomputeTotal.WithLabelValues(result).Inc()
	}
}

func (c *Calculator) resolveDiscounts(ctx context.Context, o *Order, now time.Time, adjustments *[]Adjustment) (promo.Result, error) {
	discounts, err := c.Catalog.ActiveDiscounts(ctx)
	if err != nil {
		return promo.Result{}, common.NewExternal("DISCOUNT_LOAD_FAILED", "could not load discounts", err)
	}

	usage := func(int64) promo.Usage { return promo.Usage{} }
	if c.Usage != nil {
		usage, err = c.Usage.Usage(ctx, o.CustomerID, o.Email)
		if err != nil {
			return promo.Result{}, common.NewExternal("USAGE_LOAD_FAILED", "could not load discount usage", err)
		}
	}

	view := promo.OrderView{
		CouponCode:      o.CouponCode,
		Currency:        o.Currency,
		Order:           condition.OrderFacts{ItemTotal: o.ItemTotal, TotalQty: o.TotalQty(), Currency: o.Currency},
		ShippingAddress: o.ShippingAddress.Facts(),
		BillingAddress:  o.BillingAddress.Facts(),
	}
	if o.CustomerID != "" || o.Email != "" {
		view.Customer = &condition.CustomerFacts{ID: o.CustomerID, Email: o.Email, LoggedIn: o.CustomerID != ""}
	}
	for _, li := range o.LineItems {
		view.Lines = append(view.Lines, promo.Line{
			ID:            li.ID,
			PurchasableID: li.PurchasableID,
			CategoryID:    li.CategoryID,
			Qty:           li.Qty,
			Subtotal:      li.Subtotal,
		})
	}

	result, couponErr := promo.Resolve(view, discounts, usage, now)
	for _, a := range result.Adjustments {
		*adjustments = append(*adjustments, Adjustment{
			Type:        AdjustmentDiscount,
			Description: a.Description,
			Amount:      a.Amount,
			LineItemID:  a.LineID,
			SourceID:    a.DiscountID,
		})
	}
	if couponErr != nil {
		couponErr = common.NewValidation("COUPON_REJECTED", couponErr.Error(), couponErr)
	}
	return result, couponErr
}

func (c *Calculator) resolveTaxes(ctx context.Context, o *Order, promoResult promo.Result, adjustments *[]Adjustment) error {
	zones, err := c.Catalog.TaxZones(ctx)
	if err != nil {
		return common.NewExternal("TAX_LOAD_FAILED", "could not load tax zones", err)
	}
	rates, err := c.Catalog.TaxRates(ctx)
	if err != nil {
		return common.NewExternal("TAX_LOAD_FAILED", "could not load tax rates", err)
	}

	in := tax.Input{
		Currency:        o.Currency,
		Source:          c.TaxSource,
		ShippingAddress: o.ShippingAddress.Facts(),
		BillingAddress:  o.BillingAddress.Facts(),
	}
	for _, li := range o.LineItems {
		subtotal := li.Subtotal
		if discounted, ok := promoResult.DiscountedSubtotals[li.ID]; ok {
			subtotal = discounted
		}
		in.Lines = append(in.Lines, tax.Line{ID: li.ID, CategoryID: li.CategoryID, Subtotal: subtotal})
	}

	for _, a := range tax.Resolve(in, zones, rates) {
		*adjustments = append(*adjustments, Adjustment{
			Type:        AdjustmentTax,
			Description: a.Description,
			Amount:      a.Amount,
			Included:    a.Included,
			LineItemID:  a.LineID,
			SourceID:    a.RateID,
		})
	}
	return nil
}

func (c *Calculator) resolveShipping(ctx context.Context, o *Order, promoResult promo.Result, adjustments *[]Adjustment) error {
	if o.ShippingMethodHandle == "" {
		return nil
	}
	method, err := c.Catalog.ShippingMethod(ctx, o.ShippingMethodHandle)
	if err != nil {
		return common.NewExternal("SHIPPING_LOAD_FAILED", "could not load shipping method", err)
	}
	if method == nil || !method.Available(o.ShippingAddress.Facts()) {
		return common.NewValidation("SHIPPING_METHOD_UNAVAILABLE", "selected shipping method is not available for this order", nil)
	}

	in := shipping.Input{
		Currency:            o.Currency,
		FreeShippingOrder:   promoResult.FreeShippingOrder,
		FreeShippingLineIDs: promoResult.FreeShippingLineIDs,
	}
	for _, li := range o.LineItems {
		in.Lines = append(in.Lines, shipping.Line{ID: li.ID, Qty: li.Qty, Weight: li.Weight})
	}

	if applied := shipping.Cost(in, method); applied != nil {
		*adjustments = append(*adjustments, Adjustment{
			Type:        AdjustmentShipping,
			Description: applied.Description,
			Amount:      applied.Amount,
			SourceID:    applied.MethodID,
		})
	}
	return nil
}

// sumTotals derives every total from the line items and the regenerated
// adjustment set. The invariant maintained here: the final price equals
// the item total plus all non-included adjustment amounts.
func (c *Calculator) sumTotals(o *Order) {
	o.TotalDiscount = money.Zero
	o.TotalTax = money.Zero
	o.TotalTaxIncluded = money.Zero
	o.TotalShipping = money.Zero
	o.AdjustmentsTotal = money.Zero

	lineAdjust := make(map[int64]money.Money, len(o.LineItems))

	for _, a := range o.Adjustments {
		if a.Included {
			if a.Type == AdjustmentTax {
				o.TotalTaxIncluded = o.TotalTaxIncluded.Add(a.Amount)
			}
			continue
		}
		o.AdjustmentsTotal = o.AdjustmentsTotal.Add(a.Amount)
		if a.LineItemID != 0 {
			lineAdjust[a.LineItemID] = lineAdjust[a.LineItemID].Add(a.Amount)
		}
		switch a.Type {
		case AdjustmentDiscount:
			o.TotalDiscount = o.TotalDiscount.Add(a.Amount)
		case AdjustmentTax:
			o.TotalTax = o.TotalTax.Add(a.Amount)
		case AdjustmentShipping:
			o.TotalShipping = o.TotalShipping.Add(a.Amount)
		}
	}

	for i := range o.LineItems {
		li := &o.LineItems[i]
		li.Total = li.Subtotal.Add(lineAdjust[li.ID])
	}

	o.FinalPrice = o.ItemTotal.Add(o.AdjustmentsTotal)
}
