package promo

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/condition"
	"github.com/noah-isme/backend-market/internal/money"
)

// Line is the resolver's view of one order line item.
type Line struct {
	ID            int64
	PurchasableID int64
	CategoryID    int64
	Qty           int
	Subtotal      money.Money
}

// OrderView is the immutable order snapshot the resolver works on. Everything
// needed for matching is loaded up front; resolution performs no I/O.
type OrderView struct {
	CouponCode      string
	Currency        string
	Lines           []Line
	Order           condition.OrderFacts
	Customer        *condition.CustomerFacts
	ShippingAddress *condition.AddressFacts
	BillingAddress  *condition.AddressFacts
}

// Usage holds the committed consumption counters for one discount, scoped to
// the order's customer and email. Counters only advance when an order
// completes, so cart recomputation never consumes quota.
type Usage struct {
	Total      int
	ByCustomer int
	ByEmail    int
}

// UsageLookup reports usage for a discount id. Implementations must be
// preloaded; the resolver calls it synchronously for every candidate.
type UsageLookup func(discountID int64) Usage

// Applied is one discount adjustment proposal. LineID zero means the
// adjustment applies at the order level. Amount is always negative or zero.
type Applied struct {
	DiscountID  int64
	Description string
	LineID      int64
	Amount      money.Money
}

// Result carries the resolver output consumed by the totals calculator.
type Result struct {
	Adjustments         []Applied
	FreeShippingOrder   bool
	FreeShippingLineIDs []int64
	// DiscountedSubtotals maps each line id to its price after all applied
	// discounts; the tax resolver computes on these.
	DiscountedSubtotals map[int64]money.Money
}

// Resolve selects eligible discounts for the order snapshot and computes the
// adjustments they produce, in ascending sort order with ties broken by id.
// A coupon problem is reported as a wrapped sentinel error while resolution
// still completes for the remaining automatic discounts; the returned Result
// is always usable.
func Resolve(view OrderView, discounts []Discount, usage UsageLookup, now time.Time) (Result, error) {
	result := Result{DiscountedSubtotals: make(map[int64]money.Money, len(view.Lines))}
	for _, line := range view.Lines {
		result.DiscountedSubtotals[line.ID] = line.Subtotal
	}

	candidates, couponErr := filterCandidates(view, discounts, now)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].SortOrder != candidates[j].SortOrder {
			return candidates[i].SortOrder < candidates[j].SortOrder
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, d := range candidates {
		if !matchesConditions(d, view) || !withinUsageLimits(d, view, usage) {
			if d.CouponCode != "" && d.CouponCode == view.CouponCode && couponErr == nil {
				couponErr = ErrCouponNotEligible
			}
			continue
		}
		applyEffects(d, view, &result)
		switch d.FreeShipping {
		case FreeShippingOrder:
			result.FreeShippingOrder = true
		case FreeShippingMatching:
			for _, line := range view.Lines {
				if d.MatchesLine(line.PurchasableID, line.CategoryID) {
					result.FreeShippingLineIDs = append(result.FreeShippingLineIDs, line.ID)
				}
			}
		}
		if d.StopProcessing {
			break
		}
	}
	return result, couponErr
}

// filterCandidates keeps discounts that are active now and, when a coupon
// code is present, the discount owning that code. The coupon error is
// reported separately so automatic discounts still resolve.
func filterCandidates(view OrderView, discounts []Discount, now time.Time) ([]Discount, error) {
	var couponErr error
	if view.CouponCode != "" {
		owner := findByCoupon(discounts, view.CouponCode)
		if owner == nil {
			couponErr = ErrCouponInvalid
		} else if !owner.Active(now) {
			couponErr = ErrCouponExpired
		}
	}
	candidates := make([]Discount, 0, len(discounts))
	for _, d := range discounts {
		if !d.Active(now) {
			continue
		}
		if d.CouponCode != "" && d.CouponCode != view.CouponCode {
			continue
		}
		candidates = append(candidates, d)
	}
	return candidates, couponErr
}

func findByCoupon(discounts []Discount, code string) *Discount {
	for i := range discounts {
		if discounts[i].CouponCode == code {
			return &discounts[i]
		}
	}
	return nil
}

func matchesConditions(d Discount, view OrderView) bool {
	orderFacts := view.Order
	if !condition.Matches(d.OrderCondition, condition.Subject{Order: &orderFacts}) {
		return false
	}
	if !d.CustomerCondition.IsEmpty() {
		if view.Customer == nil || !condition.Matches(d.CustomerCondition, condition.Subject{Customer: view.Customer}) {
			return false
		}
	}
	if !d.ShippingAddressCondition.IsEmpty() {
		if view.ShippingAddress == nil || !condition.Matches(d.ShippingAddressCondition, condition.Subject{Address: view.ShippingAddress}) {
			return false
		}
	}
	if !d.BillingAddressCondition.IsEmpty() {
		if view.BillingAddress == nil || !condition.Matches(d.BillingAddressCondition, condition.Subject{Address: view.BillingAddress}) {
			return false
		}
	}
	if d.OrderConditionFormula != "" {
		shape := map[string]any{
			"itemTotal":  orderFacts.ItemTotal.InexactFloat64(),
			"totalQty":   orderFacts.TotalQty,
			"couponCode": view.CouponCode,
			"currency":   view.Currency,
		}
		if !condition.EvaluateFormula(d.OrderConditionFormula, shape) {
			return false
		}
	}
	return true
}

func withinUsageLimits(d Discount, view OrderView, usage UsageLookup) bool {
	if usage == nil {
		return true
	}
	u := usage(d.ID)
	if d.TotalUseLimit > 0 && u.Total >= d.TotalUseLimit {
		return false
	}
	if d.PerUserLimit > 0 && view.Customer != nil && view.Customer.ID != "" && u.ByCustomer >= d.PerUserLimit {
		return false
	}
	if d.PerEmailLimit > 0 && view.Customer != nil && view.Customer.Email != "" && u.ByEmail >= d.PerEmailLimit {
		return false
	}
	return true
}

// applyEffects computes the discount's adjustments against the current
// running line prices and appends them to the result.
func applyEffects(d Discount, view OrderView, result *Result) {
	for _, effect := range d.Effects {
		switch effect.Kind {
		case EffectFixedAmount:
			amount := money.RoundCurrency(effect.Amount, view.Currency)
			if amount.IsZero() {
				continue
			}
			result.Adjustments = append(result.Adjustments, Applied{
				DiscountID:  d.ID,
				Description: d.Name,
				Amount:      amount.Neg(),
			})
		case EffectPerItemAmount:
			for _, line := range view.Lines {
				if !d.MatchesLine(line.PurchasableID, line.CategoryID) {
					continue
				}
				off := effect.Amount.Mul(decimal.NewFromInt(int64(line.Qty)))
				off = clampToRemaining(off, result.DiscountedSubtotals[line.ID])
				off = money.RoundCurrency(off, view.Currency)
				if off.IsZero() {
					continue
				}
				result.DiscountedSubtotals[line.ID] = result.DiscountedSubtotals[line.ID].Sub(off)
				result.Adjustments = append(result.Adjustments, Applied{
					DiscountID:  d.ID,
					Description: d.Name,
					LineID:      line.ID,
					Amount:      off.Neg(),
				})
			}
		case EffectPercentOff:
			for _, line := range view.Lines {
				if !d.MatchesLine(line.PurchasableID, line.CategoryID) {
					continue
				}
				base := line.Subtotal
				if effect.Subject == SubjectDiscounted {
					base = result.DiscountedSubtotals[line.ID]
				}
				off := base.Mul(effect.Rate)
				off = clampToRemaining(off, result.DiscountedSubtotals[line.ID])
				off = money.RoundCurrency(off, view.Currency)
				if off.IsZero() {
					continue
				}
				result.DiscountedSubtotals[line.ID] = result.DiscountedSubtotals[line.ID].Sub(off)
				result.Adjustments = append(result.Adjustments, Applied{
					DiscountID:  d.ID,
					Description: d.Name,
					LineID:      line.ID,
					Amount:      off.Neg(),
				})
			}
		}
	}
}

func clampToRemaining(off, remaining money.Money) money.Money {
	if off.GreaterThan(remaining) {
		return remaining
	}
	if off.IsNegative() {
		return money.Zero
	}
	return off
}
