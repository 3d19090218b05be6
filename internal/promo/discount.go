// Package promo implements the discount catalog and the discount resolver:
// selecting eligible discounts for an order snapshot and computing the
// per-line and order-level adjustments they produce.
package promo

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/condition"
)

// Sentinel errors surfaced by the resolver.
var (
	// ErrCouponInvalid is returned when the supplied coupon code does not
	// belong to any enabled discount.
	ErrCouponInvalid = errors.New("promo: coupon code is not valid")
	// ErrCouponExpired is returned when the coupon's discount is outside its
	// validity window.
	ErrCouponExpired = errors.New("promo: coupon code has expired")
	// ErrCouponNotEligible is returned when the coupon's discount exists but
	// its conditions or usage limits reject the order.
	ErrCouponNotEligible = errors.New("promo: coupon is not eligible for this order")
)

// EffectKind tags a discount effect variant.
type EffectKind string

const (
	// EffectFixedAmount subtracts a flat amount at the order level.
	EffectFixedAmount EffectKind = "fixedAmount"
	// EffectPerItemAmount subtracts an amount per unit on matching lines.
	EffectPerItemAmount EffectKind = "perItemAmount"
	// EffectPercentOff subtracts a percentage of the line price on matching lines.
	EffectPercentOff EffectKind = "percentOff"
)

// PercentSubject selects the price a percent effect applies to.
type PercentSubject string

const (
	// SubjectOriginal applies the percentage to the undiscounted line price.
	SubjectOriginal PercentSubject = "original"
	// SubjectDiscounted applies the percentage to the price after earlier
	// discounts in the resolution order.
	SubjectDiscounted PercentSubject = "discounted"
)

// Effect is one tagged variant of a discount's monetary effect.
type Effect struct {
	Kind    EffectKind      `json:"kind" validate:"required,oneof=fixedAmount perItemAmount percentOff"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
	Rate    decimal.Decimal `json:"rate,omitempty"`
	Subject PercentSubject  `json:"subject,omitempty"`
}

// FreeShippingScope says what a discount's free-shipping effect covers. The
// two non-empty scopes are mutually exclusive by construction: a discount
// carries exactly one scope value.
type FreeShippingScope string

const (
	// FreeShippingNone grants no free shipping.
	FreeShippingNone FreeShippingScope = ""
	// FreeShippingOrder waives shipping for the whole order.
	FreeShippingOrder FreeShippingScope = "order"
	// FreeShippingMatching waives shipping for matching line items only.
	FreeShippingMatching FreeShippingScope = "matchingItems"
)

// Discount is a catalog rule producing negative adjustments.
type Discount struct {
	ID          int64  `validate:"gte=0"`
	Name        string `validate:"required"`
	Description string
	Enabled     bool

	// CouponCode is the single code owned by this discount; empty means the
	// discount is automatic, applying whenever its conditions match.
	CouponCode string

	PerUserLimit  int `validate:"gte=0"`
	PerEmailLimit int `validate:"gte=0"`
	TotalUseLimit int `validate:"gte=0"`
	TotalUses     int

	DateFrom *time.Time
	DateTo   *time.Time

	OrderCondition           condition.Tree
	CustomerCondition        condition.Tree
	ShippingAddressCondition condition.Tree
	BillingAddressCondition  condition.Tree
	OrderConditionFormula    string

	Effects      []Effect `validate:"dive"`
	FreeShipping FreeShippingScope `validate:"omitempty,oneof=order matchingItems"`

	// Scope restrictions for per-item effects and matching free shipping.
	AllPurchasables bool
	PurchasableIDs  []int64
	AllCategories   bool
	CategoryIDs     []int64

	SortOrder      int
	StopProcessing bool

	DateCreated time.Time
	DateUpdated time.Time
}

// Active reports whether the discount is enabled and inside its validity
// window at the given instant. Nil bounds are open-ended.
func (d Discount) Active(now time.Time) bool {
	if !d.Enabled {
		return false
	}
	if d.DateFrom != nil && now.Before(*d.DateFrom) {
		return false
	}
	if d.DateTo != nil && now.After(*d.DateTo) {
		return false
	}
	return true
}

// MatchesLine reports whether a line item falls inside the discount's scope
// restrictions.
func (d Discount) MatchesLine(purchasableID, categoryID int64) bool {
	byPurchasable := d.AllPurchasables || containsID(d.PurchasableIDs, purchasableID)
	byCategory := d.AllCategories || containsID(d.CategoryIDs, categoryID)
	return byPurchasable && byCategory
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

var validate = validator.New()

// Validate checks a discount at the save boundary. Violations are
// configuration errors, never seen at compute time.
func Validate(d Discount) error {
	if err := validate.Struct(d); err != nil {
		return common.NewConfiguration("discount_invalid", "discount failed validation", err)
	}
	for _, tree := range []condition.Tree{
		d.OrderCondition, d.CustomerCondition, d.ShippingAddressCondition, d.BillingAddressCondition,
	} {
		if err := condition.Validate(tree); err != nil {
			return common.NewConfiguration("discount_condition_invalid", "discount condition is malformed", err)
		}
	}
	for _, effect := range d.Effects {
		switch effect.Kind {
		case EffectPercentOff:
			if effect.Rate.IsNegative() || effect.Rate.GreaterThan(decimal.NewFromInt(1)) {
				return common.NewConfiguration("discount_rate_invalid", "percent rate must be within [0,1]", nil)
			}
			if effect.Subject != SubjectOriginal && effect.Subject != SubjectDiscounted {
				return common.NewConfiguration("discount_subject_invalid", "percent effect requires a subject", nil)
			}
		case EffectFixedAmount, EffectPerItemAmount:
			if effect.Amount.IsNegative() {
				return common.NewConfiguration("discount_amount_invalid", "effect amount must not be negative", nil)
			}
		}
	}
	if d.OrderConditionFormula != "" {
		if err := condition.ValidateFormula(d.OrderConditionFormula, SampleOrderShape()); err != nil {
			return common.NewConfiguration("discount_formula_invalid", "order condition formula is malformed", err)
		}
	}
	return nil
}

// SampleOrderShape returns the order shape formulas are validated against.
func SampleOrderShape() map[string]any {
	return map[string]any{
		"itemTotal":  0.0,
		"totalQty":   0,
		"couponCode": "",
		"currency":   "",
	}
}
