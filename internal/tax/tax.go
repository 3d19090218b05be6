// Package tax implements the tax catalog (zones and rates) and the tax
// resolver that turns an order snapshot into tax adjustments, including the
// included-tax and removable-included-tax semantics.
package tax

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/condition"
)

// Zone matches addresses via a condition tree. At most one zone in the
// catalog carries the default flag; saving a new default unsets the previous
// one in the same transaction (see repo.TaxStore).
type Zone struct {
	ID        int64
	Name      string `validate:"required"`
	Condition condition.Tree
	Default   bool
}

// Rate is a tax rate scoped to a zone (or everywhere) and a tax category.
type Rate struct {
	ID   int64
	Name string `validate:"required"`
	Code string

	// ZoneID zero means the rate applies everywhere.
	ZoneID int64
	// CategoryID zero means the rate applies to every tax category.
	CategoryID int64

	// Rate is fractional: 0.2 means 20%.
	Rate decimal.Decimal

	Include           bool
	IsVat             bool
	RemoveIncluded    bool
	RemoveVatIncluded bool
}

var validate = validator.New()

// NormalizeRate enforces the dependent-flag rules before a rate is saved:
// a tax that is not included cannot be removed, and VAT removal requires
// both the include and VAT flags.
func NormalizeRate(r *Rate) {
	if !r.Include {
		r.RemoveIncluded = false
		r.RemoveVatIncluded = false
	}
	if !r.Include || !r.IsVat {
		r.RemoveVatIncluded = false
	}
}

// ValidateRate checks a rate at the save boundary. zone is the rate's zone,
// nil when the rate applies everywhere. Removable included tax bound to a
// non-default zone is a configuration error; compute time never sees it.
func ValidateRate(r Rate, zone *Zone) error {
	if err := validate.Struct(r); err != nil {
		return common.NewConfiguration("tax_rate_invalid", "tax rate failed validation", err)
	}
	if r.Rate.IsNegative() || r.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return common.NewConfiguration("tax_rate_out_of_range", "tax rate must be within [0,1]", nil)
	}
	if (r.RemoveIncluded || r.RemoveVatIncluded) && (zone == nil || !zone.Default) {
		return common.NewConfiguration("tax_rate_remove_included",
			"removable included tax rates are only allowed for the default tax zone", nil)
	}
	return nil
}

// ValidateZone checks a zone at the save boundary.
func ValidateZone(z Zone) error {
	if err := validate.Struct(z); err != nil {
		return common.NewConfiguration("tax_zone_invalid", "tax zone failed validation", err)
	}
	if err := condition.Validate(z.Condition); err != nil {
		return common.NewConfiguration("tax_zone_condition_invalid", "tax zone condition is malformed", err)
	}
	return nil
}
