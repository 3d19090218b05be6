package tax

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/condition"
	"github.com/noah-isme/backend-market/internal/money"
)

// AddressSource selects which order address drives tax zone resolution.
type AddressSource string

const (
	// SourceShipping resolves the zone from the shipping address.
	SourceShipping AddressSource = "shipping"
	// SourceBilling resolves the zone from the billing address.
	SourceBilling AddressSource = "billing"
)

// Line is the resolver's view of one order line item. Subtotal is the
// post-discount line price.
type Line struct {
	ID         int64
	CategoryID int64
	Subtotal   money.Money
}

// Input is the immutable snapshot tax resolution runs on.
type Input struct {
	Currency        string
	Source          AddressSource
	ShippingAddress *condition.AddressFacts
	BillingAddress  *condition.AddressFacts
	Lines           []Line
}

// Applied is one tax adjustment proposal. Included adjustments are
// informational: the amount is already part of the displayed price and does
// not alter the final price.
type Applied struct {
	RateID      int64
	Description string
	LineID      int64
	Amount      money.Money
	Included    bool
}

// Resolve computes tax adjustments for the snapshot. The zone is resolved
// from the configured address, falling back to the default zone; with no
// match and no default the order carries zero tax. Rates apply additively,
// included-first then VAT-first for deterministic accumulation, and each
// amount is rounded once at the line level.
func Resolve(in Input, zones []Zone, rates []Rate) []Applied {
	zone := resolveZone(in, zones)
	if zone == nil {
		return nil
	}

	applicable := make([]Rate, 0, len(rates))
	for _, r := range rates {
		if r.ZoneID == 0 || r.ZoneID == zone.ID {
			applicable = append(applicable, r)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		a, b := applicable[i], applicable[j]
		if a.Include != b.Include {
			return a.Include
		}
		if a.IsVat != b.IsVat {
			return a.IsVat
		}
		return a.ID < b.ID
	})

	var out []Applied
	one := decimal.NewFromInt(1)
	for _, r := range applicable {
		for _, line := range in.Lines {
			if r.CategoryID != 0 && r.CategoryID != line.CategoryID {
				continue
			}
			if r.Include {
				// The displayed price already contains the tax: back it out of
				// the gross amount.
				amount := line.Subtotal.Sub(line.Subtotal.Div(one.Add(r.Rate)))
				amount = money.RoundCurrency(amount, in.Currency)
				if amount.IsZero() {
					continue
				}
				removable := r.RemoveIncluded || (r.IsVat && r.RemoveVatIncluded)
				if removable && zone.Default {
					// Unbundle: subtract the included component, then re-add it
					// as an explicit visible tax line. Net contribution is zero.
					out = append(out,
						Applied{RateID: r.ID, Description: r.Name + " (removed included)", LineID: line.ID, Amount: amount.Neg()},
						Applied{RateID: r.ID, Description: r.Name, LineID: line.ID, Amount: amount},
					)
					continue
				}
				out = append(out, Applied{RateID: r.ID, Description: r.Name, LineID: line.ID, Amount: amount, Included: true})
				continue
			}
			amount := money.RoundCurrency(line.Subtotal.Mul(r.Rate), in.Currency)
			if amount.IsZero() {
				continue
			}
			out = append(out, Applied{RateID: r.ID, Description: r.Name, LineID: line.ID, Amount: amount})
		}
	}
	return out
}

// resolveZone matches the configured address against each zone, defaulting
// to the zone flagged default when none match.
func resolveZone(in Input, zones []Zone) *Zone {
	address := in.ShippingAddress
	if in.Source == SourceBilling {
		address = in.BillingAddress
	}

	sorted := make([]Zone, len(zones))
	copy(sorted, zones)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if address != nil {
		for i := range sorted {
			if sorted[i].Condition.IsEmpty() {
				continue
			}
			if condition.Matches(sorted[i].Condition, condition.Subject{Address: address}) {
				return &sorted[i]
			}
		}
	}
	for i := range sorted {
		if sorted[i].Default {
			return &sorted[i]
		}
	}
	return nil
}
