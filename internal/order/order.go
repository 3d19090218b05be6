// Package order holds the order aggregate and the totals calculator. An
// order starts life as a cart and moves through a small state machine until
// completion; every mutation is followed by a full recomputation of
// adjustments and totals so the stored order is always internally consistent.
package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/condition"
	"github.com/noah-isme/backend-market/internal/money"
)

// Address is an order address snapshot. Addresses are copied onto the order
// on completion so later edits to a customer's address book cannot change a
// finished order.
type Address struct {
	ID                 int64
	Label              string
	FullName           string
	AddressLine1       string
	AddressLine2       string
	Locality           string
	AdministrativeArea string
	PostalCode         string
	CountryCode        string
}

// Facts projects the address into the view condition trees evaluate.
func (a *Address) Facts() *condition.AddressFacts {
	if a == nil {
		return nil
	}
	return &condition.AddressFacts{
		CountryCode:        a.CountryCode,
		AdministrativeArea: a.AdministrativeArea,
		Locality:           a.Locality,
		PostalCode:         a.PostalCode,
	}
}

// Clone returns an independent copy, used when freezing addresses at
// completion.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// LineItem is one purchasable on the order. SalePrice and the physical
// dimensions are snapshotted from the catalog when the line is added; qty is
// the only field the storefront mutates afterwards.
type LineItem struct {
	ID            int64
	PurchasableID int64
	CategoryID    int64
	Description   string
	SKU           string
	SalePrice     money.Money
	Qty           int

	Weight decimal.Decimal
	Length decimal.Decimal
	Width  decimal.Decimal
	Height decimal.Decimal

	// Subtotal is SalePrice * Qty rounded to the order currency. Written by
	// Recompute.
	Subtotal money.Money
	// Total is Subtotal plus this line's non-included adjustments. Written
	// by Recompute.
	Total money.Money
}

// AdjustmentType classifies an adjustment row.
type AdjustmentType string

const (
	AdjustmentDiscount AdjustmentType = "discount"
	AdjustmentTax      AdjustmentType = "tax"
	AdjustmentShipping AdjustmentType = "shipping"
)

// Adjustment is one derived charge or credit. Adjustments are never edited
// in place: each recomputation discards and regenerates the full set.
// LineItemID zero means the adjustment applies to the order as a whole.
type Adjustment struct {
	Type        AdjustmentType
	Description string
	Amount      money.Money
	// Included marks amounts already contained in the displayed price, such
	// as VAT shown for information. Included amounts never change the final
	// price.
	Included   bool
	LineItemID int64
	// SourceID is the discount, tax rate, or shipping method that produced
	// the adjustment.
	SourceID int64
}

// Order is the aggregate root. Totals and adjustments are derived state
// owned by the calculator; everything else is input state set by the
// storefront or checkout.
type Order struct {
	ID       uuid.UUID
	Number   string
	Revision int64

	State    State
	Currency string

	CustomerID string
	Email      string
	LastIP     string

	CouponCode string

	ShippingAddress *Address
	BillingAddress  *Address

	ShippingMethodHandle string
	GatewayHandle        string

	LineItems   []LineItem
	Adjustments []Adjustment

	ItemTotal        money.Money
	TotalDiscount    money.Money
	TotalTax         money.Money
	TotalTaxIncluded money.Money
	TotalShipping    money.Money
	AdjustmentsTotal money.Money
	FinalPrice       money.Money
	PaidTotal        money.Money

	DateOrdered   *time.Time
	DatePaid      *time.Time
	DateCompleted *time.Time

	DateCreated time.Time
	DateUpdated time.Time
}

// New returns an empty cart-state order in the given currency.
func New(currency string) *Order {
	return &Order{
		ID:       uuid.New(),
		Number:   uuid.NewString(),
		State:    StateCart,
		Currency: currency,
	}
}

// TotalQty is the summed quantity across all line items.
func (o *Order) TotalQty() int {
	total := 0
	for _, li := range o.LineItems {
		total += li.Qty
	}
	return total
}

// IsEmpty reports whether the order has no quantity at all.
func (o *Order) IsEmpty() bool {
	return o.TotalQty() == 0
}

// TotalWeight sums line weight times quantity.
func (o *Order) TotalWeight() decimal.Decimal {
	return o.sumDimension(func(li LineItem) decimal.Decimal { return li.Weight })
}

// TotalLength sums line length times quantity.
func (o *Order) TotalLength() decimal.Decimal {
	return o.sumDimension(func(li LineItem) decimal.Decimal { return li.Length })
}

// TotalWidth sums line width times quantity.
func (o *Order) TotalWidth() decimal.Decimal {
	return o.sumDimension(func(li LineItem) decimal.Decimal { return li.Width })
}

// TotalHeight sums line height times quantity.
func (o *Order) TotalHeight() decimal.Decimal {
	return o.sumDimension(func(li LineItem) decimal.Decimal { return li.Height })
}

func (o *Order) sumDimension(dim func(LineItem) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		total = total.Add(dim(li).Mul(decimal.NewFromInt(int64(li.Qty))))
	}
	return total
}

// OutstandingBalance is the final price minus what has been paid so far. It
// can go negative on overpayment.
func (o *Order) OutstandingBalance() money.Money {
	return o.FinalPrice.Sub(o.PaidTotal)
}

// IsPaid reports whether payments cover the full price of a non-free order.
func (o *Order) IsPaid() bool {
	return o.FinalPrice.GreaterThan(money.Zero) && o.PaidTotal.GreaterThanOrEqual(o.FinalPrice)
}

// IsCompleted reports whether the order has reached its terminal state.
func (o *Order) IsCompleted() bool {
	return o.State == StateCompleted
}

// LineByID returns the line item with the given id, or nil.
func (o *Order) LineByID(id int64) *LineItem {
	for i := range o.LineItems {
		if o.LineItems[i].ID == id {
			return &o.LineItems[i]
		}
	}
	return nil
}

// FreezeAddresses replaces the order addresses with independent snapshots.
// Called once at completion.
func (o *Order) FreezeAddresses() {
	o.ShippingAddress = o.ShippingAddress.Clone()
	o.BillingAddress = o.BillingAddress.Clone()
}
