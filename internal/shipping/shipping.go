// Package shipping implements the shipping method catalog and the shipping
// cost step of the totals calculation. Costs honor the free-shipping flags
// set by the discount resolver.
package shipping

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/condition"
	"github.com/noah-isme/backend-market/internal/money"
)

// Method is a configured shipping method. Availability is gated by the
// enabled flag and an optional condition tree over the shipping address.
type Method struct {
	ID      int64
	Name    string
	Handle  string
	Enabled bool

	Condition condition.Tree

	BaseRate    money.Money
	PerItemRate money.Money
	// WeightRate is charged per unit of total order weight.
	WeightRate money.Money
}

// Available reports whether the method can serve the given shipping address.
func (m Method) Available(address *condition.AddressFacts) bool {
	if !m.Enabled {
		return false
	}
	if m.Condition.IsEmpty() {
		return true
	}
	if address == nil {
		return false
	}
	return condition.Matches(m.Condition, condition.Subject{Address: address})
}

// Line is the cost calculator's view of one order line item.
type Line struct {
	ID     int64
	Qty    int
	Weight decimal.Decimal
}

// Input is the snapshot shipping cost is computed from.
type Input struct {
	Currency          string
	Lines             []Line
	FreeShippingOrder bool
	// FreeShippingLineIDs excludes individual lines from per-item and
	// per-weight charges.
	FreeShippingLineIDs []int64
}

// Applied is the shipping adjustment proposal for the order.
type Applied struct {
	MethodID    int64
	Description string
	Amount      money.Money
}

// Cost computes the order-level shipping adjustment for the selected method.
// A nil return means no charge (no method, empty order, or order-wide free
// shipping).
func Cost(in Input, method *Method) *Applied {
	if method == nil || len(in.Lines) == 0 || in.FreeShippingOrder {
		return nil
	}
	free := make(map[int64]struct{}, len(in.FreeShippingLineIDs))
	for _, id := range in.FreeShippingLineIDs {
		free[id] = struct{}{}
	}

	total := method.BaseRate
	for _, line := range in.Lines {
		if _, ok := free[line.ID]; ok {
			continue
		}
		qty := decimal.NewFromInt(int64(line.Qty))
		total = total.Add(method.PerItemRate.Mul(qty))
		total = total.Add(method.WeightRate.Mul(line.Weight.Mul(qty)))
	}
	total = money.RoundCurrency(total, in.Currency)
	if total.IsZero() {
		return nil
	}
	return &Applied{MethodID: method.ID, Description: method.Name, Amount: total}
}
