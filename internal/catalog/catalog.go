// Package catalog exposes the purchasable snapshots the cart copies onto
// line items. The storefront only ever reads here; catalog management is out
// of band.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the purchasable does not exist.
var ErrNotFound = errors.New("catalog: purchasable not found")

// Purchasable is the sellable snapshot copied onto a line item when it is
// added to a cart. While the order is still a cart the line price tracks the
// catalog; it freezes once checkout begins.
type Purchasable struct {
	ID          int64
	SKU         string
	Description string
	Price       decimal.Decimal
	CategoryID  int64
	Weight      decimal.Decimal
	Length      decimal.Decimal
	Width       decimal.Decimal
	Height      decimal.Decimal
}

// Source loads purchasables. Implementations return ErrNotFound for unknown
// ids.
type Source interface {
	PurchasableByID(ctx context.Context, id int64) (*Purchasable, error)
}
