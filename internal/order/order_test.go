package order

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/money"
)

func TestTotalQtyAndIsEmpty(t *testing.T) {
	o := New("USD")
	if !o.IsEmpty() || o.TotalQty() != 0 {
		t.Fatal("new order must be empty")
	}
	o.LineItems = []LineItem{{ID: 1, Qty: 2}, {ID: 2, Qty: 3}}
	if o.TotalQty() != 5 {
		t.Fatalf("expected qty 5, got %d", o.TotalQty())
	}
	if o.IsEmpty() {
		t.Fatal("order with quantity is not empty")
	}
}

func TestDimensionTotals(t *testing.T) {
	o := New("USD")
	o.LineItems = []LineItem{
		{ID: 1, Qty: 2, Weight: decimal.RequireFromString("1.5"), Length: decimal.RequireFromString("10")},
		{ID: 2, Qty: 1, Weight: decimal.RequireFromString("0.25")},
	}
	if got := o.TotalWeight().String(); got != "3.25" {
		t.Fatalf("expected total weight 3.25, got %s", got)
	}
	if got := o.TotalLength().String(); got != "20" {
		t.Fatalf("expected total length 20, got %s", got)
	}
}

func TestIsPaid(t *testing.T) {
	o := New("USD")
	o.FinalPrice = money.MustFromString("108")
	if o.IsPaid() {
		t.Fatal("unpaid order reported paid")
	}
	o.PaidTotal = money.MustFromString("108")
	if !o.IsPaid() {
		t.Fatal("fully paid order reported unpaid")
	}
	if got := o.OutstandingBalance().String(); got != "0" {
		t.Fatalf("expected zero balance, got %s", got)
	}

	free := New("USD")
	if free.IsPaid() {
		t.Fatal("a zero-price order is never considered paid")
	}
}

func TestStateTransitions(t *testing.T) {
	o := New("USD")

	if err := o.Transition(StatePaid); !common.IsKind(err, common.KindStateConflict) {
		t.Fatalf("cart -> paid must be a state conflict, got %v", err)
	}
	if o.State != StateCart {
		t.Fatal("failed transition must not change state")
	}

	for _, next := range []State{StateAwaitingPayment, StatePaid, StateCompleted} {
		if err := o.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if err := o.Transition(StateCart); !common.IsKind(err, common.KindStateConflict) {
		t.Fatalf("completed orders are terminal, got %v", err)
	}
}

func TestCancelReturnsToCart(t *testing.T) {
	o := New("USD")
	if err := o.Transition(StateAwaitingPayment); err != nil {
		t.Fatal(err)
	}
	if err := o.Transition(StateCart); err != nil {
		t.Fatalf("awaiting payment can be cancelled back to cart: %v", err)
	}
}

func TestFreezeAddressesCopies(t *testing.T) {
	shared := &Address{CountryCode: "NL", PostalCode: "1011AB"}
	o := New("EUR")
	o.ShippingAddress = shared
	o.FreezeAddresses()
	shared.PostalCode = "9999ZZ"
	if o.ShippingAddress.PostalCode != "1011AB" {
		t.Fatal("frozen address must not observe later edits")
	}
	if o.BillingAddress != nil {
		t.Fatal("nil address stays nil after freezing")
	}
}

func TestAddressFactsNilSafe(t *testing.T) {
	var a *Address
	if a.Facts() != nil {
		t.Fatal("nil address yields nil facts")
	}
}
