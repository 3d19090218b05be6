package promo

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/condition"
	"github.com/noah-isme/backend-market/internal/money"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func singleLineView(subtotal string, qty int) OrderView {
	total := money.MustFromString(subtotal)
	return OrderView{
		Currency: "USD",
		Lines: []Line{
			{ID: 1, PurchasableID: 10, CategoryID: 20, Qty: qty, Subtotal: total},
		},
		Order: condition.OrderFacts{ItemTotal: total, TotalQty: qty, Currency: "USD"},
	}
}

func percentDiscount(id int64, rate string, subject PercentSubject) Discount {
	return Discount{
		ID:              id,
		Name:            "percent off",
		Enabled:         true,
		AllPurchasables: true,
		AllCategories:   true,
		SortOrder:       int(id),
		Effects: []Effect{
			{Kind: EffectPercentOff, Rate: money.MustFromString(rate), Subject: subject},
		},
	}
}

func TestPercentOffOriginalPrice(t *testing.T) {
	view := singleLineView("100", 1)
	result, err := Resolve(view, []Discount{percentDiscount(1, "0.10", SubjectOriginal)}, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Adjustments) != 1 {
		t.Fatalf("expected 1 adjustment, got %d", len(result.Adjustments))
	}
	if got := result.Adjustments[0].Amount.String(); got != "-10" {
		t.Fatalf("expected -10, got %s", got)
	}
	if got := result.DiscountedSubtotals[1].String(); got != "90" {
		t.Fatalf("expected discounted subtotal 90, got %s", got)
	}
}

func TestPercentOffDiscountedPriceStacks(t *testing.T) {
	view := singleLineView("100", 1)
	first := percentDiscount(1, "0.10", SubjectOriginal)
	second := percentDiscount(2, "0.10", SubjectDiscounted)
	result, err := Resolve(view, []Discount{second, first}, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// First takes 10 off 100, second takes 10% of the remaining 90.
	if len(result.Adjustments) != 2 {
		t.Fatalf("expected 2 adjustments, got %d", len(result.Adjustments))
	}
	if got := result.Adjustments[1].Amount.String(); got != "-9" {
		t.Fatalf("expected second adjustment -9, got %s", got)
	}
	if got := result.DiscountedSubtotals[1].String(); got != "81" {
		t.Fatalf("expected discounted subtotal 81, got %s", got)
	}
}

func TestStopProcessingHaltsLowerPriority(t *testing.T) {
	view := singleLineView("100", 1)
	first := percentDiscount(1, "0.10", SubjectOriginal)
	first.StopProcessing = true
	second := percentDiscount(2, "0.20", SubjectOriginal)
	result, err := Resolve(view, []Discount{first, second}, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Adjustments) != 1 {
		t.Fatalf("expected only the stop-processing discount to apply, got %d adjustments", len(result.Adjustments))
	}
	if result.Adjustments[0].DiscountID != 1 {
		t.Fatalf("expected discount 1, got %d", result.Adjustments[0].DiscountID)
	}
}

func TestSortOrderTieBrokenByID(t *testing.T) {
	view := singleLineView("100", 1)
	a := percentDiscount(7, "0.10", SubjectOriginal)
	a.SortOrder = 1
	a.StopProcessing = true
	b := percentDiscount(3, "0.20", SubjectOriginal)
	b.SortOrder = 1
	b.StopProcessing = true
	result, err := Resolve(view, []Discount{a, b}, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Adjustments) != 1 || result.Adjustments[0].DiscountID != 3 {
		t.Fatalf("expected lower id to win the tie, got %+v", result.Adjustments)
	}
}

func TestUnknownCouponCode(t *testing.T) {
	view := singleLineView("100", 1)
	view.CouponCode = "NOPE"
	result, err := Resolve(view, []Discount{percentDiscount(1, "0.10", SubjectOriginal)}, nil, testNow)
	if !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
	// Automatic discounts still resolve.
	if len(result.Adjustments) != 1 {
		t.Fatalf("expected automatic discount to apply, got %d adjustments", len(result.Adjustments))
	}
}

func TestExpiredCoupon(t *testing.T) {
	view := singleLineView("100", 1)
	view.CouponCode = "OLD"
	past := testNow.Add(-time.Hour)
	d := percentDiscount(1, "0.10", SubjectOriginal)
	d.CouponCode = "OLD"
	d.DateTo = &past
	_, err := Resolve(view, []Discount{d}, nil, testNow)
	if !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}
}

func TestCouponUsageLimitExhausted(t *testing.T) {
	view := singleLineView("100", 1)
	view.CouponCode = "ONCE"
	d := percentDiscount(1, "0.10", SubjectOriginal)
	d.CouponCode = "ONCE"
	d.TotalUseLimit = 1
	usage := func(int64) Usage { return Usage{Total: 1} }
	result, err := Resolve(view, []Discount{d}, usage, testNow)
	if !errors.Is(err, ErrCouponNotEligible) {
		t.Fatalf("expected ErrCouponNotEligible, got %v", err)
	}
	if len(result.Adjustments) != 0 {
		t.Fatalf("exhausted coupon must not produce adjustments")
	}
}

func TestPerUserLimit(t *testing.T) {
	view := singleLineView("100", 1)
	view.Customer = &condition.CustomerFacts{ID: "cust-1", Email: "a@example.com", LoggedIn: true}
	d := percentDiscount(1, "0.10", SubjectOriginal)
	d.PerUserLimit = 2
	usage := func(int64) Usage { return Usage{ByCustomer: 2} }
	result, _ := Resolve(view, []Discount{d}, usage, testNow)
	if len(result.Adjustments) != 0 {
		t.Fatal("per-user limit reached, discount must be skipped")
	}
}

func TestPerItemAmountClampsAtLinePrice(t *testing.T) {
	view := singleLineView("5", 2)
	d := Discount{
		ID: 1, Name: "big per item", Enabled: true,
		AllPurchasables: true, AllCategories: true,
		Effects: []Effect{{Kind: EffectPerItemAmount, Amount: money.MustFromString("4")}},
	}
	result, err := Resolve(view, []Discount{d}, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2 x 4 = 8 exceeds the 5 line price; clamp to 5.
	if got := result.Adjustments[0].Amount.String(); got != "-5" {
		t.Fatalf("expected -5, got %s", got)
	}
	if !result.DiscountedSubtotals[1].IsZero() {
		t.Fatalf("expected line fully discounted, got %s", result.DiscountedSubtotals[1])
	}
}

func TestFixedAmountIsOrderLevel(t *testing.T) {
	view := singleLineView("100", 1)
	d := Discount{
		ID: 1, Name: "ten off", Enabled: true,
		Effects: []Effect{{Kind: EffectFixedAmount, Amount: money.MustFromString("10")}},
	}
	result, err := Resolve(view, []Discount{d}, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Adjustments[0].LineID != 0 {
		t.Fatal("fixed amount must be an order-level adjustment")
	}
	// Order-level amounts do not change per-line discounted prices.
	if got := result.DiscountedSubtotals[1].String(); got != "100" {
		t.Fatalf("expected line subtotal untouched, got %s", got)
	}
}

func TestFreeShippingScopes(t *testing.T) {
	view := singleLineView("100", 1)
	orderWide := Discount{ID: 1, Name: "free ship", Enabled: true, FreeShipping: FreeShippingOrder}
	result, _ := Resolve(view, []Discount{orderWide}, nil, testNow)
	if !result.FreeShippingOrder {
		t.Fatal("expected order-wide free shipping flag")
	}

	matching := Discount{
		ID: 2, Name: "free ship items", Enabled: true,
		FreeShipping: FreeShippingMatching, AllPurchasables: true, AllCategories: true,
	}
	result, _ = Resolve(view, []Discount{matching}, nil, testNow)
	if result.FreeShippingOrder {
		t.Fatal("matching-items scope must not set the order flag")
	}
	if len(result.FreeShippingLineIDs) != 1 || result.FreeShippingLineIDs[0] != 1 {
		t.Fatalf("expected line 1 flagged, got %v", result.FreeShippingLineIDs)
	}
}

func TestScopedDiscountSkipsOtherLines(t *testing.T) {
	view := OrderView{
		Currency: "USD",
		Lines: []Line{
			{ID: 1, PurchasableID: 10, CategoryID: 20, Qty: 1, Subtotal: money.MustFromString("50")},
			{ID: 2, PurchasableID: 11, CategoryID: 21, Qty: 1, Subtotal: money.MustFromString("70")},
		},
		Order: condition.OrderFacts{ItemTotal: money.MustFromString("120"), TotalQty: 2, Currency: "USD"},
	}
	d := Discount{
		ID: 1, Name: "scoped", Enabled: true,
		PurchasableIDs: []int64{10}, AllCategories: true,
		Effects: []Effect{{Kind: EffectPercentOff, Rate: money.MustFromString("0.50"), Subject: SubjectOriginal}},
	}
	result, err := Resolve(view, []Discount{d}, nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Adjustments) != 1 || result.Adjustments[0].LineID != 1 {
		t.Fatalf("expected only line 1 discounted, got %+v", result.Adjustments)
	}
	if got := result.DiscountedSubtotals[2].String(); got != "70" {
		t.Fatalf("line 2 must be untouched, got %s", got)
	}
}

func TestOrderConditionSkipsNonMatch(t *testing.T) {
	view := singleLineView("30", 1)
	min := decimal.RequireFromString("50")
	d := percentDiscount(1, "0.10", SubjectOriginal)
	d.OrderCondition = condition.Tree{Rules: []condition.Rule{{Kind: condition.KindOrderTotalBetween, Min: &min}}}
	result, _ := Resolve(view, []Discount{d}, nil, testNow)
	if len(result.Adjustments) != 0 {
		t.Fatal("order below minimum must not receive the discount")
	}
}

func TestResolveDeterministic(t *testing.T) {
	view := singleLineView("99.99", 3)
	discounts := []Discount{
		percentDiscount(2, "0.15", SubjectDiscounted),
		percentDiscount(1, "0.10", SubjectOriginal),
	}
	first, err1 := Resolve(view, discounts, nil, testNow)
	second, err2 := Resolve(view, discounts, nil, testNow)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if len(first.Adjustments) != len(second.Adjustments) {
		t.Fatal("resolution must be deterministic")
	}
	for i := range first.Adjustments {
		if !first.Adjustments[i].Amount.Equal(second.Adjustments[i].Amount) {
			t.Fatalf("adjustment %d differs between runs", i)
		}
	}
}
