package condition

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestEmptyTreeMatches(t *testing.T) {
	if !Matches(Tree{}, Subject{}) {
		t.Fatal("empty tree must match any subject")
	}
}

func TestCountryIn(t *testing.T) {
	tree := Tree{Rules: []Rule{{Kind: KindCountryIn, Values: []string{"NL", "DE"}}}}
	addr := &AddressFacts{CountryCode: "NL"}
	if !Matches(tree, Subject{Address: addr}) {
		t.Fatal("expected NL to match")
	}
	addr.CountryCode = "FR"
	if Matches(tree, Subject{Address: addr}) {
		t.Fatal("expected FR not to match")
	}
	if Matches(tree, Subject{}) {
		t.Fatal("missing address must not match")
	}
}

func TestOrderTotalBetween(t *testing.T) {
	tree := Tree{Rules: []Rule{{Kind: KindOrderTotalBetween, Min: dec("50"), Max: dec("150")}}}
	if !Matches(tree, Subject{Order: &OrderFacts{ItemTotal: decimal.RequireFromString("100")}}) {
		t.Fatal("100 should be within [50,150]")
	}
	if Matches(tree, Subject{Order: &OrderFacts{ItemTotal: decimal.RequireFromString("10")}}) {
		t.Fatal("10 should be outside [50,150]")
	}
	openEnded := Tree{Rules: []Rule{{Kind: KindOrderTotalBetween, Min: dec("50")}}}
	if !Matches(openEnded, Subject{Order: &OrderFacts{ItemTotal: decimal.RequireFromString("9000")}}) {
		t.Fatal("open upper bound should match any value above min")
	}
}

func TestPostalCodePattern(t *testing.T) {
	tree := Tree{Rules: []Rule{{Kind: KindPostalCodeMatches, Pattern: `^10\d{3}$`}}}
	if !Matches(tree, Subject{Address: &AddressFacts{PostalCode: "10115"}}) {
		t.Fatal("expected 10115 to match")
	}
	if Matches(tree, Subject{Address: &AddressFacts{PostalCode: "20095"}}) {
		t.Fatal("expected 20095 not to match")
	}
	broken := Tree{Rules: []Rule{{Kind: KindPostalCodeMatches, Pattern: `([`}}}
	if Matches(broken, Subject{Address: &AddressFacts{PostalCode: "10115"}}) {
		t.Fatal("malformed pattern must fail closed")
	}
}

func TestUnknownKindFailsClosed(t *testing.T) {
	tree := Tree{Rules: []Rule{{Kind: Kind("galacticSector")}}}
	if Matches(tree, Subject{Order: &OrderFacts{}}) {
		t.Fatal("unknown rule kind must not match")
	}
}

func TestAndSemantics(t *testing.T) {
	tree := Tree{Rules: []Rule{
		{Kind: KindCustomerLoggedIn},
		{Kind: KindCountryIn, Values: []string{"US"}},
	}}
	subject := Subject{
		Customer: &CustomerFacts{LoggedIn: true},
		Address:  &AddressFacts{CountryCode: "US"},
	}
	if !Matches(tree, subject) {
		t.Fatal("both rules hold, tree should match")
	}
	subject.Customer.LoggedIn = false
	if Matches(tree, subject) {
		t.Fatal("one failing rule must fail the tree")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree := Tree{Rules: []Rule{
		{Kind: KindCountryIn, Values: []string{"GB"}},
		{Kind: KindOrderTotalBetween, Min: dec("25.50")},
	}}
	data, err := Encode(tree)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Rules) != 2 || decoded.Rules[0].Kind != KindCountryIn {
		t.Fatalf("unexpected decode result: %+v", decoded)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	if _, err := Decode([]byte(`{"version":99,"rules":[]}`)); err == nil {
		t.Fatal("expected version error")
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	err := Validate(Tree{Rules: []Rule{{Kind: Kind("warpDrive")}}})
	if err == nil {
		t.Fatal("expected validation error for unknown kind")
	}
}

func TestValidateFormula(t *testing.T) {
	sample := map[string]any{"itemTotal": 120.0, "totalQty": 3}
	if err := ValidateFormula(`order.itemTotal > 100`, sample); err != nil {
		t.Fatalf("expected valid formula, got %v", err)
	}
	if err := ValidateFormula(`order.itemTotal >`, sample); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestEvaluateFormula(t *testing.T) {
	shape := map[string]any{"itemTotal": 120.0}
	if !EvaluateFormula(`order.itemTotal > 100`, shape) {
		t.Fatal("expected formula to match")
	}
	if EvaluateFormula(`order.itemTotal > 500`, shape) {
		t.Fatal("expected formula not to match")
	}
	if EvaluateFormula(`order.`, shape) {
		t.Fatal("broken formula must fail closed")
	}
}
