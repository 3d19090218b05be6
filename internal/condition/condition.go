// Package condition implements the boolean condition trees used by discounts,
// tax zones, and shipping methods. A tree is a flat set of typed rules joined
// with AND semantics; an empty tree matches everything. Evaluation is pure:
// it only inspects the snapshot passed in and never performs I/O.
package condition

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Version is the serialization format version written by Encode. Decode
// accepts only this version.
const Version = 1

// Kind identifies a rule type. Unknown kinds survive decoding but never
// match, so a single bad rule cannot block checkout.
type Kind string

const (
	// KindCountryIn matches when the address country is in Values.
	KindCountryIn Kind = "countryIn"
	// KindAdminAreaIn matches when the administrative area is in Values.
	KindAdminAreaIn Kind = "adminAreaIn"
	// KindPostalCodeMatches matches the address postal code against Pattern.
	KindPostalCodeMatches Kind = "postalCodeMatches"
	// KindOrderTotalBetween matches when the order item total is within [Min, Max].
	KindOrderTotalBetween Kind = "orderTotalBetween"
	// KindTotalQtyBetween matches when the order quantity is within [Min, Max].
	KindTotalQtyBetween Kind = "totalQtyBetween"
	// KindCustomerLoggedIn matches when the customer has an authenticated identity.
	KindCustomerLoggedIn Kind = "customerLoggedIn"
	// KindCustomerEmailIn matches when the customer email is in Values.
	KindCustomerEmailIn Kind = "customerEmailIn"
	// KindCurrencyIs matches when the order currency is in Values.
	KindCurrencyIs Kind = "currencyIs"
)

var knownKinds = map[Kind]struct{}{
	KindCountryIn:         {},
	KindAdminAreaIn:       {},
	KindPostalCodeMatches: {},
	KindOrderTotalBetween: {},
	KindTotalQtyBetween:   {},
	KindCustomerLoggedIn:  {},
	KindCustomerEmailIn:   {},
	KindCurrencyIs:        {},
}

// Rule is one typed predicate. The operand fields used depend on Kind.
type Rule struct {
	Kind    Kind             `json:"kind"`
	Values  []string         `json:"values,omitempty"`
	Pattern string           `json:"pattern,omitempty"`
	Min     *decimal.Decimal `json:"min,omitempty"`
	Max     *decimal.Decimal `json:"max,omitempty"`
}

// Tree is a set of rules combined with AND semantics.
type Tree struct {
	Rules []Rule `json:"rules"`
}

// IsEmpty reports whether the tree has no rules.
func (t Tree) IsEmpty() bool {
	return len(t.Rules) == 0
}

// envelope is the versioned wire format for a tree.
type envelope struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Encode serializes the tree into its versioned JSON form.
func Encode(t Tree) ([]byte, error) {
	return json.Marshal(envelope{Version: Version, Rules: t.Rules})
}

// Decode parses a serialized tree. Empty input yields an empty tree. A
// version mismatch or malformed JSON is an error; rules with unknown kinds
// are retained and simply never match.
func Decode(data []byte) (Tree, error) {
	if len(data) == 0 {
		return Tree{}, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Tree{}, fmt.Errorf("condition: decode tree: %w", err)
	}
	if env.Version != Version {
		return Tree{}, fmt.Errorf("condition: unsupported tree version %d", env.Version)
	}
	return Tree{Rules: env.Rules}, nil
}

// Validate rejects trees containing unknown kinds or malformed operands.
// Used at the authoring boundary; runtime matching instead fails closed.
func Validate(t Tree) error {
	for i, r := range t.Rules {
		if _, ok := knownKinds[r.Kind]; !ok {
			return fmt.Errorf("condition: rule %d has unknown kind %q", i, r.Kind)
		}
		if r.Kind == KindPostalCodeMatches {
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return fmt.Errorf("condition: rule %d pattern: %w", i, err)
			}
		}
	}
	return nil
}

// OrderFacts is the order snapshot visible to order-level rules.
type OrderFacts struct {
	ItemTotal decimal.Decimal
	TotalQty  int
	Currency  string
}

// CustomerFacts is the customer snapshot visible to customer-level rules.
type CustomerFacts struct {
	ID       string
	Email    string
	LoggedIn bool
}

// AddressFacts is the address snapshot visible to address-level rules.
type AddressFacts struct {
	CountryCode        string
	AdministrativeArea string
	Locality           string
	PostalCode         string
}

// Subject bundles the snapshots a tree may be evaluated against. Fields not
// relevant to a tree's rules may be left nil; a rule that needs a missing
// snapshot does not match.
type Subject struct {
	Order    *OrderFacts
	Customer *CustomerFacts
	Address  *AddressFacts
}

// Matches evaluates the tree against the subject. All rules must hold; an
// empty tree always matches. Unknown or malformed rules are treated as
// non-matching rather than raising an error.
func Matches(t Tree, s Subject) bool {
	for _, r := range t.Rules {
		if !matchRule(r, s) {
			return false
		}
	}
	return true
}

func matchRule(r Rule, s Subject) bool {
	switch r.Kind {
	case KindCountryIn:
		return s.Address != nil && contains(r.Values, s.Address.CountryCode)
	case KindAdminAreaIn:
		return s.Address != nil && contains(r.Values, s.Address.AdministrativeArea)
	case KindPostalCodeMatches:
		if s.Address == nil || r.Pattern == "" {
			return false
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s.Address.PostalCode)
	case KindOrderTotalBetween:
		if s.Order == nil {
			return false
		}
		return between(s.Order.ItemTotal, r.Min, r.Max)
	case KindTotalQtyBetween:
		if s.Order == nil {
			return false
		}
		return between(decimal.NewFromInt(int64(s.Order.TotalQty)), r.Min, r.Max)
	case KindCustomerLoggedIn:
		return s.Customer != nil && s.Customer.LoggedIn
	case KindCustomerEmailIn:
		return s.Customer != nil && contains(r.Values, s.Customer.Email)
	case KindCurrencyIs:
		return s.Order != nil && contains(r.Values, s.Order.Currency)
	default:
		// Unknown rule payloads fail closed.
		return false
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func between(v decimal.Decimal, min, max *decimal.Decimal) bool {
	if min == nil && max == nil {
		return false
	}
	if min != nil && v.LessThan(*min) {
		return false
	}
	if max != nil && v.GreaterThan(*max) {
		return false
	}
	return true
}
