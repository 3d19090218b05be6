package money

import "testing"

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in     string
		places int32
		want   string
	}{
		{"1.005", 2, "1.01"},
		{"1.004", 2, "1"},
		{"2.675", 2, "2.68"},
		{"-1.005", 2, "-1.01"},
		{"-1.004", 2, "-1"},
		{"120.0000", 2, "120"},
		{"0.125", 2, "0.13"},
	}
	for _, tc := range cases {
		got := RoundHalfUp(MustFromString(tc.in), tc.places)
		if got.String() != tc.want {
			t.Fatalf("RoundHalfUp(%s, %d) = %s, want %s", tc.in, tc.places, got.String(), tc.want)
		}
	}
}

func TestMinorUnits(t *testing.T) {
	if got := MinorUnits("usd"); got != 2 {
		t.Fatalf("expected 2 minor units for USD, got %d", got)
	}
	if got := MinorUnits("JPY"); got != 0 {
		t.Fatalf("expected 0 minor units for JPY, got %d", got)
	}
	if got := MinorUnits("KWD"); got != 3 {
		t.Fatalf("expected 3 minor units for KWD, got %d", got)
	}
}

func TestRoundCurrency(t *testing.T) {
	got := RoundCurrency(MustFromString("18.005"), "USD")
	if got.String() != "18.01" {
		t.Fatalf("expected 18.01, got %s", got.String())
	}
	got = RoundCurrency(MustFromString("108.4"), "JPY")
	if got.String() != "108" {
		t.Fatalf("expected 108, got %s", got.String())
	}
}
