package currency

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLookupKnown(t *testing.T) {
	info := Lookup("usd")
	if !info.Known || info.Code != "USD" || info.Fraction != 2 {
		t.Fatalf("unexpected USD info: %+v", info)
	}
	if len(info.Countries) == 0 || info.Countries[0] != "US" {
		t.Fatalf("expected US in countries, got %v", info.Countries)
	}

	jpy := Lookup("JPY")
	if jpy.Fraction != 0 {
		t.Fatalf("JPY fraction = %d, want 0", jpy.Fraction)
	}
}

func TestLookupFallback(t *testing.T) {
	info := Lookup("ZZZ")
	if info.Known {
		t.Fatalf("ZZZ should not be known")
	}
	if info.Fraction != FallbackFraction {
		t.Fatalf("fallback fraction = %d, want %d", info.Fraction, FallbackFraction)
	}
	if info.Countries == nil || len(info.Countries) != 0 {
		t.Fatalf("fallback countries should be empty, got %v", info.Countries)
	}
}

func TestIsValidCode(t *testing.T) {
	cases := map[string]bool{"USD": true, "ARS": true, "usd": false, "US": false, "USDT": false, "U$D": false}
	for in, want := range cases {
		if got := IsValidCode(in); got != want {
			t.Errorf("IsValidCode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatFallback(t *testing.T) {
	if got := Format(12345, "ZZZ"); got != "123.45 ZZZ" {
		t.Fatalf("Format fallback = %q", got)
	}
}

func TestMinorMajorConversion(t *testing.T) {
	if got := ToMajor(1999, "USD"); !got.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("ToMajor = %s", got)
	}
	if got := ToMinor(decimal.RequireFromString("10.005"), "USD"); got != 1001 {
		t.Fatalf("ToMinor half-up = %d, want 1001", got)
	}
	if got := ToMinor(decimal.RequireFromString("-10.005"), "USD"); got != -1001 {
		t.Fatalf("ToMinor negative = %d, want -1001", got)
	}
	if got := ToMinor(decimal.RequireFromString("1500.4"), "JPY"); got != 1500 {
		t.Fatalf("ToMinor JPY = %d, want 1500", got)
	}
}
