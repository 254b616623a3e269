package rates

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"dosmangos/internal/storage"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db := storage.Open(filepath.Join(t.TempDir(), "rates.db"))
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(db, nil)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func approx(t *testing.T, name string, got decimal.Decimal, want float64) {
	t.Helper()
	if math.Abs(got.InexactFloat64()-want) > 1e-9*math.Max(1, math.Abs(want)) {
		t.Errorf("%s = %s, want %v", name, got, want)
	}
}

func TestGetRatePriority(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	for _, r := range []Rate{
		{From: "USD", To: "ARS", Value: dec("1480"), Type: TypeCCL, Date: "2024-11-01", Source: "test"},
		{From: "USD", To: "ARS", Value: dec("1200"), Type: TypeBlue, Date: "2024-11-01", Source: "test"},
		{From: "USD", To: "ARS", Value: dec("1000"), Type: TypeOfficial, Date: "2024-11-01", Source: "test"},
		{From: "USD", To: "ARS", Value: dec("1500"), Type: TypeCrypto, Date: "2024-11-01", Source: "test"},
	} {
		if err := repo.InsertRate(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		rateType string
		want     float64
	}{
		{"", 1000},
		{TypeBlue, 1200},
		{TypeCCL, 1480},
		{TypeCrypto, 1500},
	}
	for _, tt := range tests {
		got, ok, err := repo.GetRate(ctx, "USD", "ARS", "2024-11-01", tt.rateType)
		if err != nil || !ok {
			t.Fatalf("GetRate(%q): ok=%v err=%v", tt.rateType, ok, err)
		}
		approx(t, "rate "+tt.rateType, got, tt.want)
	}

	if _, ok, err := repo.GetRate(ctx, "USD", "ARS", "2024-11-02", ""); err != nil || ok {
		t.Errorf("other date: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := repo.GetRate(ctx, "USD", "ARS", "2024-11-01", TypeMEP); ok {
		t.Error("mep should be missing")
	}
}

func TestInsertRateReplacesSameKey(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	r := Rate{From: "USD", To: "EUR", Value: dec("0.90"), Type: TypeOfficial, Date: "2024-11-01", Source: "a"}
	if err := repo.InsertRate(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Value = dec("0.95")
	if err := repo.InsertRate(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, _, _ := repo.GetRate(ctx, "USD", "EUR", "2024-11-01", TypeOfficial)
	approx(t, "rate", got, 0.95)

	db, _ := repo.db.DB()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM exchange_rates`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestAllRatesForBaseIncludesInverse(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if err := repo.InsertRates(ctx, []Rate{
		{From: "USD", To: "EUR", Value: dec("0.8"), Type: TypeOfficial, Date: "2024-11-01", Source: "oxr"},
		{From: "USD", To: "ARS", Value: dec("1000"), Type: TypeOfficial, Date: "2024-11-01", Source: "oxr"},
		{From: "USD", To: "ARS", Value: dec("1200"), Type: TypeBlue, Date: "2024-11-01", Source: "ambito"},
		{From: "ARS", To: "USD", Value: dec("0.0008"), Type: TypeBlue, Date: "2024-11-01", Source: "ambito"},
	}); err != nil {
		t.Fatal(err)
	}

	eur, err := repo.AllRatesForBase(ctx, "EUR", "2024-11-01", "")
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "EUR->USD", eur["USD"][TypeOfficial], 1.25)

	ars, err := repo.AllRatesForBase(ctx, "ARS", "2024-11-01", "")
	if err != nil {
		t.Fatal(err)
	}
	// The stored blue ARS->USD wins over the inverse of USD->ARS blue.
	approx(t, "ARS->USD blue", ars["USD"][TypeBlue], 0.0008)
	approx(t, "ARS->USD official", ars["USD"][TypeOfficial], 0.001)

	onlyBlue, err := repo.AllRatesForBase(ctx, "USD", "2024-11-01", TypeBlue)
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyBlue) != 1 || len(onlyBlue["ARS"]) != 1 {
		t.Errorf("blue filter = %v", onlyBlue)
	}

	usd, err := repo.AllRatesForBase(ctx, "USD", "2024-11-01", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(usd["ARS"]) != 2 {
		t.Errorf("USD->ARS types = %v, want official and blue", usd["ARS"])
	}
}

func TestLatestRateDate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if _, ok, err := repo.LatestRateDate(ctx); err != nil || ok {
		t.Fatalf("empty: ok=%v err=%v", ok, err)
	}
	for _, d := range []string{"2024-10-30", "2024-11-02", "2024-11-01"} {
		if err := repo.InsertRate(ctx, Rate{From: "USD", To: "EUR", Value: dec("0.9"), Date: d, Source: "t"}); err != nil {
			t.Fatal(err)
		}
	}
	got, ok, err := repo.LatestRateDate(ctx)
	if err != nil || !ok || got != "2024-11-02" {
		t.Errorf("LatestRateDate = %q %v %v", got, ok, err)
	}
}

func TestTablePreferred(t *testing.T) {
	tbl := Table{}
	tbl.set("ARS", TypeBlue, dec("1200"))
	tbl.set("ARS", "zz", dec("1"))
	v, rt, ok := tbl.Preferred("ARS")
	if !ok || rt != TypeBlue || !v.Equal(dec("1200")) {
		t.Errorf("Preferred = %s %s %v", v, rt, ok)
	}
	tbl = Table{}
	tbl.set("ARS", "zz", dec("2"))
	tbl.set("ARS", "aa", dec("3"))
	if _, rt, _ := tbl.Preferred("ARS"); rt != "aa" {
		t.Errorf("fallback type = %q, want aa", rt)
	}
	if _, _, ok := tbl.Preferred("EUR"); ok {
		t.Error("missing currency reported present")
	}
}
