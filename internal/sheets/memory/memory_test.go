package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"dosmangos/internal/core"
)

func tx(desc string, at time.Time) core.Transaction {
	return core.Transaction{
		ID:          uuid.New(),
		CreatedAt:   at,
		Description: desc,
		Value:       core.Money{Minor: -1250, Currency: "USD"},
	}
}

func TestMemoryStoreUpsertAndRemove(t *testing.T) {
	ctx := context.Background()
	s := New()
	older := tx("coffee", time.Date(2024, 11, 1, 9, 0, 0, 0, time.UTC))
	newer := tx("lunch", time.Date(2024, 11, 2, 13, 0, 0, 0, time.UTC))

	for _, tr := range []core.Transaction{older, newer} {
		if _, err := s.Upsert(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}
	older.Description = "flat white"
	ref, err := s.Upsert(ctx, older)
	if err != nil || ref != "mem:"+older.ID.String() {
		t.Fatalf("upsert: ref=%q err=%v", ref, err)
	}

	rows := s.Rows()
	if len(rows) != 2 || rows[0].ID != newer.ID || rows[1].Description != "flat white" {
		t.Fatalf("rows = %+v", rows)
	}

	if err := s.Remove(ctx, newer.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get(newer.ID); ok {
		t.Error("removed row still present")
	}
	if up, rm := s.Calls(); up != 3 || rm != 1 {
		t.Errorf("calls = %d upserts %d removes", up, rm)
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	bad := tx("", time.Now())
	if _, err := New().Upsert(context.Background(), bad); !core.IsValidationError(err) {
		t.Errorf("err = %v, want validation error", err)
	}
}
