package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dosmangos/internal/core"
	"dosmangos/internal/location"
	"dosmangos/internal/middleware/trace"
	"dosmangos/internal/rates"
	"dosmangos/internal/storage"
)

func TestJSONResponseBuilder(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/transactions/1").
		Body(map[string]int{"n": 1}).
		Write(rr)

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	if rr.Header().Get("Location") != "/transactions/1" {
		t.Error("custom header missing")
	}
	if rr.Body.String() != "{\"n\":1}\n" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestJSONResponseBuilder_NoBody(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(rr)

	if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 || rr.Header().Get("Content-Type") != "" {
		t.Errorf("got %d %q %v", rr.Code, rr.Body.String(), rr.Header())
	}
}

func TestErrorResponseCarriesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	req = req.WithContext(context.WithValue(req.Context(), trace.RequestIDKey, "req_abc"))
	rr := httptest.NewRecorder()

	ErrorResponse(req, http.StatusNotFound, "unknown search session").Write(rr)

	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if rr.Code != http.StatusNotFound || body.Error != "unknown search session" || body.RequestID != "req_abc" {
		t.Errorf("got %d %+v", rr.Code, body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: malformed JSON", errBadRequest), http.StatusBadRequest},
		{fmt.Errorf("%w %q", rates.ErrInvalidDate, "x"), http.StatusBadRequest},
		{core.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{fmt.Errorf("create: %w", core.ErrEmptyDescription), http.StatusUnprocessableEntity},
		{storage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("convert: %w", rates.ErrNoRate), http.StatusNotFound},
		{storage.ErrDuplicate, http.StatusConflict},
		{fmt.Errorf("fetch: %w", &rates.ProviderError{Provider: "bluelytics", StatusCode: 500}), http.StatusBadGateway},
		{location.ErrLocationFailed, http.StatusServiceUnavailable},
		{errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteErrorHidesInternalText(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/transactions", nil)

	rr := httptest.NewRecorder()
	writeError(rr, req, errors.New("open /var/lib/dosmangos.db: permission denied"), "list")
	var body errorBody
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if rr.Code != http.StatusInternalServerError || body.Error != "internal error" {
		t.Errorf("got %d %+v", rr.Code, body)
	}

	rr = httptest.NewRecorder()
	writeError(rr, req, core.ErrInvalidCurrency, "create")
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if rr.Code != http.StatusUnprocessableEntity || body.Error != core.ErrInvalidCurrency.Error() {
		t.Errorf("got %d %+v", rr.Code, body)
	}
}

func TestNewMoneyJSON(t *testing.T) {
	tests := []struct {
		money      core.Money
		wantAmount string
	}{
		{core.Money{Minor: -350050, Currency: "ARS"}, "-3500.50"},
		{core.Money{Minor: 1500, Currency: "JPY"}, "1500"},
		{core.Money{Minor: 1234, Currency: "KWD"}, "1.234"},
	}
	for _, tt := range tests {
		got := newMoneyJSON(tt.money)
		if got.Amount != tt.wantAmount || got.Minor != tt.money.Minor || got.Currency != tt.money.Currency || got.Formatted == "" {
			t.Errorf("newMoneyJSON(%v) = %+v", tt.money, got)
		}
	}
}
