package storage

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"dosmangos/internal/core"
	"dosmangos/internal/currency"
)

var (
	errMissingValue = errors.New("missing value")
	errWrongType    = errors.New("unexpected column type")
	errNotIntegral  = errors.New("amount is not a whole number of minor units")
)

// RowError describes why one stored row could not become a Transaction.
type RowError struct {
	ID     string
	Column string
	Err    error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %q column %s: %v", e.ID, e.Column, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// DecodeError lists every row skipped by a read.
type DecodeError struct {
	Rows []RowError
}

func (e *DecodeError) Error() string {
	if len(e.Rows) == 1 {
		return "decode transactions: " + e.Rows[0].Error()
	}
	msgs := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		msgs[i] = r.Error()
	}
	return fmt.Sprintf("decode transactions: %d rows skipped: %s", len(e.Rows), strings.Join(msgs, "; "))
}

func (e *DecodeError) Unwrap() []error {
	errs := make([]error, len(e.Rows))
	for i, r := range e.Rows {
		errs[i] = r
	}
	return errs
}

// column order of selectColumns
const (
	colID = iota
	colCreatedAt
	colDescription
	colValue
	colCurrency
	colCategory
	colLatitude
	colLongitude
	colCity
	colCountry
)

var columnNames = [...]string{"id", "createdAt", "description", "value", "currency", "category",
	"latitude", "longitude", "city", "country_code"}

func scanTargets(raw []any) []any {
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	return ptrs
}

// decodeRow turns the raw column values of one row into a Transaction.
// Required columns must have the expected type; optional ones of the wrong
// type are treated as absent.
func decodeRow(raw []any) (core.Transaction, *RowError) {
	idText, _ := asText(raw[colID])
	fail := func(col int, err error) (core.Transaction, *RowError) {
		return core.Transaction{}, &RowError{ID: idText, Column: columnNames[col], Err: err}
	}

	text, err := requireText(raw[colID])
	if err != nil {
		return fail(colID, err)
	}
	id, err := uuid.Parse(text)
	if err != nil {
		return fail(colID, err)
	}

	secs, err := requireInt(raw[colCreatedAt])
	if err != nil {
		return fail(colCreatedAt, err)
	}

	desc, err := requireText(raw[colDescription])
	if err != nil {
		return fail(colDescription, err)
	}

	minor, err := requireInt(raw[colValue])
	if err != nil {
		return fail(colValue, err)
	}

	code, err := requireText(raw[colCurrency])
	if err != nil {
		return fail(colCurrency, err)
	}
	if !currency.IsValidCode(code) {
		return fail(colCurrency, core.ErrInvalidCurrency)
	}

	t := core.Transaction{
		ID:          id,
		CreatedAt:   time.Unix(secs, 0).UTC(),
		Description: desc,
		Value:       core.Money{Minor: minor, Currency: code},
	}
	t.Category, _ = asText(raw[colCategory])

	lat, okLat := asFloat(raw[colLatitude])
	lon, okLon := asFloat(raw[colLongitude])
	if okLat && okLon {
		city, _ := asText(raw[colCity])
		country, _ := asText(raw[colCountry])
		t.Location = core.NewLocation(core.Coordinate{Latitude: lat, Longitude: lon}, city, country)
	}
	return t, nil
}

func asText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	}
	return "", false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func requireText(v any) (string, error) {
	if v == nil {
		return "", errMissingValue
	}
	s, ok := asText(v)
	if !ok {
		return "", errWrongType
	}
	return s, nil
}

// requireInt accepts INTEGER values and REAL values holding a whole number.
func requireInt(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, errMissingValue
	case int64:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) || math.Abs(x) > 1<<53 {
			return 0, errNotIntegral
		}
		return int64(x), nil
	}
	return 0, errWrongType
}
