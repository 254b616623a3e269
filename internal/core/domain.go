package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"dosmangos/internal/currency"
)

const maxDescriptionLength = 200

type (
	// Coordinate is a WGS84 position in degrees.
	Coordinate struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}

	// Location is a coordinate with the reverse-geocoded place it falls in.
	// City and CountryCode are nil when geocoding failed or found nothing.
	Location struct {
		Coordinate
		City        *string `json:"city,omitempty"`
		CountryCode *string `json:"country_code,omitempty"`
	}

	// Placemark is what reverse geocoding knows about a coordinate. Empty
	// fields mean unknown.
	Placemark struct {
		City        string
		CountryCode string
	}

	// Region is the visible map area a place search is biased to.
	Region struct {
		Center        Coordinate `json:"center"`
		SpanLatitude  float64    `json:"span_latitude"`
		SpanLongitude float64    `json:"span_longitude"`
	}

	// SearchResult is one place returned by a place search.
	SearchResult struct {
		Title      string     `json:"title"`
		Subtitle   string     `json:"subtitle"`
		Coordinate Coordinate `json:"coordinate"`
	}

	Transaction struct {
		ID          uuid.UUID
		CreatedAt   time.Time
		Description string
		Value       Money
		Category    string
		Tags        []string
		Location    *Location
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidCurrency    = errors.New("invalid currency code")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrMissingTimestamp   = errors.New("missing timestamp")
	ErrMissingID          = errors.New("missing transaction id")
	ErrInvalidCoordinate  = errors.New("invalid coordinate")
	ErrInvalidTag         = errors.New("invalid tag")
)

var validationErrors = []error{
	ErrInvalidAmount,
	ErrInvalidCurrency,
	ErrEmptyDescription,
	ErrDescriptionTooLong,
	ErrMissingTimestamp,
	ErrMissingID,
	ErrInvalidCoordinate,
	ErrInvalidTag,
}

// IsValidationError reports whether err was caused by invalid user input.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// NewLocation builds a location, turning empty strings into nil fields.
func NewLocation(c Coordinate, city, countryCode string) *Location {
	loc := &Location{Coordinate: c}
	if city = strings.TrimSpace(city); city != "" {
		loc.City = &city
	}
	if countryCode = strings.ToUpper(strings.TrimSpace(countryCode)); countryCode != "" {
		loc.CountryCode = &countryCode
	}
	return loc
}

func (t Transaction) Validate() error {
	if t.ID == uuid.Nil {
		return ErrMissingID
	}
	if t.CreatedAt.IsZero() {
		return ErrMissingTimestamp
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > maxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if err := t.Value.Validate(); err != nil {
		return err
	}
	for _, tag := range t.Tags {
		if strings.TrimSpace(tag) == "" {
			return ErrInvalidTag
		}
	}
	if t.Location != nil && !t.Location.Valid() {
		return ErrInvalidCoordinate
	}
	return nil
}

// IsIncome reports whether the transaction adds money.
func (t Transaction) IsIncome() bool {
	return t.Value.Minor > 0
}

// InMonth reports whether the transaction falls in the UTC calendar month
// containing date.
func (t Transaction) InMonth(date time.Time) bool {
	start, end := MonthBounds(date)
	ts := t.CreatedAt.UTC()
	return !ts.Before(start) && ts.Before(end)
}

// MonthBounds returns the half-open UTC interval [start, end) of the calendar
// month containing date.
func MonthBounds(date time.Time) (time.Time, time.Time) {
	d := date.UTC()
	start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func normalizeCurrency(code string) (string, error) {
	code = currency.Normalize(code)
	if !currency.IsValidCode(code) {
		return "", ErrInvalidCurrency
	}
	return code, nil
}
