// Package http serves the transaction, summary, search, location and rates
// API over JSON.
//
// This file holds request parsing shared by the handlers: month selection,
// body decoding for JSON or form clients, and input sanitizing.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dosmangos/internal/core"
	"dosmangos/internal/rates"
	"dosmangos/internal/services"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("bad request")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ParseDateParam reads a YYYY-MM-DD query parameter, defaulting to now.
func ParseDateParam(query url.Values, key string, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return now.UTC(), nil
	}
	t, err := rates.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return t, nil
}

// parseTimestamp accepts RFC 3339 or a bare date, which means midnight UTC.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := rates.ParseDate(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid created_at %q", errBadRequest, s)
}

// RequestBodyParser reads a JSON object or a form body once and exposes its
// fields as strings.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{contentType: r.Header.Get("Content-Type")}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		p.err = fmt.Errorf("%w: %w", errBadRequest, p.err)
		return p.err
	}
	body := strings.TrimSpace(string(p.body))
	if body == "" {
		p.formData = url.Values{}
		return nil
	}
	if body[0] == '{' || strings.Contains(p.contentType, "application/json") {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal([]byte(body), &p.jsonData); err != nil {
			p.err = fmt.Errorf("%w: malformed JSON: %w", errBadRequest, err)
		}
		return p.err
	}
	p.formData, p.err = url.ParseQuery(body)
	if p.err != nil {
		p.err = fmt.Errorf("%w: malformed form: %w", errBadRequest, p.err)
	}
	return p.err
}

// Get returns a field as a sanitized string. Numbers and booleans are
// formatted, other JSON values read as empty.
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		return sanitizeInput(stringValue(p.jsonData[key]))
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Has reports whether the field was sent at all.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		_, ok := p.jsonData[key]
		return ok
	}
	return p.formData != nil && p.formData.Has(key)
}

// GetStrings returns a list field: a JSON array, or repeated or
// comma-separated form values.
func (p *RequestBodyParser) GetStrings(key string) []string {
	var raw []string
	switch {
	case p.jsonData != nil:
		switch v := p.jsonData[key].(type) {
		case []any:
			for _, item := range v {
				raw = append(raw, stringValue(item))
			}
		case string:
			raw = strings.Split(v, ",")
		}
	case p.formData != nil:
		for _, v := range p.formData[key] {
			raw = append(raw, strings.Split(v, ",")...)
		}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		out = append(out, sanitizeInput(s))
	}
	return out
}

func (p *RequestBodyParser) GetBool(key string) bool {
	b, _ := strconv.ParseBool(p.Get(key))
	return b
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput trims and drops control characters other than tab and
// newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// parseTransactionInput maps a create or update body to service input.
// Location is taken from latitude/longitude when both are present.
func parseTransactionInput(p *RequestBodyParser) (services.TransactionInput, error) {
	in := services.TransactionInput{
		Description:        p.Get("description"),
		Amount:             p.Get("amount"),
		Currency:           p.Get("currency"),
		Category:           p.Get("category"),
		UseCurrentLocation: p.GetBool("use_current_location"),
	}
	if p.Has("tags") {
		in.Tags = p.GetStrings("tags")
	}
	if v := p.Get("created_at"); v != "" {
		t, err := parseTimestamp(v)
		if err != nil {
			return in, err
		}
		in.CreatedAt = t
	}

	lat, lon := p.Get("latitude"), p.Get("longitude")
	if lat != "" || lon != "" {
		c, err := parseCoordinate(lat, lon)
		if err != nil {
			return in, err
		}
		in.Location = core.NewLocation(c, p.Get("city"), p.Get("country_code"))
	}
	return in, nil
}

func parseCoordinate(lat, lon string) (core.Coordinate, error) {
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lon, 64)
	if err1 != nil || err2 != nil {
		return core.Coordinate{}, fmt.Errorf("%w: latitude and longitude must both be numbers", core.ErrInvalidCoordinate)
	}
	return core.Coordinate{Latitude: la, Longitude: lo}, nil
}

// searchRequest is the body of PUT /search/{session}.
type searchRequest struct {
	Query  string       `json:"query"`
	Region *core.Region `json:"region,omitempty"`
}

func decodeSearchRequest(w http.ResponseWriter, r *http.Request) (searchRequest, error) {
	var req searchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if req.Region != nil && !req.Region.Center.Valid() {
		return req, core.ErrInvalidCoordinate
	}
	return req, nil
}
