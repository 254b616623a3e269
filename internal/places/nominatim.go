// Package places talks to a Nominatim geocoding server for place search and
// reverse geocoding.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dosmangos/internal/core"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	defaultTimeout   = 10 * time.Second
	defaultLimit     = 10
	defaultUserAgent = "dosmangos/1.0"
	searchPath       = "/search"
	reversePath      = "/reverse"
)

// ErrNoPlace is returned by ReverseGeocode when the server knows nothing
// about the coordinate.
var ErrNoPlace = errors.New("no place at coordinate")

// StatusError reports a non-200 answer from the server.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nominatim %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limit      int
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithUserAgent identifies the app to the server, as its usage policy asks.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

func WithLimit(n int) Option {
	return func(cl *Client) { cl.limit = n }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  defaultUserAgent,
		limit:      defaultLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type address struct {
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	Hamlet      string `json:"hamlet"`
	CountryCode string `json:"country_code"`
}

func (a address) locality() string {
	for _, s := range []string{a.City, a.Town, a.Village, a.Hamlet} {
		if s != "" {
			return s
		}
	}
	return ""
}

type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
	Error       string  `json:"error"`
}

// Search implements search.Searcher. A zero region searches worldwide.
func (c *Client) Search(ctx context.Context, query string, region core.Region) ([]core.SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")
	q.Set("limit", strconv.Itoa(c.limit))
	if region.SpanLatitude > 0 && region.SpanLongitude > 0 {
		q.Set("viewbox", viewbox(region))
	}

	var found []place
	if err := c.get(ctx, "search", searchPath, q, &found); err != nil {
		return nil, err
	}

	results := make([]core.SearchResult, 0, len(found))
	for _, p := range found {
		coord, err := p.coordinate()
		if err != nil {
			continue
		}
		title, subtitle := splitDisplayName(p.Name, p.DisplayName)
		results = append(results, core.SearchResult{Title: title, Subtitle: subtitle, Coordinate: coord})
	}
	return results, nil
}

// ReverseGeocode implements location.Geocoder.
func (c *Client) ReverseGeocode(ctx context.Context, coord core.Coordinate) (core.Placemark, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")
	q.Set("zoom", "10")
	q.Set("lat", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))

	var p place
	if err := c.get(ctx, "reverse", reversePath, q, &p); err != nil {
		return core.Placemark{}, err
	}
	if p.Error != "" {
		return core.Placemark{}, fmt.Errorf("%w: %s", ErrNoPlace, p.Error)
	}
	return core.Placemark{
		City:        p.Address.locality(),
		CountryCode: strings.ToUpper(p.Address.CountryCode),
	}, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("nominatim %s: build request: %w", op, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nominatim %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nominatim %s: decode response: %w", op, err)
	}
	return nil
}

func (p place) coordinate() (core.Coordinate, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return core.Coordinate{}, err
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return core.Coordinate{}, err
	}
	c := core.Coordinate{Latitude: lat, Longitude: lon}
	if !c.Valid() {
		return core.Coordinate{}, core.ErrInvalidCoordinate
	}
	return c, nil
}

// viewbox renders a region as Nominatim's "left,top,right,bottom".
func viewbox(r core.Region) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	halfLat, halfLon := r.SpanLatitude/2, r.SpanLongitude/2
	return strings.Join([]string{
		f(r.Center.Longitude - halfLon),
		f(r.Center.Latitude + halfLat),
		f(r.Center.Longitude + halfLon),
		f(r.Center.Latitude - halfLat),
	}, ",")
}

// splitDisplayName uses the place name as title and the rest of the display
// name as subtitle.
func splitDisplayName(name, display string) (string, string) {
	head, rest, found := strings.Cut(display, ",")
	if name == "" {
		name = strings.TrimSpace(head)
	}
	if !found {
		return name, ""
	}
	if strings.TrimSpace(head) != name {
		return name, strings.TrimSpace(display)
	}
	return name, strings.TrimSpace(rest)
}
