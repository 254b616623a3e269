package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultOXRBaseURL = "https://openexchangerates.org/api"
	oxrSource         = "openexchangerates"
	providerOXR       = "openexchangerates"
	httpTimeout       = 10 * time.Second
)

// Store is where fetched rates end up.
type Store interface {
	InsertRates(ctx context.Context, rates []Rate) error
}

// OXRClient fetches official USD-based rates from openexchangerates.org.
type OXRClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	store      Store
}

func NewOXRClient(baseURL, apiKey string, store Store, httpClient *http.Client) *OXRClient {
	if baseURL == "" {
		baseURL = DefaultOXRBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
	}
	return &OXRClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		store:      store,
	}
}

type oxrRates struct {
	Timestamp int64                      `json:"timestamp"`
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

// Latest returns the current USD->X rates.
func (c *OXRClient) Latest(ctx context.Context) (map[string]decimal.Decimal, error) {
	resp, err := c.rates(ctx, "")
	if err != nil {
		return nil, err
	}
	return resp.Rates, nil
}

// Historical returns the USD->X rates published for date (YYYY-MM-DD).
func (c *OXRClient) Historical(ctx context.Context, date string) (map[string]decimal.Decimal, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	resp, err := c.rates(ctx, date)
	if err != nil {
		return nil, err
	}
	return resp.Rates, nil
}

// Currencies lists every currency code the provider knows with its name.
// The endpoint needs no API key.
func (c *OXRClient) Currencies(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.get(ctx, "/currencies.json", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAndStore downloads the rates for date (latest when empty) and stores
// them as USD->X official rates. The stored date is the provider's timestamp
// date in UTC, which may differ from the requested one.
func (c *OXRClient) FetchAndStore(ctx context.Context, date string) (int, error) {
	resp, err := c.rates(ctx, date)
	if err != nil {
		return 0, err
	}

	target := date
	if resp.Timestamp > 0 {
		target = FormatDate(time.Unix(resp.Timestamp, 0))
	} else if target == "" {
		target = FormatDate(time.Now())
	}

	batch := make([]Rate, 0, len(resp.Rates))
	for code, v := range resp.Rates {
		if code == "USD" {
			continue
		}
		batch = append(batch, Rate{
			From:   "USD",
			To:     code,
			Value:  v,
			Type:   TypeOfficial,
			Date:   target,
			Source: oxrSource,
		})
	}
	if err := c.store.InsertRates(ctx, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func (c *OXRClient) rates(ctx context.Context, date string) (*oxrRates, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{Provider: providerOXR, Message: "OPENEXCHANGERATES_API_KEY not set"}
	}
	path := "/latest.json"
	if date != "" {
		path = "/historical/" + date + ".json"
	}
	q := url.Values{}
	q.Set("app_id", c.apiKey)

	var out oxrRates
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *OXRClient) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &ProviderError{Provider: providerOXR, Message: "build request", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: providerOXR, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Provider: providerOXR, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: providerOXR, Message: fmt.Sprintf("decode %s", path), Err: err}
	}
	return nil
}
