package rates

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
)

const (
	DefaultAmbitoBaseURL = "https://mercados.ambito.com"
	ambitoHistoryPath    = "/dolar/informal/historico-general"
	ambitoSource         = "ambito"
	ambitoWeekendSource  = "ambito (weekend)"
	providerAmbito       = "ambito"
	ambitoWindow         = 15 * 24 * time.Hour
	ambitoUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// argentina is UTC-3 all year; the country has not observed DST since 2009.
var argentina = time.FixedZone("ART", -3*60*60)

// BlueQuote is one day of informal dollar quotes in ARS.
type BlueQuote struct {
	Date string
	Buy  decimal.Decimal
	Sell decimal.Decimal
}

// AmbitoClient fetches informal ("blue") ARS quotes from ambito.com.
type AmbitoClient struct {
	httpClient *http.Client
	baseURL    string
	store      Store
	clock      clock.Clock
}

func NewAmbitoClient(baseURL string, store Store, httpClient *http.Client, clk clock.Clock) *AmbitoClient {
	if baseURL == "" {
		baseURL = DefaultAmbitoBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &AmbitoClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		clock:      clk,
	}
}

// History returns the quotes published between from and to (YYYY-MM-DD).
func (c *AmbitoClient) History(ctx context.Context, from, to string) ([]BlueQuote, error) {
	u := c.baseURL + ambitoHistoryPath + "/" + from + "/" + to
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ProviderError{Provider: providerAmbito, Message: "build request", Err: err}
	}
	req.Header.Set("User-Agent", ambitoUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: providerAmbito, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{Provider: providerAmbito, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var rows [][]string
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &ProviderError{Provider: providerAmbito, Message: "decode history", Err: err}
	}
	return parseHistory(rows)
}

// parseHistory reads the provider's table. The first row is a header.
func parseHistory(rows [][]string) ([]BlueQuote, error) {
	if len(rows) < 2 {
		return nil, &ProviderError{Provider: providerAmbito, Message: "unexpected response format"}
	}
	quotes := make([]BlueQuote, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != 3 {
			continue
		}
		date, ok := parseAmbitoDate(row[0])
		if !ok {
			continue
		}
		buy, ok1 := parseArgentineNumber(row[1])
		sell, ok2 := parseArgentineNumber(row[2])
		if !ok1 || !ok2 || !buy.IsPositive() || !sell.IsPositive() {
			continue
		}
		quotes = append(quotes, BlueQuote{Date: date, Buy: buy, Sell: sell})
	}
	return quotes, nil
}

// parseArgentineNumber reads "1.490,50" style numbers.
func parseArgentineNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseAmbitoDate converts DD/MM/YYYY to YYYY-MM-DD.
func parseAmbitoDate(s string) (string, bool) {
	t, err := time.Parse("02/01/2006", strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format(DateLayout), true
}

// FetchAndStore downloads a window of quotes around date (today in Argentina
// when empty) and stores USD->ARS at the buy price and ARS->USD at the
// inverse of the sell price. Friday quotes also cover the weekend.
func (c *AmbitoClient) FetchAndStore(ctx context.Context, date string) (int, error) {
	var target time.Time
	if date == "" {
		now := c.clock.Now().In(argentina)
		target = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		t, err := ParseDate(date)
		if err != nil {
			return 0, err
		}
		target = t
	}

	quotes, err := c.History(ctx, FormatDate(target.Add(-ambitoWindow)), FormatDate(target.Add(ambitoWindow)))
	if err != nil {
		return 0, err
	}
	if len(quotes) == 0 {
		return 0, &ProviderError{Provider: providerAmbito, Message: "no rates in response"}
	}

	batch := blueRates(quotes)
	if err := c.store.InsertRates(ctx, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func blueRates(quotes []BlueQuote) []Rate {
	var out []Rate
	pair := func(date, source string, q BlueQuote) {
		out = append(out,
			Rate{From: "USD", To: "ARS", Value: q.Buy, Type: TypeBlue, Date: date, Source: source},
			Rate{From: "ARS", To: "USD", Value: decimal.NewFromInt(1).DivRound(q.Sell, 16), Type: TypeBlue, Date: date, Source: source},
		)
	}
	for _, q := range quotes {
		pair(q.Date, ambitoSource, q)
	}
	for _, q := range quotes {
		d, err := ParseDate(q.Date)
		if err != nil || d.Weekday() != time.Friday {
			continue
		}
		pair(FormatDate(d.AddDate(0, 0, 1)), ambitoWeekendSource, q)
		pair(FormatDate(d.AddDate(0, 0, 2)), ambitoWeekendSource, q)
	}
	return out
}
