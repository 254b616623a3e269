package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dosmangos/internal/core"
	"dosmangos/internal/currency"
	"dosmangos/internal/location"
	"dosmangos/internal/log"
	"dosmangos/internal/middleware/trace"
	"dosmangos/internal/rates"
	"dosmangos/internal/services"
	"dosmangos/internal/storage"
)

// JSONResponseBuilder assembles a JSON response with a fluent API.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{statusCode: http.StatusOK, headers: make(map[string]string)}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the response. A nil body writes only the status.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse builds an error body carrying the request ID of r.
func ErrorResponse(r *http.Request, statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: message, RequestID: trace.GetRequestID(r.Context())})
}

// statusFor maps an error to its HTTP status: bad input 400/422, missing 404,
// conflicts 409, upstream 502/503, everything else 500.
func statusFor(err error) int {
	var providerErr *rates.ProviderError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, rates.ErrInvalidDate):
		return http.StatusBadRequest
	case core.IsValidationError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, rates.ErrNoRate):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	case errors.Is(err, location.ErrLocationFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and answers with the mapped status.
// Internal error text is not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			log.FieldOperation, op, log.FieldPath, r.URL.Path, log.FieldError, err.Error())
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	ErrorResponse(r, status, msg).Write(w)
}

type moneyJSON struct {
	Amount    string `json:"amount"`
	Minor     int64  `json:"minor"`
	Currency  string `json:"currency"`
	Formatted string `json:"formatted"`
}

func newMoneyJSON(m core.Money) moneyJSON {
	info := currency.Lookup(m.Currency)
	return moneyJSON{
		Amount:    currency.ToMajor(m.Minor, m.Currency).StringFixed(int32(info.Fraction)),
		Minor:     m.Minor,
		Currency:  m.Currency,
		Formatted: currency.Format(m.Minor, m.Currency),
	}
}

type transactionJSON struct {
	ID          uuid.UUID      `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	Description string         `json:"description"`
	Value       moneyJSON      `json:"value"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags"`
	Location    *core.Location `json:"location,omitempty"`
}

func newTransactionJSON(t core.Transaction) transactionJSON {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return transactionJSON{
		ID:          t.ID,
		CreatedAt:   t.CreatedAt.UTC(),
		Description: t.Description,
		Value:       newMoneyJSON(t.Value),
		Category:    t.Category,
		Tags:        tags,
		Location:    t.Location,
	}
}

type transactionListJSON struct {
	Month        string            `json:"month"`
	Transactions []transactionJSON `json:"transactions"`
	Warnings     []string          `json:"warnings"`
}

type summaryJSON struct {
	Year      int                           `json:"year"`
	Month     int                           `json:"month"`
	Currency  string                        `json:"currency"`
	Income    moneyJSON                     `json:"income"`
	Expenses  moneyJSON                     `json:"expenses"`
	NetWorth  moneyJSON                     `json:"net_worth"`
	Count     int                           `json:"count"`
	Converted int                           `json:"converted"`
	Skipped   []services.SkippedTransaction `json:"skipped"`
	Warnings  []string                      `json:"warnings"`
}

func newSummaryJSON(r services.MonthReport) summaryJSON {
	out := summaryJSON{
		Year:      r.Year,
		Month:     r.Month,
		Currency:  r.Currency,
		Income:    newMoneyJSON(r.Income),
		Expenses:  newMoneyJSON(r.Expenses),
		NetWorth:  newMoneyJSON(r.NetWorth),
		Count:     r.Count,
		Converted: r.Converted,
		Skipped:   r.Skipped,
		Warnings:  r.Warnings,
	}
	if out.Skipped == nil {
		out.Skipped = []services.SkippedTransaction{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	return out
}

type ledgerJSON struct {
	Month        string            `json:"month"`
	Transactions []transactionJSON `json:"transactions"`
	Summary      summaryJSON       `json:"summary"`
	Warnings     []string          `json:"warnings"`
}

func newLedgerJSON(l services.Ledger) ledgerJSON {
	out := ledgerJSON{
		Month:        l.Month.Format("2006-01"),
		Transactions: make([]transactionJSON, 0, len(l.Transactions)),
		Summary:      newSummaryJSON(services.MonthReport{MonthlySummary: l.Summary}),
		Warnings:     l.Warnings,
	}
	for _, t := range l.Transactions {
		out.Transactions = append(out.Transactions, newTransactionJSON(t))
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	return out
}

type ratesJSON struct {
	Base  string      `json:"base"`
	Date  string      `json:"date"`
	Rates rates.Table `json:"rates"`
}
