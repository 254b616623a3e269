package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"dosmangos/internal/log"
	"dosmangos/internal/storage"
)

func (s *Server) unavailable(w http.ResponseWriter, r *http.Request, what string) {
	ErrorResponse(r, http.StatusServiceUnavailable, what+" not configured").Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"uptime":    s.clock.Since(s.start).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks the store and reports the size of the in-memory state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{}
	if s.deps.Storage == nil {
		checks["storage"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else if err := s.deps.Storage.Ping(ctx); err != nil {
		checks["storage"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}
	checks["search_sessions"] = s.sessions.Size()
	checks["rate_limit_clients"] = s.limiter.ActiveClients()
	checks["requests_total"] = s.tracer.GetMetrics().TotalRequests

	NewJSONResponse().Status(code).Body(map[string]any{
		"status":    status,
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transactions == nil {
		s.unavailable(w, r, "transactions")
		return
	}
	date, err := ParseDateParam(r.URL.Query(), "date", s.clock.Now())
	if err != nil {
		writeError(w, r, err, log.OpList)
		return
	}

	txs, err := s.deps.Transactions.List(r.Context(), date)
	warnings := []string{}
	var decodeErr *storage.DecodeError
	if errors.As(err, &decodeErr) {
		for _, re := range decodeErr.Rows {
			warnings = append(warnings, re.Error())
		}
		log.FromContext(r.Context()).WarnContext(r.Context(), "undecodable rows skipped", "rows", len(decodeErr.Rows))
	} else if err != nil {
		writeError(w, r, err, log.OpList)
		return
	}

	out := transactionListJSON{
		Month:        date.Format("2006-01"),
		Transactions: make([]transactionJSON, 0, len(txs)),
		Warnings:     warnings,
	}
	for _, t := range txs {
		out.Transactions = append(out.Transactions, newTransactionJSON(t))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transactions == nil {
		s.unavailable(w, r, "transactions")
		return
	}
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		writeError(w, r, err, log.OpCreate)
		return
	}
	in, err := parseTransactionInput(p)
	if err != nil {
		writeError(w, r, err, log.OpCreate)
		return
	}
	if id := p.Get("id"); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			ErrorResponse(r, http.StatusBadRequest, "invalid id").Write(w)
			return
		}
		in.ID = parsed
	}

	t, err := s.deps.Transactions.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err, log.OpCreate)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/transactions/"+t.ID.String()).
		Body(newTransactionJSON(t)).
		Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transactions == nil {
		s.unavailable(w, r, "transactions")
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		writeError(w, r, err, log.OpUpdate)
		return
	}
	in, err := parseTransactionInput(p)
	if err != nil {
		writeError(w, r, err, log.OpUpdate)
		return
	}
	t, err := s.deps.Transactions.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err, log.OpUpdate)
		return
	}
	NewJSONResponse().Body(newTransactionJSON(t)).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transactions == nil {
		s.unavailable(w, r, "transactions")
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Transactions.Delete(r.Context(), id); err != nil {
		writeError(w, r, err, log.OpDelete)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(r, http.StatusBadRequest, "invalid transaction id").Write(w)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summary == nil {
		s.unavailable(w, r, "summary")
		return
	}
	q := r.URL.Query()
	date, err := ParseDateParam(q, "date", s.clock.Now())
	if err != nil {
		writeError(w, r, err, log.OpRead)
		return
	}
	code := q.Get("currency")
	if strings.TrimSpace(code) == "" {
		code = s.config.DefaultCurrency
	}
	report, err := s.deps.Summary.Month(r.Context(), date, code)
	if err != nil {
		writeError(w, r, err, log.OpRead)
		return
	}
	NewJSONResponse().Body(newSummaryJSON(report)).Write(w)
}

// handleLedger returns the in-memory view of the current month, kept up to
// date by every write through this server.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		s.unavailable(w, r, "ledger")
		return
	}
	l := s.deps.Ledger.State()
	if !l.Loaded {
		ErrorResponse(r, http.StatusServiceUnavailable, "ledger not loaded").Write(w)
		return
	}
	NewJSONResponse().Body(newLedgerJSON(l)).Write(w)
}

// handleUpdateSearch feeds one query edit to the session's coordinator and
// returns the state right after the edit.
func (s *Server) handleUpdateSearch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")
	if !sessionIDPattern.MatchString(id) {
		ErrorResponse(r, http.StatusBadRequest, "invalid session id").Write(w)
		return
	}
	if s.deps.Searcher == nil {
		s.unavailable(w, r, "place search")
		return
	}
	req, err := decodeSearchRequest(w, r)
	if err != nil {
		writeError(w, r, err, log.OpSearch)
		return
	}
	c, _ := s.session(id, true)
	if req.Region != nil {
		c.SetRegion(*req.Region)
	}
	c.Update(req.Query)
	NewJSONResponse().Status(http.StatusAccepted).Body(c.State()).Write(w)
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(r.PathValue("session"), false)
	if !ok {
		ErrorResponse(r, http.StatusNotFound, "unknown search session").Write(w)
		return
	}
	NewJSONResponse().Body(c.State()).Write(w)
}

func (s *Server) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	s.sessionsMu.Lock()
	s.sessions.Delete(r.PathValue("session"))
	s.sessionsMu.Unlock()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleLocation answers 204 when location services are off or not
// authorized.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Location == nil {
		s.unavailable(w, r, "location")
		return
	}
	loc, err := s.deps.Location.Load(r.Context())
	if err != nil {
		writeError(w, r, err, log.OpGeocode)
		return
	}
	if loc == nil {
		NewJSONResponse().Status(http.StatusNoContent).Write(w)
		return
	}
	NewJSONResponse().Body(loc).Write(w)
}

// handleRates answers in the openexchangerates shape, with one value per
// rate type for each currency.
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rates == nil {
		s.unavailable(w, r, "rates")
		return
	}
	q := r.URL.Query()
	base := strings.ToUpper(strings.TrimSpace(q.Get("base")))
	if base == "" {
		base = "USD"
	}
	var symbols []string
	if v := strings.TrimSpace(q.Get("symbols")); v != "" {
		symbols = strings.Split(v, ",")
	}

	date, err := s.deps.Rates.ResolveDate(r.Context(), strings.TrimSpace(q.Get("date")))
	if err != nil {
		writeError(w, r, err, log.OpFetch)
		return
	}
	table, err := s.deps.Rates.GetRates(r.Context(), base, symbols, date, strings.TrimSpace(q.Get("rate_type")))
	if err != nil {
		writeError(w, r, err, log.OpFetch)
		return
	}
	NewJSONResponse().Body(ratesJSON{Base: base, Date: date, Rates: table}).Write(w)
}

func (s *Server) handleCurrencies(w http.ResponseWriter, r *http.Request) {
	if s.deps.Currencies == nil {
		s.unavailable(w, r, "currencies")
		return
	}
	list, err := s.deps.Currencies.Currencies(r.Context())
	if err != nil {
		writeError(w, r, err, log.OpFetch)
		return
	}
	NewJSONResponse().Header("Cache-Control", "public, max-age=86400").Body(list).Write(w)
}

