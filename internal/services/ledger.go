package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"dosmangos/internal/amqp"
	"dosmangos/internal/core"
	"dosmangos/internal/log"
	"dosmangos/internal/state"
	"dosmangos/internal/storage"
)

// Ledger is what a client shows for one month.
type Ledger struct {
	Month        time.Time // first instant of the month, UTC
	Transactions []core.Transaction
	Summary      core.MonthlySummary
	Warnings     []string
	Loaded       bool
}

// MonthFetcher lists the transactions of one calendar month.
type MonthFetcher interface {
	Fetch(ctx context.Context, date time.Time) ([]core.Transaction, error)
}

// LedgerView keeps the visible month and its summary in sync with changes.
//
// Changes applied while a load is fetching are recorded and replayed onto the
// fetched month, so a reload never drops a concurrent write.
type LedgerView struct {
	fetcher  MonthFetcher
	currency string
	logger   *log.Logger
	state    *state.Store[Ledger]

	mu       sync.Mutex
	gen      uint64   // last load started
	inflight int      // loads between start and publish
	pending  []Change // changes seen while inflight > 0
}

func NewLedgerView(fetcher MonthFetcher, currency string, logger *log.Logger) *LedgerView {
	if logger == nil {
		logger = log.Discard()
	}
	return &LedgerView{
		fetcher:  fetcher,
		currency: currency,
		logger:   logger.WithComponent(log.ComponentTransaction),
		state:    state.New(Ledger{}),
	}
}

// Load replaces the view with the month containing date. Rows that cannot
// be decoded are reported as warnings and left out.
func (v *LedgerView) Load(ctx context.Context, date time.Time) error {
	v.mu.Lock()
	v.gen++
	gen, from := v.gen, len(v.pending)
	v.inflight++
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.inflight--
		if v.inflight == 0 {
			v.pending = nil
		}
		v.mu.Unlock()
	}()

	txs, err := v.fetcher.Fetch(ctx, date)
	var warnings []string
	var decodeErr *storage.DecodeError
	if errors.As(err, &decodeErr) {
		for _, re := range decodeErr.Rows {
			warnings = append(warnings, re.Error())
		}
		v.logger.WarnContext(ctx, "month has undecodable rows", "rows", len(decodeErr.Rows))
	} else if err != nil {
		return fmt.Errorf("load month: %w", err)
	}

	start, _ := core.MonthBounds(date)
	l := Ledger{
		Month:        start,
		Transactions: txs,
		Summary:      core.Summarize(start, v.currency, txs),
		Warnings:     warnings,
		Loaded:       true,
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		// a newer load owns the view
		return nil
	}
	for _, c := range v.pending[from:] {
		l = v.fold(l, c)
	}
	v.state.Set(l)
	return nil
}

// RetryLoad loads the current month, retrying with exponential backoff from
// initial up to maxDelay until a load succeeds or ctx is done.
func (v *LedgerView) RetryLoad(ctx context.Context, clk clock.Clock, initial, maxDelay time.Duration) error {
	delay := initial
	for {
		err := v.Load(ctx, clk.Now())
		if err == nil {
			return nil
		}
		v.logger.WarnContext(ctx, "ledger load failed, retrying", log.FieldError, err.Error(), "retry_in", delay.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Apply folds one stored change into the view. Changes outside the visible
// month only remove the transaction if it moved away.
func (v *LedgerView) Apply(c Change) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.inflight > 0 {
		v.pending = append(v.pending, c)
	}
	v.state.Update(func(l Ledger) Ledger {
		if !l.Loaded {
			return l
		}
		return v.fold(l, c)
	})
}

// fold is idempotent, so replaying a change the fetch already saw is harmless.
func (v *LedgerView) fold(l Ledger, c Change) Ledger {
	txs := make([]core.Transaction, 0, len(l.Transactions)+1)
	for _, t := range l.Transactions {
		if t.ID != c.Transaction.ID {
			txs = append(txs, t)
		}
	}
	if c.Type != amqp.EventDeleted && c.Transaction.InMonth(l.Month) {
		txs = append(txs, c.Transaction)
	}
	sortNewestFirst(txs)
	l.Transactions = txs
	l.Summary = core.Summarize(l.Month, v.currency, txs)
	return l
}

func (v *LedgerView) State() Ledger {
	return v.state.Get()
}

// Subscribe delivers the current ledger and then every change.
func (v *LedgerView) Subscribe() (<-chan Ledger, func()) {
	return v.state.Subscribe()
}

func (v *LedgerView) Close() {
	v.state.Close()
}

func sortNewestFirst(txs []core.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].ID.String() < txs[j].ID.String()
	})
}
