// Package search turns a stream of query edits into place searches.
//
// A Coordinator waits for the query to settle before searching, cancels work
// for superseded queries, and publishes its state for observers.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"dosmangos/internal/core"
	"dosmangos/internal/log"
	"dosmangos/internal/state"
)

// DefaultDebounce is the quiet period between the last edit and the search.
const DefaultDebounce = 300 * time.Millisecond

// Searcher finds places matching a query near a region.
type Searcher interface {
	Search(ctx context.Context, query string, region core.Region) ([]core.SearchResult, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, region core.Region) ([]core.SearchResult, error)

func (f SearcherFunc) Search(ctx context.Context, query string, region core.Region) ([]core.SearchResult, error) {
	return f(ctx, query, region)
}

// State is what observers of a Coordinator see.
type State struct {
	Query     string              `json:"query"`
	Results   []core.SearchResult `json:"results"`
	Searching bool                `json:"searching"`
}

type Coordinator struct {
	searcher Searcher
	clock    clock.Clock
	debounce time.Duration
	logger   *log.Logger
	store    *state.Store[State]

	mu     sync.Mutex
	region core.Region
	timer  *clock.Timer
	cancel context.CancelFunc
	closed bool
}

type Option func(*Coordinator)

func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.debounce = d }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

func WithRegion(r core.Region) Option {
	return func(c *Coordinator) { c.region = r }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l.WithComponent(log.ComponentSearch)
		}
	}
}

func NewCoordinator(searcher Searcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		searcher: searcher,
		clock:    clock.New(),
		debounce: DefaultDebounce,
		logger:   log.Discard(),
		store:    state.New(State{Results: []core.SearchResult{}}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update records a new query. A blank query clears the results at once.
// Any other query replaces the pending one and restarts the quiet period.
func (c *Coordinator) Update(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		c.store.Set(State{Query: query, Results: []core.SearchResult{}})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	region := c.region
	c.store.Update(func(s State) State {
		return State{Query: query, Results: s.Results, Searching: true}
	})
	c.timer = c.clock.AfterFunc(c.debounce, func() {
		c.run(ctx, cancel, trimmed, region)
	})
}

// run issues the search for one surviving query and publishes the outcome
// unless a newer update cancelled ctx in the meantime.
func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, query string, region core.Region) {
	if ctx.Err() != nil {
		return
	}
	results, err := c.searcher.Search(ctx, query, region)

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	cancel()
	c.cancel = nil
	c.timer = nil

	if err != nil {
		c.logger.Warn("Place search failed", log.FieldSearchQuery, query, log.FieldError, err)
		results = nil
	}
	if results == nil {
		results = []core.SearchResult{}
	}
	c.logger.Debug("Place search finished", log.FieldSearchQuery, query, log.FieldResultCount, len(results))
	c.store.Update(func(s State) State {
		return State{Query: s.Query, Results: results, Searching: false}
	})
}

func (c *Coordinator) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// SetRegion changes the area later searches are biased to.
func (c *Coordinator) SetRegion(r core.Region) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.region = r
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	return c.store.Get()
}

// Subscribe follows state changes; see state.Store.Subscribe.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	return c.store.Subscribe()
}

// Close cancels pending work and ends all subscriptions.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopLocked()
	c.store.Close()
}
