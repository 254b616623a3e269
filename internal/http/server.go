package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"dosmangos/internal/cache"
	"dosmangos/internal/core"
	"dosmangos/internal/log"
	"dosmangos/internal/middleware/ratelimit"
	"dosmangos/internal/middleware/security"
	"dosmangos/internal/middleware/trace"
	"dosmangos/internal/rates"
	"dosmangos/internal/search"
	"dosmangos/internal/services"
)

const (
	maxSearchSessions = 256
	searchSessionTTL  = 15 * time.Minute
	cacheSweepEvery   = time.Minute
	readyTimeout      = 5 * time.Second
)

type TransactionService interface {
	Create(ctx context.Context, in services.TransactionInput) (core.Transaction, error)
	Update(ctx context.Context, id uuid.UUID, in services.TransactionInput) (core.Transaction, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, date time.Time) ([]core.Transaction, error)
}

type SummaryService interface {
	Month(ctx context.Context, date time.Time, code string) (services.MonthReport, error)
}

type RateService interface {
	ResolveDate(ctx context.Context, date string) (string, error)
	GetRates(ctx context.Context, base string, symbols []string, date, rateType string) (rates.Table, error)
}

type CurrencyLister interface {
	Currencies(ctx context.Context) (map[string]string, error)
}

type LocationLoader interface {
	Load(ctx context.Context) (*core.Location, error)
}

// LedgerReader exposes the live view of the current month.
type LedgerReader interface {
	State() services.Ledger
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services behind the routes. A nil dependency turns
// its routes into 503 responses.
type Dependencies struct {
	Transactions TransactionService
	Summary      SummaryService
	Rates        RateService
	Currencies   CurrencyLister
	Location     LocationLoader
	Searcher     search.Searcher
	Ledger       LedgerReader
	Storage      Pinger
}

type Config struct {
	Addr            string
	DefaultCurrency string
	SearchDebounce  time.Duration
	SearchRegion    core.Region
	RateLimit       int // write requests per client per minute
	Clock           clock.Clock
}

type Server struct {
	http.Server
	deps   Dependencies
	config Config
	clock  clock.Clock
	logger *log.Logger
	start  time.Time

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	caches   *cache.Manager

	sessionsMu sync.Mutex
	sessions   *cache.LRUCache[*search.Coordinator]

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware and starts the background sweeps.
// Call Shutdown to stop them.
func NewServer(cfg Config, deps Dependencies, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.SearchDebounce == 0 {
		cfg.SearchDebounce = search.DefaultDebounce
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		deps:     deps,
		config:   cfg,
		clock:    cfg.Clock,
		logger:   logger,
		start:    cfg.Clock.Now(),
		detector: security.NewDetector(logger),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimit, Clock: cfg.Clock}),
		caches:   cache.NewManager(cfg.Clock, logger),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)
	s.sessions = cache.NewLRUCache[*search.Coordinator](maxSearchSessions, searchSessionTTL,
		cache.WithClock[*search.Coordinator](cfg.Clock),
		cache.WithEvictHook(func(key string, c *search.Coordinator) {
			c.Close()
			logger.Debug("search session closed", "session", key)
		}))
	s.caches.Register(s.sessions)
	s.caches.StartCleanup(cacheSweepEvery)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /transactions", s.handleListTransactions)
	mux.HandleFunc("POST /transactions", s.handleCreateTransaction)
	mux.HandleFunc("PUT /transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /transactions/{id}", s.handleDeleteTransaction)
	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.HandleFunc("GET /ledger", s.handleLedger)
	mux.HandleFunc("PUT /search/{session}", s.handleUpdateSearch)
	mux.HandleFunc("GET /search/{session}", s.handleGetSearch)
	mux.HandleFunc("DELETE /search/{session}", s.handleDeleteSearch)
	mux.HandleFunc("GET /location", s.handleLocation)
	mux.HandleFunc("GET /rates", s.handleRates)
	mux.HandleFunc("GET /currencies", s.handleCurrencies)

	var h http.Handler = mux
	h = s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(r, http.StatusTooManyRequests, "rate limit exceeded").Write(w)
	}, http.MethodPost, http.MethodPut, http.MethodDelete)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.detector.Middleware(h)
	h = s.tracer.Middleware(h)
	h = log.Middleware(logger)(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// session returns the coordinator for id, creating it when create is set.
func (s *Server) session(id string, create bool) (*search.Coordinator, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if c, ok := s.sessions.Get(id); ok {
		return c, true
	}
	if !create || s.deps.Searcher == nil {
		return nil, false
	}
	c := search.NewCoordinator(s.deps.Searcher,
		search.WithDebounce(s.config.SearchDebounce),
		search.WithClock(s.clock),
		search.WithRegion(s.config.SearchRegion),
		search.WithLogger(s.logger))
	s.sessions.Set(id, c)
	return c, true
}

// Shutdown stops the sweeps, closes every search session and drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		s.caches.Stop()
		err = s.Server.Shutdown(ctx)
		s.sessionsMu.Lock()
		s.sessions.Clear()
		s.sessionsMu.Unlock()
	})
	return err
}
