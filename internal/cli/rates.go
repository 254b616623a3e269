package cli

import (
	"github.com/benbjohnson/clock"

	"dosmangos/internal/config"
	"dosmangos/internal/log"
	"dosmangos/internal/rates"
	"dosmangos/internal/storage"
)

// RateStack is the exchange rate store with its providers.
type RateStack struct {
	Repository *rates.Repository
	OXR        *rates.OXRClient
	Ambito     *rates.AmbitoClient
	Service    *rates.Service
}

// NewRateStack wires the rate providers onto the shared database. Without
// an API key the official provider is left out and only stored official
// rates are served.
func NewRateStack(cfg *config.Config, db *storage.Repository, logger *log.Logger) *RateStack {
	clk := clock.New()
	repo := rates.NewRepository(db, clk)
	st := &RateStack{
		Repository: repo,
		OXR:        rates.NewOXRClient(cfg.OpenExchangeRatesURL, cfg.OpenExchangeRatesAPIKey, repo, nil),
		Ambito:     rates.NewAmbitoClient(cfg.AmbitoURL, repo, nil, clk),
	}

	var official rates.Fetcher
	if cfg.OpenExchangeRatesAPIKey != "" {
		official = st.OXR
	} else {
		logger.Warn("OPENEXCHANGERATES_API_KEY not set, official rates will not be downloaded")
	}
	st.Service = rates.NewService(repo, official, st.Ambito, logger)
	return st
}

// Sources lists the providers the scheduler refreshes.
func (st *RateStack) Sources(cfg *config.Config) []rates.Source {
	sources := []rates.Source{{Name: "ambito", Fetcher: st.Ambito}}
	if cfg.OpenExchangeRatesAPIKey != "" {
		sources = append(sources, rates.Source{Name: "openexchangerates", Fetcher: st.OXR})
	}
	return sources
}
