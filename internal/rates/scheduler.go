package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"dosmangos/internal/log"
)

// DefaultSchedule runs the daily download at midnight UTC.
const DefaultSchedule = "0 0 * * *"

// Source is one named provider the scheduler refreshes.
type Source struct {
	Name    string
	Fetcher Fetcher
}

// Scheduler refreshes the latest rates from every source on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	sources []Source
	logger  *log.Logger
	timeout time.Duration
}

func NewScheduler(schedule string, sources []Source, logger *log.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = log.Discard()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		sources: sources,
		logger:  logger.WithComponent(log.ComponentScheduler),
		timeout: 2 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs one refresh immediately and then follows the schedule.
func (s *Scheduler) Start(ctx context.Context) {
	go s.RunOnce(ctx)
	s.cron.Start()
	s.logger.Info("rates scheduler started", "next_run", s.cron.Entries()[0].Next.Format(time.RFC3339))
}

// Stop waits for a running refresh to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("rates scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("rates scheduler stop timed out")
	}
}

// RunOnce fetches the latest rates from all sources concurrently. A failing
// source does not stop the others. It returns the number of stored rates.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	counts := make([]int, len(s.sources))
	var g errgroup.Group
	for i, src := range s.sources {
		if src.Fetcher == nil {
			continue
		}
		g.Go(func() error {
			n, err := src.Fetcher.FetchAndStore(ctx, "")
			if err != nil {
				s.logger.Error("rate refresh failed", log.FieldProvider, src.Name, log.FieldError, err.Error())
				return nil
			}
			counts[i] = n
			s.logger.Info("rate refresh complete", log.FieldProvider, src.Name, "count", n)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	s.logger.Info("daily rate fetch completed", "count", total, "duration", time.Since(start).String())
	return total
}
