// Package admin holds the maintenance commands of dosmangos-admin.
package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/subcommands"

	"dosmangos/internal/cli"
	"dosmangos/internal/config"
	"dosmangos/internal/core"
	"dosmangos/internal/currency"
	"dosmangos/internal/log"
	"dosmangos/internal/rates"
	"dosmangos/internal/services"
	"dosmangos/internal/storage"
)

// Env is what every command runs against.
type Env struct {
	Config *config.Config
	Logger *log.Logger
	Clock  clock.Clock
	Out    io.Writer
	Err    io.Writer
}

// Commands returns the admin commands bound to env.
func Commands(env *Env) []subcommands.Command {
	return []subcommands.Command{
		&migrateCmd{env: env},
		&fetchRatesCmd{env: env},
		&listCmd{env: env},
		&addCmd{env: env},
		&sheetsAuthCmd{env: env},
	}
}

func (e *Env) openStorage(ctx context.Context) (*storage.Repository, error) {
	repo := storage.Open(e.Config.SQLiteDBPath,
		storage.WithLogger(e.Logger),
		storage.WithLegacyCurrency(e.Config.DefaultCurrency))
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func (e *Env) fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(e.Err, format+"\n", args...)
	return subcommands.ExitFailure
}

type migrateCmd struct{ env *Env }

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create or upgrade the database schema" }
func (*migrateCmd) Usage() string {
	return `dosmangos-admin migrate

  Applies pending schema migrations and imports rows from the legacy
  single-table layout when present.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	repo, err := c.env.openStorage(ctx)
	if err != nil {
		return c.env.fail("migrate: %v", err)
	}
	defer repo.Close()
	fmt.Fprintf(c.env.Out, "database %s is up to date\n", c.env.Config.SQLiteDBPath)
	return subcommands.ExitSuccess
}

type fetchRatesCmd struct {
	env  *Env
	date string
}

func (*fetchRatesCmd) Name() string     { return "fetch-rates" }
func (*fetchRatesCmd) Synopsis() string { return "download exchange rates for one day" }
func (*fetchRatesCmd) Usage() string {
	return `dosmangos-admin fetch-rates [-date YYYY-MM-DD]

  Downloads official and blue rates for the date (latest when omitted) and
  stores them. Fails only when every provider fails.
`
}

func (c *fetchRatesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "rate date (YYYY-MM-DD), latest when empty")
}

func (c *fetchRatesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.date != "" {
		if _, err := rates.ParseDate(c.date); err != nil {
			return c.env.fail("fetch-rates: %v", err)
		}
	}
	repo, err := c.env.openStorage(ctx)
	if err != nil {
		return c.env.fail("fetch-rates: %v", err)
	}
	defer repo.Close()

	stack := cli.NewRateStack(c.env.Config, repo, c.env.Logger)
	failed := 0
	sources := stack.Sources(c.env.Config)
	for _, src := range sources {
		n, err := src.Fetcher.FetchAndStore(ctx, c.date)
		if err != nil {
			failed++
			fmt.Fprintf(c.env.Err, "%s: %v\n", src.Name, err)
			continue
		}
		fmt.Fprintf(c.env.Out, "%s: stored %d rates\n", src.Name, n)
	}
	if failed == len(sources) {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type listCmd struct {
	env      *Env
	date     string
	currency string
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "print the transactions of a month" }
func (*listCmd) Usage() string {
	return `dosmangos-admin list [-date YYYY-MM-DD] [-currency CODE]

  Prints the transactions of the month containing date, newest first,
  followed by the month summary in the given currency.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "any day of the month to list, today when empty")
	f.StringVar(&c.currency, "currency", "", "summary currency, DEFAULT_CURRENCY when empty")
}

func (c *listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	date := c.env.Clock.Now().UTC()
	if c.date != "" {
		d, err := rates.ParseDate(c.date)
		if err != nil {
			return c.env.fail("list: %v", err)
		}
		date = d
	}
	code := c.currency
	if code == "" {
		code = c.env.Config.DefaultCurrency
	}

	repo, err := c.env.openStorage(ctx)
	if err != nil {
		return c.env.fail("list: %v", err)
	}
	defer repo.Close()

	stack := cli.NewRateStack(c.env.Config, repo, c.env.Logger)
	report, err := services.NewSummaryService(repo, stack.Service, c.env.Logger).Month(ctx, date, code)
	if err != nil {
		return c.env.fail("list: %v", err)
	}
	txs, err := repo.Fetch(ctx, date)
	var decodeErr *storage.DecodeError
	if err != nil && !errors.As(err, &decodeErr) {
		return c.env.fail("list: %v", err)
	}

	w := tabwriter.NewWriter(c.env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tDESCRIPTION\tAMOUNT\tCATEGORY\tTAGS\tPLACE")
	for _, t := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.UTC().Format(time.DateOnly), t.Description, t.Value.String(),
			t.Category, strings.Join(t.Tags, ","), place(t.Location))
	}
	_ = w.Flush()

	fmt.Fprintf(c.env.Out, "\n%04d-%02d in %s: income %s, expenses %s, net %s (%d transactions, %d converted)\n",
		report.Year, report.Month, report.Currency,
		currency.Format(report.Income.Minor, report.Currency),
		currency.Format(report.Expenses.Minor, report.Currency),
		currency.Format(report.NetWorth.Minor, report.Currency),
		report.Count, report.Converted)
	for _, s := range report.Skipped {
		fmt.Fprintf(c.env.Out, "skipped %s (%s): %s\n", s.ID, s.Currency, s.Reason)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(c.env.Out, "warning: %s\n", warning)
	}
	return subcommands.ExitSuccess
}

func place(loc *core.Location) string {
	switch {
	case loc == nil:
		return ""
	case loc.City != nil:
		return *loc.City
	default:
		return fmt.Sprintf("%.4f,%.4f", loc.Latitude, loc.Longitude)
	}
}

type addCmd struct {
	env         *Env
	description string
	amount      string
	currency    string
	category    string
	tags        string
	date        string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record a transaction" }
func (*addCmd) Usage() string {
	return `dosmangos-admin add -desc <text> -amount <signed decimal> [-currency CODE] [-category NAME] [-tags a,b] [-date YYYY-MM-DD]

  Stores one transaction. Negative amounts are expenses.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.description, "desc", "", "description")
	f.StringVar(&c.amount, "amount", "", "signed amount, e.g. -1500,50")
	f.StringVar(&c.currency, "currency", "", "currency code, DEFAULT_CURRENCY when empty")
	f.StringVar(&c.category, "category", "", "category")
	f.StringVar(&c.tags, "tags", "", "comma separated tags")
	f.StringVar(&c.date, "date", "", "transaction day (YYYY-MM-DD), now when empty")
}

func (c *addCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	in := services.TransactionInput{
		Description: c.description,
		Amount:      c.amount,
		Currency:    c.currency,
		Category:    c.category,
	}
	if c.tags != "" {
		in.Tags = strings.Split(c.tags, ",")
	}
	if c.date != "" {
		d, err := rates.ParseDate(c.date)
		if err != nil {
			return c.env.fail("add: %v", err)
		}
		in.CreatedAt = d
	}

	repo, err := c.env.openStorage(ctx)
	if err != nil {
		return c.env.fail("add: %v", err)
	}
	defer repo.Close()

	svc := services.NewTransactionService(repo,
		services.WithClock(c.env.Clock),
		services.WithDefaultCurrency(c.env.Config.DefaultCurrency),
		services.WithLogger(c.env.Logger))
	t, err := svc.Create(ctx, in)
	if err != nil {
		return c.env.fail("add: %v", err)
	}
	fmt.Fprintf(c.env.Out, "%s %s %s\n", t.ID, t.Value.String(), t.Description)
	return subcommands.ExitSuccess
}
