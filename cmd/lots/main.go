// lots is the operator CLI for the tax-lot ledger: list a user's lots,
// record a purchase, or record a sale, directly against the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/config"
	"github.com/invtrack/tracker-engine/internal/ledger"
	"github.com/invtrack/tracker-engine/internal/model"
	"github.com/invtrack/tracker-engine/internal/store"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&listCmd{}, "ledger")
	subcommands.Register(&buyCmd{}, "ledger")
	subcommands.Register(&sellCmd{}, "ledger")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

// openLedger connects to the database from DATABASE_URL and returns a
// ledger service plus its cleanup.
func openLedger(ctx context.Context) (*ledger.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	return ledger.NewService(store.NewPostgresStore(pool)), pool.Close, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "error:", err)
	return subcommands.ExitFailure
}

// parseDay parses a YYYY-MM-DD flag, defaulting to today when empty.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return model.Day(time.Now().UTC()), nil
	}
	return model.ParseDate(s)
}

type listCmd struct {
	user string
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list a user's tax lots" }
func (*listCmd) Usage() string {
	return `list -user <id>:
  Print every tax lot recorded for the user.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user ID (required)")
}

func (c *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}

	svc, cleanup, err := openLedger(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	lots, err := svc.ListAll(ctx, c.user)
	if err != nil {
		return fail(err)
	}
	if len(lots) == 0 {
		fmt.Println("no lots recorded")
		return subcommands.ExitSuccess
	}

	fmt.Printf("%-8s %-12s %10s %12s %10s %-14s\n",
		"SECURITY", "PURCHASED", "SHARES", "PRICE", "REMAINING", "STATE")
	for _, lot := range lots {
		fmt.Printf("%-8s %-12s %10s %12s %10s %-14s\n",
			lot.Security,
			model.FormatDate(lot.PurchaseDate),
			lot.NShares.String(),
			lot.Price.StringFixed(2),
			lot.RemainingShares().String(),
			string(lot.State()),
		)
	}
	return subcommands.ExitSuccess
}

type buyCmd struct {
	user          string
	security      string
	shares        string
	price         string
	purchaseDate  string
	firstDividend string
	reinvest      bool
}

func (*buyCmd) Name() string     { return "buy" }
func (*buyCmd) Synopsis() string { return "record a purchase as a new tax lot" }
func (*buyCmd) Usage() string {
	return `buy -user <id> -security <ticker> -shares <n> -price <total>:
  Record a purchase. The purchase date defaults to today; one lot per
  user, security and purchase date.
`
}

func (c *buyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user ID (required)")
	f.StringVar(&c.security, "security", "", "ticker symbol (required)")
	f.StringVar(&c.shares, "shares", "", "number of shares (required)")
	f.StringVar(&c.price, "price", "", "total purchase price (required)")
	f.StringVar(&c.purchaseDate, "purchase-date", "", "YYYY-MM-DD, default today")
	f.StringVar(&c.firstDividend, "first-dividend-date", "", "YYYY-MM-DD, default purchase date")
	f.BoolVar(&c.reinvest, "reinvest", false, "reinvest dividends")
}

func (c *buyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" || c.security == "" || c.shares == "" || c.price == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}

	shares, err := decimal.NewFromString(c.shares)
	if err != nil {
		return fail(fmt.Errorf("bad -shares %q: %w", c.shares, err))
	}
	price, err := decimal.NewFromString(c.price)
	if err != nil {
		return fail(fmt.Errorf("bad -price %q: %w", c.price, err))
	}
	purchaseDate, err := parseDay(c.purchaseDate)
	if err != nil {
		return fail(fmt.Errorf("bad -purchase-date %q: %w", c.purchaseDate, err))
	}

	order := ledger.BuyOrder{
		UserID:       c.user,
		Security:     c.security,
		NShares:      shares,
		Price:        price,
		PurchaseDate: purchaseDate,
		Reinvest:     c.reinvest,
	}
	if c.firstDividend != "" {
		if order.FirstDividendDate, err = model.ParseDate(c.firstDividend); err != nil {
			return fail(fmt.Errorf("bad -first-dividend-date %q: %w", c.firstDividend, err))
		}
	}

	svc, cleanup, err := openLedger(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	lot, err := svc.Buy(ctx, order)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("recorded lot %s/%s/%s: %s shares for %s\n",
		lot.UserID, lot.Security, model.FormatDate(lot.PurchaseDate),
		lot.NShares.String(), lot.Price.StringFixed(2))
	return subcommands.ExitSuccess
}

type sellCmd struct {
	user         string
	security     string
	shares       string
	price        string
	purchaseDate string
	sellDate     string
}

func (*sellCmd) Name() string     { return "sell" }
func (*sellCmd) Synopsis() string { return "record a sale against an existing tax lot" }
func (*sellCmd) Usage() string {
	return `sell -user <id> -security <ticker> -purchase-date <date> -shares <n> -price <total>:
  Record a sale against the lot bought on purchase-date. The sell date
  defaults to today and decides short- vs long-term classification.
`
}

func (c *sellCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user ID (required)")
	f.StringVar(&c.security, "security", "", "ticker symbol (required)")
	f.StringVar(&c.shares, "shares", "", "number of shares to sell (required)")
	f.StringVar(&c.price, "price", "", "total sale price (required)")
	f.StringVar(&c.purchaseDate, "purchase-date", "", "YYYY-MM-DD of the lot (required)")
	f.StringVar(&c.sellDate, "sell-date", "", "YYYY-MM-DD, default today")
}

func (c *sellCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" || c.security == "" || c.shares == "" || c.price == "" || c.purchaseDate == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}

	shares, err := decimal.NewFromString(c.shares)
	if err != nil {
		return fail(fmt.Errorf("bad -shares %q: %w", c.shares, err))
	}
	price, err := decimal.NewFromString(c.price)
	if err != nil {
		return fail(fmt.Errorf("bad -price %q: %w", c.price, err))
	}
	purchaseDate, err := model.ParseDate(c.purchaseDate)
	if err != nil {
		return fail(fmt.Errorf("bad -purchase-date %q: %w", c.purchaseDate, err))
	}
	sellDate, err := parseDay(c.sellDate)
	if err != nil {
		return fail(fmt.Errorf("bad -sell-date %q: %w", c.sellDate, err))
	}

	svc, cleanup, err := openLedger(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	lot, err := svc.Sell(ctx, ledger.SellOrder{
		UserID:       c.user,
		Security:     c.security,
		PurchaseDate: purchaseDate,
		NShares:      shares,
		Price:        price,
		SellDate:     sellDate,
	})
	if err != nil {
		return fail(err)
	}
	fmt.Printf("sold %s of %s: %s short-term, %s long-term, %s remaining (%s)\n",
		shares.String(), lot.Security,
		lot.Sold.ShortTermShares.String(), lot.Sold.LongTermShares.String(),
		lot.RemainingShares().String(), string(lot.State()))
	return subcommands.ExitSuccess
}
