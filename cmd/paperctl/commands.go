package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"papertrade/internal/config"
	"papertrade/internal/currency"
	"papertrade/internal/db"
	"papertrade/internal/logging"
	"papertrade/internal/quotes"
	"papertrade/internal/settlement"
	"papertrade/internal/store"
	"papertrade/internal/store/postgres"
	"papertrade/internal/types"

	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var stdout io.Writer = os.Stdout

type env struct {
	cfg    config.Config
	logger *slog.Logger
}

func loadEnv() (env, error) {
	cfg, err := config.Load()
	if err != nil {
		return env{}, err
	}
	return env{cfg: cfg, logger: logging.NewLogger(cfg.LogLevel, "paperctl", cfg.Env)}, nil
}

func (e env) pool(ctx context.Context) (*pgxpool.Pool, error) {
	if e.cfg.Store != config.StorePostgres {
		return nil, fmt.Errorf("store %q has no persistent state to operate on", e.cfg.Store)
	}
	return db.NewPool(ctx, e.cfg.DBDSN)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return subcommands.ExitFailure
}

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create the database tables" }
func (*migrateCmd) Usage() string {
	return `paperctl migrate

  Applies the embedded schema to the configured database. Safe to run repeatedly.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := loadEnv()
	if err != nil {
		return fail(err)
	}
	pool, err := e.pool(ctx)
	if err != nil {
		return fail(err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return fail(err)
	}
	e.logger.Info("schema applied")
	return subcommands.ExitSuccess
}

type hashCmd struct {
	cost int
}

func (*hashCmd) Name() string     { return "hash" }
func (*hashCmd) Synopsis() string { return "print a bcrypt hash of a password" }
func (*hashCmd) Usage() string {
	return `paperctl hash [-cost <n>] <password>
`
}

func (c *hashCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.cost, "cost", bcrypt.DefaultCost, "bcrypt cost factor.")
}

func (c *hashCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one password is required.")
		return subcommands.ExitUsageError
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(f.Arg(0)), c.cost)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(stdout, string(hash))
	return subcommands.ExitSuccess
}

type quoteCmd struct{}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "fetch the current bid and ask for symbols" }
func (*quoteCmd) Usage() string {
	return `paperctl quote <symbol>...
`
}
func (*quoteCmd) SetFlags(*flag.FlagSet) {}

func (*quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one symbol is required.")
		return subcommands.ExitUsageError
	}
	e, err := loadEnv()
	if err != nil {
		return fail(err)
	}
	provider := quotes.NewHTTPProvider(e.cfg.QuoteBaseURL, e.cfg.QuoteTimeout, e.logger)
	return printQuotes(ctx, provider, e.cfg.Currency, f.Args())
}

func printQuotes(ctx context.Context, q quotes.Gateway, code string, symbols []string) subcommands.ExitStatus {
	status := subcommands.ExitSuccess
	for _, s := range symbols {
		quote, err := q.Quote(ctx, s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", strings.ToUpper(s), err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Fprintf(stdout, "%-8s bid %s  ask %s\n", quote.Symbol, currency.Format(quote.Bid, code), currency.Format(quote.Ask, code))
	}
	return status
}

type settleCmd struct {
	user   string
	side   string
	shares string
	notes  string
}

func (*settleCmd) Name() string     { return "settle" }
func (*settleCmd) Synopsis() string { return "settle a market order for a user" }
func (*settleCmd) Usage() string {
	return `paperctl settle -u <user_id> -side buy|sell -n <shares> [-notes <text>] <symbol>

  Settles the order against the configured database at the live quote and prints the result as JSON.
`
}

func (c *settleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "User ID.")
	f.StringVar(&c.side, "side", "buy", "Order side.")
	f.StringVar(&c.shares, "n", "", "Number of shares.")
	f.StringVar(&c.notes, "notes", "", "Free-form note stored on the ledger entry.")
}

func (c *settleCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || c.user == "" || c.shares == "" {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	shares, err := decimal.NewFromString(c.shares)
	if err != nil {
		return fail(fmt.Errorf("invalid share count %q: %w", c.shares, err))
	}
	e, err := loadEnv()
	if err != nil {
		return fail(err)
	}
	pool, err := e.pool(ctx)
	if err != nil {
		return fail(err)
	}
	defer pool.Close()

	engine := settlement.New(
		postgres.New(pool, e.logger, e.cfg.MaxRetries),
		quotes.NewHTTPProvider(e.cfg.QuoteBaseURL, e.cfg.QuoteTimeout, e.logger),
		nil, e.logger, nil,
		settlement.Options{AutoReduce: e.cfg.AutoReduce, MinShares: e.cfg.MinShares, Currency: e.cfg.Currency},
	)
	res := engine.SettleOrder(ctx, settlement.Order{
		Symbol:    f.Arg(0),
		Side:      types.OrderSide(strings.ToLower(c.side)),
		OrderType: types.OrderTypeMarket,
		Shares:    shares,
		Notes:     c.notes,
	}, c.user)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fail(err)
	}
	if !res.Success {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type verifyCmd struct {
	user string
}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "check the hash chain of a user's ledger" }
func (*verifyCmd) Usage() string {
	return `paperctl verify -u <user_id>
`
}

func (c *verifyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "User ID.")
}

func (c *verifyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	e, err := loadEnv()
	if err != nil {
		return fail(err)
	}
	pool, err := e.pool(ctx)
	if err != nil {
		return fail(err)
	}
	defer pool.Close()
	n, err := verifyLedger(ctx, postgres.New(pool, e.logger, e.cfg.MaxRetries), c.user)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(stdout, "%d entries verified\n", n)
	return subcommands.ExitSuccess
}

var errEmptyLedger = errors.New("ledger is empty")

func verifyLedger(ctx context.Context, st store.Store, userID string) (int, error) {
	var n int
	err := st.WithinUser(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.Ledger().ListByOwner(ctx, userID, store.LedgerFilter{})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errEmptyLedger
		}
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
		n = len(entries)
		return store.VerifyChain(entries)
	})
	return n, err
}
