// Команда migrate управляет схемой PostgreSQL:
//
//	migrate [-dsn DSN] [-steps N] [-timeout D] up|down|status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/storage/postgres"
)

const envPostgresDSN = "ORDERFLOW_POSTGRES_DSN"

type options struct {
	command string
	steps   int
	dsn     string
	timeout time.Duration
}

// schema: операции Store, которые нужны команде.
type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
}

func main() {
	_ = godotenv.Load()

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn, postgres.WithMaxOpenConns(2))
	if err != nil {
		log.WithError(err).Fatal("postgres unavailable")
	}
	defer store.Close()

	if err := execute(ctx, store, opts, os.Stdout); err != nil {
		if errors.Is(err, postgres.ErrMigrationDrift) {
			log.Warn("an applied migration file was edited; add a new migration instead of changing old ones")
		}
		log.WithError(err).Fatal("migrate failed")
	}
}

func parseOptions(fs *flag.FlagSet, args []string, getenv func(string) string) (options, error) {
	opts := options{command: "up"}
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply (0 = all) or to revert (0 = one)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN, defaults to $"+envPostgresDSN)
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch fs.NArg() {
	case 0:
	case 1:
		opts.command = strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	default:
		return options{}, fmt.Errorf("expected one command, got %q", fs.Args())
	}
	if opts.command != "up" && opts.command != "down" && opts.command != "status" {
		return options{}, fmt.Errorf("unknown command %q: use up, down or status", opts.command)
	}

	if opts.dsn = strings.TrimSpace(opts.dsn); opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("-dsn or %s is required", envPostgresDSN)
	}
	if opts.steps < 0 || opts.timeout <= 0 {
		return options{}, errors.New("-steps must be >= 0 and -timeout positive")
	}
	return opts, nil
}

func execute(ctx context.Context, store schema, opts options, out io.Writer) error {
	var err error
	switch opts.command {
	case "up":
		err = store.MigrateUp(ctx, opts.steps)
	case "down":
		err = store.MigrateDown(ctx, max(opts.steps, 1))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", opts.command, err)
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: schema version %d, %d migration(s) applied\n", opts.command, version, applied)
	return err
}
