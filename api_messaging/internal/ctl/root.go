// Package ctl implements bosunctl, the operator tool for inspecting and
// correcting tenant wallets directly against the ledger database.
package ctl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"frameworks/api_messaging/internal/ledger"
	"frameworks/pkg/config"
	"frameworks/pkg/database"
	"frameworks/pkg/logging"
)

var errMissingDatabase = errors.New("--database-url or DATABASE_URL is required")

// Opener returns the ledger a command operates on and a func that releases it.
type Opener func(ctx context.Context, databaseURL string) (ledger.Store, func(), error)

type options struct {
	output      string
	databaseURL string
	timeout     time.Duration
	open        Opener
	logger      logging.Logger
}

// NewRootCmd returns the bosunctl root command.
func NewRootCmd(open Opener, logger logging.Logger) *cobra.Command {
	opts := &options{open: open, logger: logger}
	root := &cobra.Command{
		Use:           "bosunctl",
		Short:         "Operator tool for the bosun billing ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", config.GetEnv("DATABASE_URL", ""), "PostgreSQL connection string")
	root.PersistentFlags().StringVar(&opts.output, "output", "text", "output format: json|text")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout for one command")

	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newWalletCmd(opts))
	root.AddCommand(newRechargeCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newAuditCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// PostgresOpener opens the PostgreSQL ledger at the given URL.
func PostgresOpener(logger logging.Logger) Opener {
	return func(_ context.Context, databaseURL string) (ledger.Store, func(), error) {
		db, err := connect(databaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return ledger.NewPostgresStore(db, logger), func() { _ = db.Close() }, nil
	}
}

func connect(databaseURL string, logger logging.Logger) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errMissingDatabase
	}
	cfg := database.DefaultConfig()
	cfg.URL = databaseURL
	cfg.MaxOpenConns = 2
	cfg.MaxIdleConns = 1
	return database.Connect(cfg, logger)
}

func (o *options) withStore(cmd *cobra.Command, fn func(ctx context.Context, store ledger.Store) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	store, release, err := o.open(ctx, o.databaseURL)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, store)
}

// print writes v as indented JSON with --output json, otherwise calls text.
func (o *options) print(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	if o.output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(cmd.OutOrStdout())
	return nil
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the bosun schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect(opts.databaseURL, opts.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			if err := database.Migrate(ctx, db, opts.logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}
