package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"frameworks/api_messaging/internal/ledger"
	"frameworks/pkg/billing"
	"frameworks/pkg/version"
)

func newWalletCmd(opts *options) *cobra.Command {
	w := &cobra.Command{Use: "wallet", Short: "Create, inspect and lock tenant wallets"}
	w.AddCommand(newWalletCreateCmd(opts))
	w.AddCommand(newWalletShowCmd(opts))
	w.AddCommand(newWalletLockCmd(opts, "lock", true))
	w.AddCommand(newWalletLockCmd(opts, "unlock", false))
	return w
}

func printWallet(out io.Writer, w *ledger.Wallet) {
	fmt.Fprintf(out, "Wallet %s\n", w.TenantID)
	fmt.Fprintf(out, " - balance: %s %s\n", w.Balance.StringFixed(2), w.Currency)
	fmt.Fprintf(out, " - locked: %t\n", w.Locked)
	fmt.Fprintf(out, " - low balance threshold: %s\n", w.LowBalanceThreshold.StringFixed(2))
}

func newWalletCreateCmd(opts *options) *cobra.Command {
	var currency, threshold string
	cmd := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Create a tenant wallet (no-op when it exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := decimal.Zero
			if threshold != "" {
				var err error
				if t, err = billing.ParseAmount(threshold); err != nil {
					return err
				}
			}
			return opts.withStore(cmd, func(ctx context.Context, store ledger.Store) error {
				w, err := store.CreateWallet(ctx, args[0], currency, t)
				if err != nil {
					return err
				}
				return opts.print(cmd, w, func(out io.Writer) { printWallet(out, w) })
			})
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "ISO currency code (default BILLING_CURRENCY)")
	cmd.Flags().StringVar(&threshold, "threshold", "", "low balance threshold (default 5.00)")
	return cmd
}

func newWalletShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Show a tenant wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store ledger.Store) error {
				w, err := store.Wallet(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd, w, func(out io.Writer) { printWallet(out, w) })
			})
		},
	}
}

func newWalletLockCmd(opts *options, use string, locked bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tenant-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a wallet for debits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store ledger.Store) error {
				w, err := store.SetLocked(ctx, args[0], locked)
				if err != nil {
					return err
				}
				return opts.print(cmd, w, func(out io.Writer) { printWallet(out, w) })
			})
		},
	}
}

func newRechargeCmd(opts *options) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "recharge <tenant-id> <amount>",
		Short: "Credit a captured payment to a wallet",
		Long:  "Credit a captured payment to a wallet. Repeating a payment reference returns the original credit.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(ref) == "" {
				return errors.New("--ref is required")
			}
			amount, err := billing.ParseAmount(args[1])
			if err != nil {
				return err
			}
			return opts.withStore(cmd, func(ctx context.Context, store ledger.Store) error {
				tx, err := store.Credit(ctx, args[0], amount, ledger.ReasonRecharge, ref)
				if err != nil {
					return err
				}
				return opts.print(cmd, tx, func(out io.Writer) {
					verb := "Credited"
					if tx.Replayed {
						verb = "Already credited"
					}
					fmt.Fprintf(out, "%s %s to %s (ref=%s), balance %s\n",
						verb, tx.Amount.StringFixed(2), tx.TenantID, tx.Reference, tx.BalanceAfter.StringFixed(2))
				})
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "payment reference")
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	var before string
	cmd := &cobra.Command{
		Use:   "history <tenant-id>",
		Short: "List ledger transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store ledger.Store) error {
				page, err := store.History(ctx, args[0], limit, before)
				if err != nil {
					return err
				}
				return opts.print(cmd, page, func(out io.Writer) {
					fmt.Fprintf(out, "Transactions (%d)\n", len(page.Transactions))
					for _, tx := range page.Transactions {
						sign := "+"
						if tx.Kind == ledger.KindDebit {
							sign = "-"
						}
						fmt.Fprintf(out, " - #%d %s%s %q ref=%s balance %s -> %s\n",
							tx.Seq, sign, tx.Amount.StringFixed(2), tx.Reason, tx.Reference,
							tx.BalanceBefore.StringFixed(2), tx.BalanceAfter.StringFixed(2))
					}
					if page.NextCursor != "" {
						fmt.Fprintf(out, "More: --before %s\n", page.NextCursor)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default 50, max 500)")
	cmd.Flags().StringVar(&before, "before", "", "cursor from a previous page")
	return cmd
}

func newAuditCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <tenant-id>",
		Short: "Replay a wallet's history and compare it with the stored balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store ledger.Store) error {
				report, auditErr := ledger.Audit(ctx, store, args[0])
				if report == nil {
					return auditErr
				}
				if err := opts.print(cmd, report, func(out io.Writer) {
					fmt.Fprintf(out, "Audit %s: %d transactions, stored %s, replayed %s, consistent=%t\n",
						report.TenantID, report.Transactions,
						report.StoredBalance.StringFixed(2), report.ReplayedBalance.StringFixed(2), report.Consistent)
				}); err != nil {
					return err
				}
				return auditErr
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "bosunctl %s (git %s, built %s)\n", info.Version, version.GetShortCommit(), info.BuildDate)
			return nil
		},
	}
}
