package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	migrate "github.com/SplitFi/go-barter/db"
	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/indexer"
	"github.com/SplitFi/go-barter/service/approval"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/persist/postgres"
	"github.com/SplitFi/go-barter/service/signer"
	"github.com/SplitFi/go-barter/service/trade"
)

func printProgress(message string, index, total int) {
	fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", index, total, message)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// explain prints the user facing message of err and returns err for the exit status
func explain(err error) error {
	if err == nil {
		return nil
	}
	fmt.Fprintln(os.Stderr, trade.UserMessage(err))
	return err
}

func approveCmd() *cobra.Command {
	var assets []string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "grant the escrow operator approval over the collections of the given assets",
		RunE: withWallet(func(ctx context.Context, r *runtime, s signer.Signer, args []string) error {
			parsed, err := parseAssets(assets)
			if err != nil {
				return err
			}
			tracker := approval.NewTracker(r.services.Gateway, r.services.Queue, r.services.Metrics, env.GetDuration("CONFIRMATION_TIMEOUT"))
			approved, err := tracker.Run(ctx, s, parsed, printProgress)
			if err != nil {
				return err
			}
			return printJSON(approved)
		}),
	}
	cmd.Flags().StringSliceVar(&assets, "asset", nil, "asset as contract:tokenId[:quantity], repeatable")
	return cmd
}

func proposeCmd() *cobra.Command {
	var (
		counterparty   string
		offered        []string
		requested      []string
		offeredValue   string
		requestedValue string
		message        string
		expiresIn      time.Duration
		offChain       bool
	)
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "propose a trade to a counterparty",
		RunE: withWallet(func(ctx context.Context, r *runtime, s signer.Signer, args []string) error {
			in := trade.ProposeInput{
				Counterparty: persist.NewAddress(counterparty),
				ExpiresAt:    time.Now().Add(expiresIn),
			}
			var err error
			if in.OfferedAssets, err = parseAssets(offered); err != nil {
				return err
			}
			if in.RequestedAssets, err = parseAssets(requested); err != nil {
				return err
			}
			if in.OfferedValue, err = persist.ParseEther(offeredValue); err != nil {
				return err
			}
			if in.RequestedValue, err = persist.ParseEther(requestedValue); err != nil {
				return err
			}
			if message != "" {
				in.Message = &message
			}

			var rec persist.TradeRecord
			if offChain {
				rec, err = r.services.Coordinator.ProposeOffChain(ctx, s.Address(), in)
			} else {
				rec, err = r.services.Coordinator.Propose(ctx, s, in, printProgress)
			}
			if err != nil {
				return explain(err)
			}
			return printJSON(rec)
		}),
	}
	cmd.Flags().StringVar(&counterparty, "counterparty", "", "address of the counterparty")
	cmd.Flags().StringSliceVar(&offered, "offer", nil, "offered asset as contract:tokenId[:quantity], repeatable")
	cmd.Flags().StringSliceVar(&requested, "request", nil, "requested asset as contract:tokenId[:quantity], repeatable")
	cmd.Flags().StringVar(&offeredValue, "offer-value", "0", "offered amount of the native coin")
	cmd.Flags().StringVar(&requestedValue, "request-value", "0", "requested amount of the native coin")
	cmd.Flags().StringVar(&message, "message", "", "message to the counterparty")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 7*24*time.Hour, "time until the trade expires")
	cmd.Flags().BoolVar(&offChain, "off-chain", false, "record the proposal without escrowing anything")
	cmd.MarkFlagRequired("counterparty")
	return cmd
}

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <trade id>",
		Short: "accept a trade as its counterparty",
		Args:  cobra.ExactArgs(1),
		RunE: withWallet(func(ctx context.Context, r *runtime, s signer.Signer, args []string) error {
			rec, err := r.services.Coordinator.Accept(ctx, s, persist.DBID(args[0]), printProgress)
			if err != nil {
				return explain(err)
			}
			return printJSON(rec)
		}),
	}
}

func declineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decline <trade id>...",
		Short: "decline one or more trades as their counterparty",
		Args:  cobra.MinimumNArgs(1),
		RunE: withWallet(func(ctx context.Context, r *runtime, s signer.Signer, args []string) error {
			if len(args) == 1 {
				rec, err := r.services.Coordinator.Decline(ctx, s, persist.DBID(args[0]))
				if err != nil {
					return explain(err)
				}
				return printJSON(rec)
			}
			result, err := r.services.Coordinator.BulkDecline(ctx, s, parseIDs(args))
			if perr := printJSON(result); perr != nil {
				return perr
			}
			return explain(err)
		}),
	}
}

func cancelCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "cancel <trade id>...",
		Short: "cancel one or more trades as their proposer or as an admin",
		Args:  cobra.MinimumNArgs(1),
		RunE: withWallet(func(ctx context.Context, r *runtime, s signer.Signer, args []string) error {
			if force {
				for _, id := range parseIDs(args) {
					rec, err := r.services.Coordinator.AdminForceCancel(ctx, s, id)
					if err != nil {
						return explain(err)
					}
					if err := printJSON(rec); err != nil {
						return err
					}
				}
				return nil
			}
			if len(args) == 1 {
				rec, err := r.services.Coordinator.Cancel(ctx, s, persist.DBID(args[0]))
				if err != nil {
					return explain(err)
				}
				return printJSON(rec)
			}
			result, err := r.services.Coordinator.BulkCancel(ctx, s, parseIDs(args))
			if perr := printJSON(result); perr != nil {
				return perr
			}
			return explain(err)
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "cancel as an admin regardless of the proposer")
	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire <trade id>",
		Short: "release the escrow of a trade past its deadline",
		Args:  cobra.ExactArgs(1),
		RunE: withWallet(func(ctx context.Context, r *runtime, s signer.Signer, args []string) error {
			rec, err := r.services.Coordinator.Expire(ctx, s, persist.DBID(args[0]))
			if err != nil {
				return explain(err)
			}
			return printJSON(rec)
		}),
	}
}

func reconcileCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "reconcile [trade id]",
		Short: "repair trade records from the chain",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(func(ctx context.Context, r *runtime, args []string) error {
			if len(args) == 1 {
				rec, changed, err := r.services.Coordinator.ReconcileByID(ctx, persist.DBID(args[0]))
				if err != nil {
					return explain(err)
				}
				log.WithField("changed", changed).Info("reconciled trade")
				return printJSON(rec)
			}
			if address == "" {
				return fmt.Errorf("either a trade id or --address is required")
			}
			recs, result, err := r.services.Coordinator.ListForParticipant(ctx, persist.NewAddress(address), nil, 200)
			if err != nil {
				return explain(err)
			}
			if err := printJSON(recs); err != nil {
				return err
			}
			return explain(result.Err())
		}),
	}
	cmd.Flags().StringVar(&address, "address", "", "reconcile every trade of this participant")
	return cmd
}

func recoverCmd() *cobra.Command {
	var (
		materialize bool
		message     string
	)
	cmd := &cobra.Command{
		Use:   "recover <transaction hash>",
		Short: "find a trade from the transaction that created it",
		Args:  cobra.ExactArgs(1),
		RunE: withWallet(func(ctx context.Context, r *runtime, s signer.Signer, args []string) error {
			if !materialize {
				recovered, err := r.services.Coordinator.RecoverFromTransaction(ctx, args[0], s.Address())
				if err != nil {
					return explain(err)
				}
				return printJSON(recovered)
			}
			var msg *string
			if message != "" {
				msg = &message
			}
			rec, err := r.services.Coordinator.MaterializeRecovered(ctx, args[0], s.Address(), msg)
			if err != nil {
				return explain(err)
			}
			return printJSON(rec)
		}),
	}
	cmd.Flags().BoolVar(&materialize, "materialize", false, "write the missing trade record")
	cmd.Flags().StringVar(&message, "message", "", "message to attach to the restored record")
	return cmd
}

func sweepCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "expire pending trades past their deadline",
		RunE: withWallet(func(ctx context.Context, r *runtime, s signer.Signer, args []string) error {
			result, err := r.services.Coordinator.SweepExpired(ctx, s, limit)
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			return explain(result.Err())
		}),
	}
	cmd.Flags().Int64Var(&limit, "limit", 100, "maximum number of trades to sweep")
	return cmd
}

func scanCmd() *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "find escrowed trades without a record and repair stale records",
		RunE: withRuntime(func(ctx context.Context, r *runtime, args []string) error {
			scanner := indexer.NewScanner(
				r.clients.EthClient,
				persist.NewAddress(env.GetString("ESCROW_CONTRACT_ADDRESS")),
				r.services.Trades,
				r.services.Coordinator,
				r.services.Metrics,
			)
			result, err := scanner.Scan(ctx, from, to)
			if err != nil {
				return err
			}
			return printJSON(result)
		}),
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first block to scan, usually the escrow deployment block")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block to scan, defaults to the current head")
	return cmd
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply the record store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := postgres.MustCreateClient()
			defer client.Close()
			start := time.Now()
			if err := migrate.RunMigrations(client, dir); err != nil {
				return err
			}
			log.Infof("migrations applied in %s", time.Since(start))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./db/migrations", "migrations directory")
	return cmd
}
