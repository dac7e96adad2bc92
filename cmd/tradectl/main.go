package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SplitFi/go-barter/server"
	"github.com/SplitFi/go-barter/service/signer"
)

var (
	version = "dev"

	keyHex     string
	keystore   string
	passphrase string

	app = &cobra.Command{
		Use:           "tradectl",
		Short:         "drive escrowed trades from a local wallet",
		Long:          "tradectl proposes, accepts, declines, cancels and expires trades with a locally held key, and runs reconciliation and recovery against the trade store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			server.SetDefaults()
		},
	}
)

func init() {
	app.PersistentFlags().StringVar(&keyHex, "key", "", "hex encoded private key of the acting wallet (defaults to OPERATOR_PRIVATE_KEY)")
	app.PersistentFlags().StringVar(&keystore, "keystore", "", "keystore file of the acting wallet")
	app.PersistentFlags().StringVar(&passphrase, "passphrase", "", "passphrase of the keystore file")

	app.AddCommand(
		approveCmd(),
		proposeCmd(),
		acceptCmd(),
		declineCmd(),
		cancelCmd(),
		expireCmd(),
		reconcileCmd(),
		recoverCmd(),
		sweepCmd(),
		scanCmd(),
		migrateCmd(),
	)
}

func main() {
	if err := app.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runtime struct {
	clients  *server.Clients
	services *server.Services
}

func newRuntime(ctx context.Context) *runtime {
	c := server.ClientInit(ctx)
	return &runtime{clients: c, services: server.NewServices(c, prometheus.NewRegistry())}
}

func (r *runtime) close() {
	r.clients.Close()
}

func (r *runtime) wallet() (*signer.KeyedSigner, error) {
	switch {
	case keyHex != "":
		return signer.FromHexKey(keyHex, r.clients.ChainID)
	case keystore != "":
		return signer.FromKeystoreFile(keystore, passphrase, r.clients.ChainID)
	default:
		return signer.FromEnv(r.clients.ChainID)
	}
}

func withWallet(run func(ctx context.Context, r *runtime, s signer.Signer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r := newRuntime(ctx)
		defer r.close()

		s, err := r.wallet()
		if err != nil {
			return err
		}
		log.WithField("wallet", s.Address()).Debug("loaded wallet")
		return run(ctx, r, s, args)
	}
}

func withRuntime(run func(ctx context.Context, r *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r := newRuntime(ctx)
		defer r.close()
		return run(ctx, r, args)
	}
}
