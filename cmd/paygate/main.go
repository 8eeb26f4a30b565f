// Command paygate runs the subscription reconciliation service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "paygate",
		Short:         "Subscription reconciliation across Google Play, the App Store and Stripe",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load variables from this .env file (default ./.env when present)")

	load := func() (appConfig, error) { return loadConfig(envFile) }
	root.AddCommand(
		newServeCmd(load),
		newSweepCmd(load),
		newMigrateCmd(load),
		newExportLedgerCmd(load),
	)
	return root
}
