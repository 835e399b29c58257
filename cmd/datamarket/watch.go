// cmd/datamarket/watch.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/raulk/clock"
	"github.com/spf13/cobra"

	"github.com/javajoker/datamarket-backend/internal/chain"
	"github.com/javajoker/datamarket-backend/internal/database"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/txstate"
)

// watchCommand runs the receipt watcher alone, for deployments that keep it
// out of the API process.
func watchCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll receipts of confirming transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Chain.RPCURL == "" {
				return errors.New("CHAIN_RPC_URL is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			client, err := ethclient.DialContext(dialCtx, cfg.Chain.RPCURL)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to dial chain node: %w", err)
			}
			defer client.Close()

			clk := clock.New()
			ledger := services.NewTransactionService(db, txstate.New(cfg.Purchase.MaxRetries), nil, services.NewNotificationService(db, cfg), clk)
			watcher := chain.NewReceiptWatcher(client, ledger, cfg.Chain, clk, nil)

			if once {
				return watcher.Sweep(ctx)
			}
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")
	return cmd
}
