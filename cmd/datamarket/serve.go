// cmd/datamarket/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/raulk/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/chain"
	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/content"
	"github.com/javajoker/datamarket-backend/internal/database"
	"github.com/javajoker/datamarket-backend/internal/metrics"
	"github.com/javajoker/datamarket-backend/internal/router"
)

func serveCommand() *cobra.Command {
	var noWatcher bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the receipt watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serveRun(cmd.Context(), cfg, !noWatcher)
		},
	}
	cmd.Flags().BoolVar(&noWatcher, "no-watcher", false, "do not poll receipts of confirming transactions")
	return cmd
}

func serveRun(ctx context.Context, cfg *config.Config, withWatcher bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	deps := router.Dependencies{
		DB:       db,
		Config:   cfg,
		Metrics:  m,
		Clock:    clock.New(),
		Resolver: content.NewResolver(cfg.Content),
	}

	gateway, client, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	if gateway != nil {
		defer client.Close()
		deps.Gateway = gateway
	}

	svc := router.NewServices(deps)
	r, stopLimiters := router.Initialize(deps, svc)
	defer stopLimiters()

	if withWatcher && client != nil {
		watcher := chain.NewReceiptWatcher(client, svc.Transactions, cfg.Chain, deps.Clock, m)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("Receipt watcher failed")
			}
		}()
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logrus.Info("Server exited")
	return nil
}

// dialChain connects the payment gateway when a node and relayer key are
// configured. Without them the server runs with purchases disabled.
func dialChain(ctx context.Context, cfg *config.Config) (*chain.EthGateway, *ethclient.Client, error) {
	if cfg.Chain.RPCURL == "" || cfg.Chain.RelayerPrivateKey == "" {
		logrus.Warn("Chain gateway not configured, purchases are disabled")
		return nil, nil, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	gateway, client, err := chain.Dial(dialCtx, cfg.Chain)
	if err != nil {
		return nil, nil, err
	}
	logrus.WithFields(logrus.Fields{
		"chain_id": cfg.Chain.ChainID,
		"relayer":  gateway.From().Hex(),
	}).Info("Chain gateway connected")
	return gateway, client, nil
}

// openLedger connects the database and applies migrations.
func openLedger(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(db); err != nil {
		database.Close(db)
		return nil, err
	}
	return db, nil
}
