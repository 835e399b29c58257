// internal/chain/watcher.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/raulk/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/metrics"
	"github.com/javajoker/datamarket-backend/internal/txstate"
)

// PendingCall is an on-chain call with ledger rows waiting in confirming.
type PendingCall struct {
	Hash        string
	SubmittedAt time.Time
}

// Ledger is the side of the transaction store the watcher drives.
type Ledger interface {
	PendingCalls(ctx context.Context) ([]PendingCall, error)
	AdvanceCall(ctx context.Context, hash string, evt txstate.Event) (int, error)
}

type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ReceiptWatcher polls receipts of confirming calls and feeds the outcome to
// the ledger.
type ReceiptWatcher struct {
	source   ReceiptSource
	ledger   Ledger
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	explorer string
	metrics  *metrics.Metrics
}

func NewReceiptWatcher(source ReceiptSource, ledger Ledger, cfg config.ChainConfig, clk clock.Clock, m *metrics.Metrics) *ReceiptWatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &ReceiptWatcher{
		source:   source,
		ledger:   ledger,
		clock:    clk,
		interval: cfg.PollInterval,
		timeout:  cfg.ConfirmationTimeout,
		explorer: strings.TrimRight(cfg.ExplorerBaseURL, "/"),
		metrics:  m,
	}
}

// ExplorerURL links a transaction hash on the configured block explorer.
func (w *ReceiptWatcher) ExplorerURL(hash string) string {
	if w.explorer == "" {
		return ""
	}
	return w.explorer + "/tx/" + hash
}

// Run sweeps every poll interval until ctx is done.
func (w *ReceiptWatcher) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	logrus.WithField("interval", w.interval).Info("Receipt watcher started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Receipt watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				logrus.WithError(err).Warn("Receipt sweep finished with errors")
			}
		}
	}
}

// Sweep checks every pending call once.
func (w *ReceiptWatcher) Sweep(ctx context.Context) error {
	calls, err := w.ledger.PendingCalls(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending calls: %w", err)
	}

	var errs error
	for _, call := range calls {
		if err := w.check(ctx, call); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", call.Hash, err))
		}
	}
	return errs
}

func (w *ReceiptWatcher) check(ctx context.Context, call PendingCall) error {
	receipt, err := w.source.TransactionReceipt(ctx, common.HexToHash(call.Hash))

	var evt txstate.Event
	outcome := ""
	switch {
	case errors.Is(err, ethereum.NotFound):
		if w.timeout <= 0 || w.clock.Now().Sub(call.SubmittedAt) < w.timeout {
			w.metrics.ObserveReceiptPoll("pending")
			return nil
		}
		evt, outcome = txstate.TimedOut{
			Message: fmt.Sprintf("no receipt after %s", w.timeout),
		}, "timed_out"
	case err != nil:
		ce := Classify(err)
		evt, outcome = txstate.TransientError{Code: txstate.CodeNetworkError, Message: ce.Message()}, "rpc_error"
	case receipt.Status == types.ReceiptStatusSuccessful:
		included := txstate.Included{
			GasUsed:     receipt.GasUsed,
			ExplorerURL: w.ExplorerURL(call.Hash),
		}
		if receipt.BlockNumber != nil {
			included.BlockNumber = receipt.BlockNumber.Uint64()
		}
		if receipt.EffectiveGasPrice != nil {
			included.GasPrice = receipt.EffectiveGasPrice.String()
		}
		evt, outcome = included, "included"
	default:
		evt, outcome = txstate.Reverted{}, "reverted"
	}

	w.metrics.ObserveReceiptPoll(outcome)
	n, advErr := w.ledger.AdvanceCall(ctx, call.Hash, evt)
	if advErr != nil {
		return advErr
	}

	logrus.WithFields(logrus.Fields{
		"hash":    call.Hash,
		"outcome": outcome,
		"rows":    n,
	}).Info("Receipt processed")

	if outcome == "rpc_error" {
		return err
	}
	return nil
}
