// internal/purchase/orchestrator.go
package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/raulk/clock"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/datamarket-backend/internal/chain"
	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/metrics"
	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/txstate"
)

var (
	ErrEmptySelection  = errors.New("selection is empty")
	ErrBatchInProgress = errors.New("a batch purchase is already in progress for this buyer")
)

const (
	reasonNotFound   = "dataset not found"
	reasonInactive   = "dataset is not active"
	reasonOwnDataset = "cannot purchase your own dataset"
	reasonNoSeller   = "seller has no wallet address"
)

type Catalog interface {
	GetMany(ids []uuid.UUID) ([]models.Dataset, error)
}

type Ledger interface {
	RecordGroup(ctx context.Context, group services.GroupRecord) ([]models.Transaction, error)
	// RecordUnrecorded journals a broadcast group whose rows could not be
	// written so it can be replayed later.
	RecordUnrecorded(ctx context.Context, group services.GroupRecord, cause error) error
}

type Gateway interface {
	PurchaseBatch(ctx context.Context, call chain.PaymentCall) (string, error)
}

type GroupStatus string

const (
	GroupPending    GroupStatus = "pending"
	GroupSucceeded  GroupStatus = "succeeded"
	GroupFailed     GroupStatus = "failed"
	GroupUnrecorded GroupStatus = "unrecorded" // paid, ledger rows pending
)

// Group is every selected dataset of one seller, paid with one call.
type Group struct {
	SellerID   uuid.UUID       `json:"seller_id"`
	Seller     string          `json:"seller"`
	DatasetIDs []uuid.UUID     `json:"dataset_ids"`
	Total      decimal.Decimal `json:"total"`
	Status     GroupStatus     `json:"status"`
	Hash       string          `json:"hash,omitempty"`
	Attempts   int             `json:"attempts"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`

	items []models.Dataset
}

type ItemOutcome struct {
	DatasetID     uuid.UUID       `json:"dataset_id"`
	Status        ItemStatus      `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Price         decimal.Decimal `json:"price"`
	SellerID      *uuid.UUID      `json:"seller_id,omitempty"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
}

type Report struct {
	Items     []ItemOutcome   `json:"items"`
	Groups    []*Group        `json:"groups"`
	Total     decimal.Decimal `json:"total"`
	Charged   decimal.Decimal `json:"charged"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

type Orchestrator struct {
	catalog Catalog
	ledger  Ledger
	gateway Gateway
	metrics *metrics.Metrics
	clock   clock.Clock
	config  config.PurchaseConfig

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewOrchestrator(catalog Catalog, ledger Ledger, gateway Gateway, cfg config.PurchaseConfig, clk clock.Clock, m *metrics.Metrics) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	return &Orchestrator{
		catalog:  catalog,
		ledger:   ledger,
		gateway:  gateway,
		metrics:  m,
		clock:    clk,
		config:   cfg,
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// Purchase buys every dataset of sel for buyer. Datasets are grouped by seller
// in order of first appearance and each group is paid with one call. Groups
// succeed or fail independently; the report has one outcome per selected id.
func (o *Orchestrator) Purchase(ctx context.Context, sel *Selection, buyer *models.User) (*Report, error) {
	if sel.Len() == 0 {
		return nil, ErrEmptySelection
	}
	if !o.acquire(buyer.ID) {
		return nil, ErrBatchInProgress
	}
	defer o.release(buyer.ID)

	ids, err := sel.begin()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchInProgress, err)
	}
	defer sel.end()

	datasets, err := o.catalog.GetMany(ids)
	if err != nil {
		sel.mark(ItemFailed, ids...)
		return nil, fmt.Errorf("failed to load selected datasets: %w", err)
	}
	byID := lo.KeyBy(datasets, func(d models.Dataset) uuid.UUID { return d.ID })

	report := &Report{Total: decimal.Zero, Charged: decimal.Zero}
	outcomes := make(map[uuid.UUID]*ItemOutcome, len(ids))
	var eligible []models.Dataset

	for _, id := range ids {
		out := &ItemOutcome{DatasetID: id, Status: ItemQueued, Price: decimal.Zero}
		outcomes[id] = out

		d, ok := byID[id]
		if reason := ineligible(d, ok, buyer); reason != "" {
			out.Status, out.Reason = ItemFailed, reason
			sel.mark(ItemFailed, id)
			continue
		}

		out.Price = d.Price
		owner := d.OwnerID
		out.SellerID = &owner
		report.Total = report.Total.Add(d.Price)
		eligible = append(eligible, d)
	}

	report.Groups = groupBySeller(eligible)
	for _, g := range report.Groups {
		o.runGroup(ctx, sel, buyer, g, outcomes)
		if g.Status == GroupSucceeded || g.Status == GroupUnrecorded {
			report.Charged = report.Charged.Add(g.Total)
		}
	}

	for _, id := range ids {
		out := outcomes[id]
		if out.Status == ItemSucceeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Items = append(report.Items, *out)
	}

	logrus.WithFields(logrus.Fields{
		"buyer_id":  buyer.ID,
		"items":     len(ids),
		"groups":    len(report.Groups),
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"total":     report.Total.String(),
		"charged":   report.Charged.String(),
	}).Info("Batch purchase finished")

	return report, nil
}

func ineligible(d models.Dataset, found bool, buyer *models.User) string {
	switch {
	case !found:
		return reasonNotFound
	case !d.IsActive:
		return reasonInactive
	case d.OwnerID == buyer.ID:
		return reasonOwnDataset
	case d.Owner == nil || !common.IsHexAddress(d.Owner.WalletAddress):
		return reasonNoSeller
	}
	return ""
}

// groupBySeller partitions datasets by owner, keeping the order in which
// sellers first appear and the selection order within each group.
func groupBySeller(datasets []models.Dataset) []*Group {
	sellers := lo.Uniq(lo.Map(datasets, func(d models.Dataset, _ int) uuid.UUID { return d.OwnerID }))
	bySeller := lo.GroupBy(datasets, func(d models.Dataset) uuid.UUID { return d.OwnerID })

	return lo.Map(sellers, func(seller uuid.UUID, _ int) *Group {
		items := bySeller[seller]
		return &Group{
			SellerID:   seller,
			Seller:     common.HexToAddress(items[0].Owner.WalletAddress).Hex(),
			DatasetIDs: lo.Map(items, func(d models.Dataset, _ int) uuid.UUID { return d.ID }),
			Total: lo.Reduce(items, func(sum decimal.Decimal, d models.Dataset, _ int) decimal.Decimal {
				return sum.Add(d.Price)
			}, decimal.Zero),
			Status: GroupPending,
			items:  items,
		}
	})
}

func (o *Orchestrator) runGroup(ctx context.Context, sel *Selection, buyer *models.User, g *Group, outcomes map[uuid.UUID]*ItemOutcome) {
	sel.mark(ItemProcessing, g.DatasetIDs...)
	for _, id := range g.DatasetIDs {
		outcomes[id].Status = ItemProcessing
	}

	log := logrus.WithFields(logrus.Fields{
		"buyer_id": buyer.ID,
		"seller":   g.Seller,
		"items":    len(g.DatasetIDs),
		"total":    g.Total.String(),
	})

	hash, attempts, err := o.pay(ctx, g)
	g.Attempts = attempts

	if err != nil {
		ce := chain.Classify(err)
		g.Status, g.ErrorCode, g.Error = GroupFailed, ce.Code, ce.Message()
		for _, id := range g.DatasetIDs {
			out := outcomes[id]
			out.Status, out.Reason, out.TransactionID = ItemFailed, g.Error, nil
		}
		sel.mark(ItemFailed, g.DatasetIDs...)
		log.WithError(err).WithField("attempts", attempts).Warn("Seller group failed")
	} else if g.Hash = hash; o.record(ctx, buyer, g, outcomes) != nil {
		// The buyer has paid, so the items stay succeeded.
		g.Status, g.ErrorCode = GroupUnrecorded, txstate.CodeInternal
		g.Error = fmt.Sprintf("payment %s broadcast, ledger rows pending reconciliation", hash)
		for _, id := range g.DatasetIDs {
			out := outcomes[id]
			out.Status, out.Reason = ItemSucceeded, g.Error
		}
		sel.mark(ItemSucceeded, g.DatasetIDs...)
		log.WithField("hash", hash).Error("Seller group paid but not recorded")
	} else {
		g.Status = GroupSucceeded
		sel.mark(ItemSucceeded, g.DatasetIDs...)
		log.WithFields(logrus.Fields{"hash": hash, "attempts": attempts}).Info("Seller group paid")
	}

	o.metrics.ObserveBatchGroup(string(g.Status), g.Attempts)
}

// pay issues the group's payment call, retrying transient failures with
// exponential backoff up to the configured bound.
func (o *Orchestrator) pay(ctx context.Context, g *Group) (string, int, error) {
	call := chain.PaymentCall{
		DatasetIDs: g.DatasetIDs,
		Seller:     common.HexToAddress(g.Seller),
		Amount:     g.Total,
	}
	b := &backoff.Backoff{
		Min:    o.config.InitialBackoff,
		Max:    o.config.MaxBackoff,
		Factor: 2,
	}

	for attempt := 1; ; attempt++ {
		hash, err := o.gateway.PurchaseBatch(ctx, call)
		if err == nil {
			return hash, attempt, nil
		}

		ce := chain.Classify(err)
		if !ce.Transient || attempt > o.config.MaxRetries {
			if ce.Transient {
				return "", attempt, &txstate.ChainError{
					Code: ce.Code,
					Err:  fmt.Errorf("retry budget exhausted after %d attempts: %w", attempt, ce.Err),
				}
			}
			return "", attempt, ce
		}

		wait := b.Duration()
		logrus.WithError(err).WithFields(logrus.Fields{
			"seller":  g.Seller,
			"attempt": attempt,
			"wait":    wait,
		}).Warn("Payment call failed, retrying")

		select {
		case <-ctx.Done():
			return "", attempt, &txstate.ChainError{Code: txstate.CodeNetworkError, Err: ctx.Err()}
		case <-o.clock.After(wait):
		}
	}
}

// record writes the ledger rows of a paid group. When that fails the group is
// journaled instead, keeping its hash for reconciliation.
func (o *Orchestrator) record(ctx context.Context, buyer *models.User, g *Group, outcomes map[uuid.UUID]*ItemOutcome) error {
	group := services.GroupRecord{
		BuyerID:  buyer.ID,
		SellerID: g.SellerID,
		Items: lo.Map(g.items, func(d models.Dataset, _ int) services.GroupItem {
			return services.GroupItem{DatasetID: d.ID, Amount: d.Price}
		}),
		Hash:     g.Hash,
		Attempts: g.Attempts,
	}

	rows, err := o.ledger.RecordGroup(ctx, group)
	if err != nil {
		logrus.WithError(err).WithField("hash", g.Hash).Warn("Failed to record paid group, journaling it")
		if jerr := o.ledger.RecordUnrecorded(ctx, group, err); jerr != nil {
			logrus.WithError(jerr).WithFields(logrus.Fields{
				"hash":     g.Hash,
				"buyer_id": buyer.ID,
				"seller":   g.Seller,
				"total":    g.Total.String(),
			}).Error("Failed to journal unrecorded payment")
		}
		return err
	}

	for _, row := range rows {
		if row.DatasetID == nil {
			continue
		}
		if out, ok := outcomes[*row.DatasetID]; ok {
			id := row.ID
			out.Status, out.TransactionID = ItemSucceeded, &id
		}
	}
	return nil
}

func (o *Orchestrator) acquire(buyerID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[buyerID]; busy {
		return false
	}
	o.inFlight[buyerID] = struct{}{}
	return true
}

func (o *Orchestrator) release(buyerID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, buyerID)
}
