// internal/services/transaction_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/raulk/clock"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/datamarket-backend/internal/chain"
	"github.com/javajoker/datamarket-backend/internal/metrics"
	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/txstate"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

// TransactionService is the transaction ledger. Rows are never deleted and
// only change state through the state machine.
type TransactionService struct {
	db                  *gorm.DB
	machine             *txstate.Machine
	metrics             *metrics.Metrics
	notificationService *NotificationService
	clock               clock.Clock
}

type CreateTransactionRequest struct {
	TransactionType models.TransactionType `json:"transaction_type" validate:"required"`
	Amount          *decimal.Decimal       `json:"amount" validate:"required"`
	TxHash          *string                `json:"tx_hash,omitempty" validate:"omitempty,tx_hash"`
	BuyerID         *uuid.UUID             `json:"buyer_id,omitempty"`
	SellerID        *uuid.UUID             `json:"seller_id,omitempty"`
	DatasetID       *uuid.UUID             `json:"dataset_id,omitempty"`
}

type TransactionListParams struct {
	utils.PaginationParams
	// UserID limits the rows to those the user bought, sold or initiated.
	UserID *uuid.UUID
	Type   models.TransactionType
	State  models.TransactionState
}

// GroupItem is one dataset paid for by a seller group's call.
type GroupItem struct {
	DatasetID uuid.UUID       `json:"dataset_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// GroupRecord describes a broadcast payment call covering one seller group.
type GroupRecord struct {
	BuyerID  uuid.UUID   `json:"buyer_id"`
	SellerID uuid.UUID   `json:"seller_id"`
	Items    []GroupItem `json:"items"`
	Hash     string      `json:"hash"`
	Attempts int         `json:"attempts"`
}

// Journal actions for paid seller groups whose ledger rows could not be
// written when they were broadcast.
const (
	ActionPurchaseUnrecorded = "purchase.unrecorded"
	ActionPurchaseReplayed   = "purchase.replayed"
)

type unrecordedGroup struct {
	Group GroupRecord `json:"group"`
	Error string      `json:"error"`
}

type transition struct {
	from, to models.TransactionState
}

func NewTransactionService(db *gorm.DB, machine *txstate.Machine, m *metrics.Metrics, notificationService *NotificationService, clk clock.Clock) *TransactionService {
	if clk == nil {
		clk = clock.New()
	}
	return &TransactionService{
		db:                  db,
		machine:             machine,
		metrics:             m,
		notificationService: notificationService,
		clock:               clk,
	}
}

func (s *TransactionService) Create(initiatorID uuid.UUID, req *CreateTransactionRequest) (*models.Transaction, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err)
	}
	if !req.TransactionType.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, req.TransactionType)
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}

	var count int64
	if err := s.db.Model(&models.User{}).Where("id = ?", initiatorID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: initiator %s does not exist", ErrValidation, initiatorID)
	}

	row := &models.Transaction{
		InitiatorID:     initiatorID,
		TransactionType: req.TransactionType,
		Amount:          *req.Amount,
		State:           models.TransactionStateDraft,
	}
	if err := s.assignParties(initiatorID, req, row); err != nil {
		return nil, err
	}

	if req.TxHash != nil {
		hash := strings.ToLower(*req.TxHash)
		if err := ensureHashFree(s.db, hash, uuid.Nil); err != nil {
			return nil, err
		}
		row.TxHash = &hash
		call := hash
		row.CallHash = &call
	}

	if err := s.db.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("transaction hash already recorded: %w", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return s.Get(row.ID)
}

// assignParties fills the buyer, seller and dataset of a client-created row.
// The initiator is always one of the parties; request ids naming anyone else
// are ignored.
func (s *TransactionService) assignParties(initiatorID uuid.UUID, req *CreateTransactionRequest, row *models.Transaction) error {
	initiator := initiatorID

	switch req.TransactionType {
	case models.TransactionTypePurchase:
		dataset, err := s.dataset(req.DatasetID)
		if err != nil {
			return err
		}
		if !dataset.IsActive {
			return fmt.Errorf("%w: dataset %s is not for sale", ErrValidation, dataset.ID)
		}
		if dataset.OwnerID == initiatorID {
			return fmt.Errorf("cannot purchase your own dataset: %w", ErrForbidden)
		}
		if !row.Amount.Equal(dataset.Price) {
			return fmt.Errorf("%w: amount %s does not match the dataset price %s", ErrValidation, row.Amount, dataset.Price)
		}
		owner, id := dataset.OwnerID, dataset.ID
		row.BuyerID, row.SellerID, row.DatasetID = &initiator, &owner, &id

	case models.TransactionTypeRegistration:
		dataset, err := s.dataset(req.DatasetID)
		if err != nil {
			return err
		}
		if dataset.OwnerID != initiatorID {
			return fmt.Errorf("only the owner can register a dataset: %w", ErrForbidden)
		}
		if !row.Amount.IsZero() {
			return fmt.Errorf("%w: registrations carry no amount", ErrValidation)
		}
		id := dataset.ID
		row.SellerID, row.DatasetID = &initiator, &id

	case models.TransactionTypeWithdrawal:
		row.SellerID = &initiator
	}
	return nil
}

func (s *TransactionService) dataset(id *uuid.UUID) (*models.Dataset, error) {
	if id == nil {
		return nil, fmt.Errorf("%w: dataset_id is required", ErrValidation)
	}
	var dataset models.Dataset
	if err := s.db.First(&dataset, "id = ?", *id).Error; err != nil {
		return nil, notFoundOr(err, "dataset not found")
	}
	return &dataset, nil
}

func (s *TransactionService) Get(id uuid.UUID) (*models.Transaction, error) {
	var row models.Transaction
	if err := s.db.Preload("Dataset").Preload("Buyer").Preload("Seller").
		First(&row, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "transaction not found")
	}
	return &row, nil
}

// GetByHash returns the rows carried by an on-chain transaction: the row
// owning the hash, or every row of a shared seller-group call.
func (s *TransactionService) GetByHash(hash string) ([]models.Transaction, error) {
	hash = strings.ToLower(hash)

	var rows []models.Transaction
	if err := s.db.Preload("Dataset").
		Where("tx_hash = ? OR call_hash = ?", hash, hash).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", hash, ErrNotFound)
	}
	return rows, nil
}

func (s *TransactionService) List(params TransactionListParams) ([]models.Transaction, int64, error) {
	query := s.db.Model(&models.Transaction{})
	if params.UserID != nil {
		id := *params.UserID
		query = query.Where("buyer_id = ? OR seller_id = ? OR initiator_id = ?", id, id, id)
	}
	if params.Type != "" {
		query = query.Where("transaction_type = ?", params.Type)
	}
	if params.State != "" {
		query = query.Where("state = ?", params.State)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query = query.Preload("Dataset").Order("created_at DESC, id ASC")
	if params.Limit > 0 {
		query = utils.ApplyPagination(query, params.PaginationParams)
	}

	var rows []models.Transaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return rows, total, nil
}

// Advance feeds evt to the state machine for one row.
func (s *TransactionService) Advance(ctx context.Context, id uuid.UUID, evt txstate.Event) (*models.Transaction, error) {
	return s.advance(ctx, id, nil, evt)
}

// AdvanceFor is Advance on behalf of a user, who must be the row's initiator.
// Inclusion, revert and timeout are left to the receipt watcher.
func (s *TransactionService) AdvanceFor(ctx context.Context, id, userID uuid.UUID, evt txstate.Event) (*models.Transaction, error) {
	if txstate.Observed(evt) {
		return nil, fmt.Errorf("%s is reported by the chain watcher: %w", evt.Name(), ErrForbidden)
	}
	return s.advance(ctx, id, &userID, evt)
}

func (s *TransactionService) advance(ctx context.Context, id uuid.UUID, actor *uuid.UUID, evt txstate.Event) (*models.Transaction, error) {
	var (
		row  models.Transaction
		from models.TransactionState
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&row, "id = ?", id).Error; err != nil {
			return notFoundOr(err, "transaction not found")
		}
		if actor != nil && row.InitiatorID != *actor {
			return fmt.Errorf("only the initiator can drive this transaction: %w", ErrForbidden)
		}

		from = row.State
		return s.transition(tx, &row, evt)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit([]transition{{from, row.State}}, []models.Transaction{row})
	return s.Get(id)
}

// AdvanceCall feeds evt to every confirming row carried by the on-chain call
// hash and reports how many rows moved.
func (s *TransactionService) AdvanceCall(ctx context.Context, hash string, evt txstate.Event) (int, error) {
	hash = strings.ToLower(hash)

	var (
		rows  []models.Transaction
		moves []transition
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).
			Where("call_hash = ? AND state = ?", hash, models.TransactionStateConfirming).
			Order("created_at ASC, id ASC").
			Find(&rows).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}

		for i := range rows {
			from := rows[i].State
			if err := s.transition(tx, &rows[i], evt); err != nil {
				return fmt.Errorf("transaction %s: %w", rows[i].ID, err)
			}
			moves = append(moves, transition{from, rows[i].State})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.afterCommit(moves, rows)
	return len(rows), nil
}

// PendingCalls lists the distinct call hashes still waiting for a receipt,
// oldest first. Journaled groups are replayed first so their calls are
// watched too.
func (s *TransactionService) PendingCalls(ctx context.Context) ([]chain.PendingCall, error) {
	if n, err := s.ReplayUnrecorded(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to replay unrecorded purchases")
	} else if n > 0 {
		logrus.WithField("groups", n).Info("Replayed unrecorded purchases")
	}

	var rows []models.Transaction
	if err := s.db.WithContext(ctx).
		Select("id", "call_hash", "submitted_at", "created_at").
		Where("state = ? AND call_hash IS NOT NULL", models.TransactionStateConfirming).
		Order("submitted_at ASC, created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending calls: %w", err)
	}

	rows = lo.UniqBy(rows, func(r models.Transaction) string { return *r.CallHash })
	return lo.Map(rows, func(r models.Transaction, _ int) chain.PendingCall {
		call := chain.PendingCall{Hash: *r.CallHash, SubmittedAt: r.CreatedAt}
		if r.SubmittedAt != nil {
			call.SubmittedAt = *r.SubmittedAt
		}
		return call
	}), nil
}

// RecordGroup writes one purchase row per item of a broadcast seller group,
// each walked to confirming, in a single database transaction.
func (s *TransactionService) RecordGroup(ctx context.Context, group GroupRecord) ([]models.Transaction, error) {
	if len(group.Items) == 0 {
		return nil, fmt.Errorf("%w: seller group has no items", ErrValidation)
	}
	if !utils.IsTxHash(group.Hash) {
		return nil, fmt.Errorf("%w: invalid transaction hash %q", ErrValidation, group.Hash)
	}

	hash := strings.ToLower(group.Hash)
	shared := len(group.Items) > 1
	now := s.clock.Now()

	rows := make([]models.Transaction, len(group.Items))
	var moves []transition
	for i, item := range group.Items {
		buyer, seller, dataset := group.BuyerID, group.SellerID, item.DatasetID
		rows[i] = models.Transaction{
			InitiatorID:     buyer,
			BuyerID:         &buyer,
			SellerID:        &seller,
			DatasetID:       &dataset,
			TransactionType: models.TransactionTypePurchase,
			Amount:          item.Amount,
			State:           models.TransactionStateDraft,
		}
		for _, evt := range txstate.Path(hash, shared) {
			from := rows[i].State
			if err := s.machine.Apply(&rows[i], evt, now); err != nil {
				return nil, fmt.Errorf("failed to walk purchase row: %w", err)
			}
			moves = append(moves, transition{from, rows[i].State})
		}
		if group.Attempts > 1 {
			rows[i].RetryCount = group.Attempts - 1
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !shared {
			if err := ensureHashFree(tx, hash, uuid.Nil); err != nil {
				return err
			}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to record purchase rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(moves, nil)
	return rows, nil
}

// RecordUnrecorded journals a broadcast seller group whose rows RecordGroup
// could not write.
func (s *TransactionService) RecordUnrecorded(ctx context.Context, group GroupRecord, cause error) error {
	payload, err := json.Marshal(unrecordedGroup{Group: group, Error: cause.Error()})
	if err != nil {
		return fmt.Errorf("failed to encode unrecorded group: %w", err)
	}

	buyer := group.BuyerID
	entry := &models.AuditLog{
		UserID:       &buyer,
		Action:       ActionPurchaseUnrecorded,
		ResourceType: "transactions",
		NewValues:    datatypes.JSON(payload),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to journal unrecorded group %s: %w", group.Hash, err)
	}
	return nil
}

// ReplayUnrecorded writes the rows of every journaled group and returns how
// many were replayed. A group whose call hash is already in the ledger only
// gets its journal entry closed.
func (s *TransactionService) ReplayUnrecorded(ctx context.Context) (int, error) {
	var entries []models.AuditLog
	if err := s.db.WithContext(ctx).
		Where("action = ?", ActionPurchaseUnrecorded).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return 0, fmt.Errorf("failed to list unrecorded groups: %w", err)
	}

	var errs error
	replayed := 0
	for _, entry := range entries {
		var pending unrecordedGroup
		if err := json.Unmarshal([]byte(entry.NewValues), &pending); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("journal entry %s: %w", entry.ID, err))
			continue
		}

		hash := strings.ToLower(pending.Group.Hash)
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Transaction{}).
			Where("call_hash = ? OR tx_hash = ?", hash, hash).
			Count(&count).Error; err != nil {
			errs = multierr.Append(errs, fmt.Errorf("group %s: %w", hash, err))
			continue
		}
		if count == 0 {
			if _, err := s.RecordGroup(ctx, pending.Group); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("group %s: %w", hash, err))
				continue
			}
		}

		if err := s.db.WithContext(ctx).Model(&entry).Update("action", ActionPurchaseReplayed).Error; err != nil {
			errs = multierr.Append(errs, fmt.Errorf("journal entry %s: %w", entry.ID, err))
			continue
		}
		replayed++
	}
	return replayed, errs
}

// HasConfirmedPurchase reports whether buyer owns a confirmed purchase of
// dataset.
func (s *TransactionService) HasConfirmedPurchase(buyerID, datasetID uuid.UUID) (bool, error) {
	return hasConfirmedPurchase(s.db, buyerID, datasetID)
}

func (s *TransactionService) transition(tx *gorm.DB, row *models.Transaction, evt txstate.Event) error {
	if acc, ok := evt.(txstate.BroadcastAccepted); ok {
		if !utils.IsTxHash(acc.Hash) {
			return fmt.Errorf("%w: invalid transaction hash %q", ErrValidation, acc.Hash)
		}
		acc.Hash = strings.ToLower(acc.Hash)
		if !acc.Shared {
			if err := ensureHashFree(tx, acc.Hash, row.ID); err != nil {
				return err
			}
		}
		evt = acc
	}

	if err := s.machine.Apply(row, evt, s.clock.Now()); err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	if err := tx.Omit(clause.Associations).Save(row).Error; err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	if row.State == models.TransactionStateConfirmed &&
		row.TransactionType == models.TransactionTypePurchase &&
		row.DatasetID != nil {
		if err := incrementDownloads(tx, *row.DatasetID); err != nil {
			return err
		}
	}
	return nil
}

func (s *TransactionService) afterCommit(moves []transition, rows []models.Transaction) {
	for _, m := range moves {
		if m.from != m.to {
			s.metrics.ObserveTransition(string(m.from), string(m.to))
		}
	}

	if s.notificationService == nil {
		return
	}
	for i, row := range rows {
		if row.State != models.TransactionStateConfirmed || row.TransactionType != models.TransactionTypePurchase {
			continue
		}
		if i < len(moves) && moves[i].from == models.TransactionStateConfirmed {
			continue
		}
		go func(row models.Transaction) {
			if err := s.notificationService.SendSaleNotification(&row); err != nil {
				logrus.WithError(err).WithField("transaction_id", row.ID).Warn("Failed to send sale notification")
			}
		}(row)
	}
}

func ensureHashFree(db *gorm.DB, hash string, self uuid.UUID) error {
	var count int64
	if err := db.Model(&models.Transaction{}).
		Where("tx_hash = ? AND id <> ?", hash, self).
		Count(&count).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("transaction hash %s already recorded: %w", hash, ErrConflict)
	}
	return nil
}

func hasConfirmedPurchase(db *gorm.DB, buyerID, datasetID uuid.UUID) (bool, error) {
	var count int64
	if err := db.Model(&models.Transaction{}).
		Where("buyer_id = ? AND dataset_id = ? AND transaction_type = ? AND state = ?",
			buyerID, datasetID, models.TransactionTypePurchase, models.TransactionStateConfirmed).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return count > 0, nil
}

// forUpdate row-locks the selected rows where the dialect supports it.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
