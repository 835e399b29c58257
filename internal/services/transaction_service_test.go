// internal/services/transaction_service_test.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/testutil"
	"github.com/javajoker/datamarket-backend/internal/txstate"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func (suite *ServiceTestSuite) TestCreateTransaction() {
	buyer := suite.user(1)

	row, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypeWithdrawal,
		Amount:          amount("7.5"),
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStateDraft, row.State)
	assert.Equal(suite.T(), buyer.ID, row.InitiatorID)
	assert.Nil(suite.T(), row.TxHash)

	_, err = suite.transactions.Create(uuid.New(), &CreateTransactionRequest{
		TransactionType: models.TransactionTypeWithdrawal,
		Amount:          amount("1"),
	})
	assert.ErrorIs(suite.T(), err, ErrValidation, "initiator must exist")

	_, err = suite.transactions.Create(buyer.ID, &CreateTransactionRequest{TransactionType: "refund", Amount: amount("1")})
	assert.ErrorIs(suite.T(), err, ErrValidation)

	_, err = suite.transactions.Create(buyer.ID, &CreateTransactionRequest{TransactionType: models.TransactionTypePurchase})
	assert.ErrorIs(suite.T(), err, ErrValidation, "amount is required")

	bad := "0x1234"
	_, err = suite.transactions.Create(buyer.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypePurchase,
		Amount:          amount("1"),
		TxHash:          &bad,
	})
	assert.ErrorIs(suite.T(), err, ErrValidation)
}

func (suite *ServiceTestSuite) TestCreateTransactionRejectsDuplicateHash() {
	buyer := suite.user(1)
	hash := hashOf(42)

	_, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypeWithdrawal,
		Amount:          amount("1"),
		TxHash:          &hash,
	})
	require.NoError(suite.T(), err)

	_, err = suite.transactions.Create(buyer.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypeWithdrawal,
		Amount:          amount("1"),
		TxHash:          &hash,
	})
	assert.ErrorIs(suite.T(), err, ErrConflict)

	rows, err := suite.transactions.GetByHash(hash)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), rows, 1)

	_, err = suite.transactions.GetByHash(hashOf(43))
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *ServiceTestSuite) TestCreatePurchaseBindsPartiesAndPrice() {
	seller := suite.user(1)
	buyer := suite.user(2)
	stranger := suite.user(3)
	dataset := suite.dataset(seller, "Cat Photos", "20", time.Hour)

	purchase := func(initiator uuid.UUID, price string, datasetID *uuid.UUID) (*models.Transaction, error) {
		return suite.transactions.Create(initiator, &CreateTransactionRequest{
			TransactionType: models.TransactionTypePurchase,
			Amount:          amount(price),
			BuyerID:         &stranger.ID,
			SellerID:        &stranger.ID,
			DatasetID:       datasetID,
		})
	}

	_, err := purchase(buyer.ID, "0", &dataset.ID)
	assert.ErrorIs(suite.T(), err, ErrValidation, "the price is not negotiable")
	_, err = purchase(buyer.ID, "19.99", &dataset.ID)
	assert.ErrorIs(suite.T(), err, ErrValidation)
	_, err = purchase(buyer.ID, "20", nil)
	assert.ErrorIs(suite.T(), err, ErrValidation, "a purchase names its dataset")
	missing := uuid.New()
	_, err = purchase(buyer.ID, "20", &missing)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
	_, err = purchase(seller.ID, "20", &dataset.ID)
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	row, err := purchase(buyer.ID, "20.00", &dataset.ID)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), row.BuyerID)
	require.NotNil(suite.T(), row.SellerID)
	assert.Equal(suite.T(), buyer.ID, *row.BuyerID, "the initiator is the buyer")
	assert.Equal(suite.T(), seller.ID, *row.SellerID, "the owner is the seller")

	_, err = suite.transactions.Create(stranger.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypeRegistration,
		Amount:          amount("0"),
		DatasetID:       &dataset.ID,
	})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	testutil.Deactivate(suite.T(), suite.db, dataset)
	_, err = purchase(buyer.ID, "20", &dataset.ID)
	assert.ErrorIs(suite.T(), err, ErrValidation)
}

func (suite *ServiceTestSuite) TestClientsCannotReportInclusion() {
	seller := suite.user(1)
	buyer := suite.user(2)
	dataset := suite.dataset(seller, "Cat Photos", "20", time.Hour)

	row, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypePurchase,
		Amount:          amount("20"),
		DatasetID:       &dataset.ID,
	})
	require.NoError(suite.T(), err)

	for _, evt := range txstate.Path(hashOf(11), false) {
		_, err := suite.transactions.AdvanceFor(context.Background(), row.ID, buyer.ID, evt)
		require.NoError(suite.T(), err, evt.Name())
	}

	for _, evt := range []txstate.Event{txstate.Included{BlockNumber: 7}, txstate.Reverted{}, txstate.TimedOut{}} {
		_, err := suite.transactions.AdvanceFor(context.Background(), row.ID, buyer.ID, evt)
		assert.ErrorIs(suite.T(), err, ErrForbidden, evt.Name())
	}

	stored, err := suite.transactions.Get(row.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStateConfirming, stored.State)

	listing, err := suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), listing.Downloads)

	ok, err := suite.transactions.HasConfirmedPurchase(buyer.ID, dataset.ID)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok)

	// The watcher still confirms it.
	n, err := suite.transactions.AdvanceCall(context.Background(), hashOf(11), txstate.Included{BlockNumber: 7})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, n)
	ok, err = suite.transactions.HasConfirmedPurchase(buyer.ID, dataset.ID)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)
}

func (suite *ServiceTestSuite) TestReplayUnrecordedGroup() {
	seller := suite.user(1)
	buyer := suite.user(2)
	a := suite.dataset(seller, "Bird Songs", "1.5", time.Hour)
	b := suite.dataset(seller, "Street Noise", "2.0", 2*time.Hour)
	group := GroupRecord{
		BuyerID:  buyer.ID,
		SellerID: seller.ID,
		Items: []GroupItem{
			{DatasetID: a.ID, Amount: a.Price},
			{DatasetID: b.ID, Amount: b.Price},
		},
		Hash:     hashOf(200),
		Attempts: 1,
	}

	require.NoError(suite.T(), suite.transactions.RecordUnrecorded(context.Background(), group, errors.New("database is locked")))

	var entry models.AuditLog
	require.NoError(suite.T(), suite.db.First(&entry, "action = ?", ActionPurchaseUnrecorded).Error)
	require.NotNil(suite.T(), entry.UserID)
	assert.Equal(suite.T(), buyer.ID, *entry.UserID)
	assert.Contains(suite.T(), string(entry.NewValues), hashOf(200))

	calls, err := suite.transactions.PendingCalls(context.Background())
	require.NoError(suite.T(), err)
	require.Len(suite.T(), calls, 1)
	assert.Equal(suite.T(), hashOf(200), calls[0].Hash)

	rows, err := suite.transactions.GetByHash(hashOf(200))
	require.NoError(suite.T(), err)
	require.Len(suite.T(), rows, 2)
	assert.True(suite.T(), decimal.RequireFromString("3.5").Equal(rows[0].Amount.Add(rows[1].Amount)))

	n, err := suite.transactions.ReplayUnrecorded(context.Background())
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), n, "replayed entries are closed")

	// An entry whose rows already exist is only closed.
	require.NoError(suite.T(), suite.transactions.RecordUnrecorded(context.Background(), group, errors.New("timeout")))
	n, err = suite.transactions.ReplayUnrecorded(context.Background())
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, n)
	rows, err = suite.transactions.GetByHash(hashOf(200))
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), rows, 2)
}

func (suite *ServiceTestSuite) walkToConfirming(id uuid.UUID, hash string) {
	for _, evt := range txstate.Path(hash, false) {
		_, err := suite.transactions.Advance(context.Background(), id, evt)
		require.NoError(suite.T(), err)
	}
}

func (suite *ServiceTestSuite) TestAdvanceConfirmedPurchaseCountsDownload() {
	seller := suite.user(1)
	buyer := suite.user(2)
	dataset := suite.dataset(seller, "Cat Photos", "20", time.Hour)

	row, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypePurchase,
		Amount:          amount("20"),
		BuyerID:         &buyer.ID,
		SellerID:        &seller.ID,
		DatasetID:       &dataset.ID,
	})
	require.NoError(suite.T(), err)

	suite.walkToConfirming(row.ID, hashOf(7))

	stored, err := suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), stored.Downloads, "confirming is not confirmed")

	row, err = suite.transactions.Advance(context.Background(), row.ID, txstate.Included{
		BlockNumber: 100,
		GasUsed:     21000,
		GasPrice:    "30000000000",
		ExplorerURL: "https://amoy.polygonscan.com/tx/" + hashOf(7),
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStateConfirmed, row.State)
	require.NotNil(suite.T(), row.TxHash)
	assert.Equal(suite.T(), hashOf(7), *row.TxHash)
	assert.EqualValues(suite.T(), 100, *row.BlockNumber)
	assert.NotNil(suite.T(), row.SubmittedAt)
	assert.NotNil(suite.T(), row.ConfirmedAt)

	stored, err = suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 1, stored.Downloads)

	ok, err := suite.transactions.HasConfirmedPurchase(buyer.ID, dataset.ID)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)

	// terminal rows reject every event
	_, err = suite.transactions.Advance(context.Background(), row.ID, txstate.Fail{})
	assert.ErrorIs(suite.T(), err, ErrConflict)
	assert.ErrorIs(suite.T(), err, txstate.ErrTerminal)

	stored, err = suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 1, stored.Downloads)
}

func (suite *ServiceTestSuite) TestConfirmedRegistrationDoesNotCountDownload() {
	owner := suite.user(1)
	dataset := suite.dataset(owner, "Stock Ticks", "99.99", time.Hour)

	row, err := suite.transactions.Create(owner.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypeRegistration,
		Amount:          amount("0"),
		DatasetID:       &dataset.ID,
	})
	require.NoError(suite.T(), err)

	suite.walkToConfirming(row.ID, hashOf(8))
	_, err = suite.transactions.Advance(context.Background(), row.ID, txstate.Included{BlockNumber: 1})
	require.NoError(suite.T(), err)

	stored, err := suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), stored.Downloads)
}

func (suite *ServiceTestSuite) TestAdvanceRejectsSkippingAndForeignActors() {
	buyer := suite.user(1)
	stranger := suite.user(2)

	row, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypeWithdrawal,
		Amount:          amount("1"),
	})
	require.NoError(suite.T(), err)

	_, err = suite.transactions.Advance(context.Background(), row.ID, txstate.Included{})
	assert.ErrorIs(suite.T(), err, ErrConflict)
	assert.ErrorIs(suite.T(), err, txstate.ErrInvalidTransition)

	_, err = suite.transactions.AdvanceFor(context.Background(), row.ID, stranger.ID, txstate.Proceed{})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	moved, err := suite.transactions.AdvanceFor(context.Background(), row.ID, buyer.ID, txstate.Proceed{})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStatePending, moved.State)

	_, err = suite.transactions.Advance(context.Background(), uuid.New(), txstate.Proceed{})
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *ServiceTestSuite) TestBroadcastHashMustBeUnique() {
	buyer := suite.user(1)
	first, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{TransactionType: models.TransactionTypeWithdrawal, Amount: amount("1")})
	require.NoError(suite.T(), err)
	second, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{TransactionType: models.TransactionTypeWithdrawal, Amount: amount("1")})
	require.NoError(suite.T(), err)

	suite.walkToConfirming(first.ID, hashOf(9))

	for _, evt := range []txstate.Event{txstate.Proceed{}, txstate.RequestSignature{}, txstate.Signed{}} {
		_, err := suite.transactions.Advance(context.Background(), second.ID, evt)
		require.NoError(suite.T(), err)
	}
	_, err = suite.transactions.Advance(context.Background(), second.ID, txstate.BroadcastAccepted{Hash: hashOf(9)})
	assert.ErrorIs(suite.T(), err, ErrConflict)

	stored, err := suite.transactions.Get(second.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStateSubmitting, stored.State, "rejected events leave the row untouched")
}

func (suite *ServiceTestSuite) TestTransientErrorsExhaustRetryBudget() {
	buyer := suite.user(1)
	row, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{TransactionType: models.TransactionTypeWithdrawal, Amount: amount("1")})
	require.NoError(suite.T(), err)

	// the suite's machine allows two retries
	for i := 0; i < 2; i++ {
		row, err = suite.transactions.Advance(context.Background(), row.ID, txstate.TransientError{Code: txstate.CodeNetworkError})
		require.NoError(suite.T(), err)
		assert.Equal(suite.T(), models.TransactionStateDraft, row.State)
	}

	row, err = suite.transactions.Advance(context.Background(), row.ID, txstate.TransientError{Code: txstate.CodeNetworkError, Message: "node down"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.TransactionStateFailed, row.State)
	assert.Equal(suite.T(), 3, row.RetryCount)
	assert.Equal(suite.T(), txstate.CodeNetworkError, row.ErrorCode)
	assert.Contains(suite.T(), row.ErrorMessage, "node down")
	assert.NotNil(suite.T(), row.FailedAt)
}

func (suite *ServiceTestSuite) TestRecordGroupAndReceiptReconciliation() {
	seller := suite.user(1)
	other := suite.user(3)
	buyer := suite.user(2)
	a := suite.dataset(seller, "Bird Songs", "1.5", time.Hour)
	b := suite.dataset(seller, "Street Noise", "2.0", 2*time.Hour)
	c := suite.dataset(other, "Cat Photos", "0.5", 3*time.Hour)

	shared, err := suite.transactions.RecordGroup(context.Background(), GroupRecord{
		BuyerID:  buyer.ID,
		SellerID: seller.ID,
		Items: []GroupItem{
			{DatasetID: a.ID, Amount: a.Price},
			{DatasetID: b.ID, Amount: b.Price},
		},
		Hash:     hashOf(100),
		Attempts: 2,
	})
	require.NoError(suite.T(), err)
	require.Len(suite.T(), shared, 2)
	for _, row := range shared {
		assert.Equal(suite.T(), models.TransactionStateConfirming, row.State)
		assert.Nil(suite.T(), row.TxHash, "shared calls do not own a tx hash")
		require.NotNil(suite.T(), row.CallHash)
		assert.Equal(suite.T(), hashOf(100), *row.CallHash)
		assert.Equal(suite.T(), 1, row.RetryCount)
		assert.Equal(suite.T(), buyer.ID, row.InitiatorID)
	}

	single, err := suite.transactions.RecordGroup(context.Background(), GroupRecord{
		BuyerID:  buyer.ID,
		SellerID: other.ID,
		Items:    []GroupItem{{DatasetID: c.ID, Amount: c.Price}},
		Hash:     hashOf(101),
		Attempts: 1,
	})
	require.NoError(suite.T(), err)
	require.Len(suite.T(), single, 1)
	require.NotNil(suite.T(), single[0].TxHash)
	assert.Equal(suite.T(), hashOf(101), *single[0].TxHash)
	assert.Zero(suite.T(), single[0].RetryCount)

	_, err = suite.transactions.RecordGroup(context.Background(), GroupRecord{
		BuyerID:  buyer.ID,
		SellerID: other.ID,
		Items:    []GroupItem{{DatasetID: c.ID, Amount: c.Price}},
		Hash:     hashOf(101),
	})
	assert.ErrorIs(suite.T(), err, ErrConflict)

	calls, err := suite.transactions.PendingCalls(context.Background())
	require.NoError(suite.T(), err)
	require.Len(suite.T(), calls, 2)

	n, err := suite.transactions.AdvanceCall(context.Background(), hashOf(100), txstate.Included{BlockNumber: 5})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, n)

	n, err = suite.transactions.AdvanceCall(context.Background(), hashOf(101), txstate.Reverted{})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, n)

	calls, err = suite.transactions.PendingCalls(context.Background())
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), calls)

	for _, d := range []*models.Dataset{a, b} {
		stored, err := suite.catalog.Get(d.ID)
		require.NoError(suite.T(), err)
		assert.EqualValues(suite.T(), 1, stored.Downloads)
	}
	stored, err := suite.catalog.Get(c.ID)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), stored.Downloads)

	rows, err := suite.transactions.GetByHash(hashOf(101))
	require.NoError(suite.T(), err)
	require.Len(suite.T(), rows, 1)
	assert.Equal(suite.T(), models.TransactionStateFailed, rows[0].State)
	assert.Equal(suite.T(), txstate.CodeReverted, rows[0].ErrorCode)

	rows, err = suite.transactions.GetByHash(hashOf(100))
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), rows, 2)
}

func (suite *ServiceTestSuite) TestListTransactions() {
	buyer := suite.user(1)
	other := suite.user(2)
	for i := 0; i < 3; i++ {
		_, err := suite.transactions.Create(buyer.ID, &CreateTransactionRequest{TransactionType: models.TransactionTypeWithdrawal, Amount: amount("1")})
		require.NoError(suite.T(), err)
	}
	dataset := suite.dataset(suite.user(3), "Cat Photos", "1", time.Hour)
	_, err := suite.transactions.Create(other.ID, &CreateTransactionRequest{
		TransactionType: models.TransactionTypePurchase,
		Amount:          amount("1"),
		DatasetID:       &dataset.ID,
	})
	require.NoError(suite.T(), err)

	rows, total, err := suite.transactions.List(TransactionListParams{UserID: &buyer.ID})
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 3, total)
	assert.Len(suite.T(), rows, 3)

	rows, total, err = suite.transactions.List(TransactionListParams{
		PaginationParams: utils.PaginationParams{Page: 1, Limit: 10},
		Type:             models.TransactionTypePurchase,
		State:            models.TransactionStateDraft,
	})
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 1, total)
	require.Len(suite.T(), rows, 1)
	assert.Equal(suite.T(), other.ID, rows[0].InitiatorID)
}
