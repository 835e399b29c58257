// internal/services/review_service_test.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/txstate"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

func (suite *ServiceTestSuite) TestReviewsKeepRatingConsistent() {
	owner := suite.user(1)
	dataset := suite.dataset(owner, "Bird Songs", "12.5", time.Hour)

	ratings := []int{5, 4, 2, 5}
	for i, r := range ratings {
		reviewer := suite.user(10 + i)
		_, err := suite.reviews.Submit(dataset.ID, reviewer.ID, &SubmitReviewRequest{Rating: r, Comment: "ok"})
		require.NoError(suite.T(), err)

		stored, err := suite.catalog.Get(dataset.ID)
		require.NoError(suite.T(), err)

		sum := 0
		for _, prev := range ratings[:i+1] {
			sum += prev
		}
		assert.EqualValues(suite.T(), i+1, stored.ReviewCount)
		assert.InDelta(suite.T(), float64(sum)/float64(i+1), stored.Rating, 1e-9)
	}

	reviews, total, err := suite.reviews.List(dataset.ID, utils.PaginationParams{Page: 1, Limit: 2})
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), len(ratings), total)
	assert.Len(suite.T(), reviews, 2)
	require.NotNil(suite.T(), reviews[0].Reviewer)
}

func (suite *ServiceTestSuite) TestReviewRules() {
	owner := suite.user(1)
	reviewer := suite.user(2)
	dataset := suite.dataset(owner, "Street Noise", "3", time.Hour)

	_, err := suite.reviews.Submit(dataset.ID, owner.ID, &SubmitReviewRequest{Rating: 5})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	for _, r := range []int{0, 6, -1} {
		_, err = suite.reviews.Submit(dataset.ID, reviewer.ID, &SubmitReviewRequest{Rating: r})
		assert.ErrorIs(suite.T(), err, ErrValidation, "rating %d", r)
	}

	_, err = suite.reviews.Submit(uuid.New(), reviewer.ID, &SubmitReviewRequest{Rating: 3})
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	review, err := suite.reviews.Submit(dataset.ID, reviewer.ID, &SubmitReviewRequest{Rating: 3, Comment: "  noisy  "})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "noisy", review.Comment)
	assert.False(suite.T(), review.VerifiedPurchase)

	_, err = suite.reviews.Submit(dataset.ID, reviewer.ID, &SubmitReviewRequest{Rating: 1})
	assert.ErrorIs(suite.T(), err, ErrConflict)

	stored, err := suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 1, stored.ReviewCount)
	assert.InDelta(suite.T(), 3.0, stored.Rating, 1e-9)
}

func (suite *ServiceTestSuite) TestDuplicateReviewInsertIsConflict() {
	owner := suite.user(1)
	reviewer := suite.user(2)
	dataset := suite.dataset(owner, "Street Noise", "3", time.Hour)

	_, err := suite.reviews.Submit(dataset.ID, reviewer.ID, &SubmitReviewRequest{Rating: 4})
	require.NoError(suite.T(), err)

	err = insertReview(suite.db, &models.Review{DatasetID: dataset.ID, ReviewerID: reviewer.ID, Rating: 2})
	assert.ErrorIs(suite.T(), err, ErrConflict)

	err = suite.db.Create(&models.Transaction{
		InitiatorID:     reviewer.ID,
		TransactionType: models.TransactionTypePurchase,
		TxHash:          lo.ToPtr(hashOf(1)),
		State:           models.TransactionStateDraft,
	}).Error
	require.NoError(suite.T(), err)
	err = suite.db.Create(&models.Transaction{
		InitiatorID:     reviewer.ID,
		TransactionType: models.TransactionTypePurchase,
		TxHash:          lo.ToPtr(hashOf(1)),
		State:           models.TransactionStateDraft,
	}).Error
	assert.ErrorIs(suite.T(), err, gorm.ErrDuplicatedKey)
}

func (suite *ServiceTestSuite) TestReviewVerifiedPurchase() {
	owner := suite.user(1)
	buyer := suite.user(2)
	dataset := suite.dataset(owner, "Cat Photos", "20", time.Hour)

	rows, err := suite.transactions.RecordGroup(context.Background(), GroupRecord{
		BuyerID:  buyer.ID,
		SellerID: owner.ID,
		Items:    []GroupItem{{DatasetID: dataset.ID, Amount: dataset.Price}},
		Hash:     hashOf(555),
		Attempts: 1,
	})
	require.NoError(suite.T(), err)
	_, err = suite.transactions.Advance(context.Background(), rows[0].ID, txstate.Included{BlockNumber: 9})
	require.NoError(suite.T(), err)

	review, err := suite.reviews.Submit(dataset.ID, buyer.ID, &SubmitReviewRequest{Rating: 5, Comment: "great"})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), review.VerifiedPurchase)
}
