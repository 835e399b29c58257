// internal/services/dataset_service_test.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/search"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

const testURI = "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi/meta.json"

func (suite *ServiceTestSuite) TestCreateDatasetRecordsRegistration() {
	owner := suite.user(1)

	dataset, err := suite.catalog.Create(owner.ID, &CreateDatasetRequest{
		Title:       "Bird Songs",
		Description: "Field recordings of forest birds",
		Category:    "Audio Processing",
		Tags:        []string{"audio", "birds", "audio"},
		ContentURI:  testURI,
		Price:       decimal.RequireFromString("12.5"),
	})
	require.NoError(suite.T(), err)

	assert.True(suite.T(), dataset.IsActive)
	assert.Equal(suite.T(), owner.ID, dataset.OwnerID)
	assert.Equal(suite.T(), []string{"audio", "birds"}, []string(dataset.Tags))
	assert.True(suite.T(), decimal.RequireFromString("12.5").Equal(dataset.Price))
	require.NotNil(suite.T(), dataset.Owner)
	assert.Equal(suite.T(), owner.WalletAddress, dataset.Owner.WalletAddress)

	var registration models.Transaction
	require.NoError(suite.T(), suite.db.First(&registration, "dataset_id = ?", dataset.ID).Error)
	assert.Equal(suite.T(), models.TransactionTypeRegistration, registration.TransactionType)
	assert.Equal(suite.T(), models.TransactionStateDraft, registration.State)
	assert.Equal(suite.T(), owner.ID, registration.InitiatorID)
}

func (suite *ServiceTestSuite) TestCreateDatasetValidation() {
	owner := suite.user(1)
	valid := func() *CreateDatasetRequest {
		return &CreateDatasetRequest{
			Title:       "Bird Songs",
			Description: "Field recordings of forest birds",
			Category:    "Audio Processing",
			ContentURI:  testURI,
			Price:       decimal.NewFromInt(1),
		}
	}

	cases := map[string]func(r *CreateDatasetRequest){
		"bad uri":       func(r *CreateDatasetRequest) { r.ContentURI = "https://example.com/data" },
		"bad cid":       func(r *CreateDatasetRequest) { r.ContentURI = "ipfs://not-a-cid" },
		"zero price":    func(r *CreateDatasetRequest) { r.Price = decimal.Zero },
		"negative":      func(r *CreateDatasetRequest) { r.Price = decimal.NewFromInt(-3) },
		"category":      func(r *CreateDatasetRequest) { r.Category = "Memes" },
		"sentinel":      func(r *CreateDatasetRequest) { r.Category = models.AllCategories },
		"short title":   func(r *CreateDatasetRequest) { r.Title = "ab" },
		"missing title": func(r *CreateDatasetRequest) { r.Title = "" },
	}
	for name, mutate := range cases {
		req := valid()
		mutate(req)
		_, err := suite.catalog.Create(owner.ID, req)
		assert.ErrorIs(suite.T(), err, ErrValidation, name)
	}

	_, err := suite.catalog.Create(uuid.New(), valid())
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *ServiceTestSuite) TestUpdateDatasetOwnerOnly() {
	owner := suite.user(1)
	other := suite.user(2)
	dataset := suite.dataset(owner, "Street Noise", "3", time.Hour)

	price := decimal.RequireFromString("4.25")
	_, err := suite.catalog.Update(dataset.ID, other.ID, &UpdateDatasetRequest{Price: &price})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	inactive := false
	_, err = suite.catalog.Update(dataset.ID, other.ID, &UpdateDatasetRequest{IsActive: &inactive})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	stored, err := suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), decimal.NewFromInt(3).Equal(stored.Price))
	assert.True(suite.T(), stored.IsActive)

	before := stored.UpdatedAt
	suite.clock.Add(time.Second)
	updated, err := suite.catalog.Update(dataset.ID, owner.ID, &UpdateDatasetRequest{Price: &price, IsActive: &inactive})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), price.Equal(updated.Price))
	assert.False(suite.T(), updated.IsActive)
	assert.False(suite.T(), updated.UpdatedAt.Before(before))

	// deactivated datasets stay readable by id
	_, err = suite.catalog.Get(dataset.ID)
	assert.NoError(suite.T(), err)

	_, err = suite.catalog.Update(uuid.New(), owner.ID, &UpdateDatasetRequest{Price: &price})
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *ServiceTestSuite) TestUpdateContentURIClearsSummary() {
	owner := suite.user(1)
	dataset := suite.dataset(owner, "Street Noise", "3", time.Hour)

	summary, err := suite.catalog.Summary(context.Background(), dataset.ID)
	require.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), summary)

	uri := "ipfs://bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"
	updated, err := suite.catalog.Update(dataset.ID, owner.ID, &UpdateDatasetRequest{ContentURI: &uri})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), uri, updated.ContentURI)
	assert.Empty(suite.T(), updated.Summary)
	assert.Nil(suite.T(), updated.SummaryUpdatedAt)
}

func (suite *ServiceTestSuite) TestListMatchesFilterEngine() {
	curator := suite.user(1)
	lab := suite.user(2)

	fixtures := []struct {
		owner    *models.User
		title    string
		category string
		price    string
		rating   float64
		dl       int64
		age      time.Duration
	}{
		{curator, "Bird Songs", "Audio Processing", "12.5", 4.5, 30, 1 * time.Hour},
		{curator, "Street Noise", "Audio Processing", "3", 3.9, 120, 2 * time.Hour},
		{lab, "Speech Commands", "Audio Processing", "8", 4.0, 75, 3 * time.Hour},
		{lab, "Cat Photos", "Computer Vision", "20", 4.8, 500, 4 * time.Hour},
		{curator, "Stock Ticks", "Finance", "99.99", 2.1, 5, 5 * time.Hour},
		{lab, "Traffic Cams", "Computer Vision", "3", 4.0, 10, 6 * time.Hour},
		{lab, "100% Noise_Floor", "Audio Processing", "1", 1.0, 1, 7 * time.Hour},
	}
	for _, f := range fixtures {
		d := suite.dataset(f.owner, f.title, f.price, f.age)
		require.NoError(suite.T(), suite.db.Model(d).Updates(map[string]interface{}{
			"category":  f.category,
			"rating":    f.rating,
			"downloads": f.dl,
		}).Error)
	}
	hidden := suite.dataset(lab, "Hidden Noise", "2", 30*time.Minute)
	suite.db.Model(hidden).Update("is_active", false)

	snapshot, err := suite.catalog.Snapshot(context.Background())
	require.NoError(suite.T(), err)
	require.Len(suite.T(), snapshot, len(fixtures))

	three := decimal.NewFromInt(3)
	twenty := decimal.NewFromInt(20)
	four := 4.0
	filterSets := []search.Filters{
		{},
		{Text: "NOISE"},
		{Text: "%"},
		{Text: "_"},
		{Category: models.AllCategories, Sort: search.SortPriceAsc},
		{Category: "Audio Processing", Sort: search.SortPriceDesc},
		{MinPrice: &three, MaxPrice: &twenty, Sort: search.SortRatingDesc},
		{MinRating: &four, Sort: search.SortDownloadsDesc},
		{MinPrice: &three, MaxPrice: &three},
		{Text: "dataset", Category: "Computer Vision", MinRating: &four},
	}

	ids := func(ds []models.Dataset) []uuid.UUID {
		return lo.Map(ds, func(d models.Dataset, _ int) uuid.UUID { return d.ID })
	}
	for _, f := range filterSets {
		listed, total, err := suite.catalog.List(DatasetListParams{Filters: f})
		require.NoError(suite.T(), err)

		want := search.Apply(snapshot, f)
		assert.Equal(suite.T(), ids(want), ids(listed), "%+v", f)
		assert.EqualValues(suite.T(), len(want), total)
	}

	// wildcard characters are matched literally
	listed, _, err := suite.catalog.List(DatasetListParams{Filters: search.Filters{Text: "100%"}})
	require.NoError(suite.T(), err)
	require.Len(suite.T(), listed, 1)
	assert.Equal(suite.T(), "100% Noise_Floor", listed[0].Title)
}

func (suite *ServiceTestSuite) TestListPaginationAndOwnerView() {
	owner := suite.user(1)
	for i, title := range []string{"One", "Two", "Three", "Four", "Five"} {
		suite.dataset(owner, title+" set", "1", time.Duration(i)*time.Hour)
	}
	inactive := suite.dataset(owner, "Retired set", "1", 10*time.Hour)
	suite.db.Model(inactive).Update("is_active", false)

	page, total, err := suite.catalog.List(DatasetListParams{
		PaginationParams: utils.PaginationParams{Page: 2, Limit: 2},
	})
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 5, total)
	require.Len(suite.T(), page, 2)
	assert.Equal(suite.T(), "Three set", page[0].Title)
	assert.Equal(suite.T(), "Four set", page[1].Title)

	own, total, err := suite.catalog.List(DatasetListParams{OwnerID: &owner.ID, IncludeInactive: true})
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 6, total)
	assert.Equal(suite.T(), "Retired set", own[len(own)-1].Title)
}

func (suite *ServiceTestSuite) TestDownloadsAndRatingCounters() {
	owner := suite.user(1)
	dataset := suite.dataset(owner, "Cat Photos", "20", time.Hour)

	require.NoError(suite.T(), suite.catalog.IncrementDownloads(dataset.ID))
	require.NoError(suite.T(), suite.catalog.IncrementDownloads(dataset.ID))
	assert.ErrorIs(suite.T(), suite.catalog.IncrementDownloads(uuid.New()), ErrNotFound)

	require.NoError(suite.T(), suite.catalog.RecomputeRating(dataset.ID))

	stored, err := suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 2, stored.Downloads)
	assert.EqualValues(suite.T(), 0, stored.ReviewCount)
	assert.Zero(suite.T(), stored.Rating)
}

func (suite *ServiceTestSuite) TestSummaryFallsBackAndCaches() {
	owner := suite.user(1)
	dataset := suite.dataset(owner, "Speech Commands", "8", time.Hour)

	first, err := suite.catalog.Summary(context.Background(), dataset.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), Truncate("Speech Commands. Speech Commands dataset", 40), first)

	stored, err := suite.catalog.Get(dataset.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), first, stored.Summary)
	assert.NotNil(suite.T(), stored.SummaryUpdatedAt)

	again, err := suite.catalog.Summary(context.Background(), dataset.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), first, again)
}

func (suite *ServiceTestSuite) TestCategoriesStartWithSentinel() {
	categories := suite.catalog.Categories()
	assert.Equal(suite.T(), models.AllCategories, categories[0])
	assert.Equal(suite.T(), models.Categories, categories[1:])
}
