// internal/search/filter.go

// Package search filters and orders catalog snapshots and runs debounced
// live-search sessions over them.
package search

import (
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/javajoker/datamarket-backend/internal/models"
)

type Sort string

const (
	SortNewest        Sort = "newest"
	SortPriceAsc      Sort = "price_asc"
	SortPriceDesc     Sort = "price_desc"
	SortRatingDesc    Sort = "rating_desc"
	SortDownloadsDesc Sort = "downloads_desc"
)

var Sorts = []Sort{SortNewest, SortPriceAsc, SortPriceDesc, SortRatingDesc, SortDownloadsDesc}

func (s Sort) Valid() bool {
	return lo.Contains(Sorts, s)
}

type Filters struct {
	Text      string           `json:"text"`
	Category  string           `json:"category"`
	MinPrice  *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice  *decimal.Decimal `json:"max_price,omitempty"`
	MinRating *float64         `json:"min_rating,omitempty"`
	Sort      Sort             `json:"sort"`
}

// Normalized trims the text and falls back to newest-first ordering.
func (f Filters) Normalized() Filters {
	f.Text = strings.TrimSpace(f.Text)
	f.Category = strings.TrimSpace(f.Category)
	if !f.Sort.Valid() {
		f.Sort = SortNewest
	}
	return f
}

// HasCategory reports whether the category narrows the result.
func (f Filters) HasCategory() bool {
	return f.Category != "" && f.Category != models.AllCategories
}

// SameExceptText reports whether f and o differ at most in their text.
func (f Filters) SameExceptText(o Filters) bool {
	f.Text, o.Text = "", ""
	return f.Category == o.Category &&
		decimalPtrEqual(f.MinPrice, o.MinPrice) &&
		decimalPtrEqual(f.MaxPrice, o.MaxPrice) &&
		floatPtrEqual(f.MinRating, o.MinRating) &&
		f.Sort == o.Sort
}

func (f Filters) Matches(d models.Dataset) bool {
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(d.Title), needle) &&
			!strings.Contains(strings.ToLower(d.Description), needle) {
			return false
		}
	}
	if f.HasCategory() && d.Category != f.Category {
		return false
	}
	if f.MinPrice != nil && d.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && d.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.MinRating != nil && d.Rating < *f.MinRating {
		return false
	}
	return true
}

// Apply returns the datasets of snapshot matching filters in the requested
// order. The snapshot is not modified.
func Apply(snapshot []models.Dataset, filters Filters) []models.Dataset {
	filters = filters.Normalized()
	out := lo.Filter(snapshot, func(d models.Dataset, _ int) bool {
		return filters.Matches(d)
	})
	slices.SortStableFunc(out, Compare(filters.Sort))
	return out
}

// Compare orders datasets by key, then newest first, then by id.
func Compare(key Sort) func(a, b models.Dataset) int {
	return func(a, b models.Dataset) int {
		var c int
		switch key {
		case SortPriceAsc:
			c = a.Price.Cmp(b.Price)
		case SortPriceDesc:
			c = b.Price.Cmp(a.Price)
		case SortRatingDesc:
			c = cmpFloat(b.Rating, a.Rating)
		case SortDownloadsDesc:
			c = cmpInt(b.Downloads, a.Downloads)
		}
		if c != 0 {
			return c
		}
		if c = b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
