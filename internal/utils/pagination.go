// internal/utils/pagination.go
package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PaginationParams selects a 1-based page of a listing.
type PaginationParams struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Page is one page of datasets, reviews or transactions with its totals.
type Page struct {
	Items      interface{}
	Page       int
	Limit      int
	Total      int64
	TotalPages int
}

// ParsePagination reads ?page and ?limit. Values out of range fall back to
// the first page and the default size.
func ParsePagination(c *gin.Context) PaginationParams {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	return PaginationParams{Page: page, Limit: limit}
}

func ApplyPagination(db *gorm.DB, params PaginationParams) *gorm.DB {
	return db.Offset((params.Page - 1) * params.Limit).Limit(params.Limit)
}

func NewPage(items interface{}, total int64, params PaginationParams) Page {
	pages := 0
	if params.Limit > 0 {
		pages = int((total + int64(params.Limit) - 1) / int64(params.Limit))
	}
	return Page{
		Items:      items,
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: pages,
	}
}
