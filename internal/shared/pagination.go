package shared

import (
	"math"
	"net/url"
	"strconv"
)

const maxPerPage = 200

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = normalisePage(page, perPage)
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageFromQuery reads page and per_page query parameters.
func PageFromQuery(q url.Values) (page, perPage int) {
	page, _ = strconv.Atoi(q.Get("page"))
	perPage, _ = strconv.Atoi(q.Get("per_page"))
	return normalisePage(page, perPage)
}

// Offset returns the row offset for page/perPage.
func Offset(page, perPage int) int {
	page, perPage = normalisePage(page, perPage)
	return (page - 1) * perPage
}

func normalisePage(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}
