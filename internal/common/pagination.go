package common

import "net/http"

// Page is the page window requested by a list endpoint, read from the
// "page" and "limit" query parameters.
type Page struct {
	Number int
	Size   int
}

// PageFrom resolves the page window for r. Size defaults to def and is capped
// at max when max is positive.
func PageFrom(r *http.Request, def, max int) Page {
	p := Page{Number: QueryInt(r, "page", 1), Size: QueryInt(r, "limit", def)}
	if max > 0 && p.Size > max {
		p.Size = max
	}
	return p
}

// Offset is the SQL offset of the first row on the page.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Pagination is the metadata block returned next to list data.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Meta describes p for a result set of total rows.
func (p Page) Meta(total int) Pagination {
	pages := 0
	if p.Size > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	return Pagination{Page: p.Number, Limit: p.Size, Total: total, TotalPages: pages}
}
