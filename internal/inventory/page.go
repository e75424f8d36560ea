package inventory

import (
	"net/url"
	"strconv"
)

const (
	DefaultPerPage = 25
	MaxPerPage     = 200
)

// Page selects one slice of a vendor listing.
type Page struct {
	Number  int
	PerPage int
}

// ParsePage reads page and per_page from a query string. Missing or
// non-numeric values fall back to the defaults and out-of-range values are
// clamped, so a listing request never fails on pagination alone.
func ParsePage(q url.Values) Page {
	p := Page{Number: 1, PerPage: DefaultPerPage}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n >= 1 {
		p.Number = n
	}
	if n, err := strconv.Atoi(q.Get("per_page")); err == nil && n >= 1 {
		p.PerPage = min(n, MaxPerPage)
	}
	return p
}

func (p Page) normalized() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}
