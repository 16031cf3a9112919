package pagination

import (
	"net/http"
	"strconv"
)

// Page bounds for list endpoints.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params is a page request read from the query string.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Offset  int `json:"-"`
}

// FromRequest reads ?page= and ?per_page=. Missing, malformed or out of range
// values fall back to page 1 and DefaultPerPage.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	page := positive(q.Get("page"), 1, 0)
	perPage := positive(q.Get("per_page"), DefaultPerPage, MaxPerPage)
	return Params{Page: page, PerPage: perPage, Offset: (page - 1) * perPage}
}

// positive parses raw as an int in [1, limit]; limit 0 means unbounded.
func positive(raw string, fallback, limit int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || (limit > 0 && v > limit) {
		return fallback
	}
	return v
}
