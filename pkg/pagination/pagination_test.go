package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"?page=3&per_page=50", Params{Page: 3, PerPage: 50, Offset: 100}},
		{"?page=0", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"?page=-2&per_page=abc", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"?per_page=101", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"?page=2&per_page=100", Params{Page: 2, PerPage: 100, Offset: 100}},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/inventory/movements"+tc.query, nil)
			assert.Equal(t, tc.want, FromRequest(r))
		})
	}
}
