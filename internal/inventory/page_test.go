package inventory

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePage(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Page
	}{
		{"defaults", "", Page{Number: 1, PerPage: 25}},
		{"explicit", "page=3&per_page=50", Page{Number: 3, PerPage: 50}},
		{"zero page falls back", "page=0", Page{Number: 1, PerPage: 25}},
		{"garbage falls back", "page=abc&per_page=x", Page{Number: 1, PerPage: 25}},
		{"per_page clamped", "per_page=1000", Page{Number: 1, PerPage: 200}},
		{"negative per_page falls back", "per_page=-4", Page{Number: 1, PerPage: 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ParsePage(q))
		})
	}
}
