package ui

import (
	"fmt"
	"strings"

	"github.com/memefeed/engine/internal/view"
)

// Controls holds the user-selected search, filters and sort.
type Controls struct {
	query view.Query
}

// NewControls starts from the default filters and sort.
func NewControls() *Controls {
	return &Controls{query: view.Query{Filters: view.DefaultFilters, Sort: view.DefaultSort}}
}

// Query returns the current projection query.
func (c *Controls) Query() view.Query { return c.query }

// SetSearch replaces the search text.
func (c *Controls) SetSearch(s string) { c.query.Search = s }

// CycleSort advances to the next sort key.
func (c *Controls) CycleSort() { c.query.Sort = c.query.Sort.Next() }

// CycleFacet advances the n-th facet (0-based) to its next option.
func (c *Controls) CycleFacet(n int) {
	if n < 0 || n >= len(view.Facets) {
		return
	}
	c.query.Filters = c.query.Filters.Next(view.Facets[n])
}

// Clear resets search and filters. The sort key is kept.
func (c *Controls) Clear() {
	c.query.Search = ""
	c.query.Filters = view.DefaultFilters
}

// Describe renders the query for the status line.
func (c *Controls) Describe() string {
	parts := []string{fmt.Sprintf("Sort: [yellow]%s[-]", c.query.Sort.Label())}
	if s := strings.TrimSpace(c.query.Search); s != "" {
		parts = append(parts, fmt.Sprintf("Search: [yellow]%s[-]", s))
	}
	for i, f := range view.Facets {
		key := c.query.Filters.Get(f)
		label := key
		if o, ok := view.LookupOption(f, key); ok {
			label = o.Label
		}
		parts = append(parts, fmt.Sprintf("%d:%s", i+1, label))
	}
	return strings.Join(parts, "  ")
}
