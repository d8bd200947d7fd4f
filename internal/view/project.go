package view

import (
	"sort"
	"strings"
	"time"

	"github.com/memefeed/engine/internal/store"
)

// Project applies search, then filters, then a stable sort. The input slice
// is never modified; the result is a fresh slice.
func Project(records []store.TokenRecord, search string, filters Filters, sortKey SortKey, now time.Time) []store.TokenRecord {
	term := normalizeSearch(search)
	filters = filters.normalized()

	out := make([]store.TokenRecord, 0, len(records))
	for i := range records {
		r := &records[i]
		if !matchesSearch(r, term) {
			continue
		}
		if !matchesFilters(r, filters, now) {
			continue
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return sortKey.less(&out[i], &out[j])
	})
	return out
}

// normalizeSearch lowercases the term. Surrounding spaces stay part of the
// match; a blank term becomes empty and matches everything.
func normalizeSearch(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return strings.ToLower(s)
}

// matchesSearch is a case-insensitive substring test over name, symbol, id
// and description. An empty term matches everything.
func matchesSearch(r *store.TokenRecord, term string) bool {
	if term == "" {
		return true
	}
	for _, field := range [...]string{r.Name, r.Symbol, r.ID, r.Description} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// matchesFilters ANDs the four facets. Unknown option keys impose no
// constraint; ParseFilters keeps them out of user input.
func matchesFilters(r *store.TokenRecord, f Filters, now time.Time) bool {
	if o, ok := LookupOption(FacetPriceRange, f.PriceRange); ok && !o.Unconstrained() && !o.contains(r.Price) {
		return false
	}
	if o, ok := LookupOption(FacetMarketCap, f.MarketCap); ok && !o.Unconstrained() && !o.contains(r.MarketCap()) {
		return false
	}
	if o, ok := LookupOption(FacetVolume, f.Volume); ok && !o.Unconstrained() && !o.contains(r.Volume()) {
		return false
	}
	if o, ok := LookupOption(FacetTimeFrame, f.TimeFrame); ok && o.Hours > 0 {
		if now.Sub(r.CreatedAt).Hours() > o.Hours {
			return false
		}
	}
	return true
}
