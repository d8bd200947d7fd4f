package server

import (
	"github.com/memefeed/engine/internal/store"
	"github.com/memefeed/engine/internal/view"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details any    `json:"details,omitempty"` // dev mode only
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK        bool   `json:"ok"`
	Connected bool   `json:"connected"`
	Degraded  bool   `json:"degraded"`
	Tokens    int    `json:"tokens"`
	Version   uint64 `json:"version"`
}

// TokensResponse is one page of the projection.
type TokensResponse struct {
	Items   []store.TokenRecord `json:"items"`
	Total   int                 `json:"total"`
	Version uint64              `json:"version"`
	Query   view.Query          `json:"query"`
}

// FacetOption is one selectable filter value.
type FacetOption struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// FiltersResponse lists the filter facets and sort keys.
type FiltersResponse struct {
	Facets   map[string][]FacetOption `json:"facets"`
	Defaults view.Filters             `json:"defaults"`
	Sorts    []FacetOption            `json:"sorts"`
}

// TradePairsResponse lists the watched trade pairs.
type TradePairsResponse struct {
	Pairs []string `json:"pairs"`
}
