package view

import (
	"errors"
	"fmt"

	"github.com/memefeed/engine/internal/store"
)

// ErrUnknownSort is returned for a sort key outside SortKeys.
var ErrUnknownSort = errors.New("unknown sort key")

// SortKey selects the projection order. Every order is descending.
type SortKey string

const (
	SortMarketCap SortKey = "market-cap"
	SortVolume    SortKey = "volume"
	SortCreated   SortKey = "created"

	DefaultSort = SortMarketCap
)

// SortKeys lists the supported keys in display order.
var SortKeys = []SortKey{SortMarketCap, SortVolume, SortCreated}

// ParseSortKey validates s. An empty string selects DefaultSort.
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return DefaultSort, nil
	}
	for _, k := range SortKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return DefaultSort, fmt.Errorf("%w: %q", ErrUnknownSort, s)
}

// Label is the display name of the key.
func (k SortKey) Label() string {
	switch k {
	case SortVolume:
		return "Volume"
	case SortCreated:
		return "Created"
	default:
		return "Market Cap"
	}
}

// Next cycles through SortKeys.
func (k SortKey) Next() SortKey {
	for i, sk := range SortKeys {
		if sk == k {
			return SortKeys[(i+1)%len(SortKeys)]
		}
	}
	return DefaultSort
}

// less orders a before b. Unknown keys fall back to market cap.
func (k SortKey) less(a, b *store.TokenRecord) bool {
	switch k {
	case SortVolume:
		return a.Volume() > b.Volume()
	case SortCreated:
		return a.CreatedAt.After(b.CreatedAt)
	default:
		return a.MarketCap() > b.MarketCap()
	}
}
