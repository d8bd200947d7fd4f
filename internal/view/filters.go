// Package view derives the searched, filtered and sorted token list shown to
// users from the collection store.
package view

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownFilter is returned for a facet or option key outside the
// enumerations below.
var ErrUnknownFilter = errors.New("unknown filter")

// Facet names one filter dimension.
type Facet string

const (
	FacetPriceRange Facet = "priceRange"
	FacetMarketCap  Facet = "marketCap"
	FacetVolume     Facet = "volume"
	FacetTimeFrame  Facet = "timeFrame"
)

// Facets lists every facet in display order.
var Facets = []Facet{FacetPriceRange, FacetMarketCap, FacetVolume, FacetTimeFrame}

// Option is one selectable value of a facet. An option without bounds and
// without hours imposes no constraint.
type Option struct {
	Key   string
	Label string
	Min   float64
	Max   float64
	Hours float64

	bounded bool
}

// Unconstrained reports whether the option is the facet's all/any sentinel.
func (o Option) Unconstrained() bool {
	return !o.bounded && o.Hours == 0
}

func (o Option) contains(v float64) bool {
	return v >= o.Min && v <= o.Max
}

func anyOption(key, label string) Option { return Option{Key: key, Label: label} }

func rangeOption(key, label string, lo, hi float64) Option {
	return Option{Key: key, Label: label, Min: lo, Max: hi, bounded: true}
}

func hoursOption(key, label string, hours float64) Option {
	return Option{Key: key, Label: label, Hours: hours}
}

var facetOptions = map[Facet][]Option{
	FacetPriceRange: {
		anyOption("all-prices", "All Prices"),
		rangeOption("price-0-0.01", "$0 - $0.01", 0, 0.01),
		rangeOption("price-0.01-0.1", "$0.01 - $0.1", 0.01, 0.1),
		rangeOption("price-0.1-1", "$0.1 - $1", 0.1, 1),
		rangeOption("price-1-plus", "$1+", 1, math.Inf(1)),
	},
	FacetMarketCap: {
		anyOption("any-size", "Any Size"),
		rangeOption("mc-0-10k", "$0 - $10K", 0, 10_000),
		rangeOption("mc-10k-100k", "$10K - $100K", 10_000, 100_000),
		rangeOption("mc-100k-1m", "$100K - $1M", 100_000, 1_000_000),
		rangeOption("mc-1m-plus", "$1M+", 1_000_000, math.Inf(1)),
	},
	FacetVolume: {
		anyOption("any-volume", "Any Volume"),
		rangeOption("vol-0-1k", "$0 - $1K", 0, 1_000),
		rangeOption("vol-1k-10k", "$1K - $10K", 1_000, 10_000),
		rangeOption("vol-10k-100k", "$10K - $100K", 10_000, 100_000),
		rangeOption("vol-100k-plus", "$100K+", 100_000, math.Inf(1)),
	},
	FacetTimeFrame: {
		anyOption("all-time", "All Time"),
		hoursOption("last-24h", "Last 24h", 24),
		hoursOption("last-7d", "Last 7 days", 24*7),
		hoursOption("last-30d", "Last 30 days", 24*30),
	},
}

// Options returns the options of a facet in display order.
func Options(f Facet) []Option {
	opts := facetOptions[f]
	out := make([]Option, len(opts))
	copy(out, opts)
	return out
}

// LookupOption resolves an option key within a facet.
func LookupOption(f Facet, key string) (Option, bool) {
	for _, o := range facetOptions[f] {
		if o.Key == key {
			return o, true
		}
	}
	return Option{}, false
}

// Filters selects one option per facet.
type Filters struct {
	PriceRange string `json:"priceRange"`
	MarketCap  string `json:"marketCap"`
	Volume     string `json:"volume"`
	TimeFrame  string `json:"timeFrame"`
}

// DefaultFilters selects the sentinel option of every facet.
var DefaultFilters = Filters{
	PriceRange: "all-prices",
	MarketCap:  "any-size",
	Volume:     "any-volume",
	TimeFrame:  "all-time",
}

// Get returns the selected key for a facet.
func (f Filters) Get(facet Facet) string {
	switch facet {
	case FacetPriceRange:
		return f.PriceRange
	case FacetMarketCap:
		return f.MarketCap
	case FacetVolume:
		return f.Volume
	case FacetTimeFrame:
		return f.TimeFrame
	default:
		return ""
	}
}

// With returns a copy with facet set to key.
func (f Filters) With(facet Facet, key string) (Filters, error) {
	if _, ok := LookupOption(facet, key); !ok {
		return f, fmt.Errorf("%w: %s=%q", ErrUnknownFilter, facet, key)
	}
	switch facet {
	case FacetPriceRange:
		f.PriceRange = key
	case FacetMarketCap:
		f.MarketCap = key
	case FacetVolume:
		f.Volume = key
	case FacetTimeFrame:
		f.TimeFrame = key
	}
	return f, nil
}

// Next returns a copy with facet advanced to its next option, wrapping around.
func (f Filters) Next(facet Facet) Filters {
	opts := facetOptions[facet]
	if len(opts) == 0 {
		return f
	}
	current := f.Get(facet)
	next := opts[0].Key
	for i, o := range opts {
		if o.Key == current {
			next = opts[(i+1)%len(opts)].Key
			break
		}
	}
	f, _ = f.With(facet, next)
	return f
}

// Active reports whether any facet differs from DefaultFilters.
func (f Filters) Active() bool {
	return f.normalized() != DefaultFilters
}

// Validate checks every selected key against its facet.
func (f Filters) Validate() error {
	for _, facet := range Facets {
		key := f.Get(facet)
		if key == "" {
			continue
		}
		if _, ok := LookupOption(facet, key); !ok {
			return fmt.Errorf("%w: %s=%q", ErrUnknownFilter, facet, key)
		}
	}
	return nil
}

// normalized fills empty facets with their defaults.
func (f Filters) normalized() Filters {
	if f.PriceRange == "" {
		f.PriceRange = DefaultFilters.PriceRange
	}
	if f.MarketCap == "" {
		f.MarketCap = DefaultFilters.MarketCap
	}
	if f.Volume == "" {
		f.Volume = DefaultFilters.Volume
	}
	if f.TimeFrame == "" {
		f.TimeFrame = DefaultFilters.TimeFrame
	}
	return f
}

// ParseFilters builds Filters from facet-name to option-key pairs. Missing or
// empty facets keep their defaults; unknown facets and keys are rejected.
func ParseFilters(values map[string]string) (Filters, error) {
	f := DefaultFilters
	for name, key := range values {
		if key == "" {
			continue
		}
		facet := Facet(name)
		if _, ok := facetOptions[facet]; !ok {
			return DefaultFilters, fmt.Errorf("%w: facet %q", ErrUnknownFilter, name)
		}
		var err error
		if f, err = f.With(facet, key); err != nil {
			return DefaultFilters, err
		}
	}
	return f, nil
}
