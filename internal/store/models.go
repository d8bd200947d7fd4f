// Package store holds the token data model and the authoritative in-memory
// token collection.
package store

import "time"

// TokenRecord is the canonical per-token state.
type TokenRecord struct {
	// ID is the token mint address. Immutable.
	ID string `json:"id"`

	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatarUrl"`

	// ShortAddress is the abbreviated ID shown in tables.
	ShortAddress string `json:"shortAddress"`

	// Price is the USD display price.
	Price        float64 `json:"price"`
	VolumeSol    float64 `json:"volumeSol"`
	VolumeUSD    float64 `json:"volumeUsd"`
	MarketCapUSD float64 `json:"marketCapUsd"`

	Holders int64 `json:"holders"`
	Buys    int64 `json:"buys"`
	Sells   int64 `json:"sells"`
	TxCount int64 `json:"txCount"`

	// LastTxTime and LastUpdated are upstream epoch milliseconds.
	LastTxTime  int64 `json:"lastTxTime"`
	LastUpdated int64 `json:"lastUpdated"`

	// Progress is the bonding curve completion, 0-100.
	Progress float64 `json:"progress"`

	// DevHolderPct and Top10HolderPct are percentages derived from raw
	// upstream fractions with FractionToPercent.
	DevHolderPct   float64 `json:"devHolderPct"`
	Top10HolderPct float64 `json:"top10HolderPct"`

	// CreatedAt is set once when the record first appears.
	CreatedAt time.Time `json:"createdAt"`

	Twitter  string `json:"twitter,omitempty"`
	Website  string `json:"website,omitempty"`
	Telegram string `json:"telegram,omitempty"`
	Creator  string `json:"creator,omitempty"`
}

// Volume returns the display volume. Streamed SOL volume wins over the
// snapshot USD volume when both are known.
func (t TokenRecord) Volume() float64 {
	if t.VolumeSol != 0 {
		return t.VolumeSol
	}
	return t.VolumeUSD
}

// MarketCap returns the display market cap.
func (t TokenRecord) MarketCap() float64 {
	return t.MarketCapUSD
}

// ClampedProgress returns Progress clamped to [0,100].
func (t TokenRecord) ClampedProgress() float64 {
	switch {
	case t.Progress < 0:
		return 0
	case t.Progress > 100:
		return 100
	default:
		return t.Progress
	}
}

// TokenUpdateEvent is a normalized streaming delta. A nil field means
// "no change"; a non-nil zero means "set to zero".
type TokenUpdateEvent struct {
	TokenID string

	// Price is the resolved USD display price.
	Price *float64
	// PriceUSD is the raw upstream priceUsd value, if sent.
	PriceUSD *float64

	VolumeSol    *float64
	VolumeUSD    *float64
	MarketCapUSD *float64

	Holders *int64
	Buys    *int64
	Sells   *int64
	TxCount *int64

	LastTxTime *int64

	// CreatorSharePct and TopHoldersPct are raw fractions (0.1978 = 19.78%).
	CreatorSharePct *float64
	TopHoldersPct   *float64

	LastUpdated *int64
}

// TradeUpdate is a single trade published on a per-pair trade channel.
type TradeUpdate struct {
	PairID    string  `json:"pairId"`
	TradeID   string  `json:"tradeId"`
	Type      string  `json:"type"` // buy or sell
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
	Trader    string  `json:"trader"`
}

// Alert types raised over applied token updates.
const (
	AlertPriceShock  = "PRICE_SHOCK"
	AlertHolderSurge = "HOLDER_SURGE"
	AlertHotToken    = "HOT_TOKEN"
)

// Alert is a notable change detected on a token.
type Alert struct {
	Token     TokenRecord
	AlertType string
	At        time.Time
	Meta      map[string]interface{}
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
