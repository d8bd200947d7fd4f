package ingest

import (
	"math"
	"strconv"
	"strings"
)

// Upstream publishers and the REST API disagree on key names. Each canonical
// field resolves from an ordered list of candidate keys; the first key that
// holds a usable non-zero value wins, and a zero only when no later key
// holds anything else. Snapshot conversion and stream normalization
// both read through these lists.
var (
	priceKeys        = []string{"priceUsd", "price_usd", "usd_price", "price"}
	rawPriceUSDKeys  = []string{"priceUsd"}
	buysKeys         = []string{"buys", "buyCount"}
	sellsKeys        = []string{"sells", "sellCount"}
	holdersKeys      = []string{"holders"}
	volumeSolKeys    = []string{"volumeSol"}
	volumeUSDKeys    = []string{"volumeUsd"}
	marketCapKeys    = []string{"marketCapUsd"}
	txCountKeys      = []string{"txCount"}
	lastTxTimeKeys   = []string{"last_tx_time", "lastTxTime"}
	lastUpdatedKeys  = []string{"lastUpdated"}
	creatorShareKeys = []string{"creatorSharePercentage"}
	topHoldersKeys   = []string{"topHoldersPercentage"}
	progressKeys     = []string{"progress"}
	createdAtKeys    = []string{"createdAt", "created_at"}
	avatarKeys       = []string{"photo", "avatar", "image"}
	twitterKeys      = []string{"twitter", "x"}
)

// lookupFloat returns the first candidate that holds a non-zero JSON number
// or numeric string. A zero candidate is reported only if nothing after it
// is non-zero.
func lookupFloat(m map[string]interface{}, keys []string) (float64, bool) {
	found := false
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		if f != 0 {
			return f, true
		}
		found = true
	}
	return 0, found
}

// lookupInt is lookupFloat truncated to an integer.
func lookupInt(m map[string]interface{}, keys []string) (int64, bool) {
	f, ok := lookupFloat(m, keys)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// lookupString returns the first non-empty string candidate.
func lookupString(m map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func optFloat(m map[string]interface{}, keys []string) *float64 {
	if f, ok := lookupFloat(m, keys); ok {
		return &f
	}
	return nil
}

func optInt(m map[string]interface{}, keys []string) *int64 {
	if i, ok := lookupInt(m, keys); ok {
		return &i
	}
	return nil
}

// toFloat accepts finite numbers only.
func toFloat(v interface{}) (float64, bool) {
	f, ok := rawFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func rawFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
