package ingest

import (
	"time"

	"github.com/memefeed/engine/internal/store"
)

// FallbackTokens is the development dataset used when the REST API is
// unreachable. Creation times are relative to now.
func FallbackTokens(now time.Time) []store.TokenRecord {
	raw := map[string]interface{}{
		"11111111111111111111111111111112": map[string]interface{}{
			"name":         "Mock Token 1",
			"symbol":       "MTK1",
			"description":  "This is a mock token for development",
			"photo":        "https://via.placeholder.com/32",
			"volumeUsd":    125000.0,
			"marketCapUsd": 500000.0,
			"progress":     25.0,
			"holders":      1250.0,
			"createdAt":    now.Add(-2 * time.Hour).Format(time.RFC3339),
			"twitter":      "https://twitter.com/mocktoken1",
			"website":      "https://mocktoken1.com",
			"telegram":     "https://t.me/mocktoken1",
			"price":        0.0005,
			"buys":         45.0,
			"sells":        23.0,
		},
		"22222222222222222222222222222223": map[string]interface{}{
			"name":         "Mock Token 2",
			"symbol":       "MTK2",
			"description":  "Another mock token for testing",
			"photo":        "https://via.placeholder.com/32",
			"volumeUsd":    89000.0,
			"marketCapUsd": 320000.0,
			"progress":     75.0,
			"holders":      890.0,
			"createdAt":    now.Add(-30 * time.Minute).Format(time.RFC3339),
			"twitter":      "https://twitter.com/mocktoken2",
			"website":      "https://mocktoken2.com",
			"telegram":     "https://t.me/mocktoken2",
			"price":        0.0012,
			"buys":         67.0,
			"sells":        12.0,
		},
	}
	return ConvertSnapshot(raw)
}
