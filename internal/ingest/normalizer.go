// Package ingest handles the live transport, subscription bookkeeping,
// payload normalization and snapshot fetching.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/memefeed/engine/internal/store"
)

var (
	// ErrMalformedPayload is returned for payloads that are not JSON objects.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMissingToken is returned when no token identifier can be resolved.
	ErrMissingToken = errors.New("missing token identifier")
)

// Normalize parses a raw publication into a TokenUpdateEvent. An error means
// the event must be dropped without touching the store.
func Normalize(raw []byte) (store.TokenUpdateEvent, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return store.TokenUpdateEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return store.TokenUpdateEvent{}, ErrMalformedPayload
	}
	return NormalizeValue(m)
}

// NormalizeValue is Normalize for an already decoded object.
func NormalizeValue(m map[string]interface{}) (store.TokenUpdateEvent, error) {
	payload := unwrap(m)
	if payload == nil {
		return store.TokenUpdateEvent{}, ErrMalformedPayload
	}

	token, _ := payload["token"].(string)
	if token == "" {
		return store.TokenUpdateEvent{}, ErrMissingToken
	}

	ev := store.TokenUpdateEvent{
		TokenID:         token,
		Price:           optFloat(payload, priceKeys),
		PriceUSD:        optFloat(payload, rawPriceUSDKeys),
		VolumeSol:       optFloat(payload, volumeSolKeys),
		VolumeUSD:       optFloat(payload, volumeUSDKeys),
		MarketCapUSD:    optFloat(payload, marketCapKeys),
		TxCount:         optInt(payload, txCountKeys),
		LastTxTime:      optInt(payload, lastTxTimeKeys),
		CreatorSharePct: optFloat(payload, creatorShareKeys),
		TopHoldersPct:   optFloat(payload, topHoldersKeys),
		LastUpdated:     optInt(payload, lastUpdatedKeys),
		Holders:         optInt(payload, holdersKeys),
		Buys:            optInt(payload, buysKeys),
		Sells:           optInt(payload, sellsKeys),
	}

	return ev, nil
}

// unwrap picks the real payload: pub.data, then data, then the object itself.
func unwrap(m map[string]interface{}) map[string]interface{} {
	if pub, ok := m["pub"].(map[string]interface{}); ok {
		if data, ok := pub["data"].(map[string]interface{}); ok && len(data) > 0 {
			return data
		}
	}
	if data, ok := m["data"].(map[string]interface{}); ok && len(data) > 0 {
		return data
	}
	if len(m) > 0 {
		return m
	}
	return nil
}

