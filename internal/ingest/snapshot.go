package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/memefeed/engine/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAPIURL is the launchpad REST API base.
	DefaultAPIURL = "https://launch.meme/api"
	// DefaultSnapshotTimeout bounds a full snapshot fetch.
	DefaultSnapshotTimeout = 10 * time.Second

	defaultAvatar = "/api/placeholder/32/32"
)

// ErrSnapshotTimeout is wrapped by SnapshotError when the fetch hit its deadline.
var ErrSnapshotTimeout = errors.New("snapshot request timed out")

// SnapshotError describes a failed snapshot fetch. The collection is never
// touched when one is returned.
type SnapshotError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *SnapshotError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("snapshot %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("snapshot %s: %v", e.Op, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// SnapshotSource produces a full token snapshot.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) ([]store.TokenRecord, error)
}

// SnapshotClient fetches the token list from the REST API.
type SnapshotClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewSnapshotClient creates a SnapshotClient. A zero timeout uses
// DefaultSnapshotTimeout.
func NewSnapshotClient(baseURL string, timeout time.Duration, log logrus.FieldLogger) *SnapshotClient {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = DefaultSnapshotTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SnapshotClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
		log:     log,
	}
}

// FetchSnapshot POSTs to /tokens and converts the response. It fails with a
// SnapshotError wrapping ErrSnapshotTimeout once the timeout elapses.
func (c *SnapshotClient) FetchSnapshot(ctx context.Context) ([]store.TokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + "/tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, &SnapshotError{Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &SnapshotError{Op: "request", Err: ErrSnapshotTimeout}
		}
		return nil, &SnapshotError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &SnapshotError{
			Op:         "request",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &SnapshotError{Op: "decode", Err: ErrSnapshotTimeout}
		}
		return nil, &SnapshotError{Op: "decode", Err: err}
	}

	records := ConvertSnapshot(payload)
	c.log.WithFields(logrus.Fields{
		"url":    url,
		"tokens": len(records),
	}).Info("snapshot_fetched")

	return records, nil
}

// ConvertSnapshot turns a `{"tokens":{id:{...}}}` response, or the bare
// id-to-token map, into records ordered newest first. Entries that are not
// objects are skipped.
func ConvertSnapshot(payload map[string]interface{}) []store.TokenRecord {
	tokens := payload
	if inner, ok := payload["tokens"].(map[string]interface{}); ok {
		tokens = inner
	}

	records := make([]store.TokenRecord, 0, len(tokens))
	for id, raw := range tokens {
		attrs, ok := raw.(map[string]interface{})
		if !ok || id == "" {
			continue
		}
		records = append(records, convertToken(id, attrs))
	}

	// Map iteration is random; fix the order so refreshes don't reshuffle rows.
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records
}

// convertToken maps raw API attributes onto a TokenRecord.
func convertToken(id string, m map[string]interface{}) store.TokenRecord {
	rec := store.TokenRecord{
		ID:           id,
		Name:         coalesce(lookupString(m, []string{"name"}), "Unknown"),
		Symbol:       coalesce(lookupString(m, []string{"symbol"}), "UNK"),
		Description:  lookupString(m, []string{"description"}),
		AvatarURL:    coalesce(lookupString(m, avatarKeys), defaultAvatar),
		ShortAddress: store.ShortAddress(id),
		Twitter:      lookupString(m, twitterKeys),
		Website:      lookupString(m, []string{"website"}),
		Telegram:     lookupString(m, []string{"telegram"}),
		Creator:      lookupString(m, []string{"creator"}),
		CreatedAt:    parseCreatedAt(m),
	}

	rec.Price, _ = lookupFloat(m, priceKeys)
	rec.VolumeSol, _ = lookupFloat(m, volumeSolKeys)
	rec.VolumeUSD, _ = lookupFloat(m, volumeUSDKeys)
	rec.MarketCapUSD, _ = lookupFloat(m, marketCapKeys)
	rec.Holders, _ = lookupInt(m, holdersKeys)
	rec.Buys, _ = lookupInt(m, buysKeys)
	rec.Sells, _ = lookupInt(m, sellsKeys)
	rec.TxCount, _ = lookupInt(m, txCountKeys)
	rec.LastTxTime, _ = lookupInt(m, lastTxTimeKeys)
	rec.LastUpdated, _ = lookupInt(m, lastUpdatedKeys)

	if f, ok := lookupFloat(m, creatorShareKeys); ok {
		rec.DevHolderPct = store.FractionToPercent(f)
	}
	if f, ok := lookupFloat(m, topHoldersKeys); ok {
		rec.Top10HolderPct = store.FractionToPercent(f)
	}

	if p, ok := lookupFloat(m, progressKeys); ok && p != 0 {
		rec.Progress = p
	} else if rec.VolumeUSD > 0 && rec.MarketCapUSD > 0 {
		rec.Progress = min(rec.VolumeUSD/rec.MarketCapUSD*100, 100)
	}

	return rec
}

// parseCreatedAt accepts RFC3339 strings and epoch seconds or milliseconds.
// A missing or unparseable value yields the zero time; the collection stamps
// those on load.
func parseCreatedAt(m map[string]interface{}) time.Time {
	for _, key := range createdAtKeys {
		switch v := m[key].(type) {
		case string:
			if v == "" {
				continue
			}
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, v); err == nil {
					return t
				}
			}
			if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
				return fromEpoch(ts)
			}
		case float64:
			return fromEpoch(int64(v))
		}
	}
	return time.Time{}
}

func fromEpoch(ts int64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
