package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/memefeed/engine/internal/feed"
	"github.com/memefeed/engine/internal/ingest"
	"github.com/memefeed/engine/internal/metrics"
	"github.com/memefeed/engine/internal/store"
	"github.com/memefeed/engine/internal/view"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct {
	coll     *store.Collection
	result   feed.RefreshResult
	err      error
	refreshs int
	pairs    []string
	watchErr error
}

func (f *stubFeed) WatchTrades(_ context.Context, pairID string) error {
	if pairID == "" {
		return feed.ErrEmptyPair
	}
	if f.watchErr != nil {
		return f.watchErr
	}
	f.pairs = append(f.pairs, pairID)
	return nil
}

func (f *stubFeed) UnwatchTrades(pairID string) error {
	kept := f.pairs[:0]
	for _, p := range f.pairs {
		if p != pairID {
			kept = append(kept, p)
		}
	}
	f.pairs = kept
	return nil
}

func (f *stubFeed) TradePairs() []string { return append([]string{}, f.pairs...) }

func (f *stubFeed) Status() feed.Status {
	return feed.Status{Connected: true, Tokens: f.coll.Len(), Version: f.coll.Version()}
}

func (f *stubFeed) Refresh(context.Context) (feed.RefreshResult, error) {
	f.refreshs++
	return f.result, f.err
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *stubFeed) {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coll := store.NewCollection(store.WithClock(func() time.Time { return now }))
	coll.LoadSnapshot([]store.TokenRecord{
		{ID: "AAA", Name: "Alpha Dog", Symbol: "ADOG", Price: 0.002, MarketCapUSD: 50_000, VolumeUSD: 5_000, CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "BBB", Name: "Beta Cat", Symbol: "BCAT", Price: 0.5, MarketCapUSD: 2_000_000, VolumeUSD: 90_000, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "CCC", Name: "Gamma", Symbol: "GAM", Price: 0.01, MarketCapUSD: 400_000, VolumeUSD: 20_000, CreatedAt: now.Add(-2 * time.Hour)},
	})

	sf := &stubFeed{coll: coll, result: feed.RefreshResult{Source: feed.SourceAPI, Tokens: 3}}
	log, _ := test.NewNullLogger()
	h := &Handlers{
		Feed:    sf,
		View:    view.NewEngine(coll, view.WithNow(func() time.Time { return now })),
		Lookup:  coll,
		Tracker: metrics.NewTracker(),
		Logger:  log,
	}
	return NewServer(ServerDeps{Handlers: h, Config: cfg, Logger: log}), sf
}

func do(t *testing.T, s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	rec := do(t, s, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.True(t, resp.OK)
	assert.True(t, resp.Connected)
	assert.Equal(t, 3, resp.Tokens)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestTokens_DefaultSortByMarketCap(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	rec := do(t, s, http.MethodGet, "/v1/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[TokensResponse](t, rec)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, []string{"BBB", "CCC", "AAA"}, ids(resp.Items))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, view.SortMarketCap, resp.Query.Sort)
}

func TestTokens_SearchFilterSortAndLimit(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	rec := do(t, s, http.MethodGet, "/v1/tokens?timeFrame=last-24h&sort=created&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TokensResponse](t, rec)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"AAA"}, ids(resp.Items))

	rec = do(t, s, http.MethodGet, "/v1/tokens?search=%20CAT%20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[TokensResponse](t, rec)
	assert.Equal(t, []string{"BBB"}, ids(resp.Items))
}

func TestTokens_BadParameters(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	for _, target := range []string{
		"/v1/tokens?sort=price",
		"/v1/tokens?marketCap=huge",
		"/v1/tokens?limit=0",
		"/v1/tokens?limit=abc",
	} {
		rec := do(t, s, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	}
}

func TestToken_LookupAndNotFound(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	rec := do(t, s, http.MethodGet, "/v1/tokens/CCC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GAM", decode[store.TokenRecord](t, rec).Symbol)

	rec = do(t, s, http.MethodGet, "/v1/tokens/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFilters(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	rec := do(t, s, http.MethodGet, "/v1/filters", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[FiltersResponse](t, rec)
	assert.Len(t, resp.Facets, 4)
	assert.Equal(t, "all-prices", resp.Facets["priceRange"][0].Key)
	assert.Len(t, resp.Sorts, 3)
}

func TestRefresh_RateLimited(t *testing.T) {
	s, sf := newTestServer(t, ServerConfig{RefreshRPS: 0.01, RefreshBurst: 1})

	rec := do(t, s, http.MethodPost, "/v1/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api", decode[map[string]any](t, rec)["source"])

	rec = do(t, s, http.MethodPost, "/v1/refresh", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, sf.refreshs)
}

func TestRefresh_Failure(t *testing.T) {
	s, sf := newTestServer(t, ServerConfig{})
	sf.err = &ingest.SnapshotError{Op: "request", Err: ingest.ErrSnapshotTimeout}

	rec := do(t, s, http.MethodPost, "/v1/refresh", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	sf.err = errors.New("boom")
	rec = do(t, s, http.MethodPost, "/v1/refresh", nil)
	// the limiter's burst is spent
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestTradePairs(t *testing.T) {
	s, sf := newTestServer(t, ServerConfig{})

	rec := do(t, s, http.MethodPost, "/v1/trades/P1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"P1"}, decode[TradePairsResponse](t, rec).Pairs)

	rec = do(t, s, http.MethodGet, "/v1/trades", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"P1"}, decode[TradePairsResponse](t, rec).Pairs)

	rec = do(t, s, http.MethodDelete, "/v1/trades/P1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[TradePairsResponse](t, rec).Pairs)

	rec = do(t, s, http.MethodPost, "/v1/trades/%20", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sf.watchErr = errors.New("transport down")
	rec = do(t, s, http.MethodPost, "/v1/trades/P2", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDevModeErrorDetails(t *testing.T) {
	s, sf := newTestServer(t, ServerConfig{})
	sf.err = errors.New("upstream exploded")

	rec := do(t, s, http.MethodPost, "/v1/refresh", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Nil(t, decode[ErrorResponse](t, rec).Details)

	s, sf = newTestServer(t, ServerConfig{DevMode: true})
	sf.err = errors.New("upstream exploded")

	rec = do(t, s, http.MethodPost, "/v1/refresh", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream exploded", decode[ErrorResponse](t, rec).Details)
}

func TestAPIKey(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{APIKey: "secret-key"})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/health", nil).Code)

	rec := do(t, s, http.MethodGet, "/v1/tokens", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/tokens", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/tokens", map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	rec := do(t, s, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func ids(records []store.TokenRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
