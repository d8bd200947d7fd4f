package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/memefeed/engine/internal/feed"
	"github.com/memefeed/engine/internal/ingest"
	"github.com/memefeed/engine/internal/metrics"
	"github.com/memefeed/engine/internal/store"
	"github.com/memefeed/engine/internal/view"
	"github.com/sirupsen/logrus"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// FeedService is the part of the feed the API reads and drives.
type FeedService interface {
	Status() feed.Status
	Refresh(ctx context.Context) (feed.RefreshResult, error)
	WatchTrades(ctx context.Context, pairID string) error
	UnwatchTrades(pairID string) error
	TradePairs() []string
}

// Projector answers projection queries.
type Projector interface {
	Query(q view.Query) []store.TokenRecord
}

// TokenLookup finds a single record.
type TokenLookup interface {
	GetByID(id string) (store.TokenRecord, bool)
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Feed           FeedService
	View           Projector
	Lookup         TokenLookup
	Tracker        *metrics.Tracker
	RefreshTimeout time.Duration
	DevMode        bool // set from ServerConfig.DevMode by NewServer
	Logger         logrus.FieldLogger
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

func (h *Handlers) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

// Health reports liveness plus connection and degraded state.
func (h *Handlers) Health(c echo.Context) error {
	st := h.Feed.Status()
	return c.JSON(http.StatusOK, HealthResponse{
		OK:        true,
		Connected: st.Connected,
		Degraded:  st.Degraded,
		Tokens:    st.Tokens,
		Version:   st.Version,
	})
}

// Status returns the full feed status including subscriptions.
func (h *Handlers) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Feed.Status())
}

// Metrics returns the tracker snapshot.
func (h *Handlers) Metrics(c echo.Context) error {
	if h.Tracker == nil {
		return h.err(c, http.StatusServiceUnavailable, "metrics unavailable", nil)
	}
	return c.JSON(http.StatusOK, h.Tracker.Snapshot())
}

// Filters lists every facet option and sort key.
func (h *Handlers) Filters(c echo.Context) error {
	resp := FiltersResponse{
		Facets:   make(map[string][]FacetOption, len(view.Facets)),
		Defaults: view.DefaultFilters,
	}
	for _, f := range view.Facets {
		opts := view.Options(f)
		out := make([]FacetOption, len(opts))
		for i, o := range opts {
			out[i] = FacetOption{Key: o.Key, Label: o.Label}
		}
		resp.Facets[string(f)] = out
	}
	for _, k := range view.SortKeys {
		resp.Sorts = append(resp.Sorts, FacetOption{Key: string(k), Label: k.Label()})
	}
	return c.JSON(http.StatusOK, resp)
}

// Tokens returns the projection for the search, filter and sort query
// parameters. Accepts limit (default: 100, range: 1-1000).
func (h *Handlers) Tokens(c echo.Context) error {
	limit := defaultLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "must be an integer"})
		}
		limit = n
	}
	if limit < 1 || limit > maxLimit {
		return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 1000"})
	}

	sortKey, err := view.ParseSortKey(strings.TrimSpace(c.QueryParam("sort")))
	if err != nil {
		return h.err(c, http.StatusBadRequest, "invalid sort", err.Error())
	}

	values := make(map[string]string, len(view.Facets))
	for _, f := range view.Facets {
		values[string(f)] = strings.TrimSpace(c.QueryParam(string(f)))
	}
	filters, err := view.ParseFilters(values)
	if err != nil {
		return h.err(c, http.StatusBadRequest, "invalid filter", err.Error())
	}

	q := view.Query{Search: c.QueryParam("search"), Filters: filters, Sort: sortKey}
	items := h.View.Query(q)
	total := len(items)
	if len(items) > limit {
		items = items[:limit]
	}

	return c.JSON(http.StatusOK, TokensResponse{
		Items:   items,
		Total:   total,
		Version: h.Feed.Status().Version,
		Query:   q,
	})
}

// Token returns one record by id.
func (h *Handlers) Token(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return h.err(c, http.StatusBadRequest, "invalid id", nil)
	}

	rec, ok := h.Lookup.GetByID(id)
	if !ok {
		return h.err(c, http.StatusNotFound, "token not found", map[string]any{"id": id})
	}
	return c.JSON(http.StatusOK, rec)
}

// Refresh reloads the snapshot. A degraded load still answers 200.
func (h *Handlers) Refresh(c echo.Context) error {
	timeout := h.RefreshTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	res, err := h.Feed.Refresh(ctx)
	if err != nil {
		h.logger().WithError(err).Warn("api_refresh_failed")

		code := http.StatusBadGateway
		if errors.Is(err, ingest.ErrSnapshotTimeout) || errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		return h.err(c, code, "refresh failed", err.Error())
	}

	body := map[string]any{
		"source":   res.Source,
		"tokens":   res.Tokens,
		"degraded": res.Degraded,
		"at":       res.At,
	}
	if res.Cause != nil {
		body["cause"] = res.Cause.Error()
	}
	return c.JSON(http.StatusOK, body)
}

// TradePairs lists the watched trade pairs.
func (h *Handlers) TradePairs(c echo.Context) error {
	return c.JSON(http.StatusOK, TradePairsResponse{Pairs: h.Feed.TradePairs()})
}

// WatchTrades starts following trades for a pair.
func (h *Handlers) WatchTrades(c echo.Context) error {
	pair := strings.TrimSpace(c.Param("pair"))
	if err := h.Feed.WatchTrades(c.Request().Context(), pair); err != nil {
		if errors.Is(err, feed.ErrEmptyPair) {
			return h.err(c, http.StatusBadRequest, "invalid pair", nil)
		}
		h.logger().WithError(err).WithField("pair", pair).Warn("api_watch_trades_failed")
		return h.err(c, http.StatusBadGateway, "subscribe failed", err.Error())
	}
	return c.JSON(http.StatusOK, TradePairsResponse{Pairs: h.Feed.TradePairs()})
}

// UnwatchTrades stops following trades for a pair.
func (h *Handlers) UnwatchTrades(c echo.Context) error {
	pair := strings.TrimSpace(c.Param("pair"))
	if err := h.Feed.UnwatchTrades(pair); err != nil {
		if errors.Is(err, feed.ErrEmptyPair) {
			return h.err(c, http.StatusBadRequest, "invalid pair", nil)
		}
		h.logger().WithError(err).WithField("pair", pair).Warn("api_unwatch_trades_failed")
		return h.err(c, http.StatusBadGateway, "unsubscribe failed", err.Error())
	}
	return c.JSON(http.StatusOK, TradePairsResponse{Pairs: h.Feed.TradePairs()})
}
