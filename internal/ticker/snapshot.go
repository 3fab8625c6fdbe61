package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type rest24hTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
	Count              int64  `json:"count"`
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}

// SnapshotCascade populates the record store before the stream delivers its
// first frame. Sources are tried in strict priority order, each filling
// whatever fields it can; one notify pass always runs at the end, even on
// total failure, so a waiting consumer is never starved.
type SnapshotCascade struct {
	store         *RecordStore
	hub           *SubscriptionHub
	client        *http.Client
	aggregatorURL string
	domains       []string
	timeout       time.Duration
	log           *zap.Logger
}

func NewSnapshotCascade(store *RecordStore, hub *SubscriptionHub, client *http.Client, aggregatorURL string, domains []string, timeout time.Duration, log *zap.Logger) *SnapshotCascade {
	return &SnapshotCascade{
		store:         store,
		hub:           hub,
		client:        client,
		aggregatorURL: aggregatorURL,
		domains:       domains,
		timeout:       timeout,
		log:           log,
	}
}

// Acquire runs the cascade once, best-effort.
func (c *SnapshotCascade) Acquire(ctx context.Context) {
	defer c.hub.Broadcast(c.store)

	err := c.fromAggregator(ctx)
	if err == nil {
		return
	}
	if c.aggregatorURL != "" {
		c.log.Warn("aggregator snapshot failed, falling back", zap.Error(err))
	}

	if err = c.fromExchange(ctx); err == nil {
		return
	}
	c.log.Warn("two-call snapshot failed, falling back", zap.Error(err))

	if err = c.fromPublic24h(ctx); err == nil {
		return
	}
	c.log.Warn("minimal snapshot failed", zap.Error(err))

	c.log.Warn("all snapshot sources failed; waiting for stream")
}

// fromAggregator hits the trusted first-party batch endpoint, which returns
// records with all three windows already merged.
func (c *SnapshotCascade) fromAggregator(ctx context.Context) error {
	if c.aggregatorURL == "" {
		return fmt.Errorf("aggregator endpoint not configured")
	}
	var recs []TickerRecord
	if err := c.getJSON(ctx, c.aggregatorURL, &recs); err != nil {
		return err
	}
	n := c.store.ApplyRecords(recs)
	c.log.Info("snapshot from aggregator endpoint", zap.Int("records", n))
	return nil
}

// fromExchange cross-checks the 24h ticker list against exchange status so
// only symbols actively trading are kept. Yields 24h-only records; 1h/4h
// stay absent for the stream or lazy fill.
func (c *SnapshotCascade) fromExchange(ctx context.Context) error {
	if len(c.domains) == 0 {
		return fmt.Errorf("no API domains configured")
	}
	base := c.domains[0]

	var info exchangeInfoResponse
	if err := c.getJSON(ctx, ExchangeInfoURL(base), &info); err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}
	trading := make(map[string]bool, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			trading[s.Symbol] = true
		}
	}

	var tickers []rest24hTicker
	if err := c.getJSON(ctx, Ticker24hURL(base), &tickers); err != nil {
		return fmt.Errorf("24h tickers: %w", err)
	}

	ups := collect24hUpdates(tickers, func(t rest24hTicker) bool { return trading[t.Symbol] })
	n := c.store.ApplyWindow(Window24h, ups)
	c.log.Info("snapshot from exchange two-call fallback", zap.Int("records", n))
	return nil
}

// fromPublic24h is the minimal single-call fallback: no status cross-check,
// nonzero 24h trade count as a cheap liveness proxy, tried against each
// equivalent API domain until one answers.
func (c *SnapshotCascade) fromPublic24h(ctx context.Context) error {
	var lastErr error
	for _, base := range c.domains {
		var tickers []rest24hTicker
		if err := c.getJSON(ctx, Ticker24hURL(base), &tickers); err != nil {
			lastErr = err
			c.log.Warn("24h listing failed, trying next domain", zap.String("base", base), zap.Error(err))
			continue
		}
		ups := collect24hUpdates(tickers, func(t rest24hTicker) bool { return t.Count > 0 })
		n := c.store.ApplyWindow(Window24h, ups)
		c.log.Info("snapshot from minimal fallback", zap.String("base", base), zap.Int("records", n))
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no API domains configured")
	}
	return lastErr
}

func collect24hUpdates(tickers []rest24hTicker, keep func(rest24hTicker) bool) []WindowUpdate {
	ups := make([]WindowUpdate, 0, len(tickers))
	for _, t := range tickers {
		if t.Symbol == "" || !keep(t) {
			continue
		}
		price, err := strconv.ParseFloat(t.LastPrice, 64)
		if err != nil {
			continue
		}
		change, err := strconv.ParseFloat(t.PriceChangePercent, 64)
		if err != nil {
			continue
		}
		vol, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		ups = append(ups, WindowUpdate{Symbol: t.Symbol, Price: price, Volume: vol, Change: change})
	}
	return ups
}

// getJSON fetches url with the per-call abort timeout and decodes the body.
// Any non-2xx status is an upstream failure for the whole call.
func (c *SnapshotCascade) getJSON(ctx context.Context, url string, out any) error {
	return getJSON(ctx, c.client, url, c.timeout, out)
}

func getJSON(ctx context.Context, client *http.Client, url string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %s from %s", resp.Status, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
