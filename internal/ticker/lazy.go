package ticker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

type windowTicker struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// LazyDetailFetcher fills missing 1h/4h change fields for a single symbol
// on consumer demand. Requests are deduplicated per symbol while in flight,
// and results only land in fields that are still absent: the stream is
// authoritative once it starts reporting.
type LazyDetailFetcher struct {
	store   *RecordStore
	hub     *SubscriptionHub
	client  *http.Client
	domains []string
	timeout time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewLazyDetailFetcher(store *RecordStore, hub *SubscriptionHub, client *http.Client, domains []string, timeout time.Duration, log *zap.Logger) *LazyDetailFetcher {
	return &LazyDetailFetcher{
		store:    store,
		hub:      hub,
		client:   client,
		domains:  domains,
		timeout:  timeout,
		log:      log,
		inflight: make(map[string]struct{}),
	}
}

// FetchDetails issues the 1h and 4h window requests for symbol in parallel.
// A call while one is already outstanding for the same symbol is a no-op.
// Either window may independently fail; that is "no data", not fatal. The
// in-flight marker is always released so a later retry is possible.
func (f *LazyDetailFetcher) FetchDetails(ctx context.Context, symbol string) {
	f.mu.Lock()
	if _, busy := f.inflight[symbol]; busy {
		f.mu.Unlock()
		return
	}
	f.inflight[symbol] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.inflight, symbol)
		f.mu.Unlock()
	}()

	windows := [2]Window{Window1h, Window4h}
	var changes [2]*float64
	var wg sync.WaitGroup
	for i, win := range windows {
		wg.Add(1)
		go func(i int, win Window) {
			defer wg.Done()
			change, err := f.fetchWindow(ctx, symbol, win)
			if err != nil {
				f.log.Debug("window detail fetch failed",
					zap.String("symbol", symbol),
					zap.String("window", win.String()),
					zap.Error(err))
				return
			}
			changes[i] = &change
		}(i, win)
	}
	wg.Wait()

	filled := 0
	for i, win := range windows {
		if changes[i] == nil {
			continue
		}
		if f.store.FillChange(win, symbol, *changes[i]) {
			filled++
		}
	}
	if filled > 0 {
		f.hub.Broadcast(f.store)
	}
}

func (f *LazyDetailFetcher) fetchWindow(ctx context.Context, symbol string, win Window) (float64, error) {
	var lastErr error
	for _, base := range f.domains {
		var tickers []windowTicker
		if err := getJSON(ctx, f.client, WindowTickerURL(base, []string{symbol}, win), f.timeout, &tickers); err != nil {
			lastErr = err
			continue
		}
		for _, t := range tickers {
			if t.Symbol != symbol {
				continue
			}
			return strconv.ParseFloat(t.PriceChangePercent, 64)
		}
		return 0, fmt.Errorf("symbol %s missing from window response", symbol)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no API domains configured")
	}
	return 0, lastErr
}
