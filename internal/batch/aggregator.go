// Package batch assembles fully-merged ticker records server-side from the
// public REST API, the dataset the snapshot cascade consumes as its trusted
// first source.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"tickerboard/internal/ticker"
)

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
	Count              int64  `json:"count"`
}

type windowTicker struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// Aggregator fetches the full 24h ticker list, selects the top-N symbols by
// quote volume, and fans out URL-length-bounded batch requests for the 1h
// and 4h windows. A failing batch call is a recorded partial error, never a
// failure of the whole response.
type Aggregator struct {
	client    *http.Client
	base      string
	topN      int
	batchSize int
	timeout   time.Duration
	log       *zap.Logger
}

// Result is one assembled response: merged records in volume order plus any
// partial batch errors.
type Result struct {
	Records []ticker.TickerRecord
	Errors  []string
}

// Status summarizes the run for the debug header.
func (r *Result) Status() string {
	if len(r.Errors) == 0 {
		return "Success"
	}
	data, _ := json.Marshal(r.Errors)
	return "Partial; errs=" + string(data)
}

func NewAggregator(client *http.Client, base string, topN, batchSize int, timeout time.Duration, log *zap.Logger) *Aggregator {
	return &Aggregator{
		client:    client,
		base:      base,
		topN:      topN,
		batchSize: batchSize,
		timeout:   timeout,
		log:       log,
	}
}

// Aggregate runs one full assembly. Failure to obtain the 24h list is fatal
// for the whole response; window batch failures degrade the affected
// symbols to null fields.
func (a *Aggregator) Aggregate(ctx context.Context) (*Result, error) {
	tickers, err := a.fetch24hList(ctx)
	if err != nil {
		return nil, fmt.Errorf("24h ticker list: %w", err)
	}

	selected := a.selectTop(tickers)
	symbols := make([]string, len(selected))
	for i, t := range selected {
		symbols[i] = t.Symbol
	}

	res := &Result{}
	change1h, change4h := a.fetchWindows(ctx, symbols, res)

	res.Records = make([]ticker.TickerRecord, 0, len(selected))
	for _, t := range selected {
		price, _ := strconv.ParseFloat(t.LastPrice, 64)
		vol, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		change, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
		rec := ticker.TickerRecord{
			Symbol:           t.Symbol,
			Price:            price,
			Volume:           vol,
			ChangePercent24h: change,
		}
		// Absent from the lookup means the batch call failed: the field is
		// explicitly null, "attempted, unavailable".
		if v, ok := change1h[t.Symbol]; ok {
			rec.ChangePercent1h = &v
		}
		if v, ok := change4h[t.Symbol]; ok {
			rec.ChangePercent4h = &v
		}
		res.Records = append(res.Records, rec)
	}

	if len(res.Errors) > 0 {
		a.log.Warn("aggregation completed with partial failures",
			zap.Int("records", len(res.Records)),
			zap.Strings("errors", res.Errors))
	}
	return res, nil
}

func (a *Aggregator) fetch24hList(ctx context.Context) ([]ticker24h, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ticker.Ticker24hURL(a.base), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	var tickers []ticker24h
	if err := json.NewDecoder(resp.Body).Decode(&tickers); err != nil {
		return nil, err
	}
	return tickers, nil
}

// selectTop filters to symbols that traded in the last 24h and keeps the
// top-N by quote volume.
func (a *Aggregator) selectTop(tickers []ticker24h) []ticker24h {
	live := make([]ticker24h, 0, len(tickers))
	for _, t := range tickers {
		if t.Symbol != "" && t.Count > 0 {
			live = append(live, t)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		vi, _ := strconv.ParseFloat(live[i].QuoteVolume, 64)
		vj, _ := strconv.ParseFloat(live[j].QuoteVolume, 64)
		return vi > vj
	})
	if len(live) > a.topN {
		live = live[:a.topN]
	}
	return live
}

// fetchWindows issues two parallel window calls per batch and accumulates
// per-symbol results; sibling batches are independent.
func (a *Aggregator) fetchWindows(ctx context.Context, symbols []string, res *Result) (map[string]float64, map[string]float64) {
	change1h := make(map[string]float64, len(symbols))
	change4h := make(map[string]float64, len(symbols))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for start := 0; start < len(symbols); start += a.batchSize {
		end := start + a.batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]
		for _, win := range [2]ticker.Window{ticker.Window1h, ticker.Window4h} {
			wg.Add(1)
			go func(batch []string, win ticker.Window) {
				defer wg.Done()
				got, err := a.fetchWindowBatch(ctx, batch, win)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("%s batch [%s..%s]: %v", win, batch[0], batch[len(batch)-1], err))
					return
				}
				dst := change1h
				if win == ticker.Window4h {
					dst = change4h
				}
				for sym, v := range got {
					dst[sym] = v
				}
			}(batch, win)
		}
	}
	wg.Wait()
	return change1h, change4h
}

func (a *Aggregator) fetchWindowBatch(ctx context.Context, symbols []string, win ticker.Window) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ticker.WindowTickerURL(a.base, symbols, win), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	var tickers []windowTicker
	if err := json.NewDecoder(resp.Body).Decode(&tickers); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		change, err := strconv.ParseFloat(t.PriceChangePercent, 64)
		if err != nil {
			continue
		}
		out[t.Symbol] = change
	}
	return out, nil
}
