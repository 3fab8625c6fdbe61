package ticker

import (
	"encoding/json"
	"net/url"
	"sync"
)

// combinedStreams is the multiplexed subscription carrying all three
// window feeds: default 24h plus the 1h and 4h rolling windows.
const combinedStreams = "!ticker@arr/!ticker_1h@arr/!ticker_4h@arr"

// EndpointRotor holds an ordered list of equivalent stream mirrors and
// supplies the next one after a failure, with wraparound. Different mirrors
// are tried round-robin so a single unreachable host does not stall recovery.
type EndpointRotor struct {
	mu   sync.Mutex
	urls []string
	idx  int
}

func NewEndpointRotor(urls []string) *EndpointRotor {
	return &EndpointRotor{urls: urls}
}

// Current returns the active mirror base URL.
func (r *EndpointRotor) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.urls[r.idx]
}

// Advance moves to the next mirror (modulo) and returns it.
func (r *EndpointRotor) Advance() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx = (r.idx + 1) % len(r.urls)
	return r.urls[r.idx]
}

// Index returns the active mirror position, for health reporting.
func (r *EndpointRotor) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx
}

// StreamURL builds the combined-stream WS URL for a mirror base.
func StreamURL(base string) string {
	return base + "/stream?streams=" + combinedStreams
}

// ExchangeInfoURL builds the tradable-symbol status listing URL.
func ExchangeInfoURL(base string) string {
	return base + "/api/v3/exchangeInfo"
}

// Ticker24hURL builds the full-market 24h ticker listing URL.
func Ticker24hURL(base string) string {
	return base + "/api/v3/ticker/24hr"
}

// WindowTickerURL builds the windowed ticker-by-symbols URL. The symbols
// parameter is a JSON-encoded array, which bounds how many symbols fit in
// one request URL.
func WindowTickerURL(base string, symbols []string, win Window) string {
	encoded, _ := json.Marshal(symbols)
	q := url.Values{}
	q.Set("symbols", string(encoded))
	q.Set("windowSize", win.String())
	return base + "/api/v3/ticker?" + q.Encode()
}
