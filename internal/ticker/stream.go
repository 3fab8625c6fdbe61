package ticker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Full-market ticker arrays arrive once per second and run large.
const streamReadLimit = 1 << 22 // 4MB

type sessionState int

const (
	stateIdle sessionState = iota
	stateConnecting
	stateOpen
	stateClosed
	stateErrored
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateConnecting:
		return "CONNECTING"
	case stateOpen:
		return "OPEN"
	case stateClosed:
		return "CLOSED"
	case stateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// streamEnvelope is the multiplexed frame wrapper: a stream name plus a
// payload that is either a single update or an array of updates.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type streamTicker struct {
	Symbol        string `json:"s"`
	LastPrice     string `json:"c"`
	ChangePercent string `json:"P"`
	QuoteVolume   string `json:"q"`
}

// Aggregator owns one streaming session at a time, merges per-window ticker
// frames into the record store and republishes after every frame.
type Aggregator struct {
	store   *RecordStore
	hub     *SubscriptionHub
	rotor   *EndpointRotor
	backoff *BackoffScheduler
	log     *zap.Logger

	mu     sync.Mutex
	state  sessionState
	gen    int
	cancel context.CancelFunc
	closed bool
}

func NewAggregator(store *RecordStore, hub *SubscriptionHub, rotor *EndpointRotor, backoff *BackoffScheduler, log *zap.Logger) *Aggregator {
	return &Aggregator{
		store:   store,
		hub:     hub,
		rotor:   rotor,
		backoff: backoff,
		log:     log,
	}
}

// Connect establishes one logical streaming session. A call while the
// current session is Connecting or Open is a no-op.
func (a *Aggregator) Connect() {
	a.mu.Lock()
	if a.state == stateConnecting || a.state == stateOpen {
		a.mu.Unlock()
		return
	}
	a.closed = false
	a.state = stateConnecting
	a.gen++
	gen := a.gen
	if a.cancel != nil {
		a.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	go a.session(ctx, gen, a.rotor.Current())
}

// Disconnect tears down the active session and cancels any pending
// reconnect. Teardown is silent: the dying session's close/error path is
// suppressed so it cannot re-arm a reconnect.
func (a *Aggregator) Disconnect() {
	a.mu.Lock()
	a.closed = true
	a.state = stateIdle
	a.gen++ // orphan the running session
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.mu.Unlock()
	a.backoff.Stop()
}

// Subscribe registers a display-layer callback. It immediately receives the
// current snapshot when non-empty, then a fresh copy after every merge
// batch. The returned handle unsubscribes.
func (a *Aggregator) Subscribe(fn func(map[string]TickerRecord)) func() {
	unsub := a.hub.Subscribe(fn)
	if snap := a.store.Snapshot(); len(snap) > 0 {
		fn(snap)
	}
	return unsub
}

func (a *Aggregator) session(ctx context.Context, gen int, base string) {
	streamURL := StreamURL(base)
	a.log.Info("dialing stream", zap.String("url", streamURL))
	conn, _, err := websocket.Dial(ctx, streamURL, nil)
	if err != nil {
		a.sessionDown(gen, stateErrored, err)
		return
	}
	conn.SetReadLimit(streamReadLimit)
	defer conn.Close(websocket.StatusNormalClosure, "teardown")

	if !a.markOpen(gen) {
		return
	}
	a.backoff.Reset()
	a.log.Info("stream open", zap.String("endpoint", base))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			st := stateErrored
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				st = stateClosed
			}
			a.sessionDown(gen, st, err)
			return
		}
		a.handleFrame(data)
	}
}

func (a *Aggregator) markOpen(gen int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || a.closed {
		return false
	}
	a.state = stateOpen
	return true
}

// sessionDown records why the socket died and schedules the retry. A stale
// generation means an intentional teardown already superseded this session.
func (a *Aggregator) sessionDown(gen int, st sessionState, err error) {
	a.mu.Lock()
	if gen != a.gen || a.closed {
		a.mu.Unlock()
		return
	}
	a.state = st
	a.mu.Unlock()

	a.log.Warn("stream down", zap.String("state", st.String()), zap.Error(err))
	a.scheduleReconnect()
}

// scheduleReconnect advances the mirror rotor and arms the backoff timer.
func (a *Aggregator) scheduleReconnect() {
	next := a.rotor.Advance()
	delay := a.backoff.Schedule(a.Connect)
	a.log.Info("reconnect scheduled",
		zap.String("endpoint", next),
		zap.Duration("delay", delay),
		zap.Int("attempt", a.backoff.Attempt()))
}

// handleFrame decodes one multiplexed frame and merges its updates. A
// malformed frame is logged and dropped; the session continues and the
// store is untouched for that frame only.
func (a *Aggregator) handleFrame(data []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.log.Warn("frame decode failed", zap.Error(err))
		return
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return
	}

	var items []streamTicker
	if err := json.Unmarshal(env.Data, &items); err != nil {
		var single streamTicker
		if err := json.Unmarshal(env.Data, &single); err != nil {
			a.log.Warn("frame payload decode failed", zap.String("stream", env.Stream), zap.Error(err))
			return
		}
		items = []streamTicker{single}
	}

	win := classifyWindow(env.Stream)
	ups := make([]WindowUpdate, 0, len(items))
	for _, it := range items {
		if it.Symbol == "" {
			continue
		}
		price, err := strconv.ParseFloat(it.LastPrice, 64)
		if err != nil {
			continue
		}
		change, err := strconv.ParseFloat(it.ChangePercent, 64)
		if err != nil {
			continue
		}
		up := WindowUpdate{Symbol: it.Symbol, Price: price, Change: change}
		if win == Window24h && it.QuoteVolume != "" {
			if vol, err := strconv.ParseFloat(it.QuoteVolume, 64); err == nil {
				up.Volume = vol
			}
		}
		ups = append(ups, up)
	}

	// One notify pass per frame, after all its merges commit.
	if a.store.ApplyWindow(win, ups) > 0 {
		a.hub.Broadcast(a.store)
	}
}

// classifyWindow maps a stream name to its reporting window by substring
// match; anything unrecognized is the default 24h feed.
func classifyWindow(stream string) Window {
	switch {
	case strings.Contains(stream, "1h"):
		return Window1h
	case strings.Contains(stream, "4h"):
		return Window4h
	default:
		return Window24h
	}
}

// Health reports session state for the health endpoint.
func (a *Aggregator) Health() map[string]any {
	a.mu.Lock()
	st := a.state
	a.mu.Unlock()
	return map[string]any{
		"state":    st.String(),
		"endpoint": a.rotor.Current(),
		"attempt":  a.backoff.Attempt(),
		"records":  a.store.Len(),
	}
}
