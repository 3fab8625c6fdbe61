package ticker

import "sync"

// Window identifies one of the three reporting periods.
type Window int

const (
	Window24h Window = iota
	Window1h
	Window4h
)

func (w Window) String() string {
	switch w {
	case Window1h:
		return "1h"
	case Window4h:
		return "4h"
	default:
		return "24h"
	}
}

// TickerRecord is the canonical per-symbol view handed to the display layer.
// ChangePercent1h/4h are nil until a source reporting that window arrives;
// nil means "not yet known", never "flat".
type TickerRecord struct {
	Symbol           string   `json:"symbol"`
	Price            float64  `json:"price"`
	Volume           float64  `json:"volume"`
	ChangePercent24h float64  `json:"changePercent24h"`
	ChangePercent1h  *float64 `json:"changePercent1h"`
	ChangePercent4h  *float64 `json:"changePercent4h"`
}

func (r *TickerRecord) clone() TickerRecord {
	out := *r
	if r.ChangePercent1h != nil {
		v := *r.ChangePercent1h
		out.ChangePercent1h = &v
	}
	if r.ChangePercent4h != nil {
		v := *r.ChangePercent4h
		out.ChangePercent4h = &v
	}
	return out
}

// WindowUpdate is one symbol's contribution from a single source event.
// Volume is only meaningful for the 24h window.
type WindowUpdate struct {
	Symbol string
	Price  float64
	Volume float64
	Change float64
}

// RecordStore is the canonical symbol -> record mapping. Entries are created
// lazily on first observation from any source and never deleted; delisted
// symbols simply stop receiving updates. Iteration follows insertion order
// so snapshots are deterministic.
type RecordStore struct {
	mu    sync.Mutex
	recs  map[string]*TickerRecord
	order []string
}

func NewRecordStore() *RecordStore {
	return &RecordStore{recs: make(map[string]*TickerRecord)}
}

// resolve returns the record for symbol, creating it if needed.
// Caller holds s.mu.
func (s *RecordStore) resolve(symbol string) *TickerRecord {
	if rec, ok := s.recs[symbol]; ok {
		return rec
	}
	rec := &TickerRecord{Symbol: symbol}
	s.recs[symbol] = rec
	s.order = append(s.order, symbol)
	return rec
}

// ApplyWindow merges one batch of per-window updates and commits them as a
// single unit with respect to Snapshot. Price is refreshed regardless of
// which window reported it: last writer wins, no recency arbitration across
// sources. Returns the number of records touched.
func (s *RecordStore) ApplyWindow(win Window, ups []WindowUpdate) int {
	if len(ups) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, up := range ups {
		rec := s.resolve(up.Symbol)
		rec.Price = up.Price
		switch win {
		case Window1h:
			v := up.Change
			rec.ChangePercent1h = &v
		case Window4h:
			v := up.Change
			rec.ChangePercent4h = &v
		default:
			rec.Volume = up.Volume
			rec.ChangePercent24h = up.Change
		}
	}
	return len(ups)
}

// ApplyRecords merges fully-formed records from a trusted batch source.
// A nil 1h/4h field means "attempted, unavailable" upstream, so it never
// regresses a value an earlier source already set.
func (s *RecordStore) ApplyRecords(recs []TickerRecord) int {
	if len(recs) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range recs {
		if in.Symbol == "" {
			continue
		}
		rec := s.resolve(in.Symbol)
		rec.Price = in.Price
		rec.Volume = in.Volume
		rec.ChangePercent24h = in.ChangePercent24h
		if in.ChangePercent1h != nil {
			v := *in.ChangePercent1h
			rec.ChangePercent1h = &v
		}
		if in.ChangePercent4h != nil {
			v := *in.ChangePercent4h
			rec.ChangePercent4h = &v
		}
	}
	return len(recs)
}

// FillChange sets a window's change field only if it is still absent; the
// stream is authoritative once it starts reporting. Reports whether the
// field was set.
func (s *RecordStore) FillChange(win Window, symbol string, change float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.resolve(symbol)
	switch win {
	case Window1h:
		if rec.ChangePercent1h != nil {
			return false
		}
		rec.ChangePercent1h = &change
	case Window4h:
		if rec.ChangePercent4h != nil {
			return false
		}
		rec.ChangePercent4h = &change
	default:
		return false
	}
	return true
}

// Snapshot returns a deep copy of the store; consumers can hold it across
// later mutations without observing them.
func (s *RecordStore) Snapshot() map[string]TickerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TickerRecord, len(s.recs))
	for sym, rec := range s.recs {
		out[sym] = rec.clone()
	}
	return out
}

// Symbols returns all known symbols in insertion order.
func (s *RecordStore) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// SubscriptionHub holds display-layer callbacks. Every mutation batch hands
// each subscriber its own immutable snapshot copy; callbacks run outside the
// store lock so a slow consumer cannot block producers.
type SubscriptionHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(map[string]TickerRecord)
}

func NewSubscriptionHub() *SubscriptionHub {
	return &SubscriptionHub{subs: make(map[int]func(map[string]TickerRecord))}
}

// Subscribe registers a callback and returns its unsubscribe handle.
func (h *SubscriptionHub) Subscribe(fn func(map[string]TickerRecord)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *SubscriptionHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast snapshots the store once and notifies every subscriber. An empty
// store still notifies: a consumer waiting on first data must not hang.
func (h *SubscriptionHub) Broadcast(s *RecordStore) {
	snap := s.Snapshot()
	h.mu.Lock()
	fns := make([]func(map[string]TickerRecord), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
