package ticker

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func newTestAggregator() (*Aggregator, *RecordStore, *SubscriptionHub) {
	store := NewRecordStore()
	hub := NewSubscriptionHub()
	rotor := NewEndpointRotor([]string{"ws://mirror-a", "ws://mirror-b"})
	backoff := NewBackoffScheduler()
	return NewAggregator(store, hub, rotor, backoff, zap.NewNop()), store, hub
}

func TestClassifyWindow(t *testing.T) {
	cases := []struct {
		stream string
		want   Window
	}{
		{"!ticker@arr", Window24h},
		{"!ticker_1h@arr", Window1h},
		{"!ticker_4h@arr", Window4h},
		{"anything-else", Window24h},
	}
	for _, c := range cases {
		if got := classifyWindow(c.stream); got != c.want {
			t.Errorf("classifyWindow(%q) = %v, want %v", c.stream, got, c.want)
		}
	}
}

func TestHandleFrameMergesAndNotifiesOnce(t *testing.T) {
	a, store, hub := newTestAggregator()

	// Initial snapshot, as the cascade would leave it.
	store.ApplyRecords([]TickerRecord{{Symbol: "BTCUSDT", Price: 50000, Volume: 1e9, ChangePercent24h: 2.5}})

	notifies := 0
	var last map[string]TickerRecord
	hub.Subscribe(func(snap map[string]TickerRecord) {
		notifies++
		last = snap
	})

	a.handleFrame([]byte(`{"stream":"!ticker_1h@arr","data":[{"s":"BTCUSDT","c":"50010","P":"0.3"}]}`))

	if notifies != 1 {
		t.Fatalf("notifies = %d, want exactly 1 per frame", notifies)
	}
	rec := last["BTCUSDT"]
	if rec.Price != 50010 {
		t.Errorf("Price = %v, want 50010", rec.Price)
	}
	if rec.ChangePercent1h == nil || *rec.ChangePercent1h != 0.3 {
		t.Errorf("ChangePercent1h = %v, want 0.3", rec.ChangePercent1h)
	}
	if rec.Volume != 1e9 || rec.ChangePercent24h != 2.5 {
		t.Errorf("24h fields = (%v, %v), want unchanged (1e9, 2.5)", rec.Volume, rec.ChangePercent24h)
	}
}

func TestHandleFrameMultiSymbolArraySingleNotify(t *testing.T) {
	a, store, hub := newTestAggregator()

	notifies := 0
	hub.Subscribe(func(map[string]TickerRecord) { notifies++ })

	a.handleFrame([]byte(`{"stream":"!ticker@arr","data":[` +
		`{"s":"BTCUSDT","c":"50000","P":"2.5","q":"1000000000"},` +
		`{"s":"ETHUSDT","c":"3000","P":"-1.2","q":"500000000"}]}`))

	if notifies != 1 {
		t.Errorf("notifies = %d, want 1 for the whole frame", notifies)
	}
	if store.Len() != 2 {
		t.Errorf("store Len = %d, want 2", store.Len())
	}
}

func TestHandleFrameSingleObjectPayload(t *testing.T) {
	a, store, _ := newTestAggregator()

	a.handleFrame([]byte(`{"stream":"!ticker_4h@arr","data":{"s":"BTCUSDT","c":"50020","P":"1.1"}}`))

	rec := store.Snapshot()["BTCUSDT"]
	if rec.ChangePercent4h == nil || *rec.ChangePercent4h != 1.1 {
		t.Errorf("ChangePercent4h = %v, want 1.1", rec.ChangePercent4h)
	}
}

func TestHandleFrameWithoutDataIsNoOp(t *testing.T) {
	a, store, hub := newTestAggregator()

	notifies := 0
	hub.Subscribe(func(map[string]TickerRecord) { notifies++ })

	a.handleFrame([]byte(`{"stream":"!ticker@arr"}`))
	a.handleFrame([]byte(`{"stream":"!ticker@arr","data":null}`))

	if notifies != 0 {
		t.Errorf("notifies = %d, want 0", notifies)
	}
	if store.Len() != 0 {
		t.Errorf("store Len = %d, want 0", store.Len())
	}
}

func TestHandleFrameDecodeErrorLeavesStoreUntouched(t *testing.T) {
	a, store, hub := newTestAggregator()

	notifies := 0
	hub.Subscribe(func(map[string]TickerRecord) { notifies++ })

	a.handleFrame([]byte(`{not json`))
	a.handleFrame([]byte(`{"stream":"!ticker@arr","data":"garbage"}`))

	if store.Len() != 0 || notifies != 0 {
		t.Errorf("store Len = %d, notifies = %d, want 0 and 0", store.Len(), notifies)
	}
}

func TestInterleavedWindowsLastWriterWinsPrice(t *testing.T) {
	a, store, _ := newTestAggregator()

	a.handleFrame([]byte(`{"stream":"!ticker@arr","data":[{"s":"BTCUSDT","c":"100","P":"1.0","q":"10"}]}`))
	a.handleFrame([]byte(`{"stream":"!ticker_4h@arr","data":[{"s":"BTCUSDT","c":"101","P":"2.0"}]}`))
	a.handleFrame([]byte(`{"stream":"!ticker_1h@arr","data":[{"s":"BTCUSDT","c":"102","P":"3.0"}]}`))
	a.handleFrame([]byte(`{"stream":"!ticker_4h@arr","data":[{"s":"BTCUSDT","c":"103","P":"4.0"}]}`))

	rec := store.Snapshot()["BTCUSDT"]
	if rec.Price != 103 {
		t.Errorf("Price = %v, want 103 from the most recent frame", rec.Price)
	}
	if rec.ChangePercent24h != 1.0 {
		t.Errorf("ChangePercent24h = %v, want 1.0", rec.ChangePercent24h)
	}
	if *rec.ChangePercent1h != 3.0 {
		t.Errorf("ChangePercent1h = %v, want 3.0", *rec.ChangePercent1h)
	}
	if *rec.ChangePercent4h != 4.0 {
		t.Errorf("ChangePercent4h = %v, want 4.0", *rec.ChangePercent4h)
	}
}

func TestSubscribeDeliversCurrentSnapshotWhenNonEmpty(t *testing.T) {
	a, store, _ := newTestAggregator()

	immediate := 0
	a.Subscribe(func(map[string]TickerRecord) { immediate++ })
	if immediate != 0 {
		t.Errorf("immediate calls on empty store = %d, want 0", immediate)
	}

	store.ApplyWindow(Window24h, []WindowUpdate{{Symbol: "BTCUSDT", Price: 1, Change: 0}})
	got := 0
	var snap map[string]TickerRecord
	a.Subscribe(func(s map[string]TickerRecord) {
		got++
		snap = s
	})
	if got != 1 {
		t.Fatalf("immediate calls = %d, want 1", got)
	}
	if _, ok := snap["BTCUSDT"]; !ok {
		t.Error("immediate snapshot missing BTCUSDT")
	}
}

func TestSessionDownSchedulesReconnectAndAdvancesRotor(t *testing.T) {
	a, _, _ := newTestAggregator()
	defer a.Disconnect()

	a.mu.Lock()
	a.state = stateOpen
	gen := a.gen
	a.mu.Unlock()

	a.sessionDown(gen, stateErrored, errors.New("read: connection reset"))

	if got := a.rotor.Current(); got != "ws://mirror-b" {
		t.Errorf("rotor Current = %q, want advance to %q", got, "ws://mirror-b")
	}
	if a.backoff.Attempt() != 1 {
		t.Errorf("backoff Attempt = %d, want 1", a.backoff.Attempt())
	}
	a.mu.Lock()
	st := a.state
	a.mu.Unlock()
	if st != stateErrored {
		t.Errorf("state = %v, want ERRORED", st)
	}
}

func TestDisconnectSilencesStaleSession(t *testing.T) {
	a, _, _ := newTestAggregator()

	a.mu.Lock()
	a.state = stateOpen
	gen := a.gen
	a.mu.Unlock()

	a.Disconnect()
	// The dying socket reports its close after teardown; it must not re-arm.
	a.sessionDown(gen, stateClosed, errors.New("use of closed network connection"))

	a.backoff.mu.Lock()
	timer := a.backoff.timer
	a.backoff.mu.Unlock()
	if timer != nil {
		t.Error("reconnect timer armed after Disconnect")
	}
	if a.backoff.Attempt() != 0 {
		t.Errorf("backoff Attempt = %d, want 0", a.backoff.Attempt())
	}
	a.mu.Lock()
	st := a.state
	a.mu.Unlock()
	if st != stateIdle {
		t.Errorf("state = %v, want IDLE", st)
	}
}
