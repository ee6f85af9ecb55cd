package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arbiter/internal/config"
	"arbiter/internal/model"
)

// BinanceAdapter implements the Venue A book reconstruction pattern:
// depth deltas stream continuously, and on the first delta for a symbol
// the adapter fetches a REST snapshot, buffers deltas that arrive
// meanwhile, and splices the two together by update-id.
type BinanceAdapter struct {
	logger  *slog.Logger
	cfg     config.ExchangeConfig
	httpc   *http.Client
	backoff BackoffPolicy

	mu     sync.Mutex
	states map[model.Symbol]*binanceSymbolState
	stop   chan struct{}
	once   sync.Once
}

type binanceSymbolState struct {
	buffering    bool
	snapshotting bool
	buffered     []binanceDepthMsg
	lastUpdateID int64
}

// NewBinanceAdapter builds a Venue A adapter for Binance.
func NewBinanceAdapter(logger *slog.Logger, cfg config.ExchangeConfig) *BinanceAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.binance.com"
	}
	return &BinanceAdapter{
		logger:  logger,
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		backoff: DefaultBackoff(),
		states:  make(map[model.Symbol]*binanceSymbolState),
		stop:    make(chan struct{}),
	}
}

func (b *BinanceAdapter) Name() string { return "binance" }

func (b *BinanceAdapter) Stop() {
	b.once.Do(func() { close(b.stop) })
}

type binanceTickerMsg struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
	Last   string `json:"c"`
	Volume string `json:"v"`
}

type binanceDepthMsg struct {
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	LastUpdateID  int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type binanceStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceDepthSnapshotResp struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func binanceWireSymbol(s model.Symbol) string {
	return strings.ToLower(s.Base() + s.Quote())
}

// Start opens the combined ticker+depth stream for the given symbols and
// runs until ctx is canceled or the reconnect budget is exhausted.
func (b *BinanceAdapter) Start(ctx context.Context, symbols []model.Symbol, events Events) error {
	wsBase := b.cfg.WSURL
	if wsBase == "" {
		wsBase = "wss://stream.binance.com:9443/stream"
	}

	var parts []string
	for _, s := range symbols {
		wire := binanceWireSymbol(s)
		parts = append(parts, wire+"@ticker", wire+"@depth@100ms")
	}
	url := wsBase + "?streams=" + strings.Join(parts, "/")

	symbolByWire := make(map[string]model.Symbol, len(symbols))
	for _, s := range symbols {
		symbolByWire[binanceWireSymbol(s)] = s
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.stop:
			return nil
		default:
		}

		b.logger.Info("binance: connecting", "url", url, "attempt", attempt)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			b.logger.Error("binance: dial failed", "error", err)
			wait, ok := b.backoff.Next(attempt)
			if !ok {
				events.Disconnects <- ConnectionLost{Venue: b.Name(), Err: err}
				return err
			}
			attempt++
			select {
			case <-ctx.Done():
				return nil
			case <-b.stop:
				return nil
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		b.logger.Info("binance: connected")

		readErr := b.readLoop(ctx, conn, symbolByWire, events)
		conn.Close()
		if readErr == nil {
			return nil
		}
		b.logger.Warn("binance: stream ended, reconnecting", "error", readErr)
		for _, s := range symbols {
			events.Invalidate <- BookInvalidate{Venue: b.Name(), Symbol: s}
		}
	}
}

func (b *BinanceAdapter) readLoop(ctx context.Context, conn *websocket.Conn, symbolByWire map[string]model.Symbol, events Events) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.stop:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env binanceStreamEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			b.logger.Warn("binance: malformed envelope", "error", err)
			continue
		}

		switch {
		case strings.HasSuffix(env.Stream, "@ticker"):
			var t binanceTickerMsg
			if err := json.Unmarshal(env.Data, &t); err != nil {
				b.logger.Warn("binance: malformed ticker", "error", err)
				continue
			}
			sym, ok := symbolByWire[strings.ToLower(t.Symbol)]
			if !ok {
				continue
			}
			b.emitTick(sym, t, events)

		case strings.HasSuffix(env.Stream, "@depth@100ms"):
			var d binanceDepthMsg
			if err := json.Unmarshal(env.Data, &d); err != nil {
				b.logger.Warn("binance: malformed depth", "error", err)
				continue
			}
			sym, ok := symbolByWire[strings.ToLower(d.Symbol)]
			if !ok {
				continue
			}
			b.handleDepth(ctx, sym, d, events)
		}
	}
}

func (b *BinanceAdapter) emitTick(sym model.Symbol, t binanceTickerMsg, events Events) {
	bid, err1 := decimal.NewFromString(t.Bid)
	ask, err2 := decimal.NewFromString(t.Ask)
	if err1 != nil || err2 != nil {
		b.logger.Warn("binance: bad ticker price", "symbol", sym)
		return
	}
	last, _ := decimal.NewFromString(t.Last)
	vol, _ := decimal.NewFromString(t.Volume)
	tick := model.PriceTick{
		Venue:     b.Name(),
		Symbol:    sym,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Volume24h: vol,
		Timestamp: time.Now(),
	}
	select {
	case events.Ticks <- tick:
	default:
	}
}

func (b *BinanceAdapter) handleDepth(ctx context.Context, sym model.Symbol, d binanceDepthMsg, events Events) {
	b.mu.Lock()
	st, ok := b.states[sym]
	if !ok {
		st = &binanceSymbolState{buffering: true}
		b.states[sym] = st
	}

	if st.buffering {
		st.buffered = append(st.buffered, d)
		if !st.snapshotting {
			st.snapshotting = true
			b.mu.Unlock()
			go b.fetchSnapshot(ctx, sym, events)
			return
		}
		b.mu.Unlock()
		return
	}

	if d.FirstUpdateID != st.lastUpdateID+1 {
		b.logger.Warn("binance: update-id gap, re-snapshotting", "symbol", sym, "expected", st.lastUpdateID+1, "got", d.FirstUpdateID)
		st.buffering = true
		st.snapshotting = true
		st.buffered = []binanceDepthMsg{d}
		b.mu.Unlock()
		events.Invalidate <- BookInvalidate{Venue: b.Name(), Symbol: sym}
		go b.fetchSnapshot(ctx, sym, events)
		return
	}

	st.lastUpdateID = d.LastUpdateID
	b.mu.Unlock()
	events.Deltas <- toBookDelta(b.Name(), sym, d)
}

func (b *BinanceAdapter) fetchSnapshot(ctx context.Context, sym model.Symbol, events Events) {
	base := b.cfg.BaseURL
	if base == "" {
		base = "https://api.binance.com"
	}
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=1000", base, strings.ToUpper(sym.Base()+sym.Quote()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		b.logger.Error("binance: snapshot request build failed", "error", err)
		return
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		b.logger.Error("binance: snapshot fetch failed", "symbol", sym, "error", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.logger.Error("binance: snapshot read failed", "error", err)
		return
	}
	var snap binanceDepthSnapshotResp
	if err := json.Unmarshal(body, &snap); err != nil {
		b.logger.Error("binance: snapshot decode failed", "error", err)
		return
	}

	b.mu.Lock()
	st := b.states[sym]
	buffered := st.buffered
	st.buffered = nil

	// Drop deltas that are entirely superseded by the snapshot.
	i := 0
	for i < len(buffered) && buffered[i].LastUpdateID <= snap.LastUpdateID {
		i++
	}
	buffered = buffered[i:]

	if len(buffered) == 0 || buffered[0].FirstUpdateID > snap.LastUpdateID+1 {
		// No retained delta bridges the snapshot; wait for the next
		// delta to arrive and re-check, keeping buffering mode on.
		st.snapshotting = false
		b.mu.Unlock()
		events.Snapshots <- toBookSnapshot(b.Name(), sym, snap)
		return
	}

	st.buffering = false
	st.snapshotting = false
	st.lastUpdateID = snap.LastUpdateID
	b.mu.Unlock()

	events.Snapshots <- toBookSnapshot(b.Name(), sym, snap)
	for _, d := range buffered {
		b.mu.Lock()
		st.lastUpdateID = d.LastUpdateID
		b.mu.Unlock()
		events.Deltas <- toBookDelta(b.Name(), sym, d)
	}
}

func toBookSnapshot(venue string, sym model.Symbol, snap binanceDepthSnapshotResp) model.BookSnapshot {
	return model.BookSnapshot{
		Venue:        venue,
		Symbol:       sym,
		Bids:         parseLevels(snap.Bids),
		Asks:         parseLevels(snap.Asks),
		LastUpdateID: snap.LastUpdateID,
	}
}

func toBookDelta(venue string, sym model.Symbol, d binanceDepthMsg) model.BookDelta {
	return model.BookDelta{
		Venue:         venue,
		Symbol:        sym,
		Bids:          parseLevels(d.Bids),
		Asks:          parseLevels(d.Asks),
		FirstUpdateID: d.FirstUpdateID,
		LastUpdateID:  d.LastUpdateID,
	}
}

func parseLevels(raw [][]string) []model.BookLevel {
	levels := make([]model.BookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		price, err1 := decimal.NewFromString(pair[0])
		size, err2 := decimal.NewFromString(pair[1])
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, model.BookLevel{Price: price, Size: size})
	}
	return levels
}
