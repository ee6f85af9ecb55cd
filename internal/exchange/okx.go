package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arbiter/internal/config"
	"arbiter/internal/model"
)

// OKXAdapter implements the Venue B book reconstruction pattern: a
// "snapshot" message initializes state, "delta" messages update it,
// and a delta received before any snapshot is logged and discarded.
type OKXAdapter struct {
	logger  *slog.Logger
	cfg     config.ExchangeConfig
	backoff BackoffPolicy

	mu          sync.Mutex
	initialized map[model.Symbol]bool
	stop        chan struct{}
	once        sync.Once
}

func NewOKXAdapter(logger *slog.Logger, cfg config.ExchangeConfig) *OKXAdapter {
	return &OKXAdapter{
		logger:      logger,
		cfg:         cfg,
		backoff:     DefaultBackoff(),
		initialized: make(map[model.Symbol]bool),
		stop:        make(chan struct{}),
	}
}

func (o *OKXAdapter) Name() string { return "okx" }
func (o *OKXAdapter) Stop()        { o.once.Do(func() { close(o.stop) }) }

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxBookData struct {
	Bids [][]string `json:"bids"` // [price, size, liquidated orders, order count]
	Asks [][]string `json:"asks"`
	Ts   string     `json:"ts"`
	Seq  int64      `json:"seqId"`
}

type okxTickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Vol24h string `json:"vol24h"`
}

type okxMsg struct {
	Arg    okxArg          `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

func okxWireSymbol(s model.Symbol) string {
	return strings.ToUpper(s.Base() + "-" + s.Quote())
}

func (o *OKXAdapter) Start(ctx context.Context, symbols []model.Symbol, events Events) error {
	wsURL := o.cfg.WSURL
	if wsURL == "" {
		wsURL = "wss://ws.okx.com:8443/ws/v5/public"
	}

	symbolByInst := make(map[string]model.Symbol, len(symbols))
	var subArgs []map[string]string
	for _, s := range symbols {
		inst := okxWireSymbol(s)
		symbolByInst[inst] = s
		subArgs = append(subArgs, map[string]string{"channel": "books", "instId": inst})
		subArgs = append(subArgs, map[string]string{"channel": "tickers", "instId": inst})
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.stop:
			return nil
		default:
		}

		o.logger.Info("okx: connecting", "url", wsURL, "attempt", attempt)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			o.logger.Error("okx: dial failed", "error", err)
			wait, ok := o.backoff.Next(attempt)
			if !ok {
				events.Disconnects <- ConnectionLost{Venue: o.Name(), Err: err}
				return err
			}
			attempt++
			select {
			case <-ctx.Done():
				return nil
			case <-o.stop:
				return nil
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		if err := conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": subArgs}); err != nil {
			o.logger.Error("okx: subscribe failed", "error", err)
			conn.Close()
			continue
		}

		readErr := o.readLoop(ctx, conn, symbolByInst, events)
		conn.Close()
		if readErr == nil {
			return nil
		}
		o.logger.Warn("okx: stream ended, reconnecting", "error", readErr)
		for _, s := range symbols {
			o.mu.Lock()
			delete(o.initialized, s)
			o.mu.Unlock()
			events.Invalidate <- BookInvalidate{Venue: o.Name(), Symbol: s}
		}
	}
}

func (o *OKXAdapter) readLoop(ctx context.Context, conn *websocket.Conn, symbolByInst map[string]model.Symbol, events Events) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.stop:
			return nil
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg okxMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Arg.Channel == "" {
			continue // subscribe ack / pong
		}
		sym, ok := symbolByInst[msg.Arg.InstID]
		if !ok {
			continue
		}

		switch msg.Arg.Channel {
		case "tickers":
			var arr []okxTickerData
			if err := json.Unmarshal(msg.Data, &arr); err != nil || len(arr) == 0 {
				continue
			}
			o.emitTick(sym, arr[0], events)
		case "books":
			var arr []okxBookData
			if err := json.Unmarshal(msg.Data, &arr); err != nil || len(arr) == 0 {
				continue
			}
			o.handleBook(sym, msg.Action, arr[0], events)
		}
	}
}

func (o *OKXAdapter) emitTick(sym model.Symbol, t okxTickerData, events Events) {
	bid, err1 := decimal.NewFromString(t.BidPx)
	ask, err2 := decimal.NewFromString(t.AskPx)
	if err1 != nil || err2 != nil {
		return
	}
	last, _ := decimal.NewFromString(t.Last)
	vol, _ := decimal.NewFromString(t.Vol24h)
	select {
	case events.Ticks <- model.PriceTick{
		Venue: o.Name(), Symbol: sym, Last: last, Bid: bid, Ask: ask,
		Volume24h: vol, Timestamp: time.Now(),
	}:
	default:
	}
}

func (o *OKXAdapter) handleBook(sym model.Symbol, action string, d okxBookData, events Events) {
	o.mu.Lock()
	init := o.initialized[sym]
	if action == "snapshot" {
		o.initialized[sym] = true
	}
	o.mu.Unlock()

	if action != "snapshot" && !init {
		o.logger.Warn("okx: delta before snapshot, discarding", "symbol", sym)
		return
	}

	if action == "snapshot" {
		events.Snapshots <- model.BookSnapshot{
			Venue: o.Name(), Symbol: sym,
			Bids: parseLevels(d.Bids), Asks: parseLevels(d.Asks),
			LastUpdateID: d.Seq,
		}
		return
	}

	events.Deltas <- model.BookDelta{
		Venue: o.Name(), Symbol: sym,
		Bids: parseLevels(d.Bids), Asks: parseLevels(d.Asks),
		SequenceID: d.Seq, HasSequenceOnly: true,
	}
}
