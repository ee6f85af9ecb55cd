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

// BybitAdapter implements the Venue D book reconstruction pattern: a
// snapshot message seeds the book, updates merge, a running sequence id
// is monitored for gaps, and on a gap the state is dropped pending a
// fresh snapshot.
type BybitAdapter struct {
	logger  *slog.Logger
	cfg     config.ExchangeConfig
	backoff BackoffPolicy
	stop    chan struct{}
	once    sync.Once
}

func NewBybitAdapter(logger *slog.Logger, cfg config.ExchangeConfig) *BybitAdapter {
	return &BybitAdapter{
		logger:  logger,
		cfg:     cfg,
		backoff: DefaultBackoff(),
		stop:    make(chan struct{}),
	}
}

func (b *BybitAdapter) Name() string { return "bybit" }
func (b *BybitAdapter) Stop()        { b.once.Do(func() { close(b.stop) }) }

type bybitOrderbookData struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Seq    int64      `json:"u"`
}

type bybitTickerData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	Volume24h string `json:"volume24h"`
}

type bybitMsg struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // "snapshot" | "delta"
	Data  json.RawMessage `json:"data"`
}

func bybitWireSymbol(s model.Symbol) string {
	return strings.ToUpper(s.Base() + s.Quote())
}

func (b *BybitAdapter) Start(ctx context.Context, symbols []model.Symbol, events Events) error {
	wsURL := b.cfg.WSURL
	if wsURL == "" {
		wsURL = "wss://stream.bybit.com/v5/public/spot"
	}

	symbolByWire := make(map[string]model.Symbol, len(symbols))
	var topics []string
	for _, s := range symbols {
		wire := bybitWireSymbol(s)
		symbolByWire[wire] = s
		topics = append(topics, "orderbook.50."+wire, "tickers."+wire)
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

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			b.logger.Error("bybit: dial failed", "error", err)
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

		if err := conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": topics}); err != nil {
			b.logger.Error("bybit: subscribe failed", "error", err)
			conn.Close()
			continue
		}

		readErr := b.readLoop(ctx, conn, symbolByWire, events)
		conn.Close()
		if readErr == nil {
			return nil
		}
		for _, s := range symbols {
			events.Invalidate <- BookInvalidate{Venue: b.Name(), Symbol: s}
		}
	}
}

func (b *BybitAdapter) readLoop(ctx context.Context, conn *websocket.Conn, symbolByWire map[string]model.Symbol, events Events) error {
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
		var msg bybitMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(msg.Topic, "orderbook."):
			var d bybitOrderbookData
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				continue
			}
			sym, ok := symbolByWire[d.Symbol]
			if !ok {
				continue
			}
			if msg.Type == "snapshot" {
				events.Snapshots <- model.BookSnapshot{
					Venue: b.Name(), Symbol: sym,
					Bids: parseLevels(d.Bids), Asks: parseLevels(d.Asks),
					LastUpdateID: d.Seq,
				}
			} else {
				events.Deltas <- model.BookDelta{
					Venue: b.Name(), Symbol: sym,
					Bids: parseLevels(d.Bids), Asks: parseLevels(d.Asks),
					SequenceID: d.Seq, HasSequenceOnly: true,
				}
			}
		case strings.HasPrefix(msg.Topic, "tickers."):
			var d bybitTickerData
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				continue
			}
			sym, ok := symbolByWire[d.Symbol]
			if !ok {
				continue
			}
			b.emitTick(sym, d, events)
		}
	}
}

func (b *BybitAdapter) emitTick(sym model.Symbol, t bybitTickerData, events Events) {
	bid, err1 := decimal.NewFromString(t.Bid1Price)
	ask, err2 := decimal.NewFromString(t.Ask1Price)
	if err1 != nil || err2 != nil {
		return
	}
	last, _ := decimal.NewFromString(t.LastPrice)
	vol, _ := decimal.NewFromString(t.Volume24h)
	select {
	case events.Ticks <- model.PriceTick{
		Venue: b.Name(), Symbol: sym, Last: last, Bid: bid, Ask: ask,
		Volume24h: vol, Timestamp: time.Now(),
	}:
	default:
	}
}
