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

// CoinbaseAdapter implements the Venue C book reconstruction pattern: a
// "snapshot" message seeds the book, "l2update" carries side+price+size
// triples, and size == 0 removes a level.
type CoinbaseAdapter struct {
	logger  *slog.Logger
	cfg     config.ExchangeConfig
	backoff BackoffPolicy
	stop    chan struct{}
	once    sync.Once
}

func NewCoinbaseAdapter(logger *slog.Logger, cfg config.ExchangeConfig) *CoinbaseAdapter {
	return &CoinbaseAdapter{
		logger:  logger,
		cfg:     cfg,
		backoff: DefaultBackoff(),
		stop:    make(chan struct{}),
	}
}

func (c *CoinbaseAdapter) Name() string { return "coinbase" }
func (c *CoinbaseAdapter) Stop()        { c.once.Do(func() { close(c.stop) }) }

type coinbaseSnapshotMsg struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

type coinbaseL2UpdateMsg struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Time      string     `json:"time"`
	Changes   [][]string `json:"changes"` // [side, price, size]
}

type coinbaseTickerMsg struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Volume24h string `json:"volume_24h"`
}

func coinbaseWireSymbol(s model.Symbol) string {
	return strings.ToUpper(s.Base() + "-" + s.Quote())
}

func (c *CoinbaseAdapter) Start(ctx context.Context, symbols []model.Symbol, events Events) error {
	wsURL := c.cfg.WSURL
	if wsURL == "" {
		wsURL = "wss://ws-feed.exchange.coinbase.com"
	}

	var productIDs []string
	symbolByProduct := make(map[string]model.Symbol, len(symbols))
	for _, s := range symbols {
		p := coinbaseWireSymbol(s)
		productIDs = append(productIDs, p)
		symbolByProduct[p] = s
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			c.logger.Error("coinbase: dial failed", "error", err)
			wait, ok := c.backoff.Next(attempt)
			if !ok {
				events.Disconnects <- ConnectionLost{Venue: c.Name(), Err: err}
				return err
			}
			attempt++
			select {
			case <-ctx.Done():
				return nil
			case <-c.stop:
				return nil
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		sub := map[string]interface{}{
			"type":        "subscribe",
			"product_ids": productIDs,
			"channels":    []string{"level2", "ticker"},
		}
		if err := conn.WriteJSON(sub); err != nil {
			c.logger.Error("coinbase: subscribe failed", "error", err)
			conn.Close()
			continue
		}

		readErr := c.readLoop(ctx, conn, symbolByProduct, events)
		conn.Close()
		if readErr == nil {
			return nil
		}
		for _, s := range symbols {
			events.Invalidate <- BookInvalidate{Venue: c.Name(), Symbol: s}
		}
	}
}

func (c *CoinbaseAdapter) readLoop(ctx context.Context, conn *websocket.Conn, symbolByProduct map[string]model.Symbol, events Events) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var head struct {
			Type      string `json:"type"`
			ProductID string `json:"product_id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		sym, ok := symbolByProduct[head.ProductID]
		if !ok {
			continue
		}

		switch head.Type {
		case "snapshot":
			var m coinbaseSnapshotMsg
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			events.Snapshots <- model.BookSnapshot{
				Venue: c.Name(), Symbol: sym,
				Bids: parseLevels(m.Bids), Asks: parseLevels(m.Asks),
			}
		case "l2update":
			var m coinbaseL2UpdateMsg
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			var bids, asks []model.BookLevel
			for _, ch := range m.Changes {
				if len(ch) != 3 {
					continue
				}
				price, err1 := decimal.NewFromString(ch[1])
				size, err2 := decimal.NewFromString(ch[2])
				if err1 != nil || err2 != nil {
					continue
				}
				lvl := model.BookLevel{Price: price, Size: size}
				if ch[0] == "buy" {
					bids = append(bids, lvl)
				} else {
					asks = append(asks, lvl)
				}
			}
			events.Deltas <- model.BookDelta{Venue: c.Name(), Symbol: sym, Bids: bids, Asks: asks, Unsequenced: true}
		case "ticker":
			var m coinbaseTickerMsg
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			c.emitTick(sym, m, events)
		}
	}
}

func (c *CoinbaseAdapter) emitTick(sym model.Symbol, t coinbaseTickerMsg, events Events) {
	bid, err1 := decimal.NewFromString(t.BestBid)
	ask, err2 := decimal.NewFromString(t.BestAsk)
	if err1 != nil || err2 != nil {
		return
	}
	last, _ := decimal.NewFromString(t.Price)
	vol, _ := decimal.NewFromString(t.Volume24h)
	select {
	case events.Ticks <- model.PriceTick{
		Venue: c.Name(), Symbol: sym, Last: last, Bid: bid, Ask: ask,
		Volume24h: vol, Timestamp: time.Now(),
	}:
	default:
	}
}
