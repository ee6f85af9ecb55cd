package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arbiter/internal/config"
	"arbiter/internal/model"
)

// KrakenAdapter streams ticker-only data: no depth channel is
// subscribed, so detectors that need book depth for this venue fall
// back to the simple bid/ask estimator.
type KrakenAdapter struct {
	logger  *slog.Logger
	cfg     config.ExchangeConfig
	backoff BackoffPolicy
	stop    chan struct{}
	once    sync.Once
}

func NewKrakenAdapter(logger *slog.Logger, cfg config.ExchangeConfig) *KrakenAdapter {
	return &KrakenAdapter{
		logger:  logger,
		cfg:     cfg,
		backoff: DefaultBackoff(),
		stop:    make(chan struct{}),
	}
}

func (k *KrakenAdapter) Name() string { return "kraken" }
func (k *KrakenAdapter) Stop()        { k.once.Do(func() { close(k.stop) }) }

func krakenWireSymbol(s model.Symbol) string {
	base := s.Base()
	if base == "BTC" {
		base = "XBT"
	}
	return base + "/" + s.Quote()
}

func (k *KrakenAdapter) Start(ctx context.Context, symbols []model.Symbol, events Events) error {
	wsURL := k.cfg.WSURL
	if wsURL == "" {
		wsURL = "wss://ws.kraken.com"
	}

	wirePairs := make([]string, 0, len(symbols))
	symbolByWire := make(map[string]model.Symbol, len(symbols))
	for _, s := range symbols {
		wire := krakenWireSymbol(s)
		wirePairs = append(wirePairs, wire)
		symbolByWire[wire] = s
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("kraken: context cancelled, shutting down")
			return nil
		case <-k.stop:
			return nil
		default:
			k.logger.Info("kraken: connecting", "url", wsURL, "attempt", attempt)
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				k.logger.Error("kraken: connection failed", "error", err)
				wait, ok := k.backoff.Next(attempt)
				if !ok {
					events.Disconnects <- ConnectionLost{Venue: k.Name(), Err: err}
					return err
				}
				attempt++
				select {
				case <-ctx.Done():
					return nil
				case <-k.stop:
					return nil
				case <-time.After(wait):
				}
				continue
			}
			attempt = 0
			k.logger.Info("kraken: connected successfully")

			subscription := map[string]interface{}{
				"event": "subscribe",
				"pair":  wirePairs,
				"subscription": map[string]string{
					"name": "ticker",
				},
			}
			if err := conn.WriteJSON(subscription); err != nil {
				k.logger.Error("kraken: failed to send subscription", "error", err)
				conn.Close()
				continue
			}
			k.logger.Info("kraken: subscription sent")

			readErr := k.readLoop(ctx, conn, symbolByWire, events)
			conn.Close()
			if readErr == nil {
				return nil
			}
			k.logger.Warn("kraken: read failed, reconnecting", "error", readErr)
		}
	}
}

func (k *KrakenAdapter) readLoop(ctx context.Context, conn *websocket.Conn, symbolByWire map[string]model.Symbol, events Events) error {
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("kraken: context cancelled, closing connection")
			return nil
		case <-k.stop:
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			// Ticker frames arrive as a 4-element array; everything
			// else (subscription status, heartbeat) as an object.
			var arr []json.RawMessage
			if err := json.Unmarshal(message, &arr); err != nil || len(arr) < 4 {
				var status map[string]interface{}
				if err := json.Unmarshal(message, &status); err == nil {
					if event, ok := status["event"].(string); ok && event == "subscriptionStatus" {
						k.logger.Info("kraken: subscription confirmed")
					}
				}
				continue
			}

			var pair string
			if err := json.Unmarshal(arr[3], &pair); err != nil {
				continue
			}
			sym, ok := symbolByWire[pair]
			if !ok {
				continue
			}

			var tickerData map[string]interface{}
			if err := json.Unmarshal(arr[1], &tickerData); err != nil {
				k.logger.Warn("kraken: failed to parse ticker", "error", err)
				continue
			}
			k.emitTick(sym, tickerData, events)
		}
	}
}

func (k *KrakenAdapter) emitTick(sym model.Symbol, data map[string]interface{}, events Events) {
	bidArr, ok := data["b"].([]interface{})
	askArr, ok2 := data["a"].([]interface{})
	if !ok || !ok2 || len(bidArr) == 0 || len(askArr) == 0 {
		return
	}
	bidStr, _ := bidArr[0].(string)
	askStr, _ := askArr[0].(string)
	bid, err1 := decimal.NewFromString(bidStr)
	ask, err2 := decimal.NewFromString(askStr)
	if err1 != nil || err2 != nil {
		k.logger.Warn("kraken: failed to parse bid/ask")
		return
	}

	var last decimal.Decimal
	if cArr, ok := data["c"].([]interface{}); ok && len(cArr) > 0 {
		if s, ok := cArr[0].(string); ok {
			last, _ = decimal.NewFromString(s)
		}
	}
	var vol decimal.Decimal
	if vArr, ok := data["v"].([]interface{}); ok && len(vArr) > 1 {
		if s, ok := vArr[1].(string); ok {
			vol, _ = decimal.NewFromString(s)
		}
	}

	tick := model.PriceTick{
		Venue:     k.Name(),
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
