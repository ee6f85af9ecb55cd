// Package executor implements the OrderExecutor component and the
// TradingClient contract venues are reached through.
package executor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/config"
	"arbiter/internal/model"
)

// TradingClient is the uniform venue trading surface every adapter's
// execution side implements: createMarketOrder, createLimitOrder,
// fetchOrder, cancelOrder, fetchBalance.
type TradingClient interface {
	CreateMarketOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, amount decimal.Decimal) (model.ExecutedOrder, error)
	CreateLimitOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, amount, price decimal.Decimal) (model.ExecutedOrder, error)
	FetchOrder(ctx context.Context, orderID string, symbol model.Symbol) (model.ExecutedOrder, error)
	CancelOrder(ctx context.Context, orderID string, symbol model.Symbol) error
	FetchBalance(ctx context.Context, venue string) ([]model.Balance, error)
}

// RESTTradingClient is a single generic implementation of TradingClient
// parameterized per venue by base URL and HMAC credentials, so adding a
// venue is a config entry rather than a new type.
type RESTTradingClient struct {
	venue  string
	cfg    config.ExchangeConfig
	httpc  *http.Client
}

// NewRESTTradingClient builds a signed REST client for one venue.
func NewRESTTradingClient(venue string, cfg config.ExchangeConfig) *RESTTradingClient {
	return &RESTTradingClient{
		venue: venue,
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *RESTTradingClient) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTTradingClient) do(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	payload := params.Encode()
	signature := c.sign(payload)

	fullURL := strings.TrimRight(c.cfg.BaseURL, "/") + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		fullURL += "?" + payload + "&signature=" + signature
	} else {
		body = strings.NewReader(payload + "&signature=" + signature)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	if c.cfg.APIPassphrase != "" {
		req.Header.Set("X-API-PASSPHRASE", c.cfg.APIPassphrase)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: HTTP %d: %s", c.venue, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

type restOrderResp struct {
	OrderID          string `json:"orderId"`
	Status           string `json:"status"`
	ExecutedQty      string `json:"executedQty"`
	AvgPrice         string `json:"avgPrice"`
	Fee              string `json:"fee"`
}

func (c *RESTTradingClient) createOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, orderType model.OrderType, amount, price decimal.Decimal) (model.ExecutedOrder, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol.Base()+symbol.Quote()))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", strings.ToUpper(string(orderType)))
	params.Set("quantity", amount.String())
	if orderType == model.OrderTypeLimit {
		params.Set("price", price.String())
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("%s: create order: %w", c.venue, err)
	}

	var resp restOrderResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("%s: decode order response: %w", c.venue, err)
	}
	return c.toExecutedOrder(symbol, side, price, resp), nil
}

func (c *RESTTradingClient) CreateMarketOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, amount decimal.Decimal) (model.ExecutedOrder, error) {
	return c.createOrder(ctx, symbol, side, model.OrderTypeMarket, amount, decimal.Zero)
}

func (c *RESTTradingClient) CreateLimitOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, amount, price decimal.Decimal) (model.ExecutedOrder, error) {
	return c.createOrder(ctx, symbol, side, model.OrderTypeLimit, amount, price)
}

func (c *RESTTradingClient) FetchOrder(ctx context.Context, orderID string, symbol model.Symbol) (model.ExecutedOrder, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol.Base()+symbol.Quote()))
	params.Set("orderId", orderID)

	raw, err := c.do(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("%s: fetch order: %w", c.venue, err)
	}
	var resp restOrderResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.ExecutedOrder{}, fmt.Errorf("%s: decode order response: %w", c.venue, err)
	}
	return c.toExecutedOrder(symbol, "", decimal.Zero, resp), nil
}

func (c *RESTTradingClient) CancelOrder(ctx context.Context, orderID string, symbol model.Symbol) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol.Base()+symbol.Quote()))
	params.Set("orderId", orderID)
	_, err := c.do(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		return fmt.Errorf("%s: cancel order: %w", c.venue, err)
	}
	return nil
}

type restBalanceResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (c *RESTTradingClient) FetchBalance(ctx context.Context, venue string) ([]model.Balance, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch balance: %w", c.venue, err)
	}
	var resp restBalanceResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode balance response: %w", c.venue, err)
	}

	out := make([]model.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		free, _ := decimal.NewFromString(b.Free)
		used, _ := decimal.NewFromString(b.Locked)
		out = append(out, model.Balance{
			Venue:      venue,
			Currency:   strings.ToUpper(b.Asset),
			Free:       free,
			Used:       used,
			Total:      free.Add(used),
			LastUpdate: time.Now(),
		})
	}
	return out, nil
}

func orderStateFromVenue(status string) model.OrderState {
	switch strings.ToUpper(status) {
	case "FILLED", "CLOSED":
		return model.OrderStateClosed
	case "CANCELED", "CANCELLED":
		return model.OrderStateCanceled
	case "REJECTED", "EXPIRED":
		return model.OrderStateRejected
	default:
		return model.OrderStateOpen
	}
}

func (c *RESTTradingClient) toExecutedOrder(symbol model.Symbol, side model.OrderSide, requestedPrice decimal.Decimal, resp restOrderResp) model.ExecutedOrder {
	filled, _ := decimal.NewFromString(resp.ExecutedQty)
	avgPrice, _ := decimal.NewFromString(resp.AvgPrice)
	fee, _ := decimal.NewFromString(resp.Fee)
	now := time.Now()
	return model.ExecutedOrder{
		Venue:            c.venue,
		OrderID:          resp.OrderID,
		Symbol:           symbol,
		Side:             side,
		State:            orderStateFromVenue(resp.Status),
		RequestedPrice:   requestedPrice,
		FilledAmount:     filled,
		AverageFillPrice: avgPrice,
		Fee:              fee,
		SubmittedAt:      now,
		UpdatedAt:        now,
	}
}
