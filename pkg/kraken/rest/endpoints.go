package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// The typed endpoint surface below mirrors Kraken's REST API. Required
// parameters are explicit arguments; optional ones travel in opts. Results
// are the exchange's result JSON, verbatim.

// Time returns the server time. https://api.kraken.com/0/public/Time
func (c *Client) Time(ctx context.Context) (json.RawMessage, error) {
	return c.Public(ctx, "Time", nil)
}

// SystemStatus returns the exchange's operational status.
// https://api.kraken.com/0/public/SystemStatus
func (c *Client) SystemStatus(ctx context.Context) (json.RawMessage, error) {
	return c.Public(ctx, "SystemStatus", nil)
}

// Assets returns asset info. https://api.kraken.com/0/public/Assets
func (c *Client) Assets(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Public(ctx, "Assets", opts)
}

// AssetPairs returns tradable asset pairs. https://api.kraken.com/0/public/AssetPairs
func (c *Client) AssetPairs(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Public(ctx, "AssetPairs", opts)
}

// Ticker returns ticker information. https://api.kraken.com/0/public/Ticker
func (c *Client) Ticker(ctx context.Context, pair string) (json.RawMessage, error) {
	return c.Public(ctx, "Ticker", url.Values{"pair": {pair}})
}

// OHLC returns candle data. Interval is in minutes; zero means the exchange
// default. https://api.kraken.com/0/public/OHLC
func (c *Client) OHLC(ctx context.Context, pair string, interval int, opts url.Values) (json.RawMessage, error) {
	params := cloneValues(opts)
	params.Set("pair", pair)
	if interval > 0 {
		params.Set("interval", strconv.Itoa(interval))
	}
	return c.Public(ctx, "OHLC", params)
}

// Depth returns the order book. https://api.kraken.com/0/public/Depth
func (c *Client) Depth(ctx context.Context, pair string, count int) (json.RawMessage, error) {
	params := url.Values{"pair": {pair}}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}
	return c.Public(ctx, "Depth", params)
}

// Trades returns recent trades. https://api.kraken.com/0/public/Trades
func (c *Client) Trades(ctx context.Context, pair string, opts url.Values) (json.RawMessage, error) {
	params := cloneValues(opts)
	params.Set("pair", pair)
	return c.Public(ctx, "Trades", params)
}

// Spread returns recent spread data. https://api.kraken.com/0/public/Spread
func (c *Client) Spread(ctx context.Context, pair string, opts url.Values) (json.RawMessage, error) {
	params := cloneValues(opts)
	params.Set("pair", pair)
	return c.Public(ctx, "Spread", params)
}

// Balance returns the account balance. https://api.kraken.com/0/private/Balance
func (c *Client) Balance(ctx context.Context) (json.RawMessage, error) {
	return c.Private(ctx, "Balance", nil)
}

// TradeBalance returns the trade balance. https://api.kraken.com/0/private/TradeBalance
func (c *Client) TradeBalance(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Private(ctx, "TradeBalance", opts)
}

// OpenOrders returns open orders. https://api.kraken.com/0/private/OpenOrders
func (c *Client) OpenOrders(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Private(ctx, "OpenOrders", opts)
}

// ClosedOrders returns closed orders. https://api.kraken.com/0/private/ClosedOrders
func (c *Client) ClosedOrders(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Private(ctx, "ClosedOrders", opts)
}

// QueryOrders returns order info by transaction id. https://api.kraken.com/0/private/QueryOrders
func (c *Client) QueryOrders(ctx context.Context, txid string, opts url.Values) (json.RawMessage, error) {
	params := cloneValues(opts)
	params.Set("txid", txid)
	return c.Private(ctx, "QueryOrders", params)
}

// TradesHistory returns the trade history. https://api.kraken.com/0/private/TradesHistory
func (c *Client) TradesHistory(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Private(ctx, "TradesHistory", opts)
}

// QueryTrades returns trade info by transaction id. https://api.kraken.com/0/private/QueryTrades
func (c *Client) QueryTrades(ctx context.Context, txid string, opts url.Values) (json.RawMessage, error) {
	params := cloneValues(opts)
	params.Set("txid", txid)
	return c.Private(ctx, "QueryTrades", params)
}

// OpenPositions returns open positions. https://api.kraken.com/0/private/OpenPositions
func (c *Client) OpenPositions(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Private(ctx, "OpenPositions", opts)
}

// Ledgers returns ledger entries. https://api.kraken.com/0/private/Ledgers
func (c *Client) Ledgers(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Private(ctx, "Ledgers", opts)
}

// QueryLedgers returns ledger entries by id. https://api.kraken.com/0/private/QueryLedgers
func (c *Client) QueryLedgers(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Private(ctx, "QueryLedgers", url.Values{"id": {id}})
}

// TradeVolume returns the account's trade volume. https://api.kraken.com/0/private/TradeVolume
func (c *Client) TradeVolume(ctx context.Context, opts url.Values) (json.RawMessage, error) {
	return c.Private(ctx, "TradeVolume", opts)
}

// AddExport requests an export report. https://api.kraken.com/0/private/AddExport
func (c *Client) AddExport(ctx context.Context, description, report string, opts url.Values) (json.RawMessage, error) {
	params := cloneValues(opts)
	params.Set("description", description)
	params.Set("report", report)
	return c.Private(ctx, "AddExport", params)
}

// AddOrder places a standard order. Optional parameters (price, leverage,
// oflags, userref, validate, ...) travel in opts.
// https://api.kraken.com/0/private/AddOrder
func (c *Client) AddOrder(ctx context.Context, pair, side, ordertype, volume string, opts url.Values) (json.RawMessage, error) {
	params := cloneValues(opts)
	params.Set("pair", pair)
	params.Set("type", side)
	params.Set("ordertype", ordertype)
	params.Set("volume", volume)
	return c.Private(ctx, "AddOrder", params)
}

// CancelOrder cancels an open order. https://api.kraken.com/0/private/CancelOrder
func (c *Client) CancelOrder(ctx context.Context, txid string) (json.RawMessage, error) {
	return c.Private(ctx, "CancelOrder", url.Values{"txid": {txid}})
}

// GetWebSocketsToken fetches the token required to subscribe to private
// WebSocket feeds. https://api.kraken.com/0/private/GetWebSocketsToken
func (c *Client) GetWebSocketsToken(ctx context.Context) (string, error) {
	result, err := c.Private(ctx, "GetWebSocketsToken", nil)
	if err != nil {
		return "", err
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", errors.New("no websocket token in response")
	}
	return payload.Token, nil
}

// LastPrice returns the close of the most recent OHLC candle for a pair.
func (c *Client) LastPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	result, err := c.OHLC(ctx, pair, 0, nil)
	if err != nil {
		return decimal.Zero, err
	}

	// Result shape: {"<pair>": [[time, open, high, low, close, ...], ...], "last": n}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(result, &payload); err != nil {
		return decimal.Zero, err
	}

	for key, raw := range payload {
		if key == "last" {
			continue
		}
		var candles [][]json.RawMessage
		if err := json.Unmarshal(raw, &candles); err != nil {
			return decimal.Zero, err
		}
		if len(candles) == 0 || len(candles[len(candles)-1]) < 5 {
			return decimal.Zero, errors.New("no ohlc data for pair")
		}
		var closePrice string
		if err := json.Unmarshal(candles[len(candles)-1][4], &closePrice); err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(closePrice)
	}
	return decimal.Zero, errors.New("no ohlc data for pair")
}
