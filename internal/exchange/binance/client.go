// Package binance implements core.ExchangeClient against Binance's spot
// REST and WebSocket market-data APIs. REST calls go through
// adshao/go-binance/v2's spot client (grounded on the sibling futures
// client in exchange/binance/websocket.go — dcabot trades spot, so it
// uses the spot half of the same SDK); the HTTP transport underneath
// the SDK is swapped for pkg/httpx's failsafe-go-backed round tripper so
// every REST call retries transient network/5xx/429 failures and trips
// a circuit breaker on sustained outages, same as the teacher's
// pkg/http/client.go gave every other outbound call. Kline delivery
// does not use the SDK's own WsKlineServe helper: the teacher's
// exchange/binance/websocket.go explicitly dials gorilla/websocket
// directly for its price stream because "go-binance's WsAggTradeServe
// has a bug", and exchange/binance/kline_websocket.go's reconnect loop
// is hand-rolled for the same reason — dcabot follows that precedent
// and drives the kline stream through pkg/wsclient instead.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dcabot/internal/core"
	"dcabot/pkg/apperrors"
	"dcabot/pkg/httpx"
	"dcabot/pkg/wsclient"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultRESTTimeout = 10 * time.Second
	wsBaseURL           = "wss://stream.binance.com:9443/ws"
)

// Client implements core.ExchangeClient against live Binance spot
// endpoints.
type Client struct {
	sdk    *binance.Client
	logger core.Logger
	ws     *wsclient.Client
}

// New builds a Client. An empty apiKey/secretKey pair is valid for the
// read-only endpoints (klines, exchange info) but PlaceLimitIOC and
// Balances will fail authentication.
func New(apiKey, secretKey string, logger core.Logger) *Client {
	sdk := binance.NewClient(apiKey, secretKey)
	sdk.HTTPClient = &http.Client{
		Transport: httpx.NewRoundTripper(),
		Timeout:   defaultRESTTimeout,
	}
	return &Client{sdk: sdk, logger: logger.WithFields("component", "exchange_binance")}
}

// Ping checks exchange reachability (spec §6 CheckStartupSafety /
// internal/health registration).
func (c *Client) Ping(ctx context.Context) error {
	if err := c.sdk.NewPingService().Do(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// Balances returns the live USDT/BTC spot balance snapshot.
func (c *Client) Balances(ctx context.Context) (core.Balances, error) {
	account, err := c.sdk.NewGetAccountService().Do(ctx)
	if err != nil {
		return core.Balances{}, classifyError(err)
	}

	var bal core.Balances
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		switch b.Asset {
		case "USDT":
			bal.USDT = free
		case "BTC":
			bal.BTC = free
		}
	}
	return bal, nil
}

// ExchangeRules parses the PRICE_FILTER/LOT_SIZE/MIN_NOTIONAL filters
// out of /api/v3/exchangeInfo. The teacher's FetchExchangeInfo cached
// only symbol/baseAsset/quoteAsset and never parsed filter values; this
// is new logic grounded directly on Binance's documented filter shape.
func (c *Client) ExchangeRules(ctx context.Context, symbol string) (core.ExchangeRules, error) {
	info, err := c.sdk.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return core.ExchangeRules{}, classifyError(err)
	}
	if len(info.Symbols) == 0 {
		return core.ExchangeRules{}, fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	sym := info.Symbols[0]

	rules := core.ExchangeRules{}
	if pf := sym.PriceFilter(); pf != nil {
		rules.Tick = mustDecimal(pf.TickSize)
	}
	if lf := sym.LotSizeFilter(); lf != nil {
		rules.Step = mustDecimal(lf.StepSize)
		rules.MinQty = mustDecimal(lf.MinQuantity)
		rules.MaxQty = mustDecimal(lf.MaxQuantity)
	}
	if nf := sym.MinNotionalFilter(); nf != nil {
		rules.MinNotional = mustDecimal(nf.MinNotional)
	}
	return rules, nil
}

// FetchRecentKlines fetches the last n closed candles via REST, used
// both for the initial backfill and for post-reconnect gap recovery
// (spec §4.2). The teacher's GetHistoricalKlines was unimplemented
// ("not implemented"); this is built from scratch against
// /api/v3/klines.
func (c *Client) FetchRecentKlines(ctx context.Context, symbol, timeframe string, n int) ([]core.Candle, error) {
	raw, err := c.sdk.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(n).Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	candles := make([]core.Candle, 0, len(raw))
	for _, k := range raw {
		candle := core.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Open:      mustDecimal(k.Open),
			High:      mustDecimal(k.High),
			Low:       mustDecimal(k.Low),
			Close:     mustDecimal(k.Close),
			Closed:    true,
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// PlaceLimitIOC submits a LIMIT order with timeInForce=IOC, the only
// order shape the controller ever issues (spec §4.7/§9 redesign away
// from market orders).
func (c *Client) PlaceLimitIOC(ctx context.Context, symbol string, side core.OrderSide, price, qty decimal.Decimal, clientOrderID string) (core.OrderOutcome, error) {
	sdkSide := binance.SideTypeBuy
	if side == core.OrderSideSell {
		sdkSide = binance.SideTypeSell
	}

	resp, err := c.sdk.NewCreateOrderService().
		Symbol(symbol).
		Side(sdkSide).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeIOC).
		Quantity(qty.String()).
		Price(price.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		if isAmbiguous(err) {
			return core.OrderOutcome{}, fmt.Errorf("binance: %w: %v", apperrors.ErrAmbiguousSubmission, err)
		}
		return core.OrderOutcome{}, classifyError(err)
	}

	return outcomeFromCreateResponse(resp), nil
}

// GetOrder looks up an order by client_order_id, used both for
// ambiguous-submission resolution (spec §4.7) and crash-recovery
// reconciliation of pending write-ahead intents (spec §4.5/§4.12).
func (c *Client) GetOrder(ctx context.Context, symbol, clientOrderID string) (core.OrderOutcome, error) {
	order, err := c.sdk.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
	if err != nil {
		if errors.Is(classifyError(err), apperrors.ErrOrderNotFound) {
			return core.OrderOutcome{Status: core.TradeRejectedRemote}, nil
		}
		return core.OrderOutcome{}, classifyError(err)
	}

	outcome := core.OrderOutcome{
		Status:    statusFromSDK(order.Status),
		FilledQty: mustDecimal(order.ExecutedQuantity),
		QuoteQty:  mustDecimal(order.CummulativeQuoteQuantity),
		OrderID:   fmt.Sprintf("%d", order.OrderID),
	}
	if !outcome.FilledQty.IsZero() {
		outcome.AvgPrice = outcome.QuoteQty.DivRound(outcome.FilledQty, 8)
	}

	trades, err := c.sdk.NewListTradesService().Symbol(symbol).OrderID(order.OrderID).Do(ctx)
	if err != nil {
		c.logger.Warn("binance: failed to fetch trade fills for fee accounting", "client_order_id", clientOrderID, "error", err)
		return outcome, nil
	}
	applyFees(&outcome, trades)
	return outcome, nil
}

// SubscribeKlines opens a raw kline WebSocket stream through
// pkg/wsclient. Candle events are delivered only when the kline's "x"
// (is-final) flag is set, matching spec §4.2's "only Closed candles
// drive trigger decisions".
func (c *Client) SubscribeKlines(ctx context.Context, symbol, timeframe string) (<-chan core.Candle, error) {
	out := make(chan core.Candle, 32)
	stream := strings.ToLower(symbol) + "@kline_" + timeframe
	url := wsBaseURL + "/" + stream

	handler := func(message []byte) {
		var event rawKlineEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.Warn("binance: malformed kline message", "error", err)
			return
		}
		if !event.Kline.IsFinal {
			return
		}
		candle, err := event.Kline.toCandle()
		if err != nil {
			c.logger.Warn("binance: failed to parse kline candle", "error", err)
			return
		}

		select {
		case out <- candle:
		case <-ctx.Done():
		default:
			c.logger.Warn("binance: kline channel full, dropping candle", "symbol", symbol)
		}
	}

	ws := wsclient.NewClient(url, handler, c.logger, wsclient.Backoff{Min: time.Second, Max: 30 * time.Second})
	c.ws = ws
	ws.Start()

	go func() {
		<-ctx.Done()
		ws.Stop()
		close(out)
	}()

	return out, nil
}

// rawKlineEvent mirrors Binance's raw (single-stream) kline payload
// (wss://stream.binance.com:9443/ws/<symbol>@kline_<interval>).
type rawKlineEvent struct {
	EventType string   `json:"e"`
	EventTime int64    `json:"E"`
	Symbol    string   `json:"s"`
	Kline     rawKline `json:"k"`
}

type rawKline struct {
	StartTime int64  `json:"t"`
	EndTime   int64  `json:"T"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	IsFinal   bool   `json:"x"`
}

func (k rawKline) toCandle() (core.Candle, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return core.Candle{}, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return core.Candle{}, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return core.Candle{}, err
	}
	close, err := decimal.NewFromString(k.Close)
	if err != nil {
		return core.Candle{}, err
	}
	return core.Candle{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Closed:    true,
	}, nil
}

func outcomeFromCreateResponse(resp *binance.CreateOrderResponse) core.OrderOutcome {
	outcome := core.OrderOutcome{
		Status:    statusFromSDK(resp.Status),
		FilledQty: mustDecimal(resp.ExecutedQuantity),
		QuoteQty:  mustDecimal(resp.CummulativeQuoteQuantity),
		OrderID:   fmt.Sprintf("%d", resp.OrderID),
		FeeOther:  make(map[string]decimal.Decimal),
	}
	if !outcome.FilledQty.IsZero() {
		outcome.AvgPrice = outcome.QuoteQty.DivRound(outcome.FilledQty, 8)
	}

	for _, fill := range resp.Fills {
		commission := mustDecimal(fill.Commission)
		switch fill.CommissionAsset {
		case "BTC":
			outcome.FeeBase = outcome.FeeBase.Add(commission)
		case "USDT":
			outcome.FeeQuote = outcome.FeeQuote.Add(commission)
		default:
			outcome.FeeOther[fill.CommissionAsset] = outcome.FeeOther[fill.CommissionAsset].Add(commission)
		}
	}
	return outcome
}

func applyFees(outcome *core.OrderOutcome, trades []*binance.TradeV3) {
	if outcome.FeeOther == nil {
		outcome.FeeOther = make(map[string]decimal.Decimal)
	}
	for _, t := range trades {
		commission := mustDecimal(t.Commission)
		switch t.CommissionAsset {
		case "BTC":
			outcome.FeeBase = outcome.FeeBase.Add(commission)
		case "USDT":
			outcome.FeeQuote = outcome.FeeQuote.Add(commission)
		default:
			outcome.FeeOther[t.CommissionAsset] = outcome.FeeOther[t.CommissionAsset].Add(commission)
		}
	}
}

func statusFromSDK(status binance.OrderStatusType) core.TradeStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return core.TradeFilled
	case binance.OrderStatusTypePartiallyFilled:
		return core.TradePartiallyFilled
	case binance.OrderStatusTypeExpired, binance.OrderStatusTypeCanceled:
		return core.TradeExpired
	case binance.OrderStatusTypeRejected:
		return core.TradeRejectedRemote
	default:
		return core.TradeRejectedRemote
	}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// isAmbiguous reports whether err looks like a timeout/network failure
// that may have reached the exchange despite the client never seeing a
// response — the caller must resolve via GetOrder rather than retry
// blindly (spec §4.7).
func isAmbiguous(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyError maps a raw SDK/transport error onto the shared
// apperrors sentinel taxonomy, grounded on the teacher's
// BinanceSpotExchange.parseError code-to-sentinel table.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *binance.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2014, -2015:
			return fmt.Errorf("binance: %w: %s", apperrors.ErrAuthenticationFailed, apiErr.Message)
		case -1013, -1111, -1100, -1101, -1102:
			return fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidOrderParameter, apiErr.Message)
		case -2010:
			return fmt.Errorf("binance: %w: %s", apperrors.ErrInsufficientFunds, apiErr.Message)
		case -2011, -2013:
			return fmt.Errorf("binance: %w: %s", apperrors.ErrOrderNotFound, apiErr.Message)
		case -1003, -1015:
			return fmt.Errorf("binance: %w: %s", apperrors.ErrRateLimitExceeded, apiErr.Message)
		case -1021:
			return fmt.Errorf("binance: %w: %s", apperrors.ErrTimestampOutOfBounds, apiErr.Message)
		case -1:
			return fmt.Errorf("binance: %w: %s", apperrors.ErrSystemOverload, apiErr.Message)
		default:
			return fmt.Errorf("binance: %w (code %d): %s", apperrors.ErrOrderRejected, apiErr.Code, apiErr.Message)
		}
	}

	var httpErr *httpx.APIError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 || httpErr.StatusCode == 418 {
			return fmt.Errorf("binance: %w: status %d", apperrors.ErrRateLimitExceeded, httpErr.StatusCode)
		}
		if httpErr.StatusCode >= 500 {
			return fmt.Errorf("binance: %w: status %d", apperrors.ErrExchangeMaintenance, httpErr.StatusCode)
		}
	}

	return fmt.Errorf("binance: %w: %v", apperrors.ErrNetwork, err)
}
