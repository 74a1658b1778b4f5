package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptoblade/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// FuturesBaseURL is the production Binance Futures API URL
	FuturesBaseURL = "https://fapi.binance.com"
	// FuturesTestnetURL is the testnet Binance Futures API URL
	FuturesTestnetURL = "https://testnet.binancefuture.com"
)

// Retry pacing. Transient errors are retried until the context ends.
const (
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 30 * time.Second
)

// ClientConfig configures the REST client
type ClientConfig struct {
	APIKey          string
	SecretKey       string
	Testnet         bool
	BaseURL         string // overrides Testnet when set
	RecvWindow      time.Duration
	WeightPerMinute int
	HTTPTimeout     time.Duration
}

// FuturesClient is the signed USDT-M futures REST client
type FuturesClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	recvWindow int64
	httpClient *http.Client
	limiter    *WeightLimiter
	logger     zerolog.Logger
	newBackOff func() backoff.BackOff
}

var _ Exchange = (*FuturesClient)(nil)

// NewFuturesClient creates a new FuturesClient instance
func NewFuturesClient(cfg ClientConfig, logger zerolog.Logger) *FuturesClient {
	baseURL := FuturesBaseURL
	if cfg.Testnet {
		baseURL = FuturesTestnetURL
	}
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = 10 * time.Second
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	// Trim any whitespace from keys - critical for signature generation
	return &FuturesClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		baseURL:    baseURL,
		recvWindow: recvWindow.Milliseconds(),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    NewWeightLimiter(cfg.WeightPerMinute),
		logger:     logger.With().Str("component", "binance").Logger(),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(baseRetryDelay),
				backoff.WithMaxInterval(maxRetryDelay),
				backoff.WithMaxElapsedTime(0),
			)
		},
	}
}

// ==================== SETUP ====================

func (c *FuturesClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.request(ctx, http.MethodPost, "/fapi/v1/leverage", params, true)
	if err != nil && !IsAPICode(err, codeNoNeedToChangeLev) {
		return fmt.Errorf("set leverage %s to %d: %w", symbol, leverage, err)
	}
	return nil
}

func (c *FuturesClient) SwitchPositionMode(ctx context.Context, hedge bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(hedge))
	_, err := c.request(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", params, true)
	if err != nil && !IsAPICode(err, codeNoNeedToChangeMode) {
		return fmt.Errorf("switch position mode: %w", err)
	}
	return nil
}

// ==================== TRADING ====================

// CancelOrder cancels an order. An order the exchange no longer knows counts as cancelled.
func (c *FuturesClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.request(ctx, http.MethodDelete, "/fapi/v1/order", params, true)
	if err != nil && !IsAPICode(err, codeUnknownOrder) {
		return fmt.Errorf("cancel order %s %s: %w", symbol, orderID, err)
	}
	return nil
}

func (c *FuturesClient) PlaceLimitBuyOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return c.placeOrder(ctx, models.OrderSideBuy, FuturesOrderTypeLimit, req)
}

func (c *FuturesClient) PlaceLimitSellOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return c.placeOrder(ctx, models.OrderSideSell, FuturesOrderTypeLimit, req)
}

func (c *FuturesClient) PlaceMarketBuyOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return c.placeOrder(ctx, models.OrderSideBuy, FuturesOrderTypeMarket, req)
}

func (c *FuturesClient) PlaceMarketSellOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return c.placeOrder(ctx, models.OrderSideSell, FuturesOrderTypeMarket, req)
}

func (c *FuturesClient) PlaceLongTakeProfitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	req.PositionSide = models.PositionSideLong
	req.ReduceOnly = true
	return c.placeOrder(ctx, models.OrderSideSell, FuturesOrderTypeLimit, req)
}

func (c *FuturesClient) PlaceShortTakeProfitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	req.PositionSide = models.PositionSideShort
	req.ReduceOnly = true
	return c.placeOrder(ctx, models.OrderSideBuy, FuturesOrderTypeLimit, req)
}

func (c *FuturesClient) placeOrder(ctx context.Context, side models.OrderSide, orderType FuturesOrderType, req models.OrderRequest) (models.Order, error) {
	params := orderParams(side, orderType, req)
	body, err := c.request(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return models.Order{}, fmt.Errorf("place %s %s order %s: %w", orderType, side, req.Symbol, err)
	}
	var resp FuturesOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Order{}, fmt.Errorf("error parsing order response: %w", err)
	}
	order := toOrder(resp)
	// hedge mode drops reduceOnly from the response
	order.ReduceOnly = order.ReduceOnly || req.ReduceOnly
	return order, nil
}

// orderParams builds the order query. Hedge-mode legs imply reduce-only from the
// side, and Binance rejects the reduceOnly flag alongside a LONG/SHORT positionSide.
func orderParams(side models.OrderSide, orderType FuturesOrderType, req models.OrderRequest) url.Values {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(side))
	params.Set("type", string(orderType))
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "RESULT")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if orderType == FuturesOrderTypeLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", string(TimeInForceGTC))
	}
	switch req.PositionSide {
	case models.PositionSideLong, models.PositionSideShort:
		params.Set("positionSide", string(req.PositionSide))
	default:
		if req.ReduceOnly {
			params.Set("reduceOnly", "true")
		}
	}
	return params
}

// ==================== ACCOUNT ====================

func (c *FuturesClient) GetBalances(ctx context.Context) (models.Balance, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v2/account", url.Values{}, true)
	if err != nil {
		return models.Balance{}, fmt.Errorf("error fetching account info: %w", err)
	}
	var info FuturesAccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return models.Balance{}, fmt.Errorf("error parsing account info: %w", err)
	}
	updated := msToTime(info.UpdateTime)
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return models.Balance{
		Equity:          info.TotalMarginBalance,
		WalletBalance:   info.TotalWalletBalance,
		UnrealizedPnl:   info.TotalUnrealizedProfit,
		RealizedPnl:     decimal.Zero,
		UpdateTimestamp: updated,
	}, nil
}

func (c *FuturesClient) GetOrders(ctx context.Context) ([]models.Order, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/openOrders", url.Values{}, true)
	if err != nil {
		return nil, fmt.Errorf("error fetching open orders: %w", err)
	}
	var raw []FuturesOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing open orders: %w", err)
	}
	orders := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, toOrder(o))
	}
	return orders, nil
}

func (c *FuturesClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{}, true)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}
	var raw []FuturesPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}
	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		if pos, ok := toPosition(p); ok {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

// ==================== MARKET DATA ====================

func (c *FuturesClient) GetSymbolInfo(ctx context.Context) ([]models.SymbolInfo, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, fmt.Errorf("error fetching exchange info: %w", err)
	}
	var info FuturesExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}

	maxLeverage := c.maxLeverages(ctx)
	symbols := make([]models.SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if !isTradablePerpetual(s) {
			continue
		}
		si := toSymbolInfo(s)
		si.MaxLeverage = maxLeverage[s.Symbol]
		symbols = append(symbols, si)
	}
	return symbols, nil
}

// maxLeverages reads the first leverage bracket per symbol. It needs credentials,
// so without them or on failure the map is empty.
func (c *FuturesClient) maxLeverages(ctx context.Context) map[string]int {
	out := make(map[string]int)
	if c.apiKey == "" {
		return out
	}
	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/leverageBracket", url.Values{}, true)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Leverage brackets unavailable")
		return out
	}
	var brackets []LeverageBracket
	if err := json.Unmarshal(body, &brackets); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse leverage brackets")
		return out
	}
	for _, b := range brackets {
		if len(b.Brackets) > 0 {
			out[b.Symbol] = b.Brackets[0].InitialLeverage
		}
	}
	return out
}

// GetKlines returns closed candles only; the still-forming last candle is dropped.
func (c *FuturesClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit+1))
	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}
	nowMs := time.Now().UnixMilli()
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) > 6 {
			var closeTime int64
			if err := json.Unmarshal(row[6], &closeTime); err == nil && closeTime >= nowMs {
				continue
			}
		}
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("error parsing kline for %s: %w", symbol, err)
		}
		candles = append(candles, candle)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetTicker combines the book ticker with the premium index funding rate.
func (c *FuturesClient) GetTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/ticker/bookTicker", params, false)
	if err != nil {
		return models.Ticker{}, fmt.Errorf("error fetching book ticker: %w", err)
	}
	var book BookTicker
	if err := json.Unmarshal(body, &book); err != nil {
		return models.Ticker{}, fmt.Errorf("error parsing book ticker: %w", err)
	}

	ticker := models.Ticker{
		Symbol:    symbol,
		BestBid:   book.BidPrice,
		BestAsk:   book.AskPrice,
		LastPrice: book.BidPrice.Add(book.AskPrice).Div(decimal.NewFromInt(2)),
		Timestamp: msToTime(book.Time),
	}

	body, err = c.request(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Funding rate unavailable")
		return ticker, nil
	}
	var premium PremiumIndex
	if err := json.Unmarshal(body, &premium); err == nil {
		ticker.FundingRate = decimal.NewNullDecimal(premium.LastFundingRate)
		if premium.MarkPrice.IsPositive() {
			ticker.LastPrice = premium.MarkPrice
		}
	}
	return ticker, nil
}

// ==================== LISTEN KEY ====================

func (c *FuturesClient) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.request(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, false)
	if err != nil {
		return "", fmt.Errorf("error creating listen key: %w", err)
	}
	var resp ListenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("error parsing listen key: %w", err)
	}
	return resp.ListenKey, nil
}

func (c *FuturesClient) KeepAliveListenKey(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, false)
	return err
}

func (c *FuturesClient) CloseListenKey(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil, false)
	return err
}

// ==================== TRANSPORT ====================

// sign creates a signature for the given query string
func (c *FuturesClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// request performs one logical call, retrying transient failures with jittered
// exponential backoff until it succeeds, fails permanently, or ctx ends.
func (c *FuturesClient) request(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	weight := endpointWeight(endpoint)

	op := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx, weight); err != nil {
			return nil, backoff.Permanent(err)
		}
		body, err := c.do(ctx, method, endpoint, params, signed)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.IsRateLimit() {
				if until := ParseBanUntilFromError(apiErr.Message); !until.IsZero() {
					c.limiter.Ban(until)
				}
			}
			if !apiErr.IsRetryable() {
				return nil, backoff.Permanent(err)
			}
		}
		return nil, err
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Warn().Err(err).Str("method", method).Str("endpoint", endpoint).
			Dur("retry_in", delay).Msg("Request failed, retrying")
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(c.newBackOff(), ctx), notify)
}

// do sends a single HTTP request
func (c *FuturesClient) do(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	encoded := query.Encode()
	if signed {
		// fresh timestamp on every attempt
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		query.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		encoded = query.Encode()
		encoded += "&signature=" + c.sign(encoded)
	}

	reqURL := c.baseURL + endpoint
	if encoded != "" {
		reqURL += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.limiter.Observe(resp.Header.Get("X-MBX-USED-WEIGHT-1M"))

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}
