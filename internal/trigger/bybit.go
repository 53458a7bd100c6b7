package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
)

const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"

	bybitOrderCreatePath  = "/v5/order/create"
	bybitSetLeveragePath  = "/v5/position/set-leverage"
	bybitPositionListPath = "/v5/position/list"
	bybitTradingStopPath  = "/v5/position/trading-stop"

	// leverage not modified
	bybitRetLeverageUnchanged = 110043
)

// BybitOptions parameterise the Bybit v5 client.
type BybitOptions struct {
	APIKey     string
	APISecret  string
	BaseURL    string
	Testnet    bool
	Category   string
	RecvWindow time.Duration
	Timeout    time.Duration
}

// Bybit is a minimal signed client for the v5 unified trading API.
type Bybit struct {
	opts   BybitOptions
	http   *resty.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewBybit constructs a Bybit client.
func NewBybit(opts BybitOptions, logger zerolog.Logger) *Bybit {
	if opts.Category == "" {
		opts.Category = "linear"
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = 5 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = bybitMainnetURL
		if opts.Testnet {
			baseURL = bybitTestnetURL
		}
	}

	return &Bybit{
		opts: opts,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		logger: logger.With().Str("component", "bybit").Logger(),
		now:    time.Now,
	}
}

type bybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// OrderRequest is the body of /v5/order/create.
type OrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	TakeProfit  string `json:"takeProfit,omitempty"`
	StopLoss    string `json:"stopLoss,omitempty"`
}

// Position is one entry of /v5/position/list.
type Position struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Size        string `json:"size"`
	PositionIdx int    `json:"positionIdx"`
}

// PlaceOrder submits an order and returns its id.
func (b *Bybit) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Category == "" {
		req.Category = b.opts.Category
	}
	var res struct {
		OrderID string `json:"orderId"`
	}
	if err := b.post(ctx, bybitOrderCreatePath, req, &res); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	return res.OrderID, nil
}

// SetLeverage applies the same leverage to both sides. An unchanged leverage is not an error.
func (b *Bybit) SetLeverage(ctx context.Context, symbol, leverage string) error {
	body := map[string]string{
		"category":     b.opts.Category,
		"symbol":       symbol,
		"buyLeverage":  leverage,
		"sellLeverage": leverage,
	}
	err := b.post(ctx, bybitSetLeveragePath, body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == bybitRetLeverageUnchanged {
		return nil
	}
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	return nil
}

// Positions lists open positions for symbol.
func (b *Bybit) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := url.Values{}
	params.Set("category", b.opts.Category)
	params.Set("symbol", symbol)

	var res struct {
		List []Position `json:"list"`
	}
	if err := b.get(ctx, bybitPositionListPath, params, &res); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return res.List, nil
}

// SetTradingStop sets take-profit and/or stop-loss on the full position.
func (b *Bybit) SetTradingStop(ctx context.Context, symbol, takeProfit, stopLoss string, positionIdx int) error {
	body := map[string]any{
		"category":    b.opts.Category,
		"symbol":      symbol,
		"tpslMode":    "Full",
		"positionIdx": positionIdx,
	}
	if takeProfit != "" {
		body["takeProfit"] = takeProfit
	}
	if stopLoss != "" {
		body["stopLoss"] = stopLoss
	}
	if err := b.post(ctx, bybitTradingStopPath, body, nil); err != nil {
		return fmt.Errorf("set trading stop: %w", err)
	}
	return nil
}

// APIError is a non-zero retCode.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error %d: %s", e.Code, e.Message)
}

func (b *Bybit) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req := b.http.R().SetContext(ctx).SetBody(payload)
	b.sign(req, string(payload))
	resp, err := req.Post(path)
	return b.decode(resp, err, out)
}

func (b *Bybit) get(ctx context.Context, path string, params url.Values, out any) error {
	query := params.Encode()
	req := b.http.R().SetContext(ctx).SetQueryString(query)
	b.sign(req, query)
	resp, err := req.Get(path)
	return b.decode(resp, err, out)
}

// sign adds the v5 HMAC-SHA256 headers over timestamp+key+recvWindow+payload.
func (b *Bybit) sign(req *resty.Request, payload string) {
	ts := strconv.FormatInt(b.now().UnixMilli(), 10)
	recv := strconv.FormatInt(b.opts.RecvWindow.Milliseconds(), 10)

	mac := hmac.New(sha256.New, []byte(b.opts.APISecret))
	mac.Write([]byte(ts + b.opts.APIKey + recv + payload))

	req.SetHeader("X-BAPI-API-KEY", b.opts.APIKey)
	req.SetHeader("X-BAPI-TIMESTAMP", ts)
	req.SetHeader("X-BAPI-RECV-WINDOW", recv)
	req.SetHeader("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
}

func (b *Bybit) decode(resp *resty.Response, err error, out any) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("bybit http %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	var env bybitResponse
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("decode bybit response: %w", err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Message: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode bybit result: %w", err)
		}
	}
	return nil
}

// BybitExecutor maps bybit_action specs onto Bybit calls.
type BybitExecutor struct {
	client *Bybit
	logger zerolog.Logger
}

// NewBybitExecutor constructs a BybitExecutor.
func NewBybitExecutor(client *Bybit, logger zerolog.Logger) *BybitExecutor {
	return &BybitExecutor{client: client, logger: logger.With().Str("component", "bybit_executor").Logger()}
}

// Execute runs one of open_position, close_position or set_tp_sl.
func (e *BybitExecutor) Execute(ctx context.Context, spec alert.ActionSpec, ac Context) (string, error) {
	if e.client.opts.APIKey == "" || e.client.opts.APISecret == "" {
		return "", errors.New("bybit credentials not configured")
	}
	symbol := spec.Param("symbol")
	if symbol == "" {
		symbol = strings.ToUpper(ac.Symbol) + "USDT"
	}

	switch spec.Action {
	case alert.ActionOpenPosition:
		return e.openPosition(ctx, spec, symbol)
	case alert.ActionClosePosition:
		return e.closePosition(ctx, symbol)
	case alert.ActionSetTPSL:
		return e.setTPSL(ctx, spec, symbol)
	default:
		return "", fmt.Errorf("%w: bybit action %q", ErrUnsupported, spec.Action)
	}
}

func (e *BybitExecutor) openPosition(ctx context.Context, spec alert.ActionSpec, symbol string) (string, error) {
	side, err := normalizeSide(spec.Param("side"))
	if err != nil {
		return "", err
	}
	qty, err := positiveDecimal("qty", spec.Param("qty"))
	if err != nil {
		return "", err
	}

	if lev := spec.Param("leverage"); lev != "" {
		if err := e.client.SetLeverage(ctx, symbol, lev); err != nil {
			return "", err
		}
	}

	req := OrderRequest{
		Symbol:     symbol,
		Side:       side,
		OrderType:  "Market",
		Qty:        qty.String(),
		TakeProfit: spec.Param("take_profit"),
		StopLoss:   spec.Param("stop_loss"),
	}
	if strings.EqualFold(spec.Param("order_type"), "limit") {
		price, err := positiveDecimal("price", spec.Param("price"))
		if err != nil {
			return "", err
		}
		req.OrderType = "Limit"
		req.Price = price.String()
		req.TimeInForce = "GTC"
	}

	orderID, err := e.client.PlaceOrder(ctx, req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Opened %s %s %s %s (order %s)", req.OrderType, side, qty, symbol, orderID), nil
}

func (e *BybitExecutor) closePosition(ctx context.Context, symbol string) (string, error) {
	positions, err := e.client.Positions(ctx, symbol)
	if err != nil {
		return "", err
	}

	var closed []string
	for _, p := range positions {
		size, err := decimal.NewFromString(p.Size)
		if err != nil || !size.IsPositive() || p.Side == "" {
			continue
		}
		opposite := "Sell"
		if p.Side == "Sell" {
			opposite = "Buy"
		}
		orderID, err := e.client.PlaceOrder(ctx, OrderRequest{
			Symbol:     symbol,
			Side:       opposite,
			OrderType:  "Market",
			Qty:        size.String(),
			ReduceOnly: true,
		})
		if err != nil {
			if len(closed) > 0 {
				return "", fmt.Errorf("close %s %s: %w (already closed: %s)", p.Side, symbol, err, strings.Join(closed, ", "))
			}
			return "", err
		}
		closed = append(closed, fmt.Sprintf("%s %s (order %s)", p.Side, size, orderID))
	}
	if len(closed) == 0 {
		return fmt.Sprintf("No open position on %s", symbol), nil
	}
	return fmt.Sprintf("Closed %s: %s", symbol, strings.Join(closed, ", ")), nil
}

func (e *BybitExecutor) setTPSL(ctx context.Context, spec alert.ActionSpec, symbol string) (string, error) {
	tp, sl := spec.Param("take_profit"), spec.Param("stop_loss")
	if tp == "" && sl == "" {
		return "", errors.New("set_tp_sl requires take_profit or stop_loss")
	}
	idx := 0
	if v := spec.Param("position_idx"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", fmt.Errorf("invalid position_idx %q", v)
		}
		idx = n
	}
	if err := e.client.SetTradingStop(ctx, symbol, tp, sl, idx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Set TP %s / SL %s on %s", orDash(tp), orDash(sl), symbol), nil
}

func normalizeSide(s string) (string, error) {
	switch strings.ToLower(s) {
	case "buy", "long":
		return "Buy", nil
	case "sell", "short":
		return "Sell", nil
	default:
		return "", fmt.Errorf("invalid side %q", s)
	}
}

func positiveDecimal(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q", name, s)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var _ Executor = (*BybitExecutor)(nil)
