package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

const okxRestBase = "https://www.okx.com"

// OKXClient — адаптер линейных USDT-SWAP на OKX.
// Обычные лимитники идут через /trade/order, стопы — через order-algo
// (trigger), поэтому CancelOrder пробует оба эндпоинта.
type OKXClient struct {
	http     *http.Client
	wsDialer *websocket.Dialer

	// переопределяются в тестах
	wsURL        string
	wsRedialWait time.Duration

	apiKey    string
	apiSecret string
	passph    string

	makerFee float64
	takerFee float64

	metaMu sync.RWMutex
	meta   map[string]instrumentMeta

	// id выставленных через order-algo ордеров, чтобы CancelOrder
	// не гадал, каким эндпоинтом снимать
	algoMu  sync.Mutex
	algoIDs map[string]bool
}

type instrumentMeta struct {
	tickSz float64
	lotSz  float64
	minSz  float64
	ctVal  float64
}

type OKXConfig struct {
	APIKey     string
	APISecret  string
	Passphrase string
	MakerFee   float64
	TakerFee   float64
}

func NewOKXClient(cfg OKXConfig) *OKXClient {
	return &OKXClient{
		http:         &http.Client{Timeout: 15 * time.Second},
		wsDialer:     websocket.DefaultDialer,
		wsURL:        okxWSBusiness,
		wsRedialWait: time.Second,
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		passph:       cfg.Passphrase,
		makerFee:     cfg.MakerFee,
		takerFee:     cfg.TakerFee,
		meta:         make(map[string]instrumentMeta),
		algoIDs:      make(map[string]bool),
	}
}

func (c *OKXClient) ID() string        { return "okx" }
func (c *OKXClient) MakerFee() float64 { return c.makerFee }
func (c *OKXClient) TakerFee() float64 { return c.takerFee }

func (c *OKXClient) sign(ts, method, requestPath, body string) string {
	msg := ts + strings.ToUpper(method) + requestPath + body
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (c *OKXClient) request(ctx context.Context, method, requestPath string, body []byte) ([]byte, error) {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, okxRestBase+requestPath, rd)
	if err != nil {
		return nil, fmt.Errorf("okx new request: %w", err)
	}
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(body)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("okx do %s: %w", requestPath, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("okx http %d %s: %s", resp.StatusCode, requestPath, string(data))
	}
	return data, nil
}

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *OKXClient) get(ctx context.Context, requestPath string, out interface{}) error {
	data, err := c.request(ctx, http.MethodGet, requestPath, nil)
	if err != nil {
		return err
	}
	var env okxEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("okx decode %s: %w", requestPath, err)
	}
	if env.Code != "0" {
		return fmt.Errorf("okx error %s: code=%s msg=%s", requestPath, env.Code, env.Msg)
	}
	return sonic.Unmarshal(env.Data, out)
}

func (c *OKXClient) post(ctx context.Context, requestPath string, body any, out interface{}) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("okx marshal %s: %w", requestPath, err)
	}
	data, err := c.request(ctx, http.MethodPost, requestPath, payload)
	if err != nil {
		return err
	}
	var env okxEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("okx decode %s: %w", requestPath, err)
	}
	if env.Code != "0" {
		return fmt.Errorf("okx error %s: code=%s msg=%s", requestPath, env.Code, env.Msg)
	}
	if out != nil {
		return sonic.Unmarshal(env.Data, out)
	}
	return nil
}

// instrumentMetaFor лениво тянет tickSz/lotSz/ctVal с /public/instruments.
func (c *OKXClient) instrumentMetaFor(symbol string) (instrumentMeta, error) {
	c.metaMu.RLock()
	m, ok := c.meta[symbol]
	c.metaMu.RUnlock()
	if ok {
		return m, nil
	}

	var rows []struct {
		InstID string `json:"instId"`
		TickSz string `json:"tickSz"`
		LotSz  string `json:"lotSz"`
		MinSz  string `json:"minSz"`
		CtVal  string `json:"ctVal"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.get(ctx, "/api/v5/public/instruments?instType=SWAP&instId="+symbol, &rows); err != nil {
		return instrumentMeta{}, err
	}
	if len(rows) == 0 {
		return instrumentMeta{}, fmt.Errorf("okx: no instrument meta for %s", symbol)
	}
	m.tickSz, _ = strconv.ParseFloat(rows[0].TickSz, 64)
	m.lotSz, _ = strconv.ParseFloat(rows[0].LotSz, 64)
	m.minSz, _ = strconv.ParseFloat(rows[0].MinSz, 64)
	m.ctVal, _ = strconv.ParseFloat(rows[0].CtVal, 64)

	c.metaMu.Lock()
	c.meta[symbol] = m
	c.metaMu.Unlock()
	return m, nil
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step+1e-12) * step
}

func (c *OKXClient) PriceToPrecision(symbol string, price float64) float64 {
	m, err := c.instrumentMetaFor(symbol)
	if err != nil {
		logger.Warn("[OKX] %s price precision fallback: %v", symbol, err)
		return price
	}
	return roundToStep(price, m.tickSz)
}

func (c *OKXClient) AmountToPrecision(symbol string, amount float64) float64 {
	m, err := c.instrumentMetaFor(symbol)
	if err != nil {
		logger.Warn("[OKX] %s amount precision fallback: %v", symbol, err)
		return amount
	}
	if m.lotSz <= 0 {
		return amount
	}
	// размер только вниз, иначе биржа отклонит превышение
	return math.Floor(amount/m.lotSz+1e-9) * m.lotSz
}

func (c *OKXClient) ContractMultiplier(symbol string) float64 {
	m, err := c.instrumentMetaFor(symbol)
	if err != nil || m.ctVal <= 0 {
		return 1.0
	}
	return m.ctVal
}

func (c *OKXClient) AskBid(ctx context.Context, symbol string) (float64, float64, error) {
	var rows []struct {
		AskPx string `json:"askPx"`
		BidPx string `json:"bidPx"`
	}
	if err := c.get(ctx, "/api/v5/market/ticker?instId="+symbol, &rows); err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, fmt.Errorf("okx: empty ticker for %s", symbol)
	}
	ask, _ := strconv.ParseFloat(rows[0].AskPx, 64)
	bid, _ := strconv.ParseFloat(rows[0].BidPx, 64)
	if ask <= 0 || bid <= 0 {
		return 0, 0, fmt.Errorf("okx: bad ask/bid %q/%q for %s", rows[0].AskPx, rows[0].BidPx, symbol)
	}
	return ask, bid, nil
}

func (c *OKXClient) FetchBalance(ctx context.Context) (float64, error) {
	var rows []struct {
		Details []struct {
			Ccy string `json:"ccy"`
			Eq  string `json:"eq"`
		} `json:"details"`
	}
	if err := c.get(ctx, "/api/v5/account/balance?ccy=USDT", &rows); err != nil {
		return 0, err
	}
	for _, r := range rows {
		for _, d := range r.Details {
			if d.Ccy == "USDT" {
				eq, _ := strconv.ParseFloat(d.Eq, 64)
				return eq, nil
			}
		}
	}
	return 0, nil
}

func (c *OKXClient) FetchPosition(ctx context.Context, symbol string) (models.Position, error) {
	var rows []struct {
		InstID string `json:"instId"`
		Pos    string `json:"pos"`
		AvgPx  string `json:"avgPx"`
		Lever  string `json:"lever"`
	}
	if err := c.get(ctx, "/api/v5/account/positions?instId="+symbol, &rows); err != nil {
		return models.Position{}, err
	}

	p := models.Position{Symbol: symbol}
	for _, r := range rows {
		if r.InstID != symbol {
			continue
		}
		pos, _ := strconv.ParseFloat(r.Pos, 64)
		if pos == 0 {
			continue
		}
		p.IsOpen = true
		p.Size = math.Abs(pos)
		if pos > 0 {
			p.Direction = models.DirectionLong
		} else {
			p.Direction = models.DirectionShort
		}
		p.EntryPrice, _ = strconv.ParseFloat(r.AvgPx, 64)
		p.Leverage, _ = strconv.Atoi(r.Lever)
		break
	}
	return p, nil
}

type okxOrderRow struct {
	OrdID     string `json:"ordId"`
	AlgoID    string `json:"algoId"`
	InstID    string `json:"instId"`
	Side      string `json:"side"`
	Px        string `json:"px"`
	SlTrigger string `json:"slTriggerPx"`
	Sz        string `json:"sz"`
	FillSz    string `json:"accFillSz"`
	CTime     string `json:"cTime"`
	State     string `json:"state"`
	ReduceOnl string `json:"reduceOnly"`
}

func (r okxOrderRow) toOrder(symbol string, kind models.OrderKind) models.Order {
	id := r.OrdID
	if kind == models.KindStop {
		id = r.AlgoID
	}
	price, _ := strconv.ParseFloat(r.Px, 64)
	trigger, _ := strconv.ParseFloat(r.SlTrigger, 64)
	size, _ := strconv.ParseFloat(r.Sz, 64)
	filled, _ := strconv.ParseFloat(r.FillSz, 64)
	ts, _ := strconv.ParseInt(r.CTime, 10, 64)

	status := models.StatusOpen
	switch r.State {
	case "filled", "effective":
		status = models.StatusClosed
	case "canceled":
		status = models.StatusCanceled
	}

	return models.Order{
		ID:           id,
		Symbol:       symbol,
		Side:         models.Side(r.Side),
		Kind:         kind,
		Price:        price,
		TriggerPrice: trigger,
		Size:         size,
		Filled:       filled,
		Remaining:    size - filled,
		Timestamp:    ts,
		Status:       status,
		ReduceOnly:   r.ReduceOnl == "true",
	}
}

// FetchOpenOrders объединяет обычные лимитники и отложенные algo-стопы
// в один список: стейт-машине всё равно, каким эндпоинтом они выставлены.
func (c *OKXClient) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	var limits []okxOrderRow
	if err := c.get(ctx, "/api/v5/trade/orders-pending?instType=SWAP&instId="+symbol, &limits); err != nil {
		return nil, err
	}

	var algos []okxOrderRow
	if err := c.get(ctx, "/api/v5/trade/orders-algo-pending?ordType=conditional&instId="+symbol, &algos); err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(limits)+len(algos))
	for _, r := range limits {
		orders = append(orders, r.toOrder(symbol, models.KindLimit))
	}
	for _, r := range algos {
		o := r.toOrder(symbol, models.KindStop)
		orders = append(orders, o)
		c.algoMu.Lock()
		c.algoIDs[o.ID] = true
		c.algoMu.Unlock()
	}
	return orders, nil
}

func (c *OKXClient) FetchOrder(ctx context.Context, symbol, orderID string) (models.Order, error) {
	c.algoMu.Lock()
	isAlgo := c.algoIDs[orderID]
	c.algoMu.Unlock()

	if isAlgo {
		var rows []okxOrderRow
		err := c.get(ctx, "/api/v5/trade/order-algo?algoId="+orderID, &rows)
		if err != nil {
			return models.Order{}, err
		}
		if len(rows) == 0 {
			return models.Order{}, ErrOrderNotFound
		}
		return rows[0].toOrder(symbol, models.KindStop), nil
	}

	var rows []okxOrderRow
	err := c.get(ctx, "/api/v5/trade/order?instId="+symbol+"&ordId="+orderID, &rows)
	if err != nil {
		return models.Order{}, err
	}
	if len(rows) == 0 {
		return models.Order{}, ErrOrderNotFound
	}
	return rows[0].toOrder(symbol, models.KindLimit), nil
}

func (c *OKXClient) CreateLimitOrder(ctx context.Context, symbol string, side models.Side, size, price float64, reduceOnly bool) (models.Order, error) {
	body := map[string]any{
		"instId":  symbol,
		"tdMode":  "cross",
		"side":    string(side),
		"ordType": "limit",
		"px":      strconv.FormatFloat(price, 'f', -1, 64),
		"sz":      strconv.FormatFloat(size, 'f', -1, 64),
	}
	if reduceOnly {
		body["reduceOnly"] = "true"
	}

	var rows []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := c.post(ctx, "/api/v5/trade/order", body, &rows); err != nil {
		return models.Order{}, err
	}
	if len(rows) == 0 || rows[0].OrdID == "" {
		return models.Order{}, fmt.Errorf("okx: empty ordId response")
	}
	if rows[0].SCode != "" && rows[0].SCode != "0" {
		return models.Order{}, fmt.Errorf("okx order rejected: sCode=%s sMsg=%s", rows[0].SCode, rows[0].SMsg)
	}

	return models.Order{
		ID:         rows[0].OrdID,
		Symbol:     symbol,
		Side:       side,
		Kind:       models.KindLimit,
		Price:      price,
		Size:       size,
		Remaining:  size,
		Timestamp:  time.Now().UnixMilli(),
		Status:     models.StatusOpen,
		ReduceOnly: reduceOnly,
	}, nil
}

func (c *OKXClient) CreateStopOrder(ctx context.Context, symbol string, side models.Side, triggerPrice, size float64) (models.Order, error) {
	if size <= 0 {
		return models.Order{}, fmt.Errorf("okx stop order: size <= 0")
	}
	if triggerPrice <= 0 {
		return models.Order{}, fmt.Errorf("okx stop order: triggerPrice <= 0")
	}

	body := map[string]any{
		"instId":          symbol,
		"tdMode":          "cross",
		"side":            string(side),
		"ordType":         "conditional",
		"sz":              strconv.FormatFloat(size, 'f', -1, 64),
		"slTriggerPx":     strconv.FormatFloat(triggerPrice, 'f', -1, 64),
		"slOrdPx":         "-1",
		"slTriggerPxType": "last",
	}

	var rows []struct {
		AlgoID string `json:"algoId"`
		SCode  string `json:"sCode"`
		SMsg   string `json:"sMsg"`
	}
	if err := c.post(ctx, "/api/v5/trade/order-algo", body, &rows); err != nil {
		return models.Order{}, err
	}
	if len(rows) == 0 || rows[0].AlgoID == "" {
		return models.Order{}, fmt.Errorf("okx: empty algoId response")
	}
	if rows[0].SCode != "" && rows[0].SCode != "0" {
		return models.Order{}, fmt.Errorf("okx algo rejected: sCode=%s sMsg=%s", rows[0].SCode, rows[0].SMsg)
	}

	c.algoMu.Lock()
	c.algoIDs[rows[0].AlgoID] = true
	c.algoMu.Unlock()

	return models.Order{
		ID:           rows[0].AlgoID,
		Symbol:       symbol,
		Side:         side,
		Kind:         models.KindStop,
		TriggerPrice: triggerPrice,
		Size:         size,
		Remaining:    size,
		Timestamp:    time.Now().UnixMilli(),
		Status:       models.StatusOpen,
	}, nil
}

func (c *OKXClient) CancelOrder(ctx context.Context, orderID, symbol string) error {
	c.algoMu.Lock()
	isAlgo := c.algoIDs[orderID]
	c.algoMu.Unlock()

	if isAlgo {
		body := map[string]any{"algoId": orderID, "instId": symbol}
		if err := c.post(ctx, "/api/v5/trade/cancel-algos", []any{body}, nil); err != nil {
			return err
		}
		c.algoMu.Lock()
		delete(c.algoIDs, orderID)
		c.algoMu.Unlock()
		return nil
	}

	body := map[string]any{"instId": symbol, "ordId": orderID}
	return c.post(ctx, "/api/v5/trade/cancel-order", body, nil)
}

func (c *OKXClient) SetLeverage(ctx context.Context, symbol string, leverage int) (int, error) {
	body := map[string]any{
		"instId":  symbol,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "cross",
	}
	var rows []struct {
		Lever string `json:"lever"`
	}
	if err := c.post(ctx, "/api/v5/account/set-leverage", body, &rows); err != nil {
		return 0, err
	}
	if len(rows) > 0 {
		if lv, err := strconv.Atoi(rows[0].Lever); err == nil {
			return lv, nil
		}
	}
	return leverage, nil
}
