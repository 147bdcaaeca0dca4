package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banmdev/ccxtbots/internal/models"
)

// PaperGateway — in-memory биржа для dry-run и тестов. Ордера никогда не
// уходят наружу; заливки симулируются явными вызовами FillOrder/TriggerStop.
type PaperGateway struct {
	mu sync.Mutex

	ask float64
	bid float64

	balance  float64
	position models.Position
	orders   map[string]models.Order // только открытые

	tickSize float64
	lotSize  float64
	ctVal    float64
	makerFee float64
	takerFee float64
	leverage int

	// для проверок в тестах
	Created   []models.Order
	Cancelled []string
	closed    map[string]models.Order

	// инъекция ошибок: если выставлены, следующий вызов вернёт эту ошибку
	FailCancel error
	FailCreate error
}

type PaperConfig struct {
	Balance  float64
	TickSize float64
	LotSize  float64
	CtVal    float64
	MakerFee float64
	TakerFee float64
}

func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.001
	}
	if cfg.LotSize <= 0 {
		cfg.LotSize = 0.001
	}
	if cfg.CtVal <= 0 {
		cfg.CtVal = 1.0
	}
	return &PaperGateway{
		balance:  cfg.Balance,
		tickSize: cfg.TickSize,
		lotSize:  cfg.LotSize,
		ctVal:    cfg.CtVal,
		makerFee: cfg.MakerFee,
		takerFee: cfg.TakerFee,
		orders:   make(map[string]models.Order),
		closed:   make(map[string]models.Order),
		leverage: 1,
	}
}

func (p *PaperGateway) ID() string        { return "paper" }
func (p *PaperGateway) MakerFee() float64 { return p.makerFee }
func (p *PaperGateway) TakerFee() float64 { return p.takerFee }

func (p *PaperGateway) ContractMultiplier(symbol string) float64 { return p.ctVal }

func (p *PaperGateway) PriceToPrecision(symbol string, price float64) float64 {
	return math.Round(price/p.tickSize+1e-12) * p.tickSize
}

func (p *PaperGateway) AmountToPrecision(symbol string, amount float64) float64 {
	return math.Floor(amount/p.lotSize+1e-9) * p.lotSize
}

// SetAskBid задаёт рыночные цены для следующего тика.
func (p *PaperGateway) SetAskBid(ask, bid float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ask, p.bid = ask, bid
}

func (p *PaperGateway) AskBid(ctx context.Context, symbol string) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ask <= 0 || p.bid <= 0 {
		return 0, 0, fmt.Errorf("paper: no market prices set")
	}
	return p.ask, p.bid, nil
}

func (p *PaperGateway) FetchBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *PaperGateway) FetchPosition(ctx context.Context, symbol string) (models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.position
	pos.Symbol = symbol
	return pos, nil
}

// SetPosition выставляет позицию напрямую (симуляция заливки в тестах).
func (p *PaperGateway) SetPosition(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
}

func (p *PaperGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Order, 0, len(p.orders))
	for _, o := range p.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (p *PaperGateway) FetchOrder(ctx context.Context, symbol, orderID string) (models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[orderID]; ok {
		return o, nil
	}
	if o, ok := p.closed[orderID]; ok {
		return o, nil
	}
	return models.Order{}, ErrOrderNotFound
}

func (p *PaperGateway) CreateLimitOrder(ctx context.Context, symbol string, side models.Side, size, price float64, reduceOnly bool) (models.Order, error) {
	if !side.Valid() {
		return models.Order{}, fmt.Errorf("paper: invalid side %q", side)
	}
	if size <= 0 || price <= 0 {
		return models.Order{}, fmt.Errorf("paper: invalid limit order size=%v price=%v", size, price)
	}

	o := models.Order{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       side,
		Kind:       models.KindLimit,
		Price:      price,
		Size:       size,
		Remaining:  size,
		Timestamp:  time.Now().UnixMilli(),
		Status:     models.StatusOpen,
		ReduceOnly: reduceOnly,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCreate != nil {
		return models.Order{}, p.FailCreate
	}
	p.orders[o.ID] = o
	p.Created = append(p.Created, o)
	return o, nil
}

func (p *PaperGateway) CreateStopOrder(ctx context.Context, symbol string, side models.Side, triggerPrice, size float64) (models.Order, error) {
	if !side.Valid() {
		return models.Order{}, fmt.Errorf("paper: invalid side %q", side)
	}
	if size <= 0 || triggerPrice <= 0 {
		return models.Order{}, fmt.Errorf("paper: invalid stop order size=%v trigger=%v", size, triggerPrice)
	}

	o := models.Order{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		Side:         side,
		Kind:         models.KindStop,
		TriggerPrice: triggerPrice,
		Size:         size,
		Remaining:    size,
		Timestamp:    time.Now().UnixMilli(),
		Status:       models.StatusOpen,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCreate != nil {
		return models.Order{}, p.FailCreate
	}
	p.orders[o.ID] = o
	p.Created = append(p.Created, o)
	return o, nil
}

func (p *PaperGateway) CancelOrder(ctx context.Context, orderID, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCancel != nil {
		return p.FailCancel
	}
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: cancel unknown order %s", orderID)
	}
	delete(p.orders, orderID)
	o.Status = models.StatusCanceled
	p.closed[orderID] = o
	p.Cancelled = append(p.Cancelled, orderID)
	return nil
}

func (p *PaperGateway) SetLeverage(ctx context.Context, symbol string, leverage int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage = leverage
	return leverage, nil
}

// FillOrder симулирует полную заливку открытого ордера: ордер закрывается,
// позиция увеличивается (или уменьшается для reduce-only).
func (p *PaperGateway) FillOrder(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: fill unknown order %s", orderID)
	}
	delete(p.orders, orderID)
	o.Filled = o.Size
	o.Remaining = 0
	o.Status = models.StatusClosed
	p.closed[orderID] = o

	if o.ReduceOnly || o.Kind == models.KindStop {
		p.position.Size -= o.Size
		if p.position.Size <= 1e-12 {
			p.position = models.Position{Symbol: o.Symbol}
		}
		return nil
	}

	dir := models.DirectionLong
	if o.Side == models.SideSell {
		dir = models.DirectionShort
	}
	prevVol := p.position.EntryPrice * p.position.Size
	p.position.IsOpen = true
	p.position.Direction = dir
	p.position.Size += o.Size
	p.position.EntryPrice = (prevVol + o.Price*o.Size) / p.position.Size
	p.position.Leverage = p.leverage
	p.position.Symbol = o.Symbol
	return nil
}

// OpenOrderCount — количество открытых ордеров (для assert'ов).
func (p *PaperGateway) OpenOrderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}
