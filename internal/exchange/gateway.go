package exchange

import (
	"context"
	"errors"

	"github.com/banmdev/ccxtbots/internal/models"
)

// ErrOrderNotFound возвращается FetchOrder, когда биржа не знает такой id.
var ErrOrderNotFound = errors.New("exchange: order not found")

// Gateway — всё, что боту нужно от биржи. Все вызовы блокирующие,
// обработчики тика не продолжают работу, пока вызов не завершится.
type Gateway interface {
	// ID возвращает идентификатор биржи ("okx", "paper", ...).
	ID() string

	FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	FetchOrder(ctx context.Context, symbol, orderID string) (models.Order, error)
	FetchPosition(ctx context.Context, symbol string) (models.Position, error)
	AskBid(ctx context.Context, symbol string) (ask, bid float64, err error)
	FetchBalance(ctx context.Context) (float64, error)

	CreateLimitOrder(ctx context.Context, symbol string, side models.Side, size, price float64, reduceOnly bool) (models.Order, error)
	CreateStopOrder(ctx context.Context, symbol string, side models.Side, triggerPrice, size float64) (models.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error

	SetLeverage(ctx context.Context, symbol string, leverage int) (int, error)

	// Округление к точности инструмента. Все сравнения цен и размеров
	// в боте делаются только после округления.
	PriceToPrecision(symbol string, price float64) float64
	AmountToPrecision(symbol string, amount float64) float64

	ContractMultiplier(symbol string) float64
	MakerFee() float64
	TakerFee() float64
}
