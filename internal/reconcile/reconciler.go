package reconcile

import (
	"context"

	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/internal/orderbook"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// Status — явный результат сверки вместо исключений-как-контрол-флоу.
type Status int

const (
	StatusOK Status = iota
	StatusNotInPosition
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotInPosition:
		return "not_in_position"
	default:
		return "failed"
	}
}

// Reconciler приводит защитные ордера на бирже к желаемым (цена, размер).
// Протокол одинаковый для стопа и тейка: точное совпадение — ничего не
// делаем, иначе cancel+replace. Совпадение строго по цене И размеру после
// округления к точности биржи: любое расхождение, даже на один тик,
// означает пересоздание.
type Reconciler struct {
	gw     exchange.Gateway
	book   *orderbook.Cache
	symbol string
}

func New(gw exchange.Gateway, book *orderbook.Cache, symbol string) *Reconciler {
	return &Reconciler{gw: gw, book: book, symbol: symbol}
}

// MaintainStop гарантирует один защитный стоп на (triggerPrice, size)
// против текущей позиции. Позиция перечитывается здесь же: предыдущие
// шаги того же тика могли её изменить исполнившимся ордером. Ошибка
// снятия старого стопа НЕ прерывает установку нового: лучше два стопа,
// чем ни одного.
func (r *Reconciler) MaintainStop(ctx context.Context, pctx *models.PositionContext, triggerPrice, size float64) (models.Order, Status, error) {
	pos, err := r.gw.FetchPosition(ctx, r.symbol)
	if err != nil {
		return models.Order{}, StatusFailed, errors.Wrap(err, "maintain stop: fetch position")
	}
	if !pos.IsOpen {
		return models.Order{}, StatusNotInPosition, nil
	}

	side := pos.Direction.CloseSide()
	triggerPrice = r.gw.PriceToPrecision(r.symbol, triggerPrice)
	size = r.gw.AmountToPrecision(r.symbol, size)

	if o, ok := r.book.MatchingStop(side, triggerPrice, size); ok {
		pctx.LastSLOrderID = o.ID
		return o, StatusOK, nil
	}

	if pctx.LastSLOrderID != "" && r.book.HasOrderByID(pctx.LastSLOrderID, models.KindStop, side) {
		if err := r.gw.CancelOrder(ctx, pctx.LastSLOrderID, r.symbol); err != nil {
			logger.Error("[RECON] cancel stale stop %s failed, placing a new one anyway: %v", pctx.LastSLOrderID, err)
		}
	}

	o, err := r.gw.CreateStopOrder(ctx, r.symbol, side, triggerPrice, size)
	if err != nil {
		// запомненный id не трогаем — вызывающий повторит на следующем тике
		return models.Order{}, StatusFailed, errors.Wrap(err, "maintain stop: place")
	}
	logger.Info("[RECON] stop %s %s trigger=%v size=%v id=%s", r.symbol, side, triggerPrice, size, o.ID)
	pctx.LastSLOrderID = o.ID
	return o, StatusOK, nil
}

// MaintainTakeProfit — то же для тейка (reduce-only лимитник). Здесь ошибка
// снятия старого ордера прерывает операцию: дубль тейка удваивает закрытие.
func (r *Reconciler) MaintainTakeProfit(ctx context.Context, pctx *models.PositionContext, price, size float64) (models.Order, Status, error) {
	pos, err := r.gw.FetchPosition(ctx, r.symbol)
	if err != nil {
		return models.Order{}, StatusFailed, errors.Wrap(err, "maintain tp: fetch position")
	}
	if !pos.IsOpen {
		return models.Order{}, StatusNotInPosition, nil
	}

	side := pos.Direction.CloseSide()
	price = r.gw.PriceToPrecision(r.symbol, price)
	size = r.gw.AmountToPrecision(r.symbol, size)

	if o, ok := r.book.MatchingLimit(side, price, size); ok {
		pctx.LastTPOrderID = o.ID
		return o, StatusOK, nil
	}

	if pctx.LastTPOrderID != "" && r.book.HasOrderByID(pctx.LastTPOrderID, models.KindLimit, side) {
		if err := r.gw.CancelOrder(ctx, pctx.LastTPOrderID, r.symbol); err != nil {
			return models.Order{}, StatusFailed, errors.Wrap(err, "maintain tp: cancel stale")
		}
	}

	o, err := r.gw.CreateLimitOrder(ctx, r.symbol, side, size, price, true)
	if err != nil {
		return models.Order{}, StatusFailed, errors.Wrap(err, "maintain tp: place")
	}
	logger.Info("[RECON] take profit %s %s price=%v size=%v id=%s", r.symbol, side, price, size, o.ID)
	pctx.LastTPOrderID = o.ID
	return o, StatusOK, nil
}
