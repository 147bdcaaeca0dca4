package bot

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/ladderstore"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/internal/ordermodel"
	"github.com/banmdev/ccxtbots/internal/reconcile"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// finishTrade вызывается на первом плоском тике после позиции: найти
// исполненный защитный ордер, забрать из строки модели её r_pnl и
// записать в накопленный итог.
func (b *Bot) finishTrade(ctx context.Context) {
	logger.Info("[FINISH] %s position closed, settling trade", b.cfg.Symbol)

	var rPnl float64
	settled := false

	if dca, ok := b.modelFor(b.pctx.LastDirection).(*ordermodel.DCAModel); ok && dca.Built() {
		// кеш книги мог уже стереть запомненные id — строки модели их помнят
		tpID := b.pctx.LastTPOrderID
		if tpID == "" {
			tpID = dca.LatestTPOrderIDBySize(b.pctx.LastSize)
		}
		slID := b.pctx.LastSLOrderID
		if slID == "" {
			slID, _ = dca.Identifier()
		}

		if tpID != "" {
			if o, err := b.gw.FetchOrder(ctx, b.cfg.Symbol, tpID); err == nil && o.Status == models.StatusClosed {
				for _, r := range dca.Rows() {
					if r.TPOrderID == tpID {
						rPnl = r.RealizedPnl
						settled = true
						logger.Info("[FINISH] %s take profit %s executed, r_pnl=%v", b.cfg.Symbol, tpID, rPnl)
						break
					}
				}
			}
		}
		if !settled && slID != "" {
			if o, err := b.gw.FetchOrder(ctx, b.cfg.Symbol, slID); err == nil && o.Status == models.StatusClosed {
				for _, r := range dca.Rows() {
					if r.OrderID == slID {
						rPnl = r.RealizedPnl
						settled = true
						logger.Info("[FINISH] %s stop loss %s executed, r_pnl=%v", b.cfg.Symbol, slID, rPnl)
						break
					}
				}
			}
		}
	}

	if !settled {
		logger.Warn("[FINISH] %s position closed outside of known protective orders, pnl unknown", b.cfg.Symbol)
	}

	b.pctx.CumPnl += rPnl
	b.cumPnlBits.Store(math.Float64bits(b.pctx.CumPnl))
	b.mtr.TradeFinished(b.cfg.Symbol, rPnl)
	b.mtr.SetCumPnl(b.cfg.Symbol, b.pctx.CumPnl)
	_ = b.notifier.Sendf(ctx, "%s: trade finished, pnl %.4f, cumulative %.4f", b.cfg.Symbol, rPnl, b.pctx.CumPnl)
}

// housekeeping — уборка в плоском состоянии: снять осиротевшие ордера
// моделей, входные лимитники и забытые защитные, подчистить сохранённые
// модели. Ошибки отмены не фатальны, модель остаётся до удачной уборки.
func (b *Bot) housekeeping(ctx context.Context) {
	logger.Info("[HOUSEKEEPING] %s cleaning up resting orders", b.cfg.Symbol)

	cancelled := false

	for _, model := range []ordermodel.Model{b.longModel, b.shortModel} {
		dca, ok := model.(*ordermodel.DCAModel)
		if !ok || !dca.Built() {
			continue
		}
		n, err := b.cancelModelOrders(ctx, dca)
		cancelled = cancelled || n > 0
		if err != nil {
			// часть ордеров осталась висеть, повтор на следующем проходе
			continue
		}
		if err := dca.Remove(ctx); err != nil {
			logger.Error("[HOUSEKEEPING] %s remove stored model: %v", b.cfg.Symbol, err)
		}
		dca.Reset()
	}

	// входные лимитники, за которыми больше некому следить
	if id := b.pctx.CurrentBuyOrderID; id != "" && b.book.HasOrderByID(id, models.KindLimit, models.SideBuy) {
		if err := b.gw.CancelOrder(ctx, id, b.cfg.Symbol); err != nil {
			logger.Error("[HOUSEKEEPING] %s cancel entry order %s: %v", b.cfg.Symbol, id, err)
		} else {
			b.mtr.IncOrderCancelled(b.cfg.Symbol)
			b.pctx.CurrentBuyOrderID = ""
			cancelled = true
		}
	}
	if id := b.pctx.CurrentSellOrderID; id != "" && b.book.HasOrderByID(id, models.KindLimit, models.SideSell) {
		if err := b.gw.CancelOrder(ctx, id, b.cfg.Symbol); err != nil {
			logger.Error("[HOUSEKEEPING] %s cancel entry order %s: %v", b.cfg.Symbol, id, err)
		} else {
			b.mtr.IncOrderCancelled(b.cfg.Symbol)
			b.pctx.CurrentSellOrderID = ""
			cancelled = true
		}
	}

	// защитные ордера без позиции
	for _, side := range []models.Side{models.SideBuy, models.SideSell} {
		if id := b.pctx.LastSLOrderID; id != "" && b.book.HasOrderByID(id, models.KindStop, side) {
			if err := b.gw.CancelOrder(ctx, id, b.cfg.Symbol); err != nil {
				logger.Error("[HOUSEKEEPING] %s cancel orphan stop %s: %v", b.cfg.Symbol, id, err)
			} else {
				b.mtr.IncOrderCancelled(b.cfg.Symbol)
				cancelled = true
			}
		}
		if id := b.pctx.LastTPOrderID; id != "" && b.book.HasOrderByID(id, models.KindLimit, side) {
			if err := b.gw.CancelOrder(ctx, id, b.cfg.Symbol); err != nil {
				logger.Error("[HOUSEKEEPING] %s cancel orphan take profit %s: %v", b.cfg.Symbol, id, err)
			} else {
				b.mtr.IncOrderCancelled(b.cfg.Symbol)
				cancelled = true
			}
		}
	}

	if cancelled && b.cfg.IntraTickDelay > 0 {
		time.Sleep(b.cfg.IntraTickDelay)
	}
}

// cancelModelOrders снимает с биржи все живые ордера построенной модели.
// Возвращает число отменённых и первую ошибку отмены.
func (b *Bot) cancelModelOrders(ctx context.Context, dca *ordermodel.DCAModel) (int, error) {
	var firstErr error
	n := 0
	for _, r := range dca.Rows() {
		if r.OrderID == "" || !b.book.HasOrderByID(r.OrderID, r.Kind, r.Direction) {
			continue
		}
		if err := b.gw.CancelOrder(ctx, r.OrderID, b.cfg.Symbol); err != nil {
			logger.Error("[HOUSEKEEPING] %s cancel %s %s order %s: %v", b.cfg.Symbol, r.Direction, r.Kind, r.OrderID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		b.mtr.IncOrderCancelled(b.cfg.Symbol)
		n++
	}
	return n, firstErr
}

// enterPosition опрашивает источник сигналов и размещает входы.
func (b *Bot) enterPosition(ctx context.Context) {
	balance, err := b.gw.FetchBalance(ctx)
	if err != nil {
		logger.Error("[ENTER] %s fetch balance: %v", b.cfg.Symbol, err)
		return
	}
	risk := balance * b.cfg.MaxAccountRiskPerTrade

	ask, bid, err := b.gw.AskBid(ctx, b.cfg.Symbol)
	if err != nil {
		logger.Error("[ENTER] %s ask/bid: %v", b.cfg.Symbol, err)
		return
	}

	set, err := b.src.Signal(ctx, ask, bid)
	if err != nil {
		logger.Error("[SIGNAL] %s: %v", b.cfg.Symbol, err)
		return
	}
	if len(set) == 0 {
		return
	}

	if adv, ok := set[models.SideSell]; ok {
		b.enterSide(ctx, b.shortModel, adv, ask, risk)
	}
	if adv, ok := set[models.SideBuy]; ok {
		b.enterSide(ctx, b.longModel, adv, bid, risk)
	}
}

func (b *Bot) enterSide(ctx context.Context, model ordermodel.Model, adv models.Advice, fallbackPrice, risk float64) {
	price := adv.LimitPrice
	if price <= 0 {
		price = fallbackPrice
	}

	if dca, ok := model.(*ordermodel.DCAModel); ok {
		if dca.Built() {
			// лесенка уже стоит, пусть добирается
			return
		}
		if err := dca.Build(price, risk, b.cfg.CRV, b.cfg.Leverage, b.cfg.MinROE, b.cfg.MinROETriggerDistance); err != nil {
			logger.Error("[ENTER] %s cannot build %s ladder at %v: %v", b.cfg.Symbol, model.Direction(), price, err)
			return
		}
		if b.cfg.NotTrading {
			b.logLadder(dca)
			dca.Reset()
			return
		}
		if err := b.placeLadder(ctx, dca); err != nil {
			logger.Error("[ENTER] %s place %s ladder: %v", b.cfg.Symbol, model.Direction(), err)
		}
		if err := dca.Store(ctx); err != nil {
			logger.Error("[ENTER] %s store ladder: %v", b.cfg.Symbol, err)
		}
		dd := dca.MaxDrawdown()
		logger.Info("[ENTER] %s %s ladder placed from %v, max drawdown %.4f", b.cfg.Symbol, model.Direction(), price, dd)
		_ = b.notifier.Sendf(ctx, "%s: %s ladder placed from %v, risk %.2f", b.cfg.Symbol, model.Direction(), price, risk)
		return
	}

	// одиночный вход моделью с фиксированными уровнями
	size, err := model.OrderSize(price, risk)
	if err != nil {
		logger.Error("[ENTER] %s order size: %v", b.cfg.Symbol, err)
		return
	}
	slPrice, _, _ := model.StopPriceSize(size, price)
	tpPrice, _, _ := model.TakeProfitPriceSize(size, price)

	if b.cfg.NotTrading {
		logger.Info("[ENTER] %s not trading: would %s %v @ %v (sl=%v tp=%v)",
			b.cfg.Symbol, model.Direction().EntrySide(), size, price, slPrice, tpPrice)
		return
	}

	o, err := b.gw.CreateLimitOrder(ctx, b.cfg.Symbol, model.Direction().EntrySide(), size, price, false)
	if err != nil {
		logger.Error("[ENTER] %s create entry order: %v", b.cfg.Symbol, err)
		return
	}
	b.mtr.IncOrderCreated(b.cfg.Symbol, string(models.KindLimit))
	if model.Direction() == models.DirectionLong {
		b.pctx.CurrentBuyOrderID = o.ID
	} else {
		b.pctx.CurrentSellOrderID = o.ID
	}
	logger.Info("[ENTER] %s %s entry %s: %v @ %v (sl=%v tp=%v)",
		b.cfg.Symbol, model.Direction(), o.ID, size, price, slPrice, tpPrice)
	_ = b.notifier.Sendf(ctx, "%s: %s entry %v @ %v", b.cfg.Symbol, model.Direction(), size, price)
}

// placeLadder выставляет все строки модели: лимитники объёмом строки,
// стоп — накопленным объёмом всей лесенки. Id удачных ордеров пишутся
// обратно в строки; неудачные строки пропускаются.
func (b *Bot) placeLadder(ctx context.Context, dca *ordermodel.DCAModel) error {
	var firstErr error
	for _, r := range dca.Rows() {
		var (
			o   models.Order
			err error
		)
		if r.IsStop() {
			o, err = b.gw.CreateStopOrder(ctx, b.cfg.Symbol, r.Direction, r.Price, r.CumSize)
		} else {
			o, err = b.gw.CreateLimitOrder(ctx, b.cfg.Symbol, r.Direction, r.Size, r.Price, false)
		}
		if err != nil {
			logger.Error("[ENTER] %s row %d %s %s @ %v: %v", b.cfg.Symbol, r.Index, r.Direction, r.Kind, r.Price, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		dca.SetOrderID(r.Index, o.ID)
		b.mtr.IncOrderCreated(b.cfg.Symbol, string(r.Kind))
	}
	return firstErr
}

func (b *Bot) logLadder(dca *ordermodel.DCAModel) {
	logger.Info("[ENTER] %s not trading, built %s ladder:", b.cfg.Symbol, dca.Direction())
	for _, r := range dca.Rows() {
		logger.Info("[ENTER] %s   #%d %s %s price=%v size=%v pos_size=%v tp_price=%v r_pnl=%v",
			b.cfg.Symbol, r.Index, r.Direction, r.Kind, r.Price, r.Size, r.CumSize, r.TPPrice, r.RealizedPnl)
	}
}

// exitPosition решает, пора ли выходить: встречный сигнал источника или
// сработавший трейлинг. Выход оформляется тем же согласователем, что и
// обычный take profit, по текущей рыночной цене.
func (b *Bot) exitPosition(ctx context.Context) {
	ask, bid, err := b.gw.AskBid(ctx, b.cfg.Symbol)
	if err != nil {
		logger.Error("[EXIT] %s ask/bid: %v", b.cfg.Symbol, err)
		return
	}

	set, err := b.src.ExitSignal(ctx, ask, bid)
	if err != nil {
		logger.Error("[SIGNAL] %s exit: %v", b.cfg.Symbol, err)
		return
	}

	switch {
	case b.pos.Direction == models.DirectionLong && set.SellOnly():
		logger.Info("[EXIT] %s opposite signal against long", b.cfg.Symbol)
		b.requestExit(ctx, ask)
		return
	case b.pos.Direction == models.DirectionShort && set.BuyOnly():
		logger.Info("[EXIT] %s opposite signal against short", b.cfg.Symbol)
		b.requestExit(ctx, bid)
		return
	}

	trigger, trailValue, err := b.modelFor(b.pos.Direction).TrailPriceValue(b.pos.Size, b.pos.EntryPrice)
	if err != nil {
		logger.Debug("[TRAIL] %s no trail parameters: %v", b.cfg.Symbol, err)
		return
	}
	if price, exit := b.trailer.Update(b.pos.Direction, trigger, trailValue, ask, bid); exit {
		logger.Info("[TRAIL] %s trailing stop hit at %v", b.cfg.Symbol, price)
		b.requestExit(ctx, price)
	}
}

// requestExit перевыставляет take profit на цену немедленного исполнения.
func (b *Bot) requestExit(ctx context.Context, price float64) {
	wasExiting := b.pctx.Exiting
	_, st, err := b.recon.MaintainTakeProfit(ctx, &b.pctx, price, b.pos.Size)
	if err != nil {
		logger.Error("[EXIT] %s maintain exit order: %v", b.cfg.Symbol, err)
		return
	}
	if st != reconcile.StatusOK {
		return
	}
	b.pctx.Exiting = true
	if !wasExiting {
		_ = b.notifier.Sendf(ctx, "%s: exiting %s position of %v at %v", b.cfg.Symbol, b.pos.Direction, b.pos.Size, price)
	}
}

// inPosition обслуживает открытую позицию: восстановление модели после
// рестарта, уборка встречной модели, согласование защитных ордеров и
// обновление id в строках модели.
func (b *Bot) inPosition(ctx context.Context) {
	model := b.modelFor(b.pos.Direction)

	// рестарт посреди сделки: модель восстанавливается по id живого стопа
	if dca, ok := model.(*ordermodel.DCAModel); ok && !dca.Built() {
		b.restoreModel(ctx, dca)
	}

	// встречная лесенка при открытой позиции не нужна
	if odca, ok := b.oppositeModel(b.pos.Direction).(*ordermodel.DCAModel); ok && odca.Built() {
		logger.Info("[POSITION] %s cancelling opposite %s ladder", b.cfg.Symbol, odca.Direction())
		if _, err := b.cancelModelOrders(ctx, odca); err == nil {
			if err := odca.Remove(ctx); err != nil {
				logger.Error("[POSITION] %s remove opposite model: %v", b.cfg.Symbol, err)
			}
			odca.Reset()
		}
	}

	// встречный входной лимитник одиночной модели
	if b.pos.Direction == models.DirectionLong {
		if id := b.pctx.CurrentSellOrderID; id != "" && b.book.HasOrderByID(id, models.KindLimit, models.SideSell) {
			if err := b.gw.CancelOrder(ctx, id, b.cfg.Symbol); err != nil {
				logger.Error("[POSITION] %s cancel opposite entry %s: %v", b.cfg.Symbol, id, err)
			} else {
				b.mtr.IncOrderCancelled(b.cfg.Symbol)
				b.pctx.CurrentSellOrderID = ""
			}
		}
	} else {
		if id := b.pctx.CurrentBuyOrderID; id != "" && b.book.HasOrderByID(id, models.KindLimit, models.SideBuy) {
			if err := b.gw.CancelOrder(ctx, id, b.cfg.Symbol); err != nil {
				logger.Error("[POSITION] %s cancel opposite entry %s: %v", b.cfg.Symbol, id, err)
			} else {
				b.mtr.IncOrderCancelled(b.cfg.Symbol)
				b.pctx.CurrentBuyOrderID = ""
			}
		}
	}

	if b.cfg.NotTrading {
		return
	}

	slPrice, slSize, err := model.StopPriceSize(b.pos.Size, b.pos.EntryPrice)
	if err != nil {
		logger.Error("[POSITION] %s stop price/size: %v", b.cfg.Symbol, err)
		return
	}
	prevSL := b.pctx.LastSLOrderID
	slOrder, st, err := b.recon.MaintainStop(ctx, &b.pctx, slPrice, slSize)
	if err != nil {
		logger.Error("[POSITION] %s maintain stop: %v", b.cfg.Symbol, err)
		return
	}
	if st == reconcile.StatusNotInPosition {
		logger.Info("[POSITION] %s went flat mid-tick", b.cfg.Symbol)
		return
	}

	// при активном выходе take profit держит requestExit
	var (
		tpOrder models.Order
		prevTP  = b.pctx.LastTPOrderID
		tpPrice float64
	)
	if !b.pctx.Exiting {
		var tpSize float64
		tpPrice, tpSize, err = model.TakeProfitPriceSize(b.pos.Size, b.pos.EntryPrice)
		if err != nil {
			logger.Error("[POSITION] %s take profit price/size: %v", b.cfg.Symbol, err)
			return
		}
		tpOrder, st, err = b.recon.MaintainTakeProfit(ctx, &b.pctx, tpPrice, tpSize)
		if err != nil {
			logger.Error("[POSITION] %s maintain take profit: %v", b.cfg.Symbol, err)
			return
		}
		if st == reconcile.StatusNotInPosition {
			logger.Info("[POSITION] %s went flat mid-tick", b.cfg.Symbol)
			return
		}
	}

	// строки модели держат id актуальными и переживают рестарт
	if dca, ok := model.(*ordermodel.DCAModel); ok && dca.Built() {
		if slOrder.ID != "" && slOrder.ID != prevSL {
			if err := dca.UpdateOrderIDByPrice(ctx, slPrice, slOrder.ID); err != nil {
				logger.Error("[POSITION] %s update stop id: %v", b.cfg.Symbol, err)
			}
		}
		if tpOrder.ID != "" && tpOrder.ID != prevTP {
			if err := dca.UpdateTPOrderIDByPrice(ctx, tpPrice, tpOrder.ID); err != nil {
				logger.Error("[POSITION] %s update take profit id: %v", b.cfg.Symbol, err)
			}
		}
	}

	if b.pos.Size != b.pctx.LastSize {
		logger.Info("[POSITION] %s %s size=%v entry=%v sl=%v", b.cfg.Symbol, b.pos.Direction, b.pos.Size, b.pos.EntryPrice, slPrice)
		_ = b.notifier.Sendf(ctx, "%s: %s position size %v, entry %v", b.cfg.Symbol, b.pos.Direction, b.pos.Size, b.pos.EntryPrice)
	}
}

// restoreModel поднимает сохранённую лесенку по id защитного стопа из
// книги ордеров. Отсутствие записи не ошибка, торгуем с чистого листа.
func (b *Bot) restoreModel(ctx context.Context, dca *ordermodel.DCAModel) {
	var stops []models.Order
	if b.pos.Direction == models.DirectionLong {
		stops = b.book.LongStops
	} else {
		stops = b.book.ShortStops
	}
	if len(stops) == 0 {
		return
	}

	id := stops[0].ID
	if err := dca.Restore(ctx, id); err != nil {
		if errors.Is(err, ladderstore.ErrNotFound) {
			logger.Warn("[POSITION] %s no stored model for stop %s, continuing fresh", b.cfg.Symbol, id)
		} else {
			logger.Error("[POSITION] %s restore model: %v", b.cfg.Symbol, err)
		}
		return
	}

	logger.Info("[POSITION] %s restored %s ladder from stop %s", b.cfg.Symbol, dca.Direction(), id)
	b.pctx.LastSLOrderID, _ = dca.Identifier()
	b.pctx.LastTPOrderID = dca.LatestTPOrderIDBySize(b.pos.Size)
}
