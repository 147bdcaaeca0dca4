package orderbook

import (
	"github.com/banmdev/ccxtbots/internal/models"

	"github.com/banmdev/ccxtbots/pkg/logger"
)

// Cache — снапшот открытых ордеров биржи, четыре индекса по (типу, стороне).
// Пересобирается целиком каждый тик из одного запроса к бирже; никогда не
// мержится с прошлым тиком — пропавшие ордера просто исчезают из кеша.
// При ошибке запроса вызывающий не зовёт Refresh, и кеш остаётся прошлым:
// устаревшим, но не полупустым.
type Cache struct {
	limitByPrice map[models.Side]map[float64]models.Order
	limitByID    map[models.Side]map[string]models.Order
	stopByPrice  map[models.Side]map[float64]models.Order
	stopByID     map[models.Side]map[string]models.Order

	// удобные списки для хендлеров
	Asks       []models.Order // limit sell
	Bids       []models.Order // limit buy
	LongStops  []models.Order // stop sell — защита лонга
	ShortStops []models.Order // stop buy — защита шорта

	hasOrders bool
}

func NewCache() *Cache {
	c := &Cache{}
	c.clear()
	return c
}

func (c *Cache) clear() {
	c.limitByPrice = map[models.Side]map[float64]models.Order{
		models.SideBuy: {}, models.SideSell: {},
	}
	c.limitByID = map[models.Side]map[string]models.Order{
		models.SideBuy: {}, models.SideSell: {},
	}
	c.stopByPrice = map[models.Side]map[float64]models.Order{
		models.SideBuy: {}, models.SideSell: {},
	}
	c.stopByID = map[models.Side]map[string]models.Order{
		models.SideBuy: {}, models.SideSell: {},
	}
	c.Asks = nil
	c.Bids = nil
	c.LongStops = nil
	c.ShortStops = nil
	c.hasOrders = false
}

// Refresh пересобирает кеш из свежего списка открытых ордеров и сверяет
// «запомненные» id защитных ордеров: если биржа их больше не показывает,
// они либо исполнились, либо сняты трейдером вручную — контекст очищается.
func (c *Cache) Refresh(orders []models.Order, pctx *models.PositionContext) {
	c.clear()

	lastTPFound := false
	lastSLFound := false

	for _, o := range orders {
		if o.ID == pctx.LastTPOrderID {
			lastTPFound = true
		}
		if o.ID == pctx.LastSLOrderID {
			lastSLFound = true
		}

		switch {
		case o.Kind == models.KindLimit && o.Side == models.SideSell:
			c.limitByPrice[models.SideSell][o.Price] = o
			c.limitByID[models.SideSell][o.ID] = o
			c.Asks = append(c.Asks, o)

		case o.Kind == models.KindLimit && o.Side == models.SideBuy:
			c.limitByPrice[models.SideBuy][o.Price] = o
			c.limitByID[models.SideBuy][o.ID] = o
			c.Bids = append(c.Bids, o)

		case o.Kind == models.KindStop && o.Side == models.SideSell:
			c.stopByPrice[models.SideSell][o.TriggerPrice] = o
			c.stopByID[models.SideSell][o.ID] = o
			c.LongStops = append(c.LongStops, o)

		case o.Kind == models.KindStop && o.Side == models.SideBuy:
			c.stopByPrice[models.SideBuy][o.TriggerPrice] = o
			c.stopByID[models.SideBuy][o.ID] = o
			c.ShortStops = append(c.ShortStops, o)
		}
	}

	c.hasOrders = len(orders) > 0

	if pctx.LastTPOrderID != "" && !lastTPFound {
		logger.Info("[BOOK] take profit order %s is gone from the exchange", pctx.LastTPOrderID)
		pctx.LastTPOrderID = ""
	}
	if pctx.LastSLOrderID != "" && !lastSLFound {
		logger.Info("[BOOK] stop order %s is gone from the exchange", pctx.LastSLOrderID)
		pctx.LastSLOrderID = ""
	}
}

func (c *Cache) HasOrders() bool { return c.hasOrders }

// MatchingLimit — лимитник точно на (side, price) и точно такого размера.
// Любое отличие, даже из-за переокругления, считается несовпадением.
func (c *Cache) MatchingLimit(side models.Side, price, size float64) (models.Order, bool) {
	o, ok := c.limitByPrice[side][price]
	if !ok || o.Size != size {
		return models.Order{}, false
	}
	return o, true
}

// MatchingStop — стоп точно на (side, triggerPrice) точно такого размера.
func (c *Cache) MatchingStop(side models.Side, triggerPrice, size float64) (models.Order, bool) {
	o, ok := c.stopByPrice[side][triggerPrice]
	if !ok || o.Size != size {
		return models.Order{}, false
	}
	return o, true
}

// HasOrderByID — открыт ли ордер с данным id среди (kind, side).
func (c *Cache) HasOrderByID(orderID string, kind models.OrderKind, side models.Side) bool {
	if orderID == "" {
		return false
	}
	if kind == models.KindLimit {
		_, ok := c.limitByID[side][orderID]
		return ok
	}
	_, ok := c.stopByID[side][orderID]
	return ok
}
