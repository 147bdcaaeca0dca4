package trail

import (
	"math"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// Controller — трейлинг-стоп с храповиком. До взвода трейл-цена наивно
// следует за рынком, чтобы быть готовой в момент взвода; после взвода
// двигается только в сторону прибыли. Состояние живёт одну позицию и
// сбрасывается при выходе в flat.
//
// Все цены приводятся к точности биржи до сравнения, иначе шум
// плавающей точки заставляет стоп дребезжать.
type Controller struct {
	gw     exchange.Gateway
	symbol string

	lastTrailPrice float64
	triggered      bool
	armed          bool // была ли трейл-цена хоть раз установлена
}

func New(gw exchange.Gateway, symbol string) *Controller {
	return &Controller{gw: gw, symbol: symbol}
}

// Reset сбрасывает состояние при выходе из позиции.
func (c *Controller) Reset() {
	c.lastTrailPrice = 0
	c.triggered = false
	c.armed = false
}

func (c *Controller) Triggered() bool { return c.triggered }

// LastTrailPrice — текущая трейл-цена, ok=false до первого Update.
func (c *Controller) LastTrailPrice() (float64, bool) {
	return c.lastTrailPrice, c.armed
}

// Update продвигает трейл на один тик и решает, пора ли выходить.
// Возвращает цену немедленного выхода и true, когда стоп сработал:
// для лонга выход по ask, для шорта по bid.
func (c *Controller) Update(direction models.Direction, triggerPrice, trailValue, ask, bid float64) (float64, bool) {
	triggerPrice = c.gw.PriceToPrecision(c.symbol, triggerPrice)
	ask = c.gw.PriceToPrecision(c.symbol, ask)
	bid = c.gw.PriceToPrecision(c.symbol, bid)

	switch direction {
	case models.DirectionLong:
		candidate := c.gw.PriceToPrecision(c.symbol, bid-trailValue)
		if !c.triggered {
			c.lastTrailPrice = candidate
			c.armed = true
			if bid >= triggerPrice {
				c.triggered = true
				logger.Info("[TRAIL] %s long armed at bid=%v trail=%v", c.symbol, bid, c.lastTrailPrice)
			}
		} else {
			c.lastTrailPrice = math.Max(c.lastTrailPrice, candidate)
		}
		if c.triggered && ask <= c.lastTrailPrice {
			logger.Info("[TRAIL] %s long exit: ask=%v <= trail=%v", c.symbol, ask, c.lastTrailPrice)
			return ask, true
		}

	case models.DirectionShort:
		candidate := c.gw.PriceToPrecision(c.symbol, ask+trailValue)
		if !c.triggered {
			c.lastTrailPrice = candidate
			c.armed = true
			if ask <= triggerPrice {
				c.triggered = true
				logger.Info("[TRAIL] %s short armed at ask=%v trail=%v", c.symbol, ask, c.lastTrailPrice)
			}
		} else {
			c.lastTrailPrice = math.Min(c.lastTrailPrice, candidate)
		}
		if c.triggered && bid >= c.lastTrailPrice {
			logger.Info("[TRAIL] %s short exit: bid=%v >= trail=%v", c.symbol, bid, c.lastTrailPrice)
			return bid, true
		}
	}

	return 0, false
}
