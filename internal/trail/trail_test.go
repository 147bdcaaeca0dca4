package trail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/models"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	gw := exchange.NewPaperGateway(exchange.PaperConfig{TickSize: 0.001})
	return New(gw, "BTC-USDT-SWAP")
}

func TestLongTriggerAndRatchet(t *testing.T) {
	c := newController(t)

	// bid ниже триггера — не взведён, трейл следует за рынком
	_, exit := c.Update(models.DirectionLong, 105, 1, 100.1, 100)
	assert.False(t, exit)
	assert.False(t, c.Triggered())
	trail, ok := c.LastTrailPrice()
	require.True(t, ok)
	assert.InDelta(t, 99.0, trail, 1e-9)

	// bid дошёл до триггера — взвод
	_, exit = c.Update(models.DirectionLong, 105, 1, 105.1, 105)
	assert.False(t, exit)
	assert.True(t, c.Triggered())
	trail, _ = c.LastTrailPrice()
	assert.InDelta(t, 104.0, trail, 1e-9)

	// рынок растёт — храповик подтягивается
	_, exit = c.Update(models.DirectionLong, 105, 1, 107.1, 107)
	assert.False(t, exit)
	trail, _ = c.LastTrailPrice()
	assert.InDelta(t, 106.0, trail, 1e-9)

	// откат: трейл не опускается
	_, exit = c.Update(models.DirectionLong, 105, 1, 106.6, 106.5)
	assert.False(t, exit)
	trail, _ = c.LastTrailPrice()
	assert.InDelta(t, 106.0, trail, 1e-9)

	// ask коснулся трейла — немедленный выход по ask
	price, exit := c.Update(models.DirectionLong, 105, 1, 106.0, 105.9)
	assert.True(t, exit)
	assert.InDelta(t, 106.0, price, 1e-9)
}

func TestLongRatchetNeverReverses(t *testing.T) {
	c := newController(t)

	bids := []float64{105, 106, 107, 108, 109, 110}
	prev := 0.0
	for _, bid := range bids {
		c.Update(models.DirectionLong, 105, 1, bid+10, bid) // ask далеко, выхода нет
		trail, ok := c.LastTrailPrice()
		require.True(t, ok)
		assert.GreaterOrEqual(t, trail, prev, "bid=%v", bid)
		prev = trail
	}
	assert.True(t, c.Triggered())
}

func TestShortMirrored(t *testing.T) {
	c := newController(t)

	// ask выше триггера — не взведён
	_, exit := c.Update(models.DirectionShort, 95, 1, 100, 99.9)
	assert.False(t, exit)
	assert.False(t, c.Triggered())

	// ask дошёл до триггера
	_, exit = c.Update(models.DirectionShort, 95, 1, 95, 94.9)
	assert.False(t, exit)
	assert.True(t, c.Triggered())
	trail, _ := c.LastTrailPrice()
	assert.InDelta(t, 96.0, trail, 1e-9)

	// рынок падает — трейл идёт вниз
	c.Update(models.DirectionShort, 95, 1, 93, 92.9)
	trail, _ = c.LastTrailPrice()
	assert.InDelta(t, 94.0, trail, 1e-9)

	// отскок вверх: трейл не поднимается, bid коснулся — выход по bid
	price, exit := c.Update(models.DirectionShort, 95, 1, 94.1, 94.0)
	assert.True(t, exit)
	assert.InDelta(t, 94.0, price, 1e-9)
}

func TestResetOnFlat(t *testing.T) {
	c := newController(t)
	c.Update(models.DirectionLong, 105, 1, 105.1, 105)
	require.True(t, c.Triggered())

	c.Reset()
	assert.False(t, c.Triggered())
	_, ok := c.LastTrailPrice()
	assert.False(t, ok)
}
