package reconcile

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/internal/orderbook"
)

const testSymbol = "BTC-USDT-SWAP"

func newFixture(t *testing.T) (*exchange.PaperGateway, *orderbook.Cache, *Reconciler, *models.PositionContext) {
	t.Helper()
	gw := exchange.NewPaperGateway(exchange.PaperConfig{Balance: 1000, TickSize: 0.001, LotSize: 0.001})
	book := orderbook.NewCache()
	return gw, book, New(gw, book, testSymbol), &models.PositionContext{}
}

func refresh(t *testing.T, gw *exchange.PaperGateway, book *orderbook.Cache, pctx *models.PositionContext) {
	t.Helper()
	orders, err := gw.FetchOpenOrders(context.Background(), testSymbol)
	require.NoError(t, err)
	book.Refresh(orders, pctx)
}

func longPosition(size float64) models.Position {
	return models.Position{
		Symbol:     testSymbol,
		IsOpen:     true,
		Size:       size,
		Direction:  models.DirectionLong,
		EntryPrice: 100,
		Leverage:   10,
	}
}

func TestMaintainStopFlatPosition(t *testing.T) {
	gw, _, r, pctx := newFixture(t)

	_, st, err := r.MaintainStop(context.Background(), pctx, 90, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusNotInPosition, st)
	assert.Empty(t, gw.Created)
}

func TestMaintainStopIdempotent(t *testing.T) {
	gw, book, r, pctx := newFixture(t)
	gw.SetPosition(longPosition(5))

	o1, st, err := r.MaintainStop(context.Background(), pctx, 90, 5)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, models.SideSell, o1.Side)
	assert.Equal(t, o1.ID, pctx.LastSLOrderID)

	// второй вызов с теми же аргументами на свежем кеше — no-op
	refresh(t, gw, book, pctx)
	o2, st, err := r.MaintainStop(context.Background(), pctx, 90, 5)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, o1.ID, o2.ID)
	assert.Len(t, gw.Created, 1)
	assert.Empty(t, gw.Cancelled)
}

func TestMaintainStopCancelReplace(t *testing.T) {
	gw, book, r, pctx := newFixture(t)
	gw.SetPosition(longPosition(5))

	o1, st, err := r.MaintainStop(context.Background(), pctx, 90, 5)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)

	// цена уехала — старый снимается, ставится новый
	refresh(t, gw, book, pctx)
	o2, st, err := r.MaintainStop(context.Background(), pctx, 91, 5)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.NotEqual(t, o1.ID, o2.ID)
	assert.Equal(t, []string{o1.ID}, gw.Cancelled)
	assert.Equal(t, o2.ID, pctx.LastSLOrderID)
	assert.Equal(t, 1, gw.OpenOrderCount())
}

func TestMaintainStopSizeDriftForcesReplace(t *testing.T) {
	gw, book, r, pctx := newFixture(t)
	gw.SetPosition(longPosition(5))

	o1, _, err := r.MaintainStop(context.Background(), pctx, 90, 5)
	require.NoError(t, err)

	// та же цена, другой размер — тоже cancel+replace
	refresh(t, gw, book, pctx)
	o2, st, err := r.MaintainStop(context.Background(), pctx, 90, 6)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.NotEqual(t, o1.ID, o2.ID)
	assert.Len(t, gw.Cancelled, 1)
}

func TestMaintainStopCancelFailureStillPlaces(t *testing.T) {
	gw, book, r, pctx := newFixture(t)
	gw.SetPosition(longPosition(5))

	o1, _, err := r.MaintainStop(context.Background(), pctx, 90, 5)
	require.NoError(t, err)

	refresh(t, gw, book, pctx)
	gw.FailCancel = errors.New("exchange is down for cancels")
	o2, st, err := r.MaintainStop(context.Background(), pctx, 91, 5)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.NotEqual(t, o1.ID, o2.ID)
	// позиция никогда не остаётся без стопа
	assert.Equal(t, o2.ID, pctx.LastSLOrderID)
	assert.Len(t, gw.Created, 2)
}

func TestMaintainTakeProfitCancelFailureAborts(t *testing.T) {
	gw, book, r, pctx := newFixture(t)
	gw.SetPosition(longPosition(5))

	o1, _, err := r.MaintainTakeProfit(context.Background(), pctx, 110, 5)
	require.NoError(t, err)

	refresh(t, gw, book, pctx)
	gw.FailCancel = errors.New("exchange is down for cancels")
	_, st, err := r.MaintainTakeProfit(context.Background(), pctx, 111, 5)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, st)
	// дубль тейка не размещён, запомненный id не тронут
	assert.Len(t, gw.Created, 1)
	assert.Equal(t, o1.ID, pctx.LastTPOrderID)
}

func TestMaintainTakeProfitReduceOnlyOppositeSide(t *testing.T) {
	gw, _, r, pctx := newFixture(t)
	gw.SetPosition(models.Position{
		Symbol: testSymbol, IsOpen: true, Size: 3,
		Direction: models.DirectionShort, EntryPrice: 100, Leverage: 10,
	})

	o, st, err := r.MaintainTakeProfit(context.Background(), pctx, 95, 3)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, models.SideBuy, o.Side)
	assert.True(t, o.ReduceOnly)
}

func TestMaintainStopPlacementFailureKeepsRememberedID(t *testing.T) {
	gw, book, r, pctx := newFixture(t)
	gw.SetPosition(longPosition(5))

	o1, _, err := r.MaintainStop(context.Background(), pctx, 90, 5)
	require.NoError(t, err)

	refresh(t, gw, book, pctx)
	gw.FailCreate = errors.New("rate limited")
	_, st, err := r.MaintainStop(context.Background(), pctx, 91, 5)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, st)
	assert.Equal(t, o1.ID, pctx.LastSLOrderID)
}

func TestMaintainStopRoundsToPrecision(t *testing.T) {
	gw, _, r, pctx := newFixture(t)
	gw.SetPosition(longPosition(5))

	o, st, err := r.MaintainStop(context.Background(), pctx, 90.00049, 5.0004)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.InDelta(t, 90.0, o.TriggerPrice, 1e-9)
	assert.InDelta(t, 5.0, o.Size, 1e-9)
}
