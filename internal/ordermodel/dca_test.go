package ordermodel

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/ladderstore"
	"github.com/banmdev/ccxtbots/internal/models"
)

const dcaSymbol = "BTC-USDT-SWAP"

func defaultDCAParams() DCAParams {
	return DCAParams{NumTrades: 4, PriceDev: 0.005, SaveScale: 2.0, BaseToSaveMult: 1.0}
}

func newDCAFixture(t *testing.T, direction models.Direction) (*DCAModel, *exchange.PaperGateway, *ladderstore.MemoryStore) {
	t.Helper()
	gw := exchange.NewPaperGateway(exchange.PaperConfig{Balance: 1000, TickSize: 0.001, LotSize: 0.001})
	store := ladderstore.NewMemory()
	m, err := NewDCA(gw, store, dcaSymbol, direction, defaultDCAParams())
	require.NoError(t, err)
	return m, gw, store
}

func TestNewDCAValidation(t *testing.T) {
	gw := exchange.NewPaperGateway(exchange.PaperConfig{})
	store := ladderstore.NewMemory()

	_, err := NewDCA(gw, store, dcaSymbol, models.DirectionLong, DCAParams{NumTrades: 2, PriceDev: 0.005, SaveScale: 2})
	assert.Error(t, err)

	_, err = NewDCA(gw, store, dcaSymbol, models.Direction(""), defaultDCAParams())
	assert.Error(t, err)
}

func TestDCAScenario(t *testing.T) {
	// dev=0.005, N=4, mult=1.0, scale=2.0, цена 100, риск 10, лонг
	m, _, _ := newDCAFixture(t, models.DirectionLong)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	rows := m.Rows()
	require.Len(t, rows, 4)

	assert.InDelta(t, 100.0, rows[0].Price, 1e-9)
	assert.InDelta(t, 99.5, rows[1].Price, 1e-9)
	assert.InDelta(t, 99.003, rows[2].Price, 1e-9)
	assert.InDelta(t, 98.507, rows[3].Price, 1e-9)

	// стоп закрывает весь накопленный размер строк 0..2
	require.True(t, rows[3].IsStop())
	assert.Equal(t, models.SideSell, rows[3].Direction)
	assert.Zero(t, rows[3].Size)
	assert.InDelta(t, rows[2].CumSize, rows[3].CumSize, 1e-9)

	// средняя цена входа выше стопа
	assert.Greater(t, rows[3].EntryPrice, rows[3].Price)

	// при срабатывании стопа после полного заполнения теряем риск на сделку
	assert.InDelta(t, -10.0, rows[3].RealizedPnl, 0.1)
}

func TestDCAMonotonicity(t *testing.T) {
	m, _, _ := newDCAFixture(t, models.DirectionLong)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	rows := m.Rows()
	for i := 1; i < len(rows); i++ {
		assert.Less(t, rows[i].Price, rows[i-1].Price, "row %d", i)
	}
	// размеры усредняющих строк строго растут при saveScale > 1
	for i := 2; i < len(rows)-1; i++ {
		assert.Greater(t, rows[i].Size, rows[i-1].Size, "row %d", i)
	}
}

func TestDCAShortMirrored(t *testing.T) {
	m, _, _ := newDCAFixture(t, models.DirectionShort)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	rows := m.Rows()
	require.Len(t, rows, 4)
	for i := 1; i < len(rows); i++ {
		assert.Greater(t, rows[i].Price, rows[i-1].Price)
	}
	assert.Equal(t, models.SideSell, rows[0].Direction)
	assert.Equal(t, models.SideBuy, rows[3].Direction)
	// стоп выше входа, тейк ниже
	assert.Greater(t, rows[3].Price, rows[3].EntryPrice)
	assert.Less(t, rows[0].TPPrice, rows[0].EntryPrice)
	assert.InDelta(t, -10.0, rows[3].RealizedPnl, 0.1)
}

func TestDCARiskSizingInvariant(t *testing.T) {
	for _, tc := range []struct {
		price, risk float64
	}{
		{100, 10},
		{2500, 125},
		{3500, 40},
	} {
		m, _, _ := newDCAFixture(t, models.DirectionLong)
		require.NoError(t, m.Build(tc.price, tc.risk, 0.525, 25, 0.01, 0.75))

		rows := m.Rows()
		stop := rows[len(rows)-1]
		// допуск на приведение размера и цен к точности биржи
		assert.InDelta(t, -tc.risk, stop.RealizedPnl, tc.risk*0.05, "price=%v risk=%v", tc.price, tc.risk)
	}
}

func TestDCAZeroDeviation(t *testing.T) {
	gw := exchange.NewPaperGateway(exchange.PaperConfig{})
	m, err := NewDCA(gw, ladderstore.NewMemory(), dcaSymbol, models.DirectionLong,
		DCAParams{NumTrades: 4, PriceDev: 0.0, SaveScale: 2.0, BaseToSaveMult: 1.0})
	require.NoError(t, err)

	err = m.Build(100, 10, 0.525, 25, 0.01, 0.75)
	assert.ErrorIs(t, err, ErrZeroPriceDelta)
	assert.False(t, m.Built())
}

func TestDCAQueriesBeforeBuild(t *testing.T) {
	m, _, _ := newDCAFixture(t, models.DirectionLong)

	_, _, err := m.StopPriceSize(0, 0)
	assert.ErrorIs(t, err, ErrNotBuilt)
	_, _, err = m.TakeProfitPriceSize(1, 0)
	assert.ErrorIs(t, err, ErrNotBuilt)
	_, err = m.Identifier()
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestDCATakeProfitTracksFills(t *testing.T) {
	m, _, _ := newDCAFixture(t, models.DirectionLong)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	rows := m.Rows()

	// заполнена только базовая строка
	tp0, size0, err := m.TakeProfitPriceSize(rows[0].CumSize, 0)
	require.NoError(t, err)
	assert.Equal(t, rows[0].CumSize, size0)
	assert.InDelta(t, rows[0].TPPrice, tp0, 1e-9)

	// заполнены строки 0 и 1 — тейк берётся из строки 1
	cur := rows[0].CumSize + rows[1].Size/2
	tp1, _, err := m.TakeProfitPriceSize(cur, 0)
	require.NoError(t, err)
	assert.InDelta(t, rows[1].TPPrice, tp1, 1e-9)
	assert.NotEqual(t, tp0, tp1)

	// размер больше всей лесенки покрыть нечем
	_, _, err = m.TakeProfitPriceSize(rows[len(rows)-1].CumSize+1, 0)
	assert.ErrorIs(t, err, ErrNoMatchingRow)
}

func TestDCAStopPriceSize(t *testing.T) {
	m, _, _ := newDCAFixture(t, models.DirectionLong)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	price, size, err := m.StopPriceSize(0, 0)
	require.NoError(t, err)
	rows := m.Rows()
	assert.InDelta(t, rows[3].Price, price, 1e-9)
	assert.Equal(t, rows[3].CumSize, size)
}

func TestDCAEconomicsWithFees(t *testing.T) {
	gw := exchange.NewPaperGateway(exchange.PaperConfig{
		Balance: 1000, TickSize: 0.001, LotSize: 0.001,
		MakerFee: 0.0002, TakerFee: 0.0005,
	})
	m, err := NewDCA(gw, ladderstore.NewMemory(), dcaSymbol, models.DirectionLong, defaultDCAParams())
	require.NoError(t, err)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	rows := m.Rows()

	for _, r := range rows[:3] {
		// комиссия тейкера задана только на стоп-строке
		assert.True(t, models.IsUndefined(r.TakerFee))
		assert.InDelta(t, r.CumVolume*0.0002, r.MakerFee, 1e-9)
		// тейк выше средней цены входа, прибыль положительна
		assert.Greater(t, r.TPPrice, r.EntryPrice)
		assert.Greater(t, r.RealizedPnl, 0.0)
		assert.Greater(t, r.ROE, 0.0)
	}

	stop := rows[3]
	assert.False(t, models.IsUndefined(stop.TakerFee))
	assert.InDelta(t, stop.CloseVolume*0.0005, stop.TakerFee, 1e-9)
	// у стоп-строки нет следующей строки и нет собственного тейка
	assert.True(t, models.IsUndefined(stop.TPPrice))
	assert.True(t, models.IsUndefined(stop.CRV))
	assert.Less(t, stop.RealizedPnl, 0.0)

	// фактический crv чуть ниже заданного из-за комиссий
	for _, r := range rows[:3] {
		assert.Less(t, r.CRV, 0.525)
		assert.Greater(t, r.CRV, 0.4)
	}
}

func TestDCATrailPriceValue(t *testing.T) {
	m, _, _ := newDCAFixture(t, models.DirectionLong)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	rows := m.Rows()
	trigger, trail, err := m.TrailPriceValue(rows[0].CumSize, 0)
	require.NoError(t, err)
	assert.InDelta(t, rows[0].TPPriceMinTrigger, trigger, 1e-9)
	assert.InDelta(t, math.Abs(rows[0].TPPriceMinTrigger-rows[0].TPPriceMinROE), trail, 1e-9)
	assert.Greater(t, trigger, rows[0].EntryPrice)
	assert.Greater(t, trail, 0.0)
}

func TestDCAMaxDrawdown(t *testing.T) {
	m, _, _ := newDCAFixture(t, models.DirectionLong)
	assert.Zero(t, m.MaxDrawdown())

	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))
	// от 100 до 98.507
	assert.InDelta(t, 0.01493, m.MaxDrawdown(), 1e-5)
}

func TestDCAStoreRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, gw, store := newDCAFixture(t, models.DirectionLong)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	// проставляем id ордеров, как это делает бот после размещения
	for i := range m.Rows() {
		m.SetOrderID(i, "ord-"+string(rune('a'+i)))
	}
	require.NoError(t, m.Store(ctx))

	id, err := m.Identifier()
	require.NoError(t, err)
	assert.Equal(t, "ord-d", id)

	restored, err := NewDCA(gw, store, dcaSymbol, models.DirectionLong, defaultDCAParams())
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx, id))

	orig := m.Rows()
	got := restored.Rows()
	require.Len(t, got, len(orig))
	for i := range orig {
		assert.Equal(t, orig[i].Price, got[i].Price, "row %d", i)
		assert.Equal(t, orig[i].Size, got[i].Size, "row %d", i)
		assert.Equal(t, orig[i].CumSize, got[i].CumSize, "row %d", i)
		assert.Equal(t, orig[i].OrderID, got[i].OrderID, "row %d", i)
		assert.Equal(t, orig[i].Kind, got[i].Kind, "row %d", i)
	}
}

func TestDCARestoreMissing(t *testing.T) {
	m, _, _ := newDCAFixture(t, models.DirectionLong)
	err := m.Restore(context.Background(), "never-stored")
	assert.ErrorIs(t, err, ladderstore.ErrNotFound)
}

func TestDCAUpdateOrderIDsPersist(t *testing.T) {
	ctx := context.Background()
	m, gw, store := newDCAFixture(t, models.DirectionLong)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))

	rows := m.Rows()
	m.SetOrderID(3, "stop-1") // без id стоп-строки модель не сохранить
	require.NoError(t, m.UpdateTPOrderIDByPrice(ctx, rows[0].TPPrice, "tp-9"))
	require.NoError(t, m.UpdateOrderIDByPrice(ctx, rows[1].Price, "entry-9"))

	assert.Equal(t, "tp-9", m.LatestTPOrderIDBySize(rows[0].CumSize))

	restored, err := NewDCA(gw, store, dcaSymbol, models.DirectionLong, defaultDCAParams())
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx, "stop-1"))
	got := restored.Rows()
	assert.Equal(t, "tp-9", got[0].TPOrderID)
	assert.Equal(t, "entry-9", got[1].OrderID)
}

func TestDCARemove(t *testing.T) {
	ctx := context.Background()
	m, _, store := newDCAFixture(t, models.DirectionLong)
	require.NoError(t, m.Build(100, 10, 0.525, 25, 0.01, 0.75))
	m.SetOrderID(3, "stop-2")
	require.NoError(t, m.Store(ctx))

	require.NoError(t, m.Remove(ctx))
	_, err := store.Load(ctx, ladderstore.Key("paper", dcaSymbol, "stop-2"))
	assert.ErrorIs(t, err, ladderstore.ErrNotFound)

	// повторный Remove — no-op
	require.NoError(t, m.Remove(ctx))
}
