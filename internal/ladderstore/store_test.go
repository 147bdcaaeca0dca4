package ladderstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banmdev/ccxtbots/internal/models"
)

func TestKeyIsStable(t *testing.T) {
	k1 := Key("okx", "BTC-USDT-SWAP", "algo-123")
	k2 := Key("okx", "BTC-USDT-SWAP", "algo-123")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 128) // hex sha512

	assert.NotEqual(t, k1, Key("okx", "BTC-USDT-SWAP", "algo-124"))
	assert.NotEqual(t, k1, Key("mexc", "BTC-USDT-SWAP", "algo-123"))
}

func TestMemoryRoundTripKeepsUndefined(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	key := Key("paper", "BTC-USDT-SWAP", "stop-1")

	rows := []models.LadderRow{
		{
			Index: 0, Kind: models.KindLimit, Direction: models.SideBuy,
			Price: 100, Size: 1, CumSize: 1, Volume: 100, CumVolume: 100,
			Symbol: "BTC-USDT-SWAP", ExchangeID: "paper",
			TakerFee: models.Undefined(), // taker fee определён только на стоп-строке
			TPPrice:  110, OrderID: "o-1", TPOrderID: "tp-1",
		},
		{
			Index: 3, Kind: models.KindStop, Direction: models.SideSell,
			Price: 90, Size: 0, CumSize: 1,
			Symbol: "BTC-USDT-SWAP", ExchangeID: "paper",
			TakerFee: 0.05,
			// на стоп-строке tp-колонки не определены
			TPVolume: models.Undefined(), TPPrice: models.Undefined(),
			CRV:     models.Undefined(),
			OrderID: "stop-1",
		},
	}

	require.NoError(t, s.Save(ctx, key, rows))

	got, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, rows[0].Price, got[0].Price)
	assert.Equal(t, "tp-1", got[0].TPOrderID)
	assert.True(t, models.IsUndefined(got[0].TakerFee))

	assert.Equal(t, "stop-1", got[1].OrderID)
	assert.True(t, models.IsUndefined(got[1].TPPrice))
	assert.True(t, models.IsUndefined(got[1].CRV))
	assert.Equal(t, 0.05, got[1].TakerFee)
}

func TestMemoryLoadMissing(t *testing.T) {
	s := NewMemory()
	_, err := s.Load(context.Background(), Key("paper", "X", "nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	key := Key("paper", "BTC-USDT-SWAP", "stop-9")

	require.NoError(t, s.Save(ctx, key, []models.LadderRow{{Index: 0}}))
	require.NoError(t, s.Delete(ctx, key))

	_, err := s.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// повторное удаление — no-op
	require.NoError(t, s.Delete(ctx, key))
}
