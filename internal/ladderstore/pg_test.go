package ladderstore

import (
	"context"
	"math"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/pkg/db"
)

// fakeTx — db.Transaction поверх map, чтобы гонять SQL-пути PGStore без
// живой базы.
type fakeTx struct {
	records map[string][]byte
	execSQL []string
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQL = append(t.execSQL, sql)
	switch {
	case len(args) >= 2:
		t.records[args[0].(string)] = args[1].([]byte)
	case len(args) == 1:
		delete(t.records, args[0].(string))
	}
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(_ context.Context, _ string, _ ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, args ...interface{}) pgx.Row {
	payload, ok := t.records[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{payload: payload}
}

type fakeRow struct {
	payload []byte
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.payload
	return nil
}

type fakeTxManager struct {
	tx *fakeTx
}

func (m *fakeTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx db.Transaction) error) error {
	return fn(ctx, m.tx)
}

func newFakePG() (*PGStore, *fakeTx) {
	tx := &fakeTx{records: make(map[string][]byte)}
	return NewPG(&fakeTxManager{tx: tx}), tx
}

func TestPGStoreRoundTrip(t *testing.T) {
	store, _ := newFakePG()
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))

	rows := []models.LadderRow{
		{Index: 0, Kind: models.KindLimit, Direction: models.SideBuy, Price: 100, Size: 1, TakerFee: math.NaN()},
		{Index: 1, Kind: models.KindStop, Direction: models.SideSell, Price: 98.5, CumSize: 1, OrderID: "stop-1"},
	}
	key := Key("paper", "BTC-USDT-SWAP", "stop-1")

	require.NoError(t, store.Save(ctx, key, rows))

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "stop-1", got[1].OrderID)
	assert.True(t, math.IsNaN(got[0].TakerFee))
}

func TestPGStoreLoadMissing(t *testing.T) {
	store, _ := newFakePG()

	_, err := store.Load(context.Background(), Key("paper", "BTC-USDT-SWAP", "nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStoreDelete(t *testing.T) {
	store, _ := newFakePG()
	ctx := context.Background()

	key := Key("paper", "BTC-USDT-SWAP", "stop-2")
	require.NoError(t, store.Save(ctx, key, []models.LadderRow{{Index: 0}}))
	require.NoError(t, store.Delete(ctx, key))

	_, err := store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
