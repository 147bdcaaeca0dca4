package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const candleFrame = `{"arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"},` +
	`"data":[["1700000000000","100","101","99","100.5","0","0","0","1"]]}`

// wsServer рвёт первые drops соединений сразу после подписки, затем
// отдаёт одну закрытую свечу и держит соединение.
func wsServer(t *testing.T, drops int32) (*httptest.Server, *int32) {
	t.Helper()

	var conns int32
	up := websocket.Upgrader{}
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		if _, _, err := conn.ReadMessage(); err != nil { // subscribe
			return
		}

		if atomic.AddInt32(&conns, 1) <= drops {
			return
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte(candleFrame)); err != nil {
			return
		}
		<-done
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func TestStreamCandlesReconnects(t *testing.T) {
	const drops = 8

	srv, conns := wsServer(t, drops)

	client := NewOKXClient(OKXConfig{})
	client.wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	client.wsRedialWait = 5 * time.Millisecond

	base := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := client.StreamCandles(ctx, "BTC-USDT-SWAP", "1m")

	select {
	case c := <-ch:
		assert.Equal(t, "BTC-USDT-SWAP", c.Symbol)
		assert.InDelta(t, 100.5, c.Close, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("no candle after reconnects")
	}
	require.EqualValues(t, drops+1, atomic.LoadInt32(conns))

	// пингеры разорванных соединений не переживают свой коннект: после
	// всех передиалов живы только цикл чтения и один пингер
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine()-base < drops
	}, 2*time.Second, 20*time.Millisecond)
}
