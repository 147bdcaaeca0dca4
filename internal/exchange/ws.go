package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/banmdev/ccxtbots/pkg/logger"
)

// Candle — закрытая свеча для сигнал-генератора.
type Candle struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	End    time.Time
}

const okxWSBusiness = "wss://ws.okx.com:8443/ws/v5/business"

// StreamCandles — один WebSocket на таймфрейм, переподключение с паузой.
// В канал уходят только закрытые свечи (confirm == "1").
func (c *OKXClient) StreamCandles(ctx context.Context, symbol, timeframe string) <-chan Candle {
	ch := make(chan Candle)
	go func() {
		defer close(ch)

		channel := "candle" + timeframe // "1m" -> "candle1m"
		sub := map[string]any{
			"op": "subscribe",
			"args": []map[string]string{
				{"channel": channel, "instId": symbol},
			},
		}

		for {
			logger.Info("[WS] connect %s %s", channel, symbol)
			conn, _, err := c.wsDialer.Dial(c.wsURL, nil)
			if err != nil {
				logger.Error("[WS] dial error %s: %v", channel, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.wsRedialWait):
				}
				continue
			}

			if err := conn.WriteJSON(sub); err != nil {
				logger.Error("[WS] subscribe error %s: %v", channel, err)
				_ = conn.Close()
				continue
			}

			// keepalive ping каждые 20s — иначе OKX рвёт соединение.
			// connDone закрывается циклом чтения перед передиалом, чтобы
			// пингер не пережил своё соединение.
			connDone := make(chan struct{})
			go func() {
				t := time.NewTicker(20 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-connDone:
						return
					case <-t.C:
						_ = conn.WriteJSON(map[string]string{"op": "ping"})
					}
				}
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					logger.Error("[WS] read error %s: %v", channel, err)
					close(connDone)
					_ = conn.Close()
					break
				}

				var frame struct {
					Arg struct {
						Channel string `json:"channel"`
						InstID  string `json:"instId"`
					} `json:"arg"`
					Data [][]string `json:"data"`
				}
				if err := sonic.Unmarshal(msg, &frame); err != nil {
					continue
				}
				if frame.Arg.Channel != channel || len(frame.Data) == 0 {
					continue
				}

				// формат data: [ts,o,h,l,c,vol,volCcy,volCcyQuote,confirm]
				row := frame.Data[0]
				if len(row) < 9 || row[8] != "1" {
					continue // ждём закрытую свечу
				}

				ts, _ := strconv.ParseInt(row[0], 10, 64)
				o, _ := strconv.ParseFloat(row[1], 64)
				h, _ := strconv.ParseFloat(row[2], 64)
				l, _ := strconv.ParseFloat(row[3], 64)
				cl, _ := strconv.ParseFloat(row[4], 64)
				if cl <= 0 {
					continue
				}

				candle := Candle{
					Symbol: frame.Arg.InstID,
					Open:   o,
					High:   h,
					Low:    l,
					Close:  cl,
					End:    time.UnixMilli(ts),
				}
				select {
				case ch <- candle:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.wsRedialWait):
			}
		}
	}()
	return ch
}
