package signal

import (
	"context"
	"sync"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// EMARSIParams — периоды и пороги EMA/RSI генератора.
type EMARSIParams struct {
	EMAShort  int     `yaml:"ema_short"`
	EMALong   int     `yaml:"ema_long"`
	RSIPeriod int     `yaml:"rsi_period"`
	Oversold  float64 `yaml:"oversold"`
	Overbuy   float64 `yaml:"overbuy"`

	Timeframe string `yaml:"timeframe"`

	// WarmupBars — сколько закрытых свечей нужно, прежде чем генератор
	// начнёт отвечать сигналами.
	WarmupBars int `yaml:"warmup_bars"`
}

// EMARSI — сигнал по пересечению EMA с RSI-фильтром. Питается закрытыми
// свечами из стрима биржи: лонг, когда короткая EMA выше длинной и RSI в
// перепроданности, шорт — зеркально.
type EMARSI struct {
	mu     sync.Mutex
	symbol string
	params EMARSIParams

	emaShort float64
	emaLong  float64

	rsiPrev    float64
	avgGain    float64
	avgLoss    float64
	rsiPrimed  bool
	barsSeen   int
	lastSignal models.SignalSet
}

func NewEMARSI(symbol string, params EMARSIParams) *EMARSI {
	if params.WarmupBars <= 0 {
		params.WarmupBars = params.EMALong
	}
	return &EMARSI{symbol: symbol, params: params}
}

func (s *EMARSI) Capabilities() Capabilities {
	return Capabilities{GeneratesSignal: true}
}

// Run питает генератор свечами до отмены контекста. Запускается сервисом
// в отдельной горутине.
func (s *EMARSI) Run(ctx context.Context, candles <-chan exchange.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candles:
			if !ok {
				logger.Warn("[SIGNAL] %s candle stream closed", s.symbol)
				return
			}
			s.OnCandle(c)
		}
	}
}

// OnCandle скармливает генератору одну закрытую свечу.
func (s *EMARSI) OnCandle(c exchange.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := c.Close

	kShort := 2.0 / float64(s.params.EMAShort+1)
	kLong := 2.0 / float64(s.params.EMALong+1)
	if s.barsSeen == 0 {
		s.emaShort = price
		s.emaLong = price
	} else {
		s.emaShort += kShort * (price - s.emaShort)
		s.emaLong += kLong * (price - s.emaLong)
	}
	s.barsSeen++

	if !s.rsiPrimed {
		s.rsiPrev = price
		s.rsiPrimed = true
		return
	}

	change := price - s.rsiPrev
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	alpha := 1.0 / float64(s.params.RSIPeriod)
	if s.avgGain == 0 && s.avgLoss == 0 {
		s.avgGain, s.avgLoss = gain, loss
	} else {
		s.avgGain = (1-alpha)*s.avgGain + alpha*gain
		s.avgLoss = (1-alpha)*s.avgLoss + alpha*loss
	}
	s.rsiPrev = price

	rs := 0.0
	if s.avgLoss != 0 {
		rs = s.avgGain / s.avgLoss
	}
	rsi := 100 - (100 / (1 + rs))

	s.lastSignal = models.SignalSet{}
	if s.barsSeen < s.params.WarmupBars {
		return
	}
	if s.emaShort > s.emaLong && rsi < s.params.Oversold {
		s.lastSignal[models.SideBuy] = models.Advice{}
	}
	if s.emaShort < s.emaLong && rsi > s.params.Overbuy {
		s.lastSignal[models.SideSell] = models.Advice{}
	}
	if len(s.lastSignal) > 0 {
		logger.Debug("[SIGNAL] %s ema_s=%.4f ema_l=%.4f rsi=%.2f signal=%v", s.symbol, s.emaShort, s.emaLong, rsi, s.lastSignal)
	}
}

// Signal отдаёт последний сигнал по закрытой свече, цену входа предлагает
// от переданных ask/bid.
func (s *EMARSI) Signal(_ context.Context, ask, bid float64) (models.SignalSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := models.SignalSet{}
	if s.lastSignal.Has(models.SideBuy) {
		out[models.SideBuy] = models.Advice{LimitPrice: bid}
	}
	if s.lastSignal.Has(models.SideSell) {
		out[models.SideSell] = models.Advice{LimitPrice: ask}
	}
	return out, nil
}

// ExitSignal — выходим по чистому сигналу в противоположную сторону,
// той же логикой, что и вход.
func (s *EMARSI) ExitSignal(ctx context.Context, ask, bid float64) (models.SignalSet, error) {
	return s.Signal(ctx, ask, bid)
}
