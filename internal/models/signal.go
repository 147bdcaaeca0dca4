package models

// Advice — предложение сигнал-генератора по одному направлению.
// Нулевое поле означает «цены нет, возьми рыночную».
type Advice struct {
	LimitPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
}

// SignalSet — ответ сигнал-генератора: buy/sell ключи, отсутствие ключа —
// нет сигнала в этом направлении.
type SignalSet map[Side]Advice

func (s SignalSet) Has(side Side) bool {
	_, ok := s[side]
	return ok
}

// BuyOnly/SellOnly — чистый сигнал в одну сторону (для выхода по обратному сигналу).
func (s SignalSet) BuyOnly() bool  { return s.Has(SideBuy) && !s.Has(SideSell) }
func (s SignalSet) SellOnly() bool { return s.Has(SideSell) && !s.Has(SideBuy) }
