package models

// Side — сторона ордера на бирже.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite возвращает закрывающую сторону.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind — тип ордера: лимитный или стоп по триггер-цене.
type OrderKind string

const (
	KindLimit OrderKind = "limit"
	KindStop  OrderKind = "stop"
)

type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
)

// Order — снапшот биржевого ордера на момент последнего refresh.
// Иммутабельный: кеш пересобирается целиком каждый тик, ордера не мутируются.
type Order struct {
	ID           string
	Symbol       string
	Side         Side
	Kind         OrderKind
	Price        float64
	TriggerPrice float64 // только для stop
	Size         float64
	Filled       float64
	Remaining    float64
	Timestamp    int64
	Status       OrderStatus
	ReduceOnly   bool
}
