package models

import "math"

// LadderRow — строка DCA-модели. Строка 0 — базовый вход, строки 1..N-2 —
// усредняющие входы геометрически растущего размера, строка N-1 — стоп-лосс
// (Size 0, Kind=stop, Direction перевёрнут).
//
// Цены, которые не имеют смысла (неположительные), хранятся как NaN,
// а не как ноль — ноль был бы валидной ценой.
type LadderRow struct {
	Index     int       `json:"idx"`
	Kind      OrderKind `json:"type"`
	Direction Side      `json:"direction"`

	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	CumSize   float64 `json:"pos_size"`
	Volume    float64 `json:"o_vol"`
	CumVolume float64 `json:"open_volume"`

	Symbol     string `json:"symbol"`
	ExchangeID string `json:"exchange_id"`

	MakerFee    float64 `json:"maker_fees"`
	TakerFee    float64 `json:"taker_fees"`
	EntryPrice  float64 `json:"entry_price"`
	CloseVolume float64 `json:"close_volume"`

	UnrealizedPnl float64 `json:"u_pnl"`
	TPVolume      float64 `json:"tp_volume"`
	TPMakerFee    float64 `json:"tp_maker_fees"`
	RealizedPnl   float64 `json:"r_pnl"`

	TPPrice           float64 `json:"tp_price"`
	TPPriceMinROE     float64 `json:"tp_price_min_roe"`
	TPPriceMinTrigger float64 `json:"tp_price_min_trigger"`

	CRV float64 `json:"crv"`
	ROI float64 `json:"roi"`
	ROE float64 `json:"roe"`

	OrderID   string `json:"order_id"`
	TPOrderID string `json:"tp_order_id"`
}

// IsStop — является ли строка стоп-строкой модели.
func (r LadderRow) IsStop() bool { return r.Kind == KindStop }

// Undefined маркирует «неопределённую» цену.
func Undefined() float64 { return math.NaN() }

func IsUndefined(v float64) bool { return math.IsNaN(v) }
