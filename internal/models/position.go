package models

// Direction — направление позиции / модели ордеров.
type Direction string

const (
	DirectionNone  Direction = ""
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

func (d Direction) Valid() bool { return d == DirectionLong || d == DirectionShort }

// EntrySide — сторона входных ордеров для направления.
func (d Direction) EntrySide() Side {
	if d == DirectionLong {
		return SideBuy
	}
	return SideSell
}

// CloseSide — сторона защитных/закрывающих ордеров.
func (d Direction) CloseSide() Side { return d.EntrySide().Opposite() }

// Position — позиция по символу, обновляется каждый тик с биржи.
// Инвариант: IsOpen == false => Size == 0, Direction == DirectionNone.
type Position struct {
	Symbol     string
	IsOpen     bool
	Size       float64
	Direction  Direction
	EntryPrice float64
	Leverage   int
}

func (p Position) IsLong() bool { return p.Direction == DirectionLong }

// PositionContext — явное состояние «запомненных» ордеров и прошлого тика.
// Единственный владелец — стейт-машина позиции; хендлеры получают его по ссылке.
type PositionContext struct {
	// id последних защитных ордеров этого бота; очищаются кешем,
	// если биржа их больше не показывает (закрыты или сняты вручную)
	LastTPOrderID string
	LastSLOrderID string

	// id текущих входных лимитников (fixed-модель)
	CurrentBuyOrderID  string
	CurrentSellOrderID string

	// значения позиции предыдущего тика — для finish-trade учёта
	LastIsOpen    bool
	LastDirection Direction
	LastSize      float64

	// выставлен немедленный выход (трейлинг или обратный сигнал)
	Exiting bool

	CumPnl float64
}

// ResetTrade сбрасывает состояние после завершения сделки, CumPnl сохраняется.
func (c *PositionContext) ResetTrade() {
	c.LastTPOrderID = ""
	c.LastSLOrderID = ""
	c.LastIsOpen = false
	c.LastDirection = DirectionNone
	c.LastSize = 0
	c.Exiting = false
}
