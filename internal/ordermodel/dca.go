package ordermodel

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/ladderstore"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// DCAParams — параметры лесенки усреднения.
type DCAParams struct {
	// NumTrades — число строк модели, включая стоп-строку. Минимум 3:
	// базовый вход, хотя бы одно усреднение и стоп.
	NumTrades int `yaml:"num_trades"`

	// PriceDev — шаг цены между строками, доля (0.01 = 1%).
	PriceDev float64 `yaml:"price_dev"`

	// SaveScale — геометрический рост размеров усредняющих строк.
	SaveScale float64 `yaml:"save_scale"`

	// BaseToSaveMult — отношение первого усреднения к базовому размеру.
	BaseToSaveMult float64 `yaml:"base_to_save_mult"`
}

// DCAModel строит таблицу входных ордеров лесенкой: базовый вход по рынку
// рядом с текущей ценой, усреднения ниже (лонг) или выше (шорт) с
// геометрически растущим размером, последняя строка — стоп на весь
// наторгованный размер.
//
// Два коэффициента (deltaFactor, sizeDivisor) считаются один раз на
// единичных размере и цене: они не зависят от реального размера сделки и
// позволяют сайзить всю лесенку от риска на сделку.
type DCAModel struct {
	gw    exchange.Gateway
	store ladderstore.Store

	symbol    string
	direction models.Direction
	params    DCAParams

	deltaFactor float64
	sizeDivisor float64

	rows     []models.LadderRow
	savedKey string
}

func NewDCA(gw exchange.Gateway, store ladderstore.Store, symbol string, direction models.Direction, params DCAParams) (*DCAModel, error) {
	if params.NumTrades < 3 {
		return nil, errors.Errorf("ordermodel: num trades %d too small, must be at least 3", params.NumTrades)
	}
	if direction != models.DirectionLong && direction != models.DirectionShort {
		return nil, errors.Errorf("ordermodel: invalid direction %q", direction)
	}
	if params.BaseToSaveMult <= 0 {
		params.BaseToSaveMult = 1.0
	}

	m := &DCAModel{
		gw:        gw,
		store:     store,
		symbol:    symbol,
		direction: direction,
		params:    params,
	}

	// единичный прогон без биржевой точности
	delta, totalSize, _ := m.coefficients(1, 1, false)
	m.deltaFactor = delta
	m.sizeDivisor = totalSize
	logger.Debug("[DCA] %s %s coefficients: delta=%v size_divisor=%v", symbol, direction, delta, totalSize)
	return m, nil
}

func (m *DCAModel) Direction() models.Direction { return m.direction }

func (m *DCAModel) Capabilities() Capabilities {
	return Capabilities{GeneratesEntries: true, GeneratesStop: true, GeneratesTakeProfit: true}
}

// Built — построена ли таблица (после Build или Restore).
func (m *DCAModel) Built() bool { return len(m.rows) > 0 }

// Reset сбрасывает таблицу. Запись в хранилище не трогается, её снимает
// Remove при разборе лесенки.
func (m *DCAModel) Reset() { m.rows = nil }

// Rows — копия таблицы модели.
func (m *DCAModel) Rows() []models.LadderRow {
	out := make([]models.LadderRow, len(m.rows))
	copy(out, m.rows)
	return out
}

// цена через period шагов отклонения от assetPrice
func (m *DCAModel) priceAfter(period int, assetPrice float64, rounded bool) float64 {
	var p float64
	if m.direction == models.DirectionLong {
		p = assetPrice * math.Pow(1-m.params.PriceDev, float64(period))
	} else {
		p = assetPrice * math.Pow(1+m.params.PriceDev, float64(period))
	}
	if rounded {
		p = m.gw.PriceToPrecision(m.symbol, p)
	}
	return p
}

// coefficients прогоняет лесенку от baseSize и assetPrice и возвращает
// усреднённую дельту до стопа, суммарный размер в базовых единицах и
// сырые строки (без экономики).
func (m *DCAModel) coefficients(baseSize, assetPrice float64, rounded bool) (delta, totalSize float64, rows []models.LadderRow) {
	saveSize := baseSize * m.params.BaseToSaveMult
	ct := m.gw.ContractMultiplier(m.symbol)

	oDir := m.direction.EntrySide()
	oKind := models.KindLimit

	var (
		posSize      float64
		posVol       float64
		oSize        float64
		oPrice       float64
		sumPriceSize float64
	)
	rows = make([]models.LadderRow, 0, m.params.NumTrades)

	for i := 0; i < m.params.NumTrades; i++ {
		oPrice = m.priceAfter(i, assetPrice, rounded)

		switch {
		case i == 0:
			oSize = baseSize
		case i == 1:
			oSize = saveSize
		case i < m.params.NumTrades-1:
			oSize = oSize * m.params.SaveScale
		}

		// последняя строка — стоп: размера не добавляет, направление
		// переворачивается
		if i == m.params.NumTrades-1 {
			oSize = 0
			oKind = models.KindStop
			oDir = m.direction.CloseSide()
		}

		oVol := oSize * oPrice * ct
		posSize += oSize
		posVol += oVol
		sumPriceSize += oPrice * oSize

		rows = append(rows, models.LadderRow{
			Index:     i,
			Kind:      oKind,
			Direction: oDir,
			Price:     oPrice,
			Size:      oSize,
			CumSize:   posSize,
			Volume:    oVol,
			CumVolume: posVol,
		})
	}

	avgEntry := sumPriceSize / posSize
	delta = avgEntry / oPrice
	return delta, posSize, rows
}

// baseSize — размер базовой строки от риска на сделку: если заполнится вся
// лесенка и сработает стоп, потеря равна riskPerTrade.
func (m *DCAModel) baseSize(assetPrice, riskPerTrade float64) (float64, error) {
	slPrice := m.priceAfter(m.params.NumTrades-1, assetPrice, true)
	avgEntry := slPrice * m.deltaFactor

	delta := math.Abs(avgEntry - slPrice)
	if delta <= 0 {
		return 0, ErrZeroPriceDelta
	}

	lastSize := riskPerTrade / delta
	base := lastSize / m.sizeDivisor / m.gw.ContractMultiplier(m.symbol)
	logger.Debug("[DCA] %s sl_price=%v avg_entry=%v delta=%v base_size=%v", m.symbol, slPrice, avgEntry, delta, base)
	return base, nil
}

// OrderSize — базовый размер лесенки, приведённый к точности биржи.
func (m *DCAModel) OrderSize(assetPrice, riskPerTrade float64) (float64, error) {
	base, err := m.baseSize(assetPrice, riskPerTrade)
	if err != nil {
		return 0, err
	}
	return m.gw.AmountToPrecision(m.symbol, base), nil
}

// Build строит полную таблицу от реальной цены и риска и считает
// экономику каждой строки. Комиссии считаются после сайзинга, поэтому
// фактический CRV выходит чуть ниже заданного.
func (m *DCAModel) Build(assetPrice, riskPerTrade, crv float64, leverage int, minROE, minROETriggerDistance float64) error {
	base, err := m.baseSize(assetPrice, riskPerTrade)
	if err != nil {
		return err
	}
	base = m.gw.AmountToPrecision(m.symbol, base)

	_, _, rows := m.coefficients(base, assetPrice, true)

	ct := m.gw.ContractMultiplier(m.symbol)
	makerRate := m.gw.MakerFee()
	takerRate := m.gw.TakerFee()
	lev := float64(leverage)

	for i := range rows {
		r := &rows[i]
		r.Symbol = m.symbol
		r.ExchangeID = m.gw.ID()
		r.MakerFee = r.CumVolume * makerRate
		r.EntryPrice = r.CumVolume / r.CumSize / ct
		r.CloseVolume = r.Price * r.CumSize * ct

		if r.IsStop() {
			r.TakerFee = r.CloseVolume * takerRate
		} else {
			r.TakerFee = models.Undefined()
		}

		if m.direction == models.DirectionLong {
			r.UnrealizedPnl = r.CloseVolume - r.CumVolume - r.MakerFee
		} else {
			r.UnrealizedPnl = r.CumVolume - r.CloseVolume - r.MakerFee
		}
	}

	for i := range rows {
		r := &rows[i]

		// тейк строки i сайзится от потери, которую представляла бы
		// СЛЕДУЮЩАЯ строка; у последней строки следующей нет
		nextUPnl := models.Undefined()
		if i+1 < len(rows) {
			nextUPnl = rows[i+1].UnrealizedPnl
		}

		if m.direction == models.DirectionLong {
			r.TPVolume = r.CumVolume + math.Abs(nextUPnl*crv)
			r.TPMakerFee = r.TPVolume * makerRate
			r.RealizedPnl = (r.TPVolume - r.CumVolume) - (r.MakerFee + r.TPMakerFee)

			r.TPPriceMinROE = r.EntryPrice * (1 + minROE/lev + makerRate)
			r.TPPriceMinTrigger = r.TPPriceMinROE + (r.TPPriceMinROE - r.EntryPrice)
		} else {
			r.TPVolume = r.CumVolume - math.Abs(nextUPnl*crv)
			r.TPMakerFee = r.TPVolume * makerRate
			// на шортовой стороне комиссии взвешены дистанцией триггера;
			// лонговая сторона этого множителя не имеет
			r.RealizedPnl = (r.CumVolume - r.TPVolume) - (r.MakerFee+r.TPMakerFee)*minROETriggerDistance

			r.TPPriceMinROE = r.EntryPrice * (1 - minROE/lev - makerRate)
			r.TPPriceMinTrigger = r.TPPriceMinROE - (r.EntryPrice-r.TPPriceMinROE)*minROETriggerDistance
		}

		if r.IsStop() {
			r.RealizedPnl = r.UnrealizedPnl - r.TakerFee
		}

		r.TPPrice = r.TPVolume / r.CumSize / ct
		r.CRV = r.RealizedPnl / math.Abs(nextUPnl)
		r.ROI = r.RealizedPnl / r.CumVolume
		r.ROE = r.ROI * lev

		r.TPPrice = m.priceToPrecisionOrUndefined(r.TPPrice)
		r.TPPriceMinROE = m.priceToPrecisionOrUndefined(r.TPPriceMinROE)
		r.TPPriceMinTrigger = m.priceToPrecisionOrUndefined(r.TPPriceMinTrigger)
	}

	m.rows = rows
	logger.Info("[DCA] %s %s model built: base_size=%v rows=%d asset_price=%v risk=%v", m.symbol, m.direction, base, len(rows), assetPrice, riskPerTrade)
	return nil
}

// неположительные и неопределённые цены остаются неопределёнными,
// ноль был бы валидной ценой
func (m *DCAModel) priceToPrecisionOrUndefined(v float64) float64 {
	if !(v > 0) {
		return models.Undefined()
	}
	return m.gw.PriceToPrecision(m.symbol, v)
}

// StopPriceSize отвечает из таблицы, входные цена и размер игнорируются.
func (m *DCAModel) StopPriceSize(_, _ float64) (float64, float64, error) {
	if !m.Built() {
		return 0, 0, ErrNotBuilt
	}
	for _, r := range m.rows {
		if r.IsStop() {
			return m.gw.PriceToPrecision(m.symbol, r.Price), r.CumSize, nil
		}
	}
	return 0, 0, ErrNoMatchingRow
}

// TakeProfitPriceSize — цена тейка первой строки, чей накопленный размер
// покрывает текущий размер позиции: тейк следует за частичным заполнением
// лесенки, а не за полным планом.
func (m *DCAModel) TakeProfitPriceSize(inputSize, _ float64) (float64, float64, error) {
	if !m.Built() {
		return 0, 0, ErrNotBuilt
	}
	for _, r := range m.rows {
		if !r.IsStop() && r.CumSize >= inputSize {
			if models.IsUndefined(r.TPPrice) {
				return 0, 0, errors.Errorf("ordermodel: tp price undefined at row %d", r.Index)
			}
			return m.gw.PriceToPrecision(m.symbol, r.TPPrice), inputSize, nil
		}
	}
	return 0, 0, ErrNoMatchingRow
}

// TrailPriceValue — триггер трейла с минимальной доходностью: срабатывание
// на tp_price_min_trigger, расстояние трейла до tp_price_min_roe.
func (m *DCAModel) TrailPriceValue(inputSize, _ float64) (float64, float64, error) {
	if !m.Built() {
		return 0, 0, ErrNotBuilt
	}
	for _, r := range m.rows {
		if !r.IsStop() && r.CumSize >= inputSize {
			if models.IsUndefined(r.TPPriceMinTrigger) || models.IsUndefined(r.TPPriceMinROE) {
				return 0, 0, errors.Errorf("ordermodel: trail prices undefined at row %d", r.Index)
			}
			return r.TPPriceMinTrigger, math.Abs(r.TPPriceMinTrigger - r.TPPriceMinROE), nil
		}
	}
	return 0, 0, ErrNoMatchingRow
}

// MaxDrawdown — расстояние от первой до последней цены модели, доля.
func (m *DCAModel) MaxDrawdown() float64 {
	if !m.Built() {
		return 0
	}
	first := m.rows[0].Price
	last := m.rows[len(m.rows)-1].Price
	return math.Abs(first-last) / first
}

// Identifier — id стоп-ордера, самого долгоживущего ордера лесенки.
// Якорь восстановления после рестарта.
func (m *DCAModel) Identifier() (string, error) {
	if !m.Built() {
		return "", ErrNotBuilt
	}
	id := m.rows[len(m.rows)-1].OrderID
	if id == "" {
		return "", errors.New("ordermodel: stop row has no order id, model not stored yet")
	}
	return id, nil
}

// SetOrderID проставляет id созданного ордера в строку таблицы.
func (m *DCAModel) SetOrderID(index int, orderID string) {
	for i := range m.rows {
		if m.rows[i].Index == index {
			m.rows[i].OrderID = orderID
			return
		}
	}
}

// LatestTPOrderIDBySize — id тейка строки, покрывающей данный размер.
func (m *DCAModel) LatestTPOrderIDBySize(size float64) string {
	for _, r := range m.rows {
		if !r.IsStop() && r.CumSize >= size {
			return r.TPOrderID
		}
	}
	return ""
}

// UpdateTPOrderIDByPrice проставляет новый id тейка строкам с данной ценой
// тейка и сохраняет таблицу.
func (m *DCAModel) UpdateTPOrderIDByPrice(ctx context.Context, price float64, newID string) error {
	for i := range m.rows {
		if m.rows[i].TPPrice == price {
			m.rows[i].TPOrderID = newID
		}
	}
	return m.Store(ctx)
}

// UpdateOrderIDByPrice проставляет новый id ордера строкам с данной ценой
// (входным и стоп-строке) и сохраняет таблицу.
func (m *DCAModel) UpdateOrderIDByPrice(ctx context.Context, price float64, newID string) error {
	for i := range m.rows {
		if m.rows[i].Price == price {
			m.rows[i].OrderID = newID
		}
	}
	return m.Store(ctx)
}

// Store сохраняет таблицу под ключом от идентификатора стоп-ордера.
func (m *DCAModel) Store(ctx context.Context) error {
	id, err := m.Identifier()
	if err != nil {
		return err
	}
	key := ladderstore.Key(m.gw.ID(), m.symbol, id)
	if err := m.store.Save(ctx, key, m.rows); err != nil {
		return err
	}
	m.savedKey = key
	logger.Info("[DCA] %s %s model stored, identifier=%s", m.symbol, m.direction, id)
	return nil
}

// Restore поднимает таблицу по идентификатору стоп-ордера. Отсутствие
// записи — ladderstore.ErrNotFound.
func (m *DCAModel) Restore(ctx context.Context, identifier string) error {
	key := ladderstore.Key(m.gw.ID(), m.symbol, identifier)
	rows, err := m.store.Load(ctx, key)
	if err != nil {
		return err
	}
	m.rows = rows
	m.savedKey = key
	logger.Info("[DCA] %s %s model restored, identifier=%s rows=%d", m.symbol, m.direction, identifier, len(rows))
	return nil
}

// Remove снимает сохранённую запись после разбора лесенки.
func (m *DCAModel) Remove(ctx context.Context) error {
	if m.savedKey == "" {
		return nil
	}
	if err := m.store.Delete(ctx, m.savedKey); err != nil {
		return err
	}
	m.savedKey = ""
	return nil
}
