package ordermodel

import (
	"math"

	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/models"
)

// FixedParams — проценты фиксированной TP/SL модели от цены входа.
type FixedParams struct {
	TPPercent float64 `yaml:"tp_percent"`
	SLPercent float64 `yaml:"sl_percent"`

	// TrailTriggerPercent/TrailValuePercent — взвод и дистанция
	// трейлинг-стопа от цены входа.
	TrailTriggerPercent float64 `yaml:"trail_trigger_percent"`
	TrailValuePercent   float64 `yaml:"trail_value_percent"`
}

// FixedModel — простая модель с фиксированными отступами тейка и стопа от
// входной цены. Входные ордера не строит: вход приходит от сигнала.
type FixedModel struct {
	gw        exchange.Gateway
	symbol    string
	direction models.Direction
	params    FixedParams
}

func NewFixed(gw exchange.Gateway, symbol string, direction models.Direction, params FixedParams) (*FixedModel, error) {
	if direction != models.DirectionLong && direction != models.DirectionShort {
		return nil, errors.Errorf("ordermodel: invalid direction %q", direction)
	}
	if params.TPPercent <= 0 || params.SLPercent <= 0 {
		return nil, errors.Errorf("ordermodel: tp/sl percent must be positive, got %v/%v", params.TPPercent, params.SLPercent)
	}
	return &FixedModel{gw: gw, symbol: symbol, direction: direction, params: params}, nil
}

func (m *FixedModel) Direction() models.Direction { return m.direction }

func (m *FixedModel) Capabilities() Capabilities {
	return Capabilities{GeneratesStop: true, GeneratesTakeProfit: true}
}

func (m *FixedModel) StopPriceSize(inputSize, inputPrice float64) (float64, float64, error) {
	var price float64
	if m.direction == models.DirectionLong {
		price = inputPrice * (1 - m.params.SLPercent)
	} else {
		price = inputPrice * (1 + m.params.SLPercent)
	}
	return m.gw.PriceToPrecision(m.symbol, price), inputSize, nil
}

func (m *FixedModel) TakeProfitPriceSize(inputSize, inputPrice float64) (float64, float64, error) {
	var price float64
	if m.direction == models.DirectionLong {
		price = inputPrice * (1 + m.params.TPPercent)
	} else {
		price = inputPrice * (1 - m.params.TPPercent)
	}
	return m.gw.PriceToPrecision(m.symbol, price), inputSize, nil
}

// OrderSize — размер от риска на сделку и расстояния до стопа.
func (m *FixedModel) OrderSize(assetPrice, riskPerTrade float64) (float64, error) {
	slPrice, _, err := m.StopPriceSize(0, assetPrice)
	if err != nil {
		return 0, err
	}

	delta := math.Abs(assetPrice - slPrice)
	if delta <= 0 {
		return 0, ErrZeroPriceDelta
	}

	amount := riskPerTrade / delta
	size := amount / m.gw.ContractMultiplier(m.symbol)
	return m.gw.AmountToPrecision(m.symbol, size), nil
}

func (m *FixedModel) TrailPriceValue(_, entryPrice float64) (float64, float64, error) {
	var trigger float64
	if m.direction == models.DirectionLong {
		trigger = entryPrice * (1 + m.params.TrailTriggerPercent)
	} else {
		trigger = entryPrice * (1 - m.params.TrailTriggerPercent)
	}
	trail := entryPrice * m.params.TrailValuePercent
	return m.gw.PriceToPrecision(m.symbol, trigger), m.gw.PriceToPrecision(m.symbol, trail), nil
}
