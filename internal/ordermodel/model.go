package ordermodel

import (
	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/models"
)

var (
	// ErrZeroPriceDelta — расстояние между средней ценой входа и стопом
	// равно нулю, риск-сайзинг невозможен.
	ErrZeroPriceDelta = errors.New("ordermodel: price delta between entry and stop is zero")

	// ErrNotBuilt — запрос к модели до построения (или после сброса).
	ErrNotBuilt = errors.New("ordermodel: model has not been built")

	// ErrNoMatchingRow — ни одна строка лесенки не покрывает запрошенный размер.
	ErrNoMatchingRow = errors.New("ordermodel: no ladder row matches requested size")
)

// Capabilities — статический набор флагов варианта модели вместо
// утиной типизации по атрибутам.
type Capabilities struct {
	GeneratesEntries    bool // модель сама строит входные ордера (лесенка)
	GeneratesStop       bool
	GeneratesTakeProfit bool
}

// Model — единый интерфейс вариантов ордер-модели. Лесенка игнорирует
// входные цену/размер и отвечает из своей таблицы; фиксированная модель
// считает от них.
type Model interface {
	Direction() models.Direction
	Capabilities() Capabilities

	// StopPriceSize — цена и размер защитного стопа.
	StopPriceSize(inputSize, inputPrice float64) (price, size float64, err error)

	// TakeProfitPriceSize — цена и размер тейка под текущий размер позиции.
	TakeProfitPriceSize(inputSize, inputPrice float64) (price, size float64, err error)

	// OrderSize — риск-ориентированный размер входа.
	OrderSize(assetPrice, riskPerTrade float64) (float64, error)

	// TrailPriceValue — параметры трейлинг-стопа: цена срабатывания и
	// расстояние трейла.
	TrailPriceValue(inputSize, entryPrice float64) (trigger, trail float64, err error)
}
