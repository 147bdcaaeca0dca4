package ladderstore

import (
	"context"
	"crypto/sha512"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/models"
)

// ErrNotFound возвращается, когда для ключа нет сохранённой модели.
// Это штатная ситуация при первом старте, не авария.
var ErrNotFound = errors.New("ladderstore: record not found")

// Store хранит таблицы строк лесенки между рестартами бота. Запись живёт
// ровно столько, сколько живёт активная лесенка: Save при каждом изменении
// order id, Delete при разборе.
type Store interface {
	Save(ctx context.Context, key string, rows []models.LadderRow) error
	Load(ctx context.Context, key string) ([]models.LadderRow, error)
	Delete(ctx context.Context, key string) error
}

// Key — стабильный ключ записи. Identifier — id стоп-ордера лесенки
// (самый долгоживущий ордер), поэтому после рестарта модель находит
// свою запись, пока жив хотя бы стоп.
func Key(exchangeID, symbol, identifier string) string {
	sum := sha512.Sum512([]byte(exchangeID + "_" + symbol + "_" + identifier))
	return hex.EncodeToString(sum[:])
}
