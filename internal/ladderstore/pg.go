package ladderstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/pkg/db"
)

// PGStore — постгресовое хранилище моделей. Одна запись на активную
// лесенку, payload — json-таблица строк.
type PGStore struct {
	txm db.TxManager
}

func NewPG(txm db.TxManager) *PGStore {
	return &PGStore{txm: txm}
}

const ensureSchemaSQL = `
CREATE TABLE IF NOT EXISTS ladder_models (
	key        text PRIMARY KEY,
	payload    jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// EnsureSchema создаёт таблицу при первом запуске.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, ensureSchemaSQL)
		return errors.Wrap(err, "ladderstore: ensure schema")
	})
}

func (s *PGStore) Save(ctx context.Context, key string, rows []models.LadderRow) error {
	payload, err := encodeRows(rows)
	if err != nil {
		return err
	}
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx,
			`INSERT INTO ladder_models (key, payload, updated_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
			key, payload)
		return errors.Wrap(err, "ladderstore: save")
	})
}

func (s *PGStore) Load(ctx context.Context, key string) ([]models.LadderRow, error) {
	var payload []byte
	err := s.txm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		row := tx.QueryRow(ctxTx, `SELECT payload FROM ladder_models WHERE key = $1`, key)
		if err := row.Scan(&payload); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "ladderstore: load")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeRows(payload)
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	return s.txm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, `DELETE FROM ladder_models WHERE key = $1`, key)
		return errors.Wrap(err, "ladderstore: delete")
	})
}
