package ladderstore

import (
	"math"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/models"
)

// rowRecord — DTO для сериализации. Неопределённые цены модель держит как
// NaN, который JSON не кодирует, поэтому все float-колонки здесь nullable:
// NaN <-> null.
type rowRecord struct {
	Index     int    `json:"idx"`
	Kind      string `json:"type"`
	Direction string `json:"direction"`

	Price     *float64 `json:"price"`
	Size      *float64 `json:"size"`
	CumSize   *float64 `json:"pos_size"`
	Volume    *float64 `json:"o_vol"`
	CumVolume *float64 `json:"open_volume"`

	Symbol     string `json:"symbol"`
	ExchangeID string `json:"exchange_id"`

	MakerFee    *float64 `json:"maker_fees"`
	TakerFee    *float64 `json:"taker_fees"`
	EntryPrice  *float64 `json:"entry_price"`
	CloseVolume *float64 `json:"close_volume"`

	UnrealizedPnl *float64 `json:"u_pnl"`
	TPVolume      *float64 `json:"tp_volume"`
	TPMakerFee    *float64 `json:"tp_maker_fees"`
	RealizedPnl   *float64 `json:"r_pnl"`

	TPPrice           *float64 `json:"tp_price"`
	TPPriceMinROE     *float64 `json:"tp_price_min_roe"`
	TPPriceMinTrigger *float64 `json:"tp_price_min_trigger"`

	CRV *float64 `json:"crv"`
	ROI *float64 `json:"roi"`
	ROE *float64 `json:"roe"`

	OrderID   string `json:"order_id"`
	TPOrderID string `json:"tp_order_id"`
}

func fptr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func fval(p *float64) float64 {
	if p == nil {
		return models.Undefined()
	}
	return *p
}

func toRecord(r models.LadderRow) rowRecord {
	return rowRecord{
		Index:             r.Index,
		Kind:              string(r.Kind),
		Direction:         string(r.Direction),
		Price:             fptr(r.Price),
		Size:              fptr(r.Size),
		CumSize:           fptr(r.CumSize),
		Volume:            fptr(r.Volume),
		CumVolume:         fptr(r.CumVolume),
		Symbol:            r.Symbol,
		ExchangeID:        r.ExchangeID,
		MakerFee:          fptr(r.MakerFee),
		TakerFee:          fptr(r.TakerFee),
		EntryPrice:        fptr(r.EntryPrice),
		CloseVolume:       fptr(r.CloseVolume),
		UnrealizedPnl:     fptr(r.UnrealizedPnl),
		TPVolume:          fptr(r.TPVolume),
		TPMakerFee:        fptr(r.TPMakerFee),
		RealizedPnl:       fptr(r.RealizedPnl),
		TPPrice:           fptr(r.TPPrice),
		TPPriceMinROE:     fptr(r.TPPriceMinROE),
		TPPriceMinTrigger: fptr(r.TPPriceMinTrigger),
		CRV:               fptr(r.CRV),
		ROI:               fptr(r.ROI),
		ROE:               fptr(r.ROE),
		OrderID:           r.OrderID,
		TPOrderID:         r.TPOrderID,
	}
}

func fromRecord(r rowRecord) models.LadderRow {
	return models.LadderRow{
		Index:             r.Index,
		Kind:              models.OrderKind(r.Kind),
		Direction:         models.Side(r.Direction),
		Price:             fval(r.Price),
		Size:              fval(r.Size),
		CumSize:           fval(r.CumSize),
		Volume:            fval(r.Volume),
		CumVolume:         fval(r.CumVolume),
		Symbol:            r.Symbol,
		ExchangeID:        r.ExchangeID,
		MakerFee:          fval(r.MakerFee),
		TakerFee:          fval(r.TakerFee),
		EntryPrice:        fval(r.EntryPrice),
		CloseVolume:       fval(r.CloseVolume),
		UnrealizedPnl:     fval(r.UnrealizedPnl),
		TPVolume:          fval(r.TPVolume),
		TPMakerFee:        fval(r.TPMakerFee),
		RealizedPnl:       fval(r.RealizedPnl),
		TPPrice:           fval(r.TPPrice),
		TPPriceMinROE:     fval(r.TPPriceMinROE),
		TPPriceMinTrigger: fval(r.TPPriceMinTrigger),
		CRV:               fval(r.CRV),
		ROI:               fval(r.ROI),
		ROE:               fval(r.ROE),
		OrderID:           r.OrderID,
		TPOrderID:         r.TPOrderID,
	}
}

func encodeRows(rows []models.LadderRow) ([]byte, error) {
	recs := make([]rowRecord, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, toRecord(r))
	}
	b, err := sonic.Marshal(recs)
	if err != nil {
		return nil, errors.Wrap(err, "ladderstore: encode rows")
	}
	return b, nil
}

func decodeRows(b []byte) ([]models.LadderRow, error) {
	var recs []rowRecord
	if err := sonic.Unmarshal(b, &recs); err != nil {
		return nil, errors.Wrap(err, "ladderstore: decode rows")
	}
	rows := make([]models.LadderRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, fromRecord(r))
	}
	return rows, nil
}
