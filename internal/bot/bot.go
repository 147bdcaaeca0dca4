package bot

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/internal/modules/metrics"
	"github.com/banmdev/ccxtbots/internal/notify"
	"github.com/banmdev/ccxtbots/internal/orderbook"
	"github.com/banmdev/ccxtbots/internal/ordermodel"
	"github.com/banmdev/ccxtbots/internal/reconcile"
	"github.com/banmdev/ccxtbots/internal/signal"
	"github.com/banmdev/ccxtbots/internal/trail"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// ErrInvariantViolation — состояние, при котором продолжать нельзя:
// лучше остановить цикл символа, чем гадать.
var ErrInvariantViolation = errors.New("bot: position invariant violated")

type Config struct {
	Symbol string `yaml:"symbol"`

	TickInterval   time.Duration `yaml:"tick_interval"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`

	// IntraTickDelay — пауза после отмен, чтобы биржа успела сойтись
	// до следующего запроса книги.
	IntraTickDelay time.Duration `yaml:"intra_tick_delay"`

	Leverage               int     `yaml:"leverage"`
	MaxAccountRiskPerTrade float64 `yaml:"max_account_risk_per_trade"`
	CRV                    float64 `yaml:"crv"`
	MinROE                 float64 `yaml:"min_roe"`
	MinROETriggerDistance  float64 `yaml:"min_roe_trigger_distance"`

	// NotTrading — модель строится и логируется, ордера не размещаются.
	NotTrading bool `yaml:"not_trading"`
}

func (c *Config) fillDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 120 * time.Second
	}
	if c.Leverage <= 0 {
		c.Leverage = 50
	}
	if c.MaxAccountRiskPerTrade <= 0 {
		c.MaxAccountRiskPerTrade = 0.01
	}
	if c.CRV <= 0 {
		c.CRV = 0.525
	}
	if c.MinROE <= 0 {
		c.MinROE = 0.01
	}
	if c.MinROETriggerDistance <= 0 {
		c.MinROETriggerDistance = 0.75
	}
}

// Bot — стейт-машина позиции одного символа: flat -> entering ->
// in-position (-> exiting) -> flat. Один синхронный цикл, без внутренних
// горутин; несколько символов — независимые экземпляры.
type Bot struct {
	cfg Config

	gw       exchange.Gateway
	src      signal.Source
	notifier notify.Notifier
	mtr      *metrics.Metrics

	longModel  ordermodel.Model
	shortModel ordermodel.Model

	book    *orderbook.Cache
	recon   *reconcile.Reconciler
	trailer *trail.Controller

	pctx models.PositionContext
	pos  models.Position

	// читаются health/telegram из своих горутин, пишутся только циклом
	lastTickMs atomic.Int64
	cumPnlBits atomic.Uint64
}

func New(cfg Config, gw exchange.Gateway, src signal.Source, long, short ordermodel.Model, notifier notify.Notifier, mtr *metrics.Metrics) *Bot {
	cfg.fillDefaults()
	if notifier == nil {
		notifier = notify.NewStdout()
	}
	book := orderbook.NewCache()
	return &Bot{
		cfg:        cfg,
		gw:         gw,
		src:        src,
		notifier:   notifier,
		mtr:        mtr,
		longModel:  long,
		shortModel: short,
		book:       book,
		recon:      reconcile.New(gw, book, cfg.Symbol),
		trailer:    trail.New(gw, cfg.Symbol),
	}
}

func (b *Bot) Symbol() string { return b.cfg.Symbol }

// LastTick — момент последнего завершённого тика, для readiness-проверки.
func (b *Bot) LastTick() time.Time {
	ms := b.lastTickMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// CumPnl — накопленный pnl с момента запуска.
func (b *Bot) CumPnl() float64 { return math.Float64frombits(b.cumPnlBits.Load()) }

// Run крутит главный цикл до отмены контекста. Завершение кооперативное:
// отмена замечается между тиками, при плоской позиции выполняется
// финальная уборка. Возвращает ошибку только при фатальном нарушении
// инварианта.
func (b *Bot) Run(ctx context.Context) error {
	logger.Info("[BOT] %s starting: tick=%v refresh=%v leverage=%d risk=%v not_trading=%v",
		b.cfg.Symbol, b.cfg.TickInterval, b.cfg.RefreshTimeout, b.cfg.Leverage, b.cfg.MaxAccountRiskPerTrade, b.cfg.NotTrading)

	// подготовка: выставить плечо, биржа может его подрезать
	if lev, err := b.gw.SetLeverage(ctx, b.cfg.Symbol, b.cfg.Leverage); err != nil {
		logger.Error("[BOT] %s set leverage: %v", b.cfg.Symbol, err)
	} else {
		b.cfg.Leverage = lev
		logger.Info("[BOT] %s leverage is now %d", b.cfg.Symbol, lev)
	}

	var nextRefresh time.Time
	for {
		select {
		case <-ctx.Done():
			return b.shutdown()
		default:
		}

		span := opentracing.StartSpan("tick")
		span.SetTag("symbol", b.cfg.Symbol)
		err := b.tick(opentracing.ContextWithSpan(ctx, span), &nextRefresh)
		span.Finish()

		b.mtr.IncTick(b.cfg.Symbol)
		b.lastTickMs.Store(time.Now().UnixMilli())

		if err != nil {
			if errors.Is(err, ErrInvariantViolation) {
				logger.Error("[BOT] %s fatal: %v", b.cfg.Symbol, err)
				_ = b.notifier.Sendf(ctx, "%s: loop stopped: %v", b.cfg.Symbol, err)
				return err
			}
			// обычные ошибки I/O: тик оборван, состояние не тронуто,
			// повтор на следующем тике
			logger.Error("[TICK] %s aborted: %v", b.cfg.Symbol, err)
		}

		select {
		case <-ctx.Done():
			return b.shutdown()
		case <-time.After(b.cfg.TickInterval):
		}
	}
}

// tick — один оборот цикла. Порядок жёсткий: сначала книга ордеров, потом
// позиция, потом хендлеры — хендлеры никогда не видят данные чужого тика.
func (b *Bot) tick(ctx context.Context, nextRefresh *time.Time) error {
	orders, err := b.gw.FetchOpenOrders(ctx, b.cfg.Symbol)
	if err != nil {
		// кеш остаётся прошлым, устаревшим но цельным
		return errors.Wrap(err, "refresh orders")
	}
	b.book.Refresh(orders, &b.pctx)

	pos, err := b.gw.FetchPosition(ctx, b.cfg.Symbol)
	if err != nil {
		return errors.Wrap(err, "refresh position")
	}
	b.pos = pos

	if pos.IsOpen && !pos.Direction.Valid() {
		return errors.Wrapf(ErrInvariantViolation, "open position with direction %q", pos.Direction)
	}

	now := time.Now()

	if !pos.IsOpen {
		// первый плоский тик после позиции: закрыть учёт сделки
		if b.pctx.LastIsOpen {
			b.finishTrade(ctx)
			b.pctx.ResetTrade()
			b.trailer.Reset()
			// остыть после выхода, прежде чем снова смотреть на входы
			*nextRefresh = now.Add(b.cfg.RefreshTimeout)
			return nil
		}

		if now.Before(*nextRefresh) {
			return nil
		}
		*nextRefresh = now.Add(b.cfg.RefreshTimeout)

		b.housekeeping(ctx)
		b.enterPosition(ctx)
		return nil
	}

	*nextRefresh = time.Time{}

	b.exitPosition(ctx)
	b.inPosition(ctx)

	b.pctx.LastIsOpen = true
	b.pctx.LastDirection = pos.Direction
	b.pctx.LastSize = pos.Size
	return nil
}

// shutdown — финальный проход: при плоской позиции снять свои ордера.
// Работает на собственном контексте, внешний уже отменён.
func (b *Bot) shutdown() error {
	logger.Info("[BOT] %s shutting down", b.cfg.Symbol)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orders, err := b.gw.FetchOpenOrders(ctx, b.cfg.Symbol)
	if err != nil {
		logger.Error("[BOT] %s shutdown refresh orders: %v", b.cfg.Symbol, err)
		return nil
	}
	b.book.Refresh(orders, &b.pctx)

	pos, err := b.gw.FetchPosition(ctx, b.cfg.Symbol)
	if err != nil {
		logger.Error("[BOT] %s shutdown refresh position: %v", b.cfg.Symbol, err)
		return nil
	}

	if !pos.IsOpen {
		b.housekeeping(ctx)
	} else {
		logger.Info("[BOT] %s leaving open position with its protective orders in place", b.cfg.Symbol)
	}

	_ = b.notifier.Sendf(ctx, "%s: bot stopped, cumulative pnl %.4f", b.cfg.Symbol, b.pctx.CumPnl)
	return nil
}

func (b *Bot) modelFor(d models.Direction) ordermodel.Model {
	if d == models.DirectionLong {
		return b.longModel
	}
	return b.shortModel
}

func (b *Bot) oppositeModel(d models.Direction) ordermodel.Model {
	if d == models.DirectionLong {
		return b.shortModel
	}
	return b.longModel
}
