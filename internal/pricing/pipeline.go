package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketmaker/internal/models"
)

// SettingsSource - источник настроек для цикла расчёта
//
// Чтение без блокировок: возвращает неизменяемый снимок настроек пары.
type SettingsSource interface {
	PairSettings(assetPairID string) *models.PairSettings
}

// Publisher получает события цикла после снятия блокировки пары
//
// Транспорт (очередь, websocket, журнал) - внешняя зависимость ядра.
type Publisher interface {
	Publish(ctx context.Context, events []models.PricingEvent)
}

// Option - опция конструктора конвейера
type Option func(*Pipeline)

// WithSteps заменяет набор шагов (для тестов с заглушками)
func WithSteps(steps []Step) Option {
	return func(p *Pipeline) { p.steps = steps }
}

// WithClock задаёт источник времени
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger задаёт logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithLocks задаёт общий реестр блокировок пар (разделяется со SpotQuoteGenerator)
func WithLocks(l *PairLocks) Option {
	return func(p *Pipeline) { p.locks = l }
}

// Pipeline - единая точка входа для стаканов внешних бирж
//
// Для каждой пары: хранилище → устаревание → выбросы → повторяющиеся проблемы →
// выбор первичной биржи → безарбитражный синтез → предохранитель.
// Цикл выполняется под блокировкой пары, события публикуются после её снятия.
type Pipeline struct {
	store    *OrderbookStore
	tracker  *PersistentProblemTracker
	selector *PrimaryExchangeSelector
	synth    *ArbitrageFreeSynthesizer
	guard    *StopTradesGuard

	locks     *PairLocks
	settings  SettingsSource
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	steps     []Step

	statuses *pairMap[models.AssetPairStatus]
}

// NewPipeline создаёт конвейер с шагами по умолчанию
func NewPipeline(store *OrderbookStore, settings SettingsSource, publisher Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		tracker:   NewPersistentProblemTracker(),
		selector:  NewPrimaryExchangeSelector(),
		synth:     NewArbitrageFreeSynthesizer(),
		guard:     NewStopTradesGuard(),
		locks:     NewPairLocks(),
		settings:  settings,
		publisher: publisher,
		logger:    zap.NewNop(),
		now:       time.Now,
		statuses: newPairMap(func(assetPairID string) *models.AssetPairStatus {
			return &models.AssetPairStatus{AssetPairID: assetPairID}
		}),
	}
	p.steps = p.DefaultSteps()

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Locks возвращает реестр блокировок пар
func (p *Pipeline) Locks() *PairLocks {
	return p.locks
}

// ResetExchangeProblems забывает историю проблем биржи в паре.
//
// Вызывается при ручном включении биржи: отметка "повторяющаяся проблема"
// снимается сразу, без ожидания серии хороших циклов.
func (p *Pipeline) ResetExchangeProblems(assetPairID, exchange string) {
	unlock := p.locks.Lock(assetPairID)
	defer unlock()

	p.tracker.Reset(assetPairID, exchange)
}

// OnNewOrderbook обрабатывает новый стакан и возвращает синтезированный стакан или nil
//
// Некорректный стакан отбрасывается с ErrInvalidOrderbook. Отсутствие первичной
// биржи - не ошибка: результат nil, предохранитель запрещает сделки.
func (p *Pipeline) OnNewOrderbook(ctx context.Context, ob *models.ExternalOrderbook) (*models.Orderbook, error) {
	if err := ValidateOrderbook(ob); err != nil {
		exchange := ""
		if ob != nil {
			exchange = ob.ExchangeName
		}
		RecordOrderbookRejected(exchange)
		p.logger.Warn("orderbook dropped", zap.Error(err))
		return nil, err
	}

	// Настройки читаются до захвата блокировки: первое чтение может идти в БД
	settings := p.settings.PairSettings(ob.AssetPairID)
	if settings == nil {
		settings = &models.PairSettings{AssetPair: models.AssetPairSettings{AssetPairID: ob.AssetPairID}}
	}

	start := time.Now()
	result, events := p.runCycle(ob, settings)
	RecordCycleLatency(ob.AssetPairID, float64(time.Since(start).Microseconds())/1000)

	if len(events) > 0 && p.publisher != nil {
		p.publisher.Publish(ctx, events)
	}

	return result, nil
}

func (p *Pipeline) runCycle(ob *models.ExternalOrderbook, settings *models.PairSettings) (result *models.Orderbook, events []models.PricingEvent) {
	unlock := p.locks.Lock(ob.AssetPairID)
	defer unlock()

	now := p.now()
	RecordOrderbookReceived(ob.AssetPairID, ob.ExchangeName)

	var c *Cycle
	defer func() {
		if r := recover(); r != nil {
			result = nil
			events = p.recoverCycle(ob.AssetPairID, c, r, now)
		}
	}()

	books, err := p.store.Update(ob)
	if err != nil {
		RecordOrderbookRejected(ob.ExchangeName)
		p.logger.Warn("orderbook dropped", zap.Error(err))
		return nil, nil
	}

	c = newCycle(ob, settings, books, now)
	for _, step := range p.steps {
		if settings.AssetPair.IsStepEnabled(step.Kind) {
			step.Run(c)
		} else if step.Skip != nil {
			step.Skip(c)
		}
	}

	p.recordStatus(c)

	if c.Err != nil {
		return nil, c.Events
	}
	return c.Result, c.Events
}

// recoverCycle превращает панику цикла в остановку торговли по паре
func (p *Pipeline) recoverCycle(assetPairID string, c *Cycle, r interface{}, now time.Time) []models.PricingEvent {
	RecordInvariantViolation(assetPairID, "panic")
	p.logger.Error("pricing cycle panicked",
		zap.String("asset_pair", assetPairID),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)

	if c == nil {
		c = &Cycle{AssetPairID: assetPairID, Now: now}
	}
	c.Events = nil

	p.applyTransition(c, p.guard.Stop(assetPairID, fmt.Sprintf("pricing cycle failed: %v", r), now))
	return c.Events
}

func (p *Pipeline) newEvent(c *Cycle, kind models.EventKind, fill func(e *models.PricingEvent)) models.PricingEvent {
	e := models.PricingEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		AssetPairID: c.AssetPairID,
		Timestamp:   c.Now,
	}
	if fill != nil {
		fill(&e)
	}
	return e
}

func (p *Pipeline) recordStatus(c *Cycle) {
	primary := p.selector.State(c.AssetPairID)
	guard := p.guard.State(c.AssetPairID)

	st := p.statuses.get(c.AssetPairID)
	*st = models.AssetPairStatus{
		AssetPairID:     c.AssetPairID,
		PrimaryExchange: primary.Exchange,
		LastSwitchTime:  primary.LastSwitchTime,
		Qualities:       append([]models.ExchangeQuality(nil), c.Qualities...),
		TradingStopped:  guard.Stopped,
		LastEvaluated:   c.Now,
	}
	if guard.Stopped {
		st.StopReason = guard.Reason
	}
}

// Status возвращает последнее состояние пары
func (p *Pipeline) Status(assetPairID string) (models.AssetPairStatus, bool) {
	if _, ok := p.statuses.peek(assetPairID); !ok {
		return models.AssetPairStatus{}, false
	}

	unlock := p.locks.Lock(assetPairID)
	defer unlock()

	st, _ := p.statuses.peek(assetPairID)
	return copyStatus(st), true
}

// Statuses возвращает состояние всех пар
//
// Каждая пара читается под своей блокировкой; согласованности между парами нет.
func (p *Pipeline) Statuses() []models.AssetPairStatus {
	var result []models.AssetPairStatus
	for _, id := range p.locks.AssetPairs() {
		if st, ok := p.Status(id); ok {
			result = append(result, st)
		}
	}
	return result
}

// HedgingPreferences возвращает предпочтения хеджирования всех бирж по всем парам
func (p *Pipeline) HedgingPreferences() []models.HedgingPreference {
	var result []models.HedgingPreference
	for _, st := range p.Statuses() {
		for _, q := range st.Qualities {
			result = append(result, models.HedgingPreference{
				AssetPairID:       st.AssetPairID,
				Exchange:          q.Exchange,
				Preference:        q.HedgingPreference,
				ErrorState:        q.State(),
				OrderbookReceived: q.OrderbookReceived,
				IsPrimary:         q.Exchange == st.PrimaryExchange,
			})
		}
	}
	return result
}

func copyStatus(st *models.AssetPairStatus) models.AssetPairStatus {
	c := *st
	c.Qualities = append([]models.ExchangeQuality(nil), st.Qualities...)
	return c
}
